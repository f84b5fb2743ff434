// Package feed subscribes to the reading topics and fills the reading cache.
//
// Each inbound message is decoded as a decimal number. A message that fails
// to decode is dropped: the cache keeps its previous value for that topic and
// the error is returned to the MQTT client, which logs it.
package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-dbus-bridge/internal/reading"
)

// Subscriber is the part of the MQTT client the listener needs.
// *mqtt.Client satisfies this interface.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// ReadingSink receives every accepted reading (optional).
// The InfluxDB mirror implements this.
type ReadingSink interface {
	WriteReading(topic string, value float64, at time.Time)
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Listener.
type Options struct {
	// Subscriber is the MQTT client (required).
	Subscriber Subscriber

	// Cache receives parsed readings (required).
	Cache *reading.Cache

	// Topics is the fixed set of topics to subscribe to.
	Topics []string

	// QoS is the subscription QoS level.
	QoS byte

	// Sink mirrors accepted readings (optional).
	Sink ReadingSink

	// Logger for listener events (optional).
	Logger Logger
}

// Stats holds message counters.
type Stats struct {
	Topics      int       `json:"topics"`
	Accepted    uint64    `json:"accepted"`
	Dropped     uint64    `json:"dropped"`
	LastMessage time.Time `json:"last_message"`
}

// Listener turns feed messages into cache updates.
//
// Thread Safety: handle may be called concurrently by the MQTT client.
type Listener struct {
	sub    Subscriber
	cache  *reading.Cache
	sink   ReadingSink
	qos    byte
	topics []string
	known  map[string]struct{}

	accepted atomic.Uint64
	dropped  atomic.Uint64
	lastMsg  atomic.Int64

	subscribed []string
	subMu      sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewListener validates opts and creates a Listener.
// Duplicate topics are collapsed; the remaining topics are sorted.
func NewListener(opts Options) (*Listener, error) {
	if opts.Subscriber == nil {
		return nil, ErrNoSubscriber
	}
	if opts.Cache == nil {
		return nil, ErrNoCache
	}

	known := make(map[string]struct{}, len(opts.Topics))
	for _, t := range opts.Topics {
		if t == "" {
			return nil, mqtt.ErrInvalidTopic
		}
		if mqtt.IsWildcard(t) {
			return nil, fmt.Errorf("%w: %s", ErrWildcardTopic, t)
		}
		known[t] = struct{}{}
	}

	topics := make([]string, 0, len(known))
	for t := range known {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	return &Listener{
		sub:    opts.Subscriber,
		cache:  opts.Cache,
		sink:   opts.Sink,
		qos:    opts.QoS,
		topics: topics,
		known:  known,
		logger: opts.Logger,
	}, nil
}

// SetLogger sets the logger for this listener.
func (l *Listener) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

func (l *Listener) logInfo(msg string, args ...any) {
	l.loggerMu.RLock()
	logger := l.logger
	l.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, args...)
	}
}

func (l *Listener) logDebug(msg string, args ...any) {
	l.loggerMu.RLock()
	logger := l.logger
	l.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, args...)
	}
}

// Topics returns the subscribed topic set.
func (l *Listener) Topics() []string {
	out := make([]string, len(l.topics))
	copy(out, l.topics)
	return out
}

// Start subscribes to every topic.
// The MQTT client restores these subscriptions after each reconnect.
func (l *Listener) Start(ctx context.Context) error {
	for _, topic := range l.topics {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("subscribing to feed: %w", err)
		}
		if err := l.sub.Subscribe(topic, l.qos, l.handle); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		l.subMu.Lock()
		l.subscribed = append(l.subscribed, topic)
		l.subMu.Unlock()
	}

	l.logInfo("feed listener subscribed", "topics", len(l.topics), "qos", l.qos)
	return nil
}

// Stop unsubscribes from every topic subscribed by Start (best-effort).
func (l *Listener) Stop() {
	l.subMu.Lock()
	topics := l.subscribed
	l.subscribed = nil
	l.subMu.Unlock()

	for _, topic := range topics {
		//nolint:errcheck // Best-effort during shutdown
		l.sub.Unsubscribe(topic)
	}
}

// handle processes one inbound message.
// A returned error means the message was dropped; the cache is unchanged.
func (l *Listener) handle(topic string, payload []byte) error {
	if _, ok := l.known[topic]; !ok {
		l.dropped.Add(1)
		return fmt.Errorf("%w: %s", ErrUnexpectedTopic, topic)
	}

	value, err := reading.ParsePayload(payload)
	if err != nil {
		l.dropped.Add(1)
		return fmt.Errorf("dropping reading on %s: %w", topic, err)
	}

	if err := l.cache.Put(topic, value); err != nil {
		l.dropped.Add(1)
		return fmt.Errorf("dropping reading on %s: %w", topic, err)
	}

	now := time.Now()
	l.accepted.Add(1)
	l.lastMsg.Store(now.UnixNano())

	if l.sink != nil {
		l.sink.WriteReading(topic, value, now)
	}

	l.logDebug("reading received", "topic", topic, "value", value)
	return nil
}

// Stats returns a snapshot of the message counters.
func (l *Listener) Stats() Stats {
	s := Stats{
		Topics:   len(l.topics),
		Accepted: l.accepted.Load(),
		Dropped:  l.dropped.Load(),
	}
	if ns := l.lastMsg.Load(); ns != 0 {
		s.LastMessage = time.Unix(0, ns)
	}
	return s
}
