package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/infrastructure/config"
)

// Client is the broker connection on the feed side of the bridge.
//
// Subscriptions are remembered and re-issued after every reconnect, so a
// broker restart does not silently stop the readings.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	subs   map[string]subscription
	subsMu sync.RWMutex

	connected  atomic.Bool
	received   atomic.Uint64
	failed     atomic.Uint64
	reconnects atomic.Uint64
	lastMsg    atomic.Int64

	onConnect    func()
	onDisconnect func(err error)
	hooksMu      sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. A returned error is logged at warn
// level and counted; it never stops delivery.
type MessageHandler func(topic string, payload []byte) error

// Stats holds connection and delivery counters.
type Stats struct {
	Connected     bool      `json:"connected"`
	Subscriptions int       `json:"subscriptions"`
	Received      uint64    `json:"received"`
	HandlerErrors uint64    `json:"handler_errors"`
	Reconnects    uint64    `json:"reconnects"`
	LastMessage   time.Time `json:"last_message"`
}

// Connect dials the broker and waits up to connectTimeout for the session.
// On success the retained "online" status has been queued on StatusTopic.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, o *pahomqtt.ClientOptions) {
		c.reconnects.Add(1)
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "client_id", o.ClientID, "attempt", c.reconnects.Load())
		}
	})

	c.client = pahomqtt.NewClient(opts)
	if err := wait(c.client.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The connect handler runs asynchronously; mark the session live now so
	// callers can subscribe straight away.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.client.Publish(StatusTopic(c.cfg.Broker.ClientID), willQoS, true,
		statusPayload(c.cfg.Broker.ClientID, StatusOnline, ""))

	c.hooksMu.RLock()
	hook := c.onConnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.hooksMu.RLock()
	hook := c.onDisconnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// restoreSubscriptions re-subscribes every tracked topic, in topic order.
// Failures are logged; the next reconnect tries again.
func (c *Client) restoreSubscriptions() {
	c.subsMu.RLock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	subs := make([]subscription, len(topics))
	for i, t := range topics {
		subs[i] = c.subs[t]
	}
	c.subsMu.RUnlock()

	for i, t := range topics {
		token := c.client.Subscribe(t, subs[i].qos, c.wrapHandler(subs[i].handler))
		if err := wait(token, tokenTimeout, ErrSubscribeFailed); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("restoring MQTT subscription failed", "topic", t, "error", err)
			}
		}
	}
}

// Close publishes the retained graceful "offline" status and disconnects.
// Safe to call on a client that never connected.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(StatusTopic(c.cfg.Broker.ClientID), willQoS, true,
			statusPayload(c.cfg.Broker.ClientID, StatusOffline, ReasonGracefulShutdown))
		token.WaitTimeout(tokenTimeout)
	}

	c.client.Disconnect(disconnectQuiesceMS)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// Stats returns a snapshot of the delivery counters.
func (c *Client) Stats() Stats {
	s := Stats{
		Connected:     c.IsConnected(),
		Subscriptions: c.SubscriptionCount(),
		Received:      c.received.Load(),
		HandlerErrors: c.failed.Load(),
		Reconnects:    c.reconnects.Load(),
	}
	if ns := c.lastMsg.Load(); ns != 0 {
		s.LastMessage = time.Unix(0, ns)
	}
	return s
}

// SetOnConnect sets a hook run after the initial connect and every reconnect.
func (c *Client) SetOnConnect(hook func()) {
	c.hooksMu.Lock()
	c.onConnect = hook
	c.hooksMu.Unlock()
}

// SetOnDisconnect sets a hook run when the session is lost.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.hooksMu.Lock()
	c.onDisconnect = hook
	c.hooksMu.Unlock()
}

// SetLogger sets the logger. Without one, handler errors are only counted.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, counting deliveries and
// recovering from handler panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.received.Add(1)
		c.lastMsg.Store(time.Now().UnixNano())

		defer func() {
			if r := recover(); r != nil {
				c.failed.Add(1)
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.failed.Add(1)
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}

// wait blocks on token for at most timeout and wraps any failure in sentinel.
func wait(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
