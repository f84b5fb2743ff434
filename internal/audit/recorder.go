package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/device"
)

const (
	// DefaultQueueSize bounds audit entries waiting to be stored.
	DefaultQueueSize = 256

	// writeTimeout bounds a single insert.
	writeTimeout = 5 * time.Second
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder turns external-write changes into audit entries.
//
// Observe is a device.ChangeListener. It never blocks the writer: entries
// are queued and stored by a background goroutine, and dropped with a
// warning when the queue is full.
type Recorder struct {
	repo  Repository
	queue chan AuditLog

	recorded atomic.Uint64
	dropped  atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// RecorderStats reports recorder throughput.
type RecorderStats struct {
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
	Queued   int    `json:"queued"`
}

// NewRecorder creates a recorder storing into repo. A queueSize of zero
// or less uses DefaultQueueSize.
func NewRecorder(repo Repository, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		repo:  repo,
		queue: make(chan AuditLog, queueSize),
		done:  make(chan struct{}),
	}
}

// SetLogger sets the logger for store failures and dropped entries.
func (r *Recorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	defer r.loggerMu.Unlock()
	r.logger = logger
}

func (r *Recorder) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Observe queues an audit entry for every change not caused by a refresh.
func (r *Recorder) Observe(changes []device.Change) {
	for _, c := range changes {
		if c.Origin == device.OriginRefresh {
			continue
		}
		entry := EntryFor(c)

		select {
		case <-r.done:
			r.dropped.Add(1)
			continue
		default:
		}

		select {
		case r.queue <- entry:
		default:
			r.dropped.Add(1)
			if l := r.getLogger(); l != nil {
				l.Warn("audit queue full, dropping entry", "entity_id", entry.EntityID)
			}
		}
	}
}

// EntryFor builds the audit entry describing an external write.
func EntryFor(c device.Change) AuditLog {
	return AuditLog{
		Action:     ActionExternalWrite,
		EntityType: EntityTypePath,
		EntityID:   c.Service + ":" + c.Path,
		Source:     string(c.Origin),
		Details: map[string]any{
			"previous": c.Previous,
			"value":    c.Value,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// Start stores queued entries until ctx is cancelled or Stop is called.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop stops the background writer after storing what is already queued.
// Safe to call more than once.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// Stats returns a snapshot of recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Queued:   len(r.queue),
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case <-r.done:
			r.drain()
			return
		case entry := <-r.queue:
			r.store(entry)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.queue:
			r.store(entry)
		default:
			return
		}
	}
}

func (r *Recorder) store(entry AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, &entry); err != nil {
		if l := r.getLogger(); l != nil {
			l.Error("storing audit entry failed", "entity_id", entry.EntityID, "error", err)
		}
		return
	}
	r.recorded.Add(1)
}
