package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPublishInterval is the refresh period of the reference deployment.
const DefaultPublishInterval = time.Second

// Refresher runs one refresh cycle and reports how many paths changed.
// *Registry satisfies this interface.
type Refresher interface {
	Refresh() int
}

// PublisherStats holds refresh cycle counters.
type PublisherStats struct {
	Cycles   uint64    `json:"cycles"`
	Skipped  uint64    `json:"skipped"`
	Changes  uint64    `json:"changes"`
	LastRun  time.Time `json:"last_run"`
	Interval string    `json:"interval"`
}

// Publisher fires the refresh cycle on a fixed period.
//
// Cycles never overlap: a cycle requested while another is still running is
// skipped and counted, never run concurrently.
type Publisher struct {
	target   Refresher
	interval time.Duration

	running atomic.Bool
	cycles  atomic.Uint64
	skipped atomic.Uint64
	changes atomic.Uint64
	lastRun atomic.Int64

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// NewPublisher creates a publisher that refreshes target every interval.
// A non-positive interval falls back to DefaultPublishInterval.
func NewPublisher(target Refresher, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &Publisher{
		target:   target,
		interval: interval,
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for this publisher.
func (p *Publisher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *Publisher) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// Start runs the first cycle immediately and then one per interval until
// ctx is cancelled or Stop is called.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts the loop and waits for an in-flight cycle to finish.
// Safe to call multiple times.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// RunOnce runs a single refresh cycle unless one is already running.
// Returns false if the cycle was skipped.
func (p *Publisher) RunOnce() bool {
	if !p.running.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.getLogger().Warn("refresh cycle skipped, previous cycle still running")
		return false
	}
	defer p.running.Store(false)

	changed := p.target.Refresh()

	p.cycles.Add(1)
	p.changes.Add(uint64(changed)) //nolint:gosec // changed is a non-negative count
	p.lastRun.Store(time.Now().UnixNano())

	if changed > 0 {
		p.getLogger().Debug("refresh cycle applied readings", "changed", changed)
	}
	return true
}

// Stats returns a snapshot of the cycle counters.
func (p *Publisher) Stats() PublisherStats {
	s := PublisherStats{
		Cycles:   p.cycles.Load(),
		Skipped:  p.skipped.Load(),
		Changes:  p.changes.Load(),
		Interval: p.interval.String(),
	}
	if ns := p.lastRun.Load(); ns != 0 {
		s.LastRun = time.Unix(0, ns)
	}
	return s
}

func (p *Publisher) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.RunOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.RunOnce()
		}
	}
}
