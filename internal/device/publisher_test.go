package device

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingRefresher counts refresh calls and can block inside one.
type countingRefresher struct {
	calls   atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	block   chan struct{}
	entered chan struct{}
}

func (c *countingRefresher) Refresh() int {
	if c.active.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.active.Add(-1)

	c.calls.Add(1)
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.block != nil {
		<-c.block
	}
	return 1
}

func TestPublisher_RefreshesImmediatelyOnStart(t *testing.T) {
	target := &countingRefresher{}
	p := NewPublisher(target, time.Hour)

	p.Start(context.Background())
	defer p.Stop()

	deadline := time.After(2 * time.Second)
	for target.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no refresh within 2s of Start")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPublisher_Ticks(t *testing.T) {
	target := &countingRefresher{}
	p := NewPublisher(target, 10*time.Millisecond)

	p.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	p.Stop()

	if n := target.calls.Load(); n < 3 {
		t.Errorf("refresh calls = %d, want at least 3", n)
	}

	stats := p.Stats()
	if stats.Cycles != uint64(target.calls.Load()) {
		t.Errorf("Stats().Cycles = %d, want %d", stats.Cycles, target.calls.Load())
	}
	if stats.Changes != stats.Cycles {
		t.Errorf("Stats().Changes = %d, want %d", stats.Changes, stats.Cycles)
	}
	if stats.LastRun.IsZero() {
		t.Error("Stats().LastRun is zero")
	}
}

func TestPublisher_StopsOnContextCancel(t *testing.T) {
	target := &countingRefresher{}
	p := NewPublisher(target, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	p.Stop()

	n := target.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if target.calls.Load() != n {
		t.Error("refresh continued after context cancellation")
	}
}

func TestPublisher_SingleFlight(t *testing.T) {
	target := &countingRefresher{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	p := NewPublisher(target, time.Hour)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.RunOnce()
	}()
	<-target.entered

	if p.RunOnce() {
		t.Error("RunOnce() = true while a cycle is in flight, want false")
	}

	close(target.block)
	wg.Wait()

	if target.overlap.Load() {
		t.Error("refresh ran concurrently with itself")
	}
	if s := p.Stats(); s.Skipped != 1 || s.Cycles != 1 {
		t.Errorf("Stats() = %+v, want 1 cycle and 1 skipped", s)
	}

	// Guard is released after the cycle.
	target.entered = nil
	if !p.RunOnce() {
		t.Error("RunOnce() = false after previous cycle finished")
	}
}

func TestPublisher_StopIdempotent(t *testing.T) {
	p := NewPublisher(&countingRefresher{}, time.Millisecond)
	p.Start(context.Background())

	p.Stop()
	p.Stop()
}

func TestNewPublisher_DefaultInterval(t *testing.T) {
	p := NewPublisher(&countingRefresher{}, 0)
	if p.interval != DefaultPublishInterval {
		t.Errorf("interval = %v, want %v", p.interval, DefaultPublishInterval)
	}
}
