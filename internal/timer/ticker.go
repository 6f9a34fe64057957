package timer

import (
	"sync"
	"time"
)

// Ticker calls fn every interval until stopped.
type Ticker struct {
	clock    Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	pending Stopper
	stopped bool
}

// Every starts a ticker.
func Every(c Clock, interval time.Duration, fn func()) *Ticker {
	t := &Ticker{clock: c, interval: interval, fn: fn}
	t.mu.Lock()
	t.schedule()
	t.mu.Unlock()
	return t
}

func (t *Ticker) schedule() {
	t.pending = t.clock.AfterFunc(t.interval, t.tick)
}

func (t *Ticker) tick() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.schedule()
	t.mu.Unlock()

	t.fn()
}

// Stop cancels future ticks. A tick already running completes.
func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}
