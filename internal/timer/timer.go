package timer

import (
	"sync"
	"time"
)

// Timer is a one-shot countdown that can be paused and resumed. A
// callback scheduled before Pause or Stop never runs.
type Timer struct {
	clock Clock
	fn    func()

	mu        sync.Mutex
	remaining time.Duration
	started   time.Time
	pending   Stopper
	gen       uint64
	running   bool
	done      bool
}

// NewTimer creates a stopped timer that calls fn after d of running time.
func NewTimer(c Clock, d time.Duration, fn func()) *Timer {
	return &Timer{clock: c, fn: fn, remaining: d}
}

// AfterFunc creates and starts a timer.
func AfterFunc(c Clock, d time.Duration, fn func()) *Timer {
	t := NewTimer(c, d, fn)
	t.Start()
	return t
}

// Start begins or resumes the countdown.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.done {
		return
	}
	t.running = true
	t.started = t.clock.Now()
	t.gen++
	gen := t.gen
	t.pending = t.clock.AfterFunc(t.remaining, func() { t.fire(gen) })
}

// Resume is Start.
func (t *Timer) Resume() { t.Start() }

// Pause freezes the countdown and returns what is left.
func (t *Timer) Pause() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return t.remaining
	}
	t.cancel()
	t.remaining -= t.clock.Now().Sub(t.started)
	if t.remaining < 0 {
		t.remaining = 0
	}
	return t.remaining
}

// Stop cancels the timer for good.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.cancel()
	}
	t.done = true
}

// Remaining returns the time left on the countdown.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return t.remaining
	}
	left := t.remaining - t.clock.Now().Sub(t.started)
	if left < 0 {
		return 0
	}
	return left
}

// Active reports whether the countdown is running.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timer) cancel() {
	t.running = false
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.done = true
	t.remaining = 0
	t.pending = nil
	t.mu.Unlock()

	t.fn()
}
