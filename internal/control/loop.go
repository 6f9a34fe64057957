// Package control runs engine work on a single goroutine.
//
// Everything that touches engine state is posted to a Loop and executed
// in arrival order. Device callbacks and timers never mutate state
// directly, they post a closure instead.
package control

import (
	"context"

	"github.com/satindergrewal/affirmloop/internal/fault"
)

// Loop is a FIFO executor.
type Loop struct {
	ops  chan func()
	done chan struct{}
}

// New creates a loop with room for buffer queued operations.
func New(buffer int) *Loop {
	return &Loop{
		ops:  make(chan func(), buffer),
		done: make(chan struct{}),
	}
}

// Run executes posted operations until ctx is cancelled. Blocks.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.ops:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn. It returns false if the loop has stopped. Must not be
// called from inside the loop while the queue may be full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.ops <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for its result. Never call Do from
// inside the loop.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	op := func() { result <- fn() }

	select {
	case l.ops <- op:
	case <-l.done:
		return fault.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-l.done:
		// Run may have exited right after executing op
		select {
		case err := <-result:
			return err
		default:
			return fault.ErrClosed
		}
	}
}

// Flush waits until everything posted before it has run.
func (l *Loop) Flush(ctx context.Context) error {
	return l.Do(ctx, func() error { return nil })
}
