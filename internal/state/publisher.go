package state

import "sync"

// Publisher fans snapshots out to N listeners. Publish is only called from
// the control loop, so listeners see versions in order.
type Publisher struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	latest    Snapshot
}

// Listener receives snapshots from the publisher.
type Listener struct {
	C    chan Snapshot // holds at most the newest undelivered snapshot
	done chan struct{}
	mu   sync.Mutex
}

// NewPublisher creates a publisher whose Latest is initial.
func NewPublisher(initial Snapshot) *Publisher {
	return &Publisher{
		listeners: make(map[*Listener]struct{}),
		latest:    initial,
	}
}

// Subscribe registers a listener. The current snapshot is queued on it
// immediately.
func (p *Publisher) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan Snapshot, 1),
		done: make(chan struct{}),
	}
	p.mu.Lock()
	p.listeners[l] = struct{}{}
	l.offer(p.latest)
	p.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and closes its Done channel.
func (p *Publisher) Unsubscribe(l *Listener) {
	p.mu.Lock()
	_, ok := p.listeners[l]
	delete(p.listeners, l)
	p.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (p *Publisher) ListenerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.listeners)
}

// Latest returns the most recently published snapshot.
func (p *Publisher) Latest() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Publish stores s and hands it to every listener. A slow listener loses
// the snapshot it has not read yet rather than blocking the loop.
func (p *Publisher) Publish(s Snapshot) {
	p.mu.Lock()
	p.latest = s
	p.mu.Unlock()

	p.mu.RLock()
	for l := range p.listeners {
		l.offer(s)
	}
	p.mu.RUnlock()
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

func (l *Listener) offer(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.C:
		// stale, replace with the newer one
	default:
	}
	l.C <- s
}
