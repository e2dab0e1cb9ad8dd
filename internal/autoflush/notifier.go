package autoflush

import "sync"

// Notifier fans wake signals out to registered workers so that a fresh dirty
// mark is picked up promptly instead of waiting out a full flush interval.
//
// It is an explicit object rather than package-level state so independent
// tracker/worker pairs (one per storage root, or several in tests) never
// wake each other.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan struct{}]struct{})}
}

// Subscribe registers and returns a wake channel with a one-signal buffer.
// A pending signal coalesces with later ones.
func (n *Notifier) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a previously subscribed channel.
func (n *Notifier) Unsubscribe(ch chan struct{}) {
	n.mu.Lock()
	delete(n.subs, ch)
	n.mu.Unlock()
}

// Wake signals every subscriber without blocking. A subscriber that already
// has a pending signal is left as-is.
func (n *Notifier) Wake() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
