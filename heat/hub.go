package heat

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// SnapshotHub fans one upstream feed subscription out to many views and
// remembers the last snapshot. A new subscriber receives the cached
// snapshot synchronously, so every view gets "current state immediately,
// changes afterwards" regardless of the upstream transport's own retain
// semantics. It implements SnapshotSource; the hub's path argument is
// ignored because the upstream path was fixed at Run time.
type SnapshotHub struct {
	upstream SnapshotSource
	path     string

	mu       sync.RWMutex
	sub      Subscription
	last     Snapshot
	hasLast  bool
	nextID   int
	handlers map[int]SnapshotHandler
	closed   bool
}

// NewSnapshotHub wires a hub to its upstream source and path.
func NewSnapshotHub(upstream SnapshotSource, path string) *SnapshotHub {
	return &SnapshotHub{
		upstream: upstream,
		path:     path,
		handlers: make(map[int]SnapshotHandler),
	}
}

// Run subscribes upstream. Call once before handing the hub to views.
func (h *SnapshotHub) Run() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("hub is closed")
	}
	if h.sub != nil {
		h.mu.Unlock()
		return fmt.Errorf("hub already running")
	}
	h.mu.Unlock()

	sub, err := h.upstream.Subscribe(h.path, h.broadcast)
	if err != nil {
		return fmt.Errorf("subscribing upstream to %s: %w", h.path, err)
	}

	h.mu.Lock()
	h.sub = sub
	h.mu.Unlock()
	return nil
}

// broadcast caches the snapshot and delivers it to every subscriber in
// registration order. Handlers run outside the hub lock so a slow view
// cannot deadlock cancellation.
func (h *SnapshotHub) broadcast(snap Snapshot) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.last = snap
	h.hasLast = true
	ids := make([]int, 0, len(h.handlers))
	for id := range h.handlers {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	sort.Ints(ids)
	for _, id := range ids {
		h.mu.RLock()
		fn := h.handlers[id]
		h.mu.RUnlock()
		if fn != nil {
			fn(snap)
		}
	}
}

// Subscribe registers a view handler. When a snapshot has already been
// seen it is delivered before Subscribe returns.
func (h *SnapshotHub) Subscribe(path string, fn SnapshotHandler) (Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler is required")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("hub is closed")
	}
	id := h.nextID
	h.nextID++
	h.handlers[id] = fn
	snap := h.last
	deliver := h.hasLast
	h.mu.Unlock()

	if deliver {
		fn(snap)
	}
	return &hubSubscription{hub: h, id: id}, nil
}

// Last returns the most recent snapshot and whether one has been seen.
func (h *SnapshotHub) Last() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.hasLast
}

// Subscribers returns the number of registered view handlers.
func (h *SnapshotHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// Close cancels the upstream subscription and drops all view handlers.
func (h *SnapshotHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sub := h.sub
	h.sub = nil
	h.handlers = make(map[int]SnapshotHandler)
	h.mu.Unlock()

	if sub != nil {
		if err := sub.Cancel(); err != nil {
			log.Printf("[HUB] cancelling upstream subscription: %v", err)
		}
	}
}

// hubSubscription cancels one view's registration.
type hubSubscription struct {
	hub *SnapshotHub
	id  int
}

func (s *hubSubscription) Cancel() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.handlers, s.id)
	return nil
}
