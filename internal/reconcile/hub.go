package reconcile

import (
	"sync"

	"github.com/tbourn/go-ledger-sync/internal/thread"
)

// Listener receives the organized tree of a group. The tree is shared by all
// listeners of one notification and must be treated as read-only.
type Listener func(tree []*thread.Node)

// Hub fans tree updates out to per-group listeners.
//
// Deliveries are serialized so a listener never observes an older tree after
// a newer one. Listeners may unsubscribe from inside their callback.
type Hub struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	next      uint64
	listeners map[string]map[uint64]Listener
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[string]map[uint64]Listener)}
}

// Subscribe registers fn for group and immediately delivers current().
// The returned function removes the subscription; calling it twice is safe.
func (h *Hub) Subscribe(group string, fn Listener, current func() []*thread.Node) func() {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	h.next++
	id := h.next
	if h.listeners[group] == nil {
		h.listeners[group] = make(map[uint64]Listener)
	}
	h.listeners[group][id] = fn
	h.mu.Unlock()

	fn(current())

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners[group], id)
			if len(h.listeners[group]) == 0 {
				delete(h.listeners, group)
			}
			h.mu.Unlock()
		})
	}
}

// Notify delivers tree to every listener of group.
func (h *Hub) Notify(group string, tree []*thread.Node) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	fns := make([]Listener, 0, len(h.listeners[group]))
	for _, fn := range h.listeners[group] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(tree)
	}
}

// Count returns the number of listeners registered for group.
func (h *Hub) Count(group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[group])
}
