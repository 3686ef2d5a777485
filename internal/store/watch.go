package store

import (
	"sync"

	"github.com/google/uuid"
)

// hub fans per-key change signals out to registered watchers. Signals are
// level-triggered: each watcher channel holds at most one pending signal and
// further notifications coalesce until the watcher drains it.
type hub struct {
	mu       sync.Mutex
	watchers map[string]map[uuid.UUID]chan struct{}
}

func newHub() *hub {
	return &hub{watchers: make(map[string]map[uuid.UUID]chan struct{})}
}

func (h *hub) watch(key string) (<-chan struct{}, func()) {
	id := uuid.New()
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	byID := h.watchers[key]
	if byID == nil {
		byID = make(map[uuid.UUID]chan struct{})
		h.watchers[key] = byID
	}
	byID[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		byID := h.watchers[key]
		delete(byID, id)
		if len(byID) == 0 {
			delete(h.watchers, key)
		}
	}
	return ch, cancel
}

func (h *hub) notify(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.watchers[key] {
		signal(ch)
	}
}

// notifyAll signals every watcher regardless of key; used for Clear, which
// touches all tokens at once.
func (h *hub) notifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, byID := range h.watchers {
		for _, ch := range byID {
			signal(ch)
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
