// Package dedup provides a bounded recent-id window for duplicate suppression.
package dedup

import "sync"

// DefaultCapacity is the window size used when no capacity is configured.
const DefaultCapacity = 4096

// Window remembers recently seen ids up to a fixed capacity. When full, the
// oldest half of the window is evicted in one sweep so insertion stays O(1)
// amortized. Membership is best-effort: an evicted id may be seen again.
type Window struct {
	mu    sync.Mutex
	cap   int
	set   map[string]struct{}
	order []string
}

// NewWindow creates a window with the given capacity. Capacity below 2 falls
// back to DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	return &Window{
		cap:   capacity,
		set:   make(map[string]struct{}, capacity),
		order: make([]string, 0, capacity),
	}
}

// Seen records id and reports whether it was already present. The empty id is
// never recorded and never reported as seen.
func (w *Window) Seen(id string) bool {
	if id == "" {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.set[id]; ok {
		return true
	}

	if len(w.order) >= w.cap {
		half := len(w.order) / 2
		for _, old := range w.order[:half] {
			delete(w.set, old)
		}
		w.order = append(w.order[:0], w.order[half:]...)
	}

	w.set[id] = struct{}{}
	w.order = append(w.order, id)
	return false
}

// Len reports the number of ids currently remembered.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.set)
}
