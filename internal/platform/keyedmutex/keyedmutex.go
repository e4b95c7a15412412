// Package keyedmutex provides per-key mutual exclusion with FIFO ordering.
package keyedmutex

import "sync"

// slot tracks the wait queue for one key. The tail channel is closed by the
// current tail holder's unlock; each new waiter chains a fresh channel behind
// it, which yields strict arrival-order handoff.
type slot struct {
	tail    chan struct{}
	waiters int
}

// Mutex serializes callers per key. Different keys never block each other.
// Keys with no holders and no waiters occupy no memory.
type Mutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// New creates an empty keyed mutex.
func New() *Mutex {
	return &Mutex{slots: make(map[string]*slot)}
}

// Lock blocks until the caller holds the key, then returns the unlock
// function. Callers acquire in the order they called Lock. The unlock
// function is idempotent.
func (m *Mutex) Lock(key string) (unlock func()) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{}
		m.slots[key] = s
	}
	s.waiters++
	turn := s.tail
	next := make(chan struct{})
	s.tail = next
	m.mu.Unlock()

	if turn != nil {
		<-turn
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(next)
			m.mu.Lock()
			s.waiters--
			if s.waiters == 0 {
				delete(m.slots, key)
			}
			m.mu.Unlock()
		})
	}
}

// TryLock acquires the key only if it is free, returning the unlock function
// and true, or nil and false when someone else holds or waits on the key.
func (m *Mutex) TryLock(key string) (unlock func(), ok bool) {
	m.mu.Lock()
	if _, held := m.slots[key]; held {
		m.mu.Unlock()
		return nil, false
	}
	s := &slot{waiters: 1}
	next := make(chan struct{})
	s.tail = next
	m.slots[key] = s
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(next)
			m.mu.Lock()
			s.waiters--
			if s.waiters == 0 {
				delete(m.slots, key)
			}
			m.mu.Unlock()
		})
	}, true
}

// Len reports the number of keys currently held or waited on.
func (m *Mutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
