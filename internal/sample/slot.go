// internal/sample/slot.go
package sample

import "sync"

// Slot is a single-value cell replaced wholesale on every publish.
// Readers get a copy; they never observe a half-written value.
type Slot[T any] struct {
	mu  sync.RWMutex
	v   T
	set bool
}

// Store publishes v, replacing the previous value.
func (s *Slot[T]) Store(v T) {
	s.mu.Lock()
	s.v = v
	s.set = true
	s.mu.Unlock()
}

// Load returns a copy of the current value; ok is false when empty.
func (s *Slot[T]) Load() (v T, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v, s.set
}

// Clear drops the current value.
func (s *Slot[T]) Clear() {
	var zero T
	s.mu.Lock()
	s.v = zero
	s.set = false
	s.mu.Unlock()
}
