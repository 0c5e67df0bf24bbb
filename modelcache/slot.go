package modelcache

import (
	"context"
	"sync"
)

// Slot pins the current model of one kind. Switching acquires the new
// model before letting go of the old one, so a failed switch leaves the
// previous model in place.
type Slot struct {
	cache *Cache

	mu      sync.Mutex
	current *Lease
}

// NewSlot creates an empty slot backed by cache.
func NewSlot(cache *Cache) *Slot {
	return &Slot{cache: cache}
}

// Current returns the pinned key and whether one is set.
func (s *Slot) Current() (Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Key{}, false
	}
	return s.current.Key(), true
}

// Switch pins key. The model is acquired without holding the slot lock,
// so Current and Clear never wait on a load. The old lease is released
// only after the new one is pinned; a failed switch leaves it in place.
// When switches race, the last one to finish wins and the others' leases
// are released.
func (s *Slot) Switch(ctx context.Context, key Key) (*Handle, error) {
	s.mu.Lock()
	if s.current != nil && s.current.Key() == key {
		h := s.current.Handle()
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	lease, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	old := s.current
	s.current = lease
	s.mu.Unlock()

	if old != nil {
		old.Release()
	}
	return lease.Handle(), nil
}

// Clear unpins the current model.
func (s *Slot) Clear() {
	s.mu.Lock()
	old := s.current
	s.current = nil
	s.mu.Unlock()
	if old != nil {
		old.Release()
	}
}
