package config

import (
	"sync"
)

// Store publishes the current configuration as an immutable value.
// Readers always get a consistent whole snapshot; writers replace the
// value, never edit it in place. Changes take effect on the next
// driver cycle, never mid-cycle.
type Store struct {
	mu        sync.RWMutex
	current   Config
	listeners []func(Config)
}

func NewStore(initial Config) *Store {
	return &Store{current: initial}
}

// Snapshot returns the current configuration value.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers fn to run after every published update, with the
// new value. fn must not block and must not call back into the store.
func (s *Store) Subscribe(fn func(Config)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Update applies fn to a copy of the current value, publishes the
// result, and notifies subscribers. fn must not retain the argument.
func (s *Store) Update(fn func(Config) Config) Config {
	s.mu.Lock()
	s.current = fn(s.current)
	next := s.current
	listeners := s.listeners
	s.mu.Unlock()

	for _, notify := range listeners {
		notify(next)
	}
	return next
}
