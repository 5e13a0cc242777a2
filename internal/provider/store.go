package provider

import (
	"sync"

	"pushtalk/internal/domain"
)

// Store publishes the latest diagnostics. Each resolution replaces the
// stored value; values are never mutated after publication.
type Store struct {
	mu        sync.RWMutex
	current   domain.Diagnostics
	published bool
	observers []func(domain.Diagnostics)
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the last published diagnostics and whether any exist.
func (s *Store) Current() (domain.Diagnostics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.published
}

// Observe registers fn for every future publication. fn runs on the
// publishing goroutine and must not block.
func (s *Store) Observe(fn func(domain.Diagnostics)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) publish(d domain.Diagnostics) {
	s.mu.Lock()
	s.current = d
	s.published = true
	observers := append([]func(domain.Diagnostics){}, s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(d)
	}
}
