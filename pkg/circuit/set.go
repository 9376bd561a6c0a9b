package circuit

import (
	"sort"
	"sync"
)

// Set holds one independent breaker per name, created on first use.
type Set struct {
	config Config
	opts   []Option

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewSet(config Config, opts ...Option) *Set {
	return &Set{
		config:   config,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it if needed.
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[name]
	if !ok {
		b = New(name, s.config, s.opts...)
		s.breakers[name] = b
	}
	return b
}

// Snapshot returns the state of a single breaker. Unknown names report a
// fresh closed circuit without allocating one.
func (s *Set) Snapshot(name string) Snapshot {
	s.mu.Lock()
	b, ok := s.breakers[name]
	s.mu.Unlock()
	if !ok {
		return Snapshot{Name: name, State: Closed}
	}
	return b.Snapshot()
}

// Reset closes the named breaker. It reports false for unknown names.
func (s *Set) Reset(name string) bool {
	s.mu.Lock()
	b, ok := s.breakers[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// All returns snapshots of every breaker, sorted by name.
func (s *Set) All() []Snapshot {
	s.mu.Lock()
	list := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		list = append(list, b)
	}
	s.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
