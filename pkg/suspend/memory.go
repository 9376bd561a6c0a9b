package suspend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LeeJc02/ShopMate/pkg/schema"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory keeps encoded suspensions in a map, so callers never share
// mutable state with the store.
type Memory struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type Option func(*Memory)

func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Put(_ context.Context, s *Suspension) error {
	data, err := encode(s)
	if err != nil {
		return fmt.Errorf("encode suspension %s: %w", s.RequestID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[s.RequestID]; ok && m.now().Before(e.expiresAt) {
		return fmt.Errorf("%w: %s", ErrExists, s.RequestID)
	}
	m.entries[s.RequestID] = entry{data: data, expiresAt: s.ExpiresAt}
	return nil
}

func (m *Memory) Get(_ context.Context, requestID string) (*Suspension, error) {
	m.mu.Lock()
	e, ok := m.entries[requestID]
	if ok && !m.now().Before(e.expiresAt) {
		delete(m.entries, requestID)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExpired, requestID)
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return decode(e.data)
}

func (m *Memory) Complete(_ context.Context, requestID, digest string, resp *schema.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[requestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, requestID)
		return fmt.Errorf("%w: %s", ErrExpired, requestID)
	}
	s, err := decode(e.data)
	if err != nil {
		return err
	}
	if s.Status == StatusCompleted {
		return fmt.Errorf("%w: %s", ErrCompleted, requestID)
	}

	s.Status = StatusCompleted
	s.ResultsDigest = digest
	s.Response = resp
	data, err := encode(s)
	if err != nil {
		return err
	}
	m.entries[requestID] = entry{data: data, expiresAt: e.expiresAt}
	return nil
}

func (m *Memory) Delete(_ context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, requestID)
	return nil
}

func (m *Memory) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
