// Package store provides the persistence backends for agent records.
//
// Every backend stores records in the fixed-width layout from package agent
// and implements registry.Store: create-if-absent, read, and an atomic
// read-modify-write per record.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/agent-registry/pkg/agent"
)

// MemoryStore is a thread-safe in-memory store. Records are kept encoded so
// that reads always hand out fresh copies.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[agent.Handle][]byte
	capacity int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithCapacity bounds the number of records. Create fails with
// agent.ErrAllocationFailed once the bound is reached. Zero means unbounded.
func WithCapacity(n int) MemoryOption {
	return func(s *MemoryStore) { s.capacity = n }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{records: make(map[agent.Handle][]byte)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, h agent.Handle, a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[h]; ok {
		return agent.ErrAlreadyExists
	}
	if s.capacity > 0 && len(s.records) >= s.capacity {
		return fmt.Errorf("%w: capacity %d reached", agent.ErrAllocationFailed, s.capacity)
	}
	s.records[h] = agent.Encode(a)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, h agent.Handle) (*agent.Agent, error) {
	s.mu.Lock()
	raw, ok := s.records[h]
	s.mu.Unlock()

	if !ok {
		return nil, agent.ErrNotFound
	}
	return agent.Decode(raw)
}

// Update holds the store lock across load, fn and write, so updates to the
// same record are serialized and never conflict.
func (s *MemoryStore) Update(ctx context.Context, h agent.Handle, fn func(*agent.Agent) error) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.records[h]
	if !ok {
		return nil, agent.ErrNotFound
	}
	a, err := agent.Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	s.records[h] = agent.Encode(a)
	return a.Clone(), nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
