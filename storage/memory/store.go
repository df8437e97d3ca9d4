// Package memory provides an in-memory implementation of the outbox-kit
// Store. It is not durable; intended for tests and examples.
package memory

import (
	"context"
	"fmt"
	"sort"
	stdSync "sync"

	outboxkit "github.com/c0deZ3R0/go-outbox-kit"
)

// Store keeps operations in a map guarded by an RWMutex.
type Store struct {
	mu     stdSync.RWMutex
	items  map[string]outboxkit.QueuedOperation
	closed bool
}

var _ outboxkit.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{items: make(map[string]outboxkit.QueuedOperation)}
}

// Get returns the operation with the given id.
func (s *Store) Get(ctx context.Context, id string) (*outboxkit.QueuedOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	op, ok := s.items[id]
	if !ok {
		return nil, outboxkit.ErrNotFound
	}
	cp := op
	return &cp, nil
}

// Put stores a copy of the operation.
func (s *Store) Put(ctx context.Context, op *outboxkit.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	s.items[op.ID] = *op
	return nil
}

// Delete removes the operation. Deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	delete(s.items, id)
	return nil
}

// ListAll returns all operations ordered by enqueue time.
func (s *Store) ListAll(ctx context.Context) ([]*outboxkit.QueuedOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	out := make([]*outboxkit.QueuedOperation, 0, len(s.items))
	for _, op := range s.items {
		cp := op
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
