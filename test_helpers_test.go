package outboxkit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Stub types shared by the package tests.

// memStore is a minimal in-memory Store with optional failure injection.
type memStore struct {
	mu      sync.Mutex
	items   map[string]QueuedOperation
	failPut bool

	// failOnPut fails the nth Put call (1-based). 0 disables.
	failOnPut int
	putCalls  int
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]QueuedOperation)}
}

func (s *memStore) Get(ctx context.Context, id string) (*QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := op
	return &cp, nil
}

func (s *memStore) Put(ctx context.Context, op *QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.failPut || (s.failOnPut > 0 && s.putCalls == s.failOnPut) {
		return fmt.Errorf("disk full")
	}
	s.items[op.ID] = *op
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *memStore) ListAll(ctx context.Context) ([]*QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*QueuedOperation, 0, len(s.items))
	for _, op := range s.items {
		cp := op
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (s *memStore) Close() error { return nil }

// stubTransport returns scripted results and records every submitted batch.
type stubTransport struct {
	mu      sync.Mutex
	batches [][]SubmitItem

	// respond builds the results for a batch. Nil means "success for all".
	respond func(items []SubmitItem) ([]ItemResult, error)

	// block, when non-nil, is received from before responding. Used to
	// hold a submission open for concurrency tests.
	block chan struct{}
}

func (t *stubTransport) SubmitBatch(ctx context.Context, items []SubmitItem) ([]ItemResult, error) {
	t.mu.Lock()
	t.batches = append(t.batches, items)
	respond := t.respond
	block := t.block
	t.mu.Unlock()

	if block != nil {
		<-block
	}
	if respond != nil {
		return respond(items)
	}
	results := make([]ItemResult, len(items))
	for i, item := range items {
		results[i] = ItemResult{ID: item.ID, Outcome: OutcomeSuccess}
	}
	return results, nil
}

func (t *stubTransport) Close() error { return nil }

func (t *stubTransport) batchCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.batches)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mustEnqueue enqueues or fails the test.
type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}

func mustEnqueue(t testingT, o *Outbox, name string, payload []byte) string {
	t.Helper()
	id, err := o.Enqueue(context.Background(), name, payload)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	return id
}
