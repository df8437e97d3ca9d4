package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	outboxkit "github.com/c0deZ3R0/go-outbox-kit"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.db")
	store, err := NewWithDataSource(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func sampleOp(id string, at time.Time) *outboxkit.QueuedOperation {
	return &outboxkit.QueuedOperation{
		ID:             id,
		Name:           "adjustInventory",
		Payload:        []byte(`{"sku":"A1","delta":-2}`),
		IdempotencyKey: "key-" + id,
		EnqueuedAt:     at,
		State:          outboxkit.StateQueued,
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	at := time.Date(2025, 6, 1, 10, 0, 0, 123456789, time.UTC)
	op := sampleOp("op-1", at)
	op.RetryCount = 2
	op.LastAttemptAt = at.Add(time.Minute)
	op.LastError = "timeout"
	op.Conflict = &outboxkit.ConflictCase{
		OperationID:    "op-1",
		Kind:           outboxkit.DataConflict,
		LocalSnapshot:  []byte(`{"a":1}`),
		ServerSnapshot: []byte(`{"a":2}`),
		DetectedAt:     at.Add(2 * time.Minute),
	}

	if err := store.Put(ctx, op); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != op.Name || got.IdempotencyKey != op.IdempotencyKey {
		t.Errorf("identity fields lost: %+v", got)
	}
	if string(got.Payload) != string(op.Payload) {
		t.Errorf("payload = %s, want %s", got.Payload, op.Payload)
	}
	if !got.EnqueuedAt.Equal(op.EnqueuedAt) {
		t.Errorf("enqueued_at = %v, want %v", got.EnqueuedAt, op.EnqueuedAt)
	}
	if got.RetryCount != 2 || got.LastError != "timeout" {
		t.Errorf("retry state lost: %+v", got)
	}
	if !got.LastAttemptAt.Equal(op.LastAttemptAt) {
		t.Errorf("last_attempt_at = %v, want %v", got.LastAttemptAt, op.LastAttemptAt)
	}
	if got.Conflict == nil || got.Conflict.Kind != outboxkit.DataConflict {
		t.Errorf("conflict lost: %+v", got.Conflict)
	}
}

func TestGetUnknownReturnsErrNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); err != outboxkit.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPutUpdatesLifecycleFields(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	op := sampleOp("op-1", at)
	if err := store.Put(ctx, op); err != nil {
		t.Fatalf("initial put: %v", err)
	}

	op.State = outboxkit.StateTerminal
	op.TerminalReason = outboxkit.TerminalRetriesExhausted
	op.RetryCount = 4
	op.LastError = "gave up"
	if err := store.Put(ctx, op); err != nil {
		t.Fatalf("update put: %v", err)
	}

	got, err := store.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != outboxkit.StateTerminal || got.TerminalReason != outboxkit.TerminalRetriesExhausted {
		t.Errorf("lifecycle not updated: %+v", got)
	}
	if got.RetryCount != 4 || got.LastError != "gave up" {
		t.Errorf("retry state not updated: %+v", got)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	store, path := newTestStore(t)

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := store.Put(ctx, sampleOp("op-1", at)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewWithDataSource(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "op-1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.IdempotencyKey != "key-op-1" {
		t.Errorf("reopened operation = %+v", got)
	}
}

func TestListAllOrdered(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	inserts := []struct {
		id     string
		offset time.Duration
	}{
		{"op-c", 2 * time.Second},
		{"op-a", 0},
		{"op-b", time.Second},
	}
	for _, in := range inserts {
		if err := store.Put(ctx, sampleOp(in.id, base.Add(in.offset))); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	ops, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("len = %d, want 3", len(ops))
	}
	want := []string{"op-a", "op-b", "op-c"}
	for i, op := range ops {
		if op.ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, op.ID, want[i])
		}
	}
}

func TestDeleteUnknownIsNoOp(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Delete(context.Background(), "missing"); err != nil {
		t.Errorf("delete unknown: %v", err)
	}
}

func TestDeleteRemoves(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.Put(ctx, sampleOp("op-1", time.Now().UTC())); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "op-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "op-1"); err != outboxkit.ErrNotFound {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	if err := store.Put(ctx, sampleOp("op-1", time.Now().UTC())); err != ErrStoreClosed {
		t.Errorf("put on closed store: %v, want ErrStoreClosed", err)
	}
	if _, err := store.Get(ctx, "op-1"); err != ErrStoreClosed {
		t.Errorf("get on closed store: %v, want ErrStoreClosed", err)
	}
}

func TestCustomTableName(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")
	store, err := New(&Config{DataSourceName: path, TableName: "pending_ops"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Put(ctx, sampleOp("op-1", time.Now().UTC())); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Get(ctx, "op-1"); err != nil {
		t.Errorf("get: %v", err)
	}
}
