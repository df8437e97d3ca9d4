package outboxkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIdempotencyKeyStable(t *testing.T) {
	nonce := uuid.New()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	k1 := NewIdempotencyKey("adjustInventory", []byte(`{"sku":"A1","delta":-2}`), at, nonce)
	k2 := NewIdempotencyKey("adjustInventory", []byte(`{"sku":"A1","delta":-2}`), at, nonce)

	if k1 != k2 {
		t.Errorf("same inputs produced different keys: %s vs %s", k1, k2)
	}
	if len(k1) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(k1))
	}
}

func TestIdempotencyKeyVariesPerInput(t *testing.T) {
	nonce := uuid.New()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	base := NewIdempotencyKey("op", []byte(`{"a":1}`), at, nonce)

	variants := map[string]string{
		"name":    NewIdempotencyKey("other", []byte(`{"a":1}`), at, nonce),
		"payload": NewIdempotencyKey("op", []byte(`{"a":2}`), at, nonce),
		"time":    NewIdempotencyKey("op", []byte(`{"a":1}`), at.Add(time.Nanosecond), nonce),
		"nonce":   NewIdempotencyKey("op", []byte(`{"a":1}`), at, uuid.New()),
	}
	for field, key := range variants {
		if key == base {
			t.Errorf("changing %s did not change the key", field)
		}
	}
}

func TestIdempotencyKeyNoFieldBleed(t *testing.T) {
	nonce := uuid.New()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Without separators "ab"+"c" and "a"+"bc" would collide.
	k1 := NewIdempotencyKey("ab", []byte("c"), at, nonce)
	k2 := NewIdempotencyKey("a", []byte("bc"), at, nonce)
	if k1 == k2 {
		t.Error("distinct (name, payload) splits produced the same key")
	}
}

func TestIdempotencyKeySurvivesRetries(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	outbox, err := Open(ctx, store)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	id := mustEnqueue(t, outbox, "createOrder", []byte(`{"n":1}`))
	before, _ := outbox.Get(id)

	for i := 0; i < 2; i++ {
		if err := outbox.MarkFailed(ctx, id, "timeout"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	after, _ := outbox.Get(id)
	if after.IdempotencyKey != before.IdempotencyKey {
		t.Errorf("idempotency key changed across retries: %s -> %s",
			before.IdempotencyKey, after.IdempotencyKey)
	}
	if after.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", after.RetryCount)
	}
}
