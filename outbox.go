package outboxkit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	oerrors "github.com/c0deZ3R0/go-outbox-kit/errors"
	"github.com/c0deZ3R0/go-outbox-kit/logging"
)

// Outbox is the in-memory canonical view over the durable Store. It owns the
// ordering and lifecycle of queued operations. All mutations go through the
// Store first; an operation is only admitted to the view once persisted.
//
// Reads (All, Get, ListEligible) never block enqueue or dispatch beyond the
// RWMutex critical sections; the Store is single-writer through this type.
type Outbox struct {
	store      Store
	backoff    *BackoffScheduler
	maxRetries int
	now        func() time.Time
	logger     *logging.Logger

	mu    sync.RWMutex
	items map[string]*QueuedOperation
}

// OutboxOption configures an Outbox.
type OutboxOption func(*Outbox)

// WithBackoff replaces the default backoff scheduler.
func WithBackoff(b *BackoffScheduler) OutboxOption {
	return func(o *Outbox) { o.backoff = b }
}

// WithMaxRetries sets how many transient failures an operation may accumulate
// before it is escalated to terminal.
func WithMaxRetries(n int) OutboxOption {
	return func(o *Outbox) { o.maxRetries = n }
}

// WithClock replaces the wall clock. Used in tests.
func WithClock(now func() time.Time) OutboxOption {
	return func(o *Outbox) { o.now = now }
}

// Open loads all persisted operations from the store and returns the outbox
// view over them. Operations left in-flight by a crashed process are returned
// to queued; their idempotency keys make the re-submission safe.
func Open(ctx context.Context, store Store, opts ...OutboxOption) (*Outbox, error) {
	if store == nil {
		return nil, oerrors.New(oerrors.OpLoad, fmt.Errorf("store cannot be nil"))
	}

	o := &Outbox{
		store:      store,
		backoff:    NewBackoffScheduler(),
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		logger:     logging.WithComponent("outbox"),
		items:      make(map[string]*QueuedOperation),
	}
	for _, opt := range opts {
		opt(o)
	}

	persisted, err := store.ListAll(ctx)
	if err != nil {
		return nil, oerrors.NewStorageError(oerrors.OpLoad, err)
	}

	for _, op := range persisted {
		if op.State == StateInFlight {
			op.State = StateQueued
			if err := store.Put(ctx, op); err != nil {
				return nil, oerrors.NewStorageError(oerrors.OpLoad, err)
			}
		}
		o.items[op.ID] = op
	}

	o.logger.InfoContext(ctx, "outbox opened", slog.Int("operations", len(o.items)))
	return o, nil
}

// Enqueue records a new operation. The operation is persisted before it is
// admitted to the view; if persistence fails the intent is not recorded and
// the error propagates to the caller.
func (o *Outbox) Enqueue(ctx context.Context, name string, payload json.RawMessage) (string, error) {
	if name == "" {
		return "", oerrors.NewEnqueueFailure(fmt.Errorf("operation name cannot be empty"))
	}

	now := o.now()
	op := &QueuedOperation{
		ID:             uuid.NewString(),
		Name:           name,
		Payload:        payload,
		IdempotencyKey: NewIdempotencyKey(name, payload, now, uuid.New()),
		EnqueuedAt:     now,
		State:          StateQueued,
	}

	if err := o.store.Put(ctx, op); err != nil {
		return "", oerrors.NewEnqueueFailure(err)
	}

	o.mu.Lock()
	o.items[op.ID] = op
	o.mu.Unlock()

	o.logger.DebugContext(ctx, "operation enqueued",
		slog.String("id", op.ID),
		slog.String("name", name),
	)
	return op.ID, nil
}

// Get returns a copy of the operation with the given id.
func (o *Outbox) Get(id string) (QueuedOperation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	op, ok := o.items[id]
	if !ok {
		return QueuedOperation{}, false
	}
	return *op, true
}

// All returns copies of every operation, ordered by enqueue time. Intended
// for inspection and export.
func (o *Outbox) All() []QueuedOperation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.collectLocked(func(*QueuedOperation) bool { return true })
}

// ListState returns copies of every operation in the given state, ordered by
// enqueue time.
func (o *Outbox) ListState(state State) []QueuedOperation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.collectLocked(func(op *QueuedOperation) bool { return op.State == state })
}

// Len returns the number of tracked operations.
func (o *Outbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

// ListEligible returns all queued operations whose backoff window has elapsed
// at the given instant, in FIFO order by enqueue time.
func (o *Outbox) ListEligible(now time.Time) []QueuedOperation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.collectLocked(func(op *QueuedOperation) bool { return o.eligibleLocked(op, now) })
}

// ClaimEligible atomically lists eligible operations and marks them in-flight.
// The dispatcher uses this so a concurrent Enqueue can never observe a
// half-claimed batch. A persistence failure mid-claim reverts the whole claim
// and returns no operations. limit <= 0 means no limit.
func (o *Outbox) ClaimEligible(ctx context.Context, now time.Time, limit int) ([]QueuedOperation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	eligible := o.collectLocked(func(op *QueuedOperation) bool { return o.eligibleLocked(op, now) })
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]QueuedOperation, 0, len(eligible))
	for _, snap := range eligible {
		op := o.items[snap.ID]
		op.State = StateInFlight
		if err := o.store.Put(ctx, op); err != nil {
			// Revert everything this cycle claimed so nothing is stranded
			// in-flight; a stranded item would never be eligible again
			// until a restart.
			op.State = StateQueued
			for _, prev := range claimed {
				reverted := o.items[prev.ID]
				reverted.State = StateQueued
				if perr := o.store.Put(ctx, reverted); perr != nil {
					o.logger.WarnContext(ctx, "claim rollback persist failed",
						slog.String("id", prev.ID),
						slog.String("error", perr.Error()),
					)
				}
			}
			return nil, oerrors.NewStorageError(oerrors.OpDispatch, err)
		}
		claimed = append(claimed, *op)
	}
	return claimed, nil
}

// MarkInFlight transitions the given queued operations to in-flight.
func (o *Outbox) MarkInFlight(ctx context.Context, ids []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, id := range ids {
		op, ok := o.items[id]
		if !ok {
			return oerrors.New(oerrors.OpDispatch, fmt.Errorf("%w: %s", ErrNotFound, id))
		}
		if op.State != StateQueued {
			return oerrors.New(oerrors.OpDispatch, fmt.Errorf("operation %s is %s, not queued", id, op.State))
		}
		op.State = StateInFlight
		if err := o.store.Put(ctx, op); err != nil {
			return oerrors.NewStorageError(oerrors.OpDispatch, err)
		}
	}
	return nil
}

// MarkSucceeded removes the given operations; their effects are confirmed on
// the server. A duplicate outcome lands here too.
func (o *Outbox) MarkSucceeded(ctx context.Context, ids []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, id := range ids {
		if _, ok := o.items[id]; !ok {
			continue
		}
		if err := o.store.Delete(ctx, id); err != nil {
			return oerrors.NewStorageError(oerrors.OpDispatch, err)
		}
		delete(o.items, id)
	}
	return nil
}

// MarkFailed records a transient failure: the retry count is incremented, the
// attempt is stamped, and the operation returns to queued with its backoff
// window applied. Once the retry count exceeds the maximum the operation is
// escalated to terminal with reason retries-exhausted instead.
func (o *Outbox) MarkFailed(ctx context.Context, id string, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	op, ok := o.items[id]
	if !ok {
		return oerrors.New(oerrors.OpDispatch, fmt.Errorf("%w: %s", ErrNotFound, id))
	}

	op.RetryCount++
	op.LastAttemptAt = o.now()
	op.LastError = errMsg

	if op.RetryCount > o.maxRetries {
		op.State = StateTerminal
		op.TerminalReason = TerminalRetriesExhausted
		o.logger.WarnContext(ctx, "retries exhausted",
			slog.String("id", id),
			slog.Int("retry_count", op.RetryCount),
			slog.String("last_error", errMsg),
		)
	} else {
		op.State = StateQueued
	}

	if err := o.store.Put(ctx, op); err != nil {
		return oerrors.NewStorageError(oerrors.OpDispatch, err)
	}
	return nil
}

// MarkConflict suspends the operation pending explicit resolution. For a data
// conflict with both snapshots present a merge suggestion is computed.
func (o *Outbox) MarkConflict(ctx context.Context, id string, conflict ConflictCase) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	op, ok := o.items[id]
	if !ok {
		return oerrors.New(oerrors.OpDispatch, fmt.Errorf("%w: %s", ErrNotFound, id))
	}

	conflict.OperationID = id
	if conflict.DetectedAt.IsZero() {
		conflict.DetectedAt = o.now()
	}
	if conflict.Kind == DataConflict && conflict.SuggestedMerge == nil &&
		conflict.LocalSnapshot != nil && conflict.ServerSnapshot != nil {
		merged, err := SuggestMerge(conflict.LocalSnapshot, conflict.ServerSnapshot)
		if err != nil {
			// Snapshots that don't merge still conflict; resolution just
			// won't offer a merge choice.
			o.logger.WarnContext(ctx, "merge suggestion failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		} else {
			conflict.SuggestedMerge = merged
		}
	}

	op.State = StateAwaitingResolution
	op.Conflict = &conflict

	if err := o.store.Put(ctx, op); err != nil {
		return oerrors.NewStorageError(oerrors.OpDispatch, err)
	}
	return nil
}

// MarkTerminal parks the operation permanently. It stays visible until
// removed or reset by an operator.
func (o *Outbox) MarkTerminal(ctx context.Context, id string, reason TerminalReason, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	op, ok := o.items[id]
	if !ok {
		return oerrors.New(oerrors.OpDispatch, fmt.Errorf("%w: %s", ErrNotFound, id))
	}

	op.State = StateTerminal
	op.TerminalReason = reason
	if errMsg != "" {
		op.LastError = errMsg
	}

	if err := o.store.Put(ctx, op); err != nil {
		return oerrors.NewStorageError(oerrors.OpDispatch, err)
	}
	return nil
}

// ResolveConflict atomically applies a resolution decision to an operation
// awaiting resolution. The state check and the transition happen under one
// lock, so exactly one of any number of concurrent calls takes effect; the
// rest report resolved=false. For KeepLocal and Merge the caller supplies the
// payload to re-enqueue; the replacement is a new intent with a new
// idempotency key, and it is persisted before the original is removed.
func (o *Outbox) ResolveConflict(ctx context.Context, id string, choice Resolution, payload json.RawMessage) (newID string, resolved bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	op, ok := o.items[id]
	if !ok || op.State != StateAwaitingResolution {
		return "", false, nil
	}

	switch choice {
	case KeepLocal, Merge:
		now := o.now()
		replacement := &QueuedOperation{
			ID:             uuid.NewString(),
			Name:           op.Name,
			Payload:        payload,
			IdempotencyKey: NewIdempotencyKey(op.Name, payload, now, uuid.New()),
			EnqueuedAt:     now,
			State:          StateQueued,
		}
		if err := o.store.Put(ctx, replacement); err != nil {
			return "", false, oerrors.NewEnqueueFailure(err)
		}
		if err := o.store.Delete(ctx, id); err != nil {
			if derr := o.store.Delete(ctx, replacement.ID); derr != nil {
				o.logger.WarnContext(ctx, "replacement cleanup failed",
					slog.String("id", replacement.ID),
					slog.String("error", derr.Error()),
				)
			}
			return "", false, oerrors.NewStorageError(oerrors.OpResolve, err)
		}
		delete(o.items, id)
		o.items[replacement.ID] = replacement
		return replacement.ID, true, nil

	case KeepServer:
		if err := o.store.Delete(ctx, id); err != nil {
			return "", false, oerrors.NewStorageError(oerrors.OpResolve, err)
		}
		delete(o.items, id)
		return "", true, nil

	case Retry:
		updated := *op
		updated.State = StateQueued
		updated.RetryCount = 0
		updated.LastError = ""
		updated.LastAttemptAt = time.Time{}
		updated.TerminalReason = TerminalNone
		updated.Conflict = nil
		if err := o.store.Put(ctx, &updated); err != nil {
			return "", false, oerrors.NewStorageError(oerrors.OpResolve, err)
		}
		*op = updated
		return "", true, nil

	case Discard:
		updated := *op
		updated.State = StateTerminal
		updated.TerminalReason = TerminalDiscarded
		if err := o.store.Put(ctx, &updated); err != nil {
			return "", false, oerrors.NewStorageError(oerrors.OpResolve, err)
		}
		*op = updated
		return "", true, nil

	default:
		return "", false, oerrors.New(oerrors.OpResolve, fmt.Errorf("unknown resolution %q", choice))
	}
}

// Reset returns the operation to queued with a zero retry count and no error,
// making it immediately eligible again. The idempotency key is unchanged.
func (o *Outbox) Reset(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	op, ok := o.items[id]
	if !ok {
		return oerrors.New(oerrors.OpResolve, fmt.Errorf("%w: %s", ErrNotFound, id))
	}

	op.State = StateQueued
	op.RetryCount = 0
	op.LastError = ""
	op.LastAttemptAt = time.Time{}
	op.TerminalReason = TerminalNone
	op.Conflict = nil

	if err := o.store.Put(ctx, op); err != nil {
		return oerrors.NewStorageError(oerrors.OpResolve, err)
	}
	return nil
}

// Remove deletes the operation permanently. Removing an unknown id is a no-op.
func (o *Outbox) Remove(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.items[id]; !ok {
		return nil
	}
	if err := o.store.Delete(ctx, id); err != nil {
		return oerrors.NewStorageError(oerrors.OpResolve, err)
	}
	delete(o.items, id)
	return nil
}

// eligibleLocked reports whether op may be submitted at the given instant.
// Caller holds at least the read lock.
func (o *Outbox) eligibleLocked(op *QueuedOperation, now time.Time) bool {
	if op.State != StateQueued {
		return false
	}
	if op.LastAttemptAt.IsZero() {
		return true
	}
	return now.Sub(op.LastAttemptAt) >= o.backoff.Delay(op.RetryCount)
}

// collectLocked copies matching operations in FIFO order. Caller holds a lock.
func (o *Outbox) collectLocked(match func(*QueuedOperation) bool) []QueuedOperation {
	out := make([]QueuedOperation, 0, len(o.items))
	for _, op := range o.items {
		if match(op) {
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}
