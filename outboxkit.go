// Package outboxkit provides a durable offline outbox for state-changing
// operations. Operations enqueued while disconnected are persisted locally,
// submitted to an authoritative server in batches once connectivity returns,
// and reconciled through explicit conflict resolution. Stable idempotency
// keys guarantee at-most-once effective application despite retries.
package outboxkit

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// State describes where a queued operation is in its lifecycle.
type State string

const (
	// StateQueued means the operation is waiting for the next dispatch cycle.
	StateQueued State = "queued"

	// StateInFlight means the operation is part of an outstanding batch.
	StateInFlight State = "in_flight"

	// StateAwaitingResolution means the server reported divergence and the
	// operation is suspended until an explicit resolution is applied.
	StateAwaitingResolution State = "awaiting_resolution"

	// StateTerminal means the operation will never be resubmitted
	// automatically. It stays visible until removed or reset.
	StateTerminal State = "terminal"
)

// TerminalReason distinguishes why an operation became terminal, so operators
// can tell "the server rejected it" from "it never got through".
type TerminalReason string

const (
	TerminalNone             TerminalReason = ""
	TerminalRetriesExhausted TerminalReason = "retries_exhausted"
	TerminalPermanentError   TerminalReason = "permanent_error"
	TerminalDiscarded        TerminalReason = "discarded"
)

// QueuedOperation is one user-initiated, state-changing intent. The payload
// is opaque to the outbox; only the merge policy ever looks inside it.
type QueuedOperation struct {
	// ID is assigned at enqueue time and never changes.
	ID string `json:"id"`

	// Name tags which external handler the payload targets, e.g.
	// "adjustInventory". Opaque to the outbox.
	Name string `json:"name"`

	// Payload is arbitrary structured data for the handler.
	Payload json.RawMessage `json:"payload,omitempty"`

	// IdempotencyKey is derived once at enqueue time and never regenerated.
	// Retries of the same operation always submit the same key so the
	// server can deduplicate.
	IdempotencyKey string `json:"idempotency_key"`

	// EnqueuedAt defines FIFO submission order.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// RetryCount is incremented only on transient-failure outcomes.
	RetryCount int `json:"retry_count"`

	// LastAttemptAt is zero until the first submission attempt.
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`

	// LastError holds the most recent transient error message. Cleared on
	// success or manual reset.
	LastError string `json:"last_error,omitempty"`

	State          State          `json:"state"`
	TerminalReason TerminalReason `json:"terminal_reason,omitempty"`

	// Conflict is populated while the operation is awaiting resolution.
	Conflict *ConflictCase `json:"conflict,omitempty"`
}

// ConflictKind classifies the divergence reported by the server.
type ConflictKind string

const (
	// DataConflict means local and server state diverged on overlapping
	// fields. Both snapshots are present and a merge can be suggested.
	DataConflict ConflictKind = "data_conflict"

	// ResourceConstraint means the server could not satisfy the operation
	// (e.g. insufficient stock). No server snapshot is carried.
	ResourceConstraint ConflictKind = "resource_constraint"

	// VersionMismatch means the operation was built against a stale
	// version of the server record.
	VersionMismatch ConflictKind = "version_mismatch"
)

// ConflictCase carries everything needed to resolve a reported divergence.
type ConflictCase struct {
	OperationID       string          `json:"operation_id"`
	Kind              ConflictKind    `json:"kind"`
	LocalSnapshot     json.RawMessage `json:"local_snapshot,omitempty"`
	ServerSnapshot    json.RawMessage `json:"server_snapshot,omitempty"`
	ConstraintDetails string          `json:"constraint_details,omitempty"`

	// SuggestedMerge is computed for DataConflict when both snapshots are
	// present. Applying it is always an explicit resolution choice.
	SuggestedMerge json.RawMessage `json:"suggested_merge,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
}

// Resolution is the operator's (or policy's) decision for a conflict.
type Resolution string

const (
	KeepLocal  Resolution = "keep_local"
	KeepServer Resolution = "keep_server"
	Merge      Resolution = "merge"
	Retry      Resolution = "retry"
	Discard    Resolution = "discard"
)

// OutcomeKind is the per-item result category returned by the server.
type OutcomeKind string

const (
	// OutcomeSuccess means the operation was applied.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeDuplicate means the server recognized the idempotency key as
	// already applied. Treated identically to success.
	OutcomeDuplicate OutcomeKind = "duplicate"

	// OutcomeTransient means a network/server hiccup; the item is retried
	// with backoff.
	OutcomeTransient OutcomeKind = "transient"

	// OutcomeConflict means local and server state diverged; the item is
	// suspended pending explicit resolution.
	OutcomeConflict OutcomeKind = "conflict"

	// OutcomePermanent means the server will never accept the operation as
	// submitted; the item becomes terminal.
	OutcomePermanent OutcomeKind = "permanent"
)

// SubmitItem is one operation as handed to the transport.
type SubmitItem struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// ItemResult is the server's outcome for one submitted item.
type ItemResult struct {
	ID       string          `json:"id"`
	Outcome  OutcomeKind     `json:"outcome"`
	Error    string          `json:"error,omitempty"`
	Conflict *ConflictCase   `json:"conflict,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Transport submits batches to the authoritative server. The outbox kit
// depends on this contract and never implements the wire protocol itself.
// Implementations can use HTTP, gRPC, message queues, etc.
type Transport interface {
	// SubmitBatch submits all items in one request. The returned result
	// ids must be a subset of the submitted ids; an absent id is treated
	// as a transient failure. A non-nil error means the whole submission
	// failed and every item is treated as transient.
	SubmitBatch(ctx context.Context, items []SubmitItem) ([]ItemResult, error)

	// Close releases transport resources.
	Close() error
}

// Store is the durable persistence layer for queued operations. A Put that
// returns nil must survive an immediate process restart.
type Store interface {
	Get(ctx context.Context, id string) (*QueuedOperation, error)
	Put(ctx context.Context, op *QueuedOperation) error
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*QueuedOperation, error)
	Close() error
}

// ErrNotFound is returned by Store.Get when no operation has the given id.
var ErrNotFound = errors.New("operation not found")
