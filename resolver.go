package outboxkit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	oerrors "github.com/c0deZ3R0/go-outbox-kit/errors"
	"github.com/c0deZ3R0/go-outbox-kit/logging"
)

// Effect describes what applying a resolution did.
type Effect struct {
	// AlreadyResolved is true when the operation was no longer awaiting
	// resolution, making the call a no-op.
	AlreadyResolved bool

	// Choice is the resolution that was applied.
	Choice Resolution

	// NewOperationID is set when the resolution re-enqueued a new
	// operation (KeepLocal, Merge). The new operation carries a new
	// idempotency key: it is logically a new intent.
	NewOperationID string
}

// Resolver applies explicit resolution choices to conflicted operations.
// Nothing here happens automatically; a suggested merge is only ever applied
// because someone chose Merge.
type Resolver struct {
	outbox  *Outbox
	metrics MetricsCollector
	logger  *logging.Logger
}

// NewResolver creates a resolver over the given outbox.
func NewResolver(outbox *Outbox, metrics MetricsCollector) (*Resolver, error) {
	if outbox == nil {
		return nil, oerrors.New(oerrors.OpResolve, fmt.Errorf("outbox cannot be nil"))
	}
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &Resolver{
		outbox:  outbox,
		metrics: metrics,
		logger:  logging.WithComponent("resolver"),
	}, nil
}

// Resolve applies the given choice to the conflicted operation. The state
// transition itself happens atomically inside the outbox, so of any number of
// concurrent or replayed calls exactly one takes effect; the rest report
// AlreadyResolved. Double-submission from a UI or a replayed command is
// therefore harmless.
//
// ResourceConstraint and VersionMismatch conflicts have no meaningful merge;
// only Retry and Discard are accepted for them.
func (r *Resolver) Resolve(ctx context.Context, operationID string, choice Resolution) (*Effect, error) {
	op, ok := r.outbox.Get(operationID)
	if !ok || op.State != StateAwaitingResolution || op.Conflict == nil {
		return &Effect{AlreadyResolved: true, Choice: choice}, nil
	}
	conflict := op.Conflict

	if conflict.Kind != DataConflict && choice != Retry && choice != Discard {
		return nil, oerrors.New(oerrors.OpResolve,
			fmt.Errorf("resolution %q is not available for %s conflicts", choice, conflict.Kind))
	}

	var payload json.RawMessage
	switch choice {
	case KeepLocal:
		payload = op.Payload
	case Merge:
		if conflict.SuggestedMerge == nil {
			return nil, oerrors.New(oerrors.OpResolve,
				fmt.Errorf("conflict for operation %s has no merge suggestion", operationID))
		}
		payload = conflict.SuggestedMerge
	case KeepServer, Retry, Discard:
	default:
		return nil, oerrors.New(oerrors.OpResolve, fmt.Errorf("unknown resolution %q", choice))
	}

	newID, resolved, err := r.outbox.ResolveConflict(ctx, operationID, choice, payload)
	if err != nil {
		return nil, err
	}
	if !resolved {
		// Someone else resolved it between the snapshot and the transition.
		return &Effect{AlreadyResolved: true, Choice: choice}, nil
	}

	r.metrics.RecordResolution(string(choice))
	r.logger.InfoContext(ctx, "conflict resolved",
		slog.String("id", operationID),
		slog.String("choice", string(choice)),
		slog.String("kind", string(conflict.Kind)),
	)
	return &Effect{Choice: choice, NewOperationID: newID}, nil
}
