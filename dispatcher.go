package outboxkit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	oerrors "github.com/c0deZ3R0/go-outbox-kit/errors"
	"github.com/c0deZ3R0/go-outbox-kit/logging"
)

// DispatchReport summarizes one dispatch cycle.
type DispatchReport struct {
	// Skipped is true when the cycle did not run because another cycle was
	// already in flight.
	Skipped bool

	// Offline is true when the cycle aborted because the monitor reported
	// no connectivity.
	Offline bool

	// Attempted is the number of operations submitted in the batch.
	Attempted int

	// Succeeded counts success outcomes, including duplicates the server
	// collapsed via the idempotency key.
	Succeeded int

	// Duplicates counts the subset of Succeeded the server reported as
	// already applied.
	Duplicates int

	TransientFailures int
	Conflicts         int
	PermanentFailures int

	// Errors contains non-fatal errors encountered while applying outcomes.
	Errors []error

	StartTime time.Time
	Duration  time.Duration
}

// Dispatcher orchestrates batched submission of eligible operations. At most
// one dispatch cycle executes at a time; concurrent calls are no-ops.
type Dispatcher struct {
	outbox    *Outbox
	transport Transport
	monitor   Monitor
	metrics   MetricsCollector
	logger    *logging.Logger

	batchLimit int
	timeout    time.Duration

	inFlight atomic.Bool

	mu            sync.Mutex
	autoStop      chan struct{}
	monitorCancel func()
	subscribers   []func(*DispatchReport)
	closed        bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMonitor gates dispatch attempts on a connectivity monitor. Without one
// the dispatcher assumes it is always online.
func WithMonitor(m Monitor) DispatcherOption {
	return func(d *Dispatcher) { d.monitor = m }
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = mc }
}

// WithBatchLimit caps how many operations one cycle submits. Eligible items
// beyond the limit stay queued for the next cycle. 0 means no limit.
func WithBatchLimit(n int) DispatcherOption {
	return func(d *Dispatcher) { d.batchLimit = n }
}

// WithDispatchTimeout bounds each auto-dispatch cycle.
func WithDispatchTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// NewDispatcher creates a dispatcher over the given outbox and transport.
func NewDispatcher(outbox *Outbox, transport Transport, opts ...DispatcherOption) (*Dispatcher, error) {
	if outbox == nil {
		return nil, oerrors.New(oerrors.OpDispatch, fmt.Errorf("outbox cannot be nil"))
	}
	if transport == nil {
		return nil, oerrors.New(oerrors.OpDispatch, fmt.Errorf("transport cannot be nil"))
	}

	d := &Dispatcher{
		outbox:    outbox,
		transport: transport,
		metrics:   &NoOpMetricsCollector{},
		logger:    logging.WithComponent("dispatcher"),
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = &NoOpMetricsCollector{}
	}
	return d, nil
}

// Dispatch runs one dispatch cycle: claim all eligible operations, submit
// them as one batch, and apply the per-item outcomes. If a cycle is already
// running the call returns an empty report with Skipped set rather than
// queuing a second cycle.
//
// One item's failure never aborts the rest of the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time) (*DispatchReport, error) {
	report := &DispatchReport{StartTime: now}

	if !d.inFlight.CompareAndSwap(false, true) {
		report.Skipped = true
		return report, nil
	}
	defer d.inFlight.Store(false)

	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		d.metrics.RecordDispatchDuration(report.Duration)
		d.notifySubscribers(report)
	}()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return report, oerrors.New(oerrors.OpDispatch, fmt.Errorf("dispatcher is closed"))
	}
	d.mu.Unlock()

	if d.monitor != nil && !d.monitor.IsOnline() {
		report.Offline = true
		return report, nil
	}

	claimed, err := d.outbox.ClaimEligible(ctx, now, d.batchLimit)
	if err != nil {
		d.metrics.RecordDispatchErrors("claim_failure")
		return report, err
	}
	if len(claimed) == 0 {
		return report, nil
	}
	report.Attempted = len(claimed)

	items := make([]SubmitItem, len(claimed))
	for i, op := range claimed {
		items[i] = SubmitItem{
			ID:             op.ID,
			Name:           op.Name,
			Payload:        op.Payload,
			IdempotencyKey: op.IdempotencyKey,
		}
	}

	d.logger.InfoContext(ctx, "submitting batch", slog.Int("items", len(items)))

	results, submitErr := d.transport.SubmitBatch(ctx, items)
	if submitErr != nil {
		// The whole submission failed: every claimed item is a transient
		// failure and retries later with backoff.
		d.metrics.RecordDispatchErrors("submit_failure")
		d.logger.WarnContext(ctx, "batch submission failed",
			slog.Int("items", len(items)),
			slog.String("error", submitErr.Error()),
		)
		for _, op := range claimed {
			if err := d.outbox.MarkFailed(ctx, op.ID, submitErr.Error()); err != nil {
				report.Errors = append(report.Errors, err)
			}
			report.TransientFailures++
		}
		return report, nil
	}

	byID := make(map[string]ItemResult, len(results))
	for _, res := range results {
		byID[res.ID] = res
	}

	for _, op := range claimed {
		res, ok := byID[op.ID]
		if !ok {
			// Absent from the response: ambiguous, treat as transient.
			// The idempotency key keeps the retry safe.
			res = ItemResult{
				ID:      op.ID,
				Outcome: OutcomeTransient,
				Error:   "no result returned for operation",
			}
		}
		if err := d.applyOutcome(ctx, op, res, report); err != nil {
			report.Errors = append(report.Errors, err)
		}
	}

	d.metrics.RecordOutcomes(report.Succeeded, report.TransientFailures, report.Conflicts, report.PermanentFailures)
	return report, nil
}

func (d *Dispatcher) applyOutcome(ctx context.Context, op QueuedOperation, res ItemResult, report *DispatchReport) error {
	switch res.Outcome {
	case OutcomeSuccess:
		report.Succeeded++
		return d.outbox.MarkSucceeded(ctx, []string{op.ID})

	case OutcomeDuplicate:
		// The server already applied this idempotency key; replaying after
		// a crash mid-flight never double-applies.
		report.Succeeded++
		report.Duplicates++
		return d.outbox.MarkSucceeded(ctx, []string{op.ID})

	case OutcomeTransient:
		report.TransientFailures++
		return d.outbox.MarkFailed(ctx, op.ID, res.Error)

	case OutcomeConflict:
		report.Conflicts++
		conflict := ConflictCase{Kind: DataConflict}
		if res.Conflict != nil {
			conflict = *res.Conflict
		}
		return d.outbox.MarkConflict(ctx, op.ID, conflict)

	case OutcomePermanent:
		report.PermanentFailures++
		d.logger.WarnContext(ctx, "permanent rejection",
			slog.String("id", op.ID),
			slog.String("error", res.Error),
		)
		return d.outbox.MarkTerminal(ctx, op.ID, TerminalPermanentError, res.Error)

	default:
		// An unknown outcome is ambiguous; retry with backoff.
		report.TransientFailures++
		return d.outbox.MarkFailed(ctx, op.ID, fmt.Sprintf("unknown outcome %q", res.Outcome))
	}
}

// StartAutoDispatch begins timer-driven dispatching at the given interval. If
// the dispatcher has a monitor, an offline-to-online transition also triggers
// a cycle immediately.
func (d *Dispatcher) StartAutoDispatch(ctx context.Context, interval time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return oerrors.New(oerrors.OpDispatch, fmt.Errorf("dispatcher is closed"))
	}
	if interval <= 0 {
		return oerrors.New(oerrors.OpDispatch, fmt.Errorf("dispatch interval must be positive"))
	}
	if d.autoStop != nil {
		return oerrors.New(oerrors.OpDispatch, fmt.Errorf("auto dispatch is already running"))
	}

	stop := make(chan struct{})
	d.autoStop = stop

	if d.monitor != nil {
		d.monitorCancel = d.monitor.Subscribe(func(online bool) {
			if !online {
				return
			}
			select {
			case <-stop:
				return
			default:
			}
			go d.runCycle(ctx)
		})
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				d.runCycle(ctx)
			}
		}
	}()

	return nil
}

func (d *Dispatcher) runCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if _, err := d.Dispatch(cycleCtx, time.Now()); err != nil {
		d.logger.LogError(cycleCtx, err, "dispatch cycle failed")
	}
}

// StopAutoDispatch stops timer- and connectivity-driven dispatching. An
// in-flight submission is not aborted; the next cycle re-evaluates state and
// the idempotency keys prevent duplicate work.
func (d *Dispatcher) StopAutoDispatch() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.autoStop == nil {
		return oerrors.New(oerrors.OpDispatch, fmt.Errorf("auto dispatch is not running"))
	}

	close(d.autoStop)
	d.autoStop = nil
	if d.monitorCancel != nil {
		d.monitorCancel()
		d.monitorCancel = nil
	}
	return nil
}

// Subscribe registers a handler invoked after every completed dispatch cycle.
func (d *Dispatcher) Subscribe(handler func(*DispatchReport)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return oerrors.New(oerrors.OpDispatch, fmt.Errorf("dispatcher is closed"))
	}
	d.subscribers = append(d.subscribers, handler)
	return nil
}

// Close shuts down the dispatcher and its transport.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.autoStop != nil {
		close(d.autoStop)
		d.autoStop = nil
	}
	if d.monitorCancel != nil {
		d.monitorCancel()
		d.monitorCancel = nil
	}

	if err := d.transport.Close(); err != nil {
		return oerrors.NewWithComponent(oerrors.OpClose, "transport", err)
	}
	return nil
}

func (d *Dispatcher) notifySubscribers(report *DispatchReport) {
	d.mu.Lock()
	subscribers := make([]func(*DispatchReport), len(d.subscribers))
	copy(subscribers, d.subscribers)
	d.mu.Unlock()

	for _, handler := range subscribers {
		go func(h func(*DispatchReport)) {
			defer func() {
				_ = recover() // a panicking subscriber must not take down dispatch
			}()
			h(report)
		}(handler)
	}
}
