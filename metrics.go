package outboxkit

import "time"

// MetricsCollector provides hooks for observability.
type MetricsCollector interface {
	// RecordDispatchDuration records how long a dispatch cycle took
	RecordDispatchDuration(d time.Duration)

	// RecordOutcomes records per-item outcome counts for one batch
	RecordOutcomes(succeeded, transient, conflicts, permanent int)

	// RecordDispatchErrors records dispatch-level errors
	RecordDispatchErrors(reason string)

	// RecordResolution records an applied conflict resolution
	RecordResolution(choice string)
}

// NoOpMetricsCollector is a stub implementation that discards metrics.
type NoOpMetricsCollector struct{}

func (*NoOpMetricsCollector) RecordDispatchDuration(d time.Duration) {}

func (*NoOpMetricsCollector) RecordOutcomes(succeeded, transient, conflicts, permanent int) {}

func (*NoOpMetricsCollector) RecordDispatchErrors(reason string) {}

func (*NoOpMetricsCollector) RecordResolution(choice string) {}
