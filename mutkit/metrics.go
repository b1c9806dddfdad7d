package mutkit

import "time"

// MetricsCollector provides hooks for collecting reconciliation metrics
type MetricsCollector interface {
	// RecordSubmit records a submitted operation by kind
	RecordSubmit(kind string)

	// RecordOutcome records a terminal outcome and its total reconciliation duration
	RecordOutcome(status string, duration time.Duration)

	// RecordRetry records a retry attempt by operation kind
	RecordRetry(kind string)

	// RecordConflict records a detected conflict
	RecordConflict()

	// RecordResolution records a conflict resolution by decision
	RecordResolution(decision string)

	// RecordDiscardedOutcome records a late executor outcome dropped because
	// the operation had already reached a terminal status
	RecordDiscardedOutcome()
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordSubmit(kind string)                           {}
func (n *NoOpMetricsCollector) RecordOutcome(status string, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordRetry(kind string)                            {}
func (n *NoOpMetricsCollector) RecordConflict()                                    {}
func (n *NoOpMetricsCollector) RecordResolution(decision string)                   {}
func (n *NoOpMetricsCollector) RecordDiscardedOutcome()                            {}
