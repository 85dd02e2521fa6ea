package entitlement

import "time"

// Metrics defines the interface for tracking entitlement operations.
type Metrics interface {
	// RecordGateDecision records one gate evaluation.
	// outcome is "allow" or the deny reason ("expired", "insufficient_quota").
	RecordGateDecision(operation, plan, outcome string)

	// RecordUsage records credits consumed by a gated operation.
	RecordUsage(operation string, cost int, success bool)

	// RecordStoreOperation records the latency and outcome of a store call.
	RecordStoreOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordGateDecision(_, _, _ string)                   {}
func (n *NoopMetrics) RecordUsage(_ string, _ int, _ bool)                 {}
func (n *NoopMetrics) RecordStoreOperation(_ string, _ time.Duration, _ error) {}
