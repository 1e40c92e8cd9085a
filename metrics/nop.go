package metrics

import "time"

// NopMetrics is a Metrics implementation that discards all measurements.
type NopMetrics struct{}

// NewNopMetrics creates a no-op metrics collector.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// PromiseCreated implements Metrics.
func (*NopMetrics) PromiseCreated() {}

// PromiseSettled implements Metrics.
func (*NopMetrics) PromiseSettled(string) {}

// SetPendingPromises implements Metrics.
func (*NopMetrics) SetPendingPromises(int) {}

// CallbackExecuted implements Metrics.
func (*NopMetrics) CallbackExecuted(string, bool) {}

// HandleExecuted implements Metrics.
func (*NopMetrics) HandleExecuted(string, bool) {}

// DispatchDuration implements Metrics.
func (*NopMetrics) DispatchDuration(time.Duration) {}

// NestingDepth implements Metrics.
func (*NopMetrics) NestingDepth(int) {}

// ChildFanIn implements Metrics.
func (*NopMetrics) ChildFanIn(int) {}

// TransportRejected implements Metrics.
func (*NopMetrics) TransportRejected() {}

// ResolverTransferred implements Metrics.
func (*NopMetrics) ResolverTransferred() {}

// Ensure NopMetrics implements Metrics.
var _ Metrics = (*NopMetrics)(nil)
