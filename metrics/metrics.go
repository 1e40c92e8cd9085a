// Package metrics defines the metrics collected by a promiseberry engine.
package metrics

import "time"

// Metrics is the interface for engine instrumentation. Implementations
// must be safe for concurrent use.
type Metrics interface {
	// PromiseCreated records a minted promise.
	PromiseCreated()

	// PromiseSettled records a terminal settlement with its status
	// ("resolved" or "rejected").
	PromiseSettled(status string)

	// SetPendingPromises sets the current number of unsettled promises.
	SetPendingPromises(n int)

	// CallbackExecuted records a continuation invocation and whether it
	// succeeded.
	CallbackExecuted(key string, ok bool)

	// HandleExecuted records a destination-side handle invocation.
	HandleExecuted(action string, ok bool)

	// DispatchDuration records the wall time of a full dispatch run.
	DispatchDuration(d time.Duration)

	// NestingDepth records the flattening depth observed when a nested
	// chain settles.
	NestingDepth(depth int)

	// ChildFanIn records the child count of a settling parent.
	ChildFanIn(n int)

	// TransportRejected records a relayed event that failed oracle
	// validation.
	TransportRejected()

	// ResolverTransferred records a resolver rights move.
	ResolverTransferred()
}
