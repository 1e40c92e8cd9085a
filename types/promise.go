package types

// Promise is the authoritative stored state of a single promise. All links
// to other promises are plain identifier values, never embedded pointers.
type Promise struct {
	// ID is the content-derived identifier.
	ID PromiseID

	// Status is the lifecycle state. Monotonic.
	Status Status

	// Value is the opaque settled payload: the success payload when
	// resolved, the rejection reason when rejected.
	Value []byte

	// Resolver is the principal authorized to settle the promise.
	Resolver Principal

	// ResolverOrigin is the origin the resolver acts from.
	ResolverOrigin Origin

	// Parent is a weak back-reference to the promise that tracked this one
	// as a child. Used only for fan-in notification.
	Parent PromiseID

	// HasParent indicates whether Parent is set.
	HasParent bool

	// ParentNotified guards double-notification of the parent when this
	// promise settles.
	ParentNotified bool

	// Children lists the promises created while this promise's handler was
	// executing, in creation order.
	Children []PromiseID

	// UnresolvedChildren is the fan-in counter. The promise cannot settle
	// terminally while it is positive.
	UnresolvedChildren int

	// ChildValues collects settled child payloads, aligned with Children.
	ChildValues [][]byte

	// ChildRejected is set once any child rejects.
	ChildRejected bool

	// RejectionReason retains the first-observed child rejection reason.
	RejectionReason []byte

	// NestedTarget points to the promise whose settlement supplies this
	// promise's final value, when the call returned a nested reference.
	NestedTarget PromiseID

	// HasNested indicates whether NestedTarget is live.
	HasNested bool

	// NestDepth is the flattening depth of this promise within a nested
	// chain, zero for chain roots.
	NestDepth int

	// CallCompleted indicates the promise's own call has produced its
	// return payload. A blocked promise with CallCompleted settles as soon
	// as its children and nested target allow.
	CallCompleted bool

	// CallValue is the captured return payload awaiting fan-in completion.
	CallValue []byte

	// CallRejected marks the captured outcome as a rejection. The terminal
	// transition still waits for the fan-in counter to drain.
	CallRejected bool

	// ResolutionBlocked is set while settlement is deferred on children or
	// a nested target.
	ResolutionBlocked bool

	// DispatchOnSettle requests a callback dispatch as soon as the deferred
	// settlement completes. Set when a relayed settlement lands on a
	// promise still blocked by local children.
	DispatchOnSettle bool

	// Aggregate marks promises allocated by All. Their settled value is
	// the ordered encoding of the member values.
	Aggregate bool

	// Nonce is the transport nonce the identifier was derived from.
	Nonce uint64
}

// Blocked reports whether terminal settlement must be deferred.
func (p *Promise) Blocked() bool {
	return p.UnresolvedChildren > 0 || p.HasNested
}

// Callback is an origin-side continuation registered against a promise.
// Dispatch order is registration order.
type Callback struct {
	// SuccessKey is the dispatch key invoked when the promise resolves.
	SuccessKey string

	// ErrorKey is the dispatch key invoked when the promise rejects.
	// Empty means the rejection reason only flows into the chained promise.
	ErrorKey string

	// Context is an opaque blob handed to the continuation on invocation.
	Context []byte

	// ChainedID is the promise representing the continuation's own result.
	ChainedID PromiseID

	// HasChained indicates whether ChainedID is set.
	HasChained bool

	// Forward marks an engine-internal flattening callback: on settlement
	// the value is adopted by ForwardTo instead of invoking a registered
	// continuation.
	Forward bool

	// ForwardTo is the outer promise adopting the settled value.
	ForwardTo PromiseID

	// FillHandle marks an engine-internal callback that copies the settled
	// value into a waiting handle's return slot.
	FillHandle bool

	// HandleOwner and HandleIndex locate the waiting handle.
	HandleOwner PromiseID
	HandleIndex int
}

// Handle is a destination-side continuation descriptor: it runs on the
// chain where the original message landed, after it lands, as opposed to a
// callback which runs back on the origin.
type Handle struct {
	// Owner is the promise whose landing triggers the handle.
	Owner PromiseID

	// DestinationOrigin is the origin the handle executes on.
	DestinationOrigin Origin

	// Action is the dispatch key of the continuation to run.
	Action string

	// Context is an opaque blob handed to the continuation.
	Context []byte

	// Completed is set once the handle has executed.
	Completed bool

	// ReturnData is the handle's captured return payload.
	ReturnData []byte

	// NestedRef is set when the handle's return payload was itself a
	// promise reference, chaining the handle's outcome.
	NestedRef PromiseID

	// HasNested indicates whether NestedRef is set.
	HasNested bool
}
