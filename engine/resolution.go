package engine

import (
	"errors"

	"github.com/blockberries/promiseberry/events"
	"github.com/blockberries/promiseberry/logging"
	"github.com/blockberries/promiseberry/store"
	"github.com/blockberries/promiseberry/transport"
	"github.com/blockberries/promiseberry/types"
)

// Resolve settles a promise successfully. Authorization and monotonicity
// are checked before any state changes: an unauthorized or late call
// leaves the promise untouched. When the promise is blocked on children,
// the value is captured and terminal settlement happens once the fan-in
// counter drains.
func (e *Engine) Resolve(id types.PromiseID, caller types.Principal, value []byte) error {
	e.mu.Lock()
	p, err := e.loadForSettlement(id, caller)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	err = e.settleOrDefer(p, types.StatusResolved, value)
	e.mu.Unlock()

	e.drainDispatchQueue()
	return err
}

// Reject settles a promise with a failure reason. Like Resolve, a rejection
// against a promise blocked on children captures the reason and settles
// terminally once the fan-in counter drains.
func (e *Engine) Reject(id types.PromiseID, caller types.Principal, reason []byte) error {
	e.mu.Lock()
	p, err := e.loadForSettlement(id, caller)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	err = e.settleOrDefer(p, types.StatusRejected, reason)
	e.mu.Unlock()

	e.drainDispatchQueue()
	return err
}

// CompleteCall reports the return payload of the promise's own call. A
// terminal result settles (or defers on children); a nested result chains
// the promise to the referenced target, whose eventual settlement supplies
// the final value.
func (e *Engine) CompleteCall(id types.PromiseID, caller types.Principal, result types.Result) error {
	e.mu.Lock()
	p, err := e.loadForSettlement(id, caller)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if result.IsNested() {
		err = e.setNested(p, result.Ref)
	} else {
		err = e.settleOrDefer(p, types.StatusResolved, result.Value)
	}
	e.mu.Unlock()

	e.drainDispatchQueue()
	return err
}

// loadForSettlement loads a promise and runs every settlement precondition
// before any mutation. Lock held.
func (e *Engine) loadForSettlement(id types.PromiseID, caller types.Principal) (*types.Promise, error) {
	reason, found, err := e.store.Tombstone(id)
	if err != nil {
		return nil, err
	}
	if found {
		if reason == store.TombstoneMoved {
			return nil, types.WrapPromiseError(types.ErrResolverMoved, id)
		}
		return nil, types.WrapPromiseError(types.ErrAlreadySettled, id)
	}

	p, err := e.store.GetPromise(id)
	if err != nil {
		return nil, err
	}
	if p.Status.Settled() || p.CallCompleted {
		return nil, types.WrapPromiseError(types.ErrAlreadySettled, id)
	}
	if p.Resolver != caller {
		return nil, types.WrapPromiseError(types.ErrNotAuthorized, id)
	}
	return p, nil
}

// settleOrDefer applies a settlement, deferring while the promise is
// blocked on children or a nested target. The captured outcome, rejection
// included, is applied once the fan-in counter drains. Lock held.
func (e *Engine) settleOrDefer(p *types.Promise, status types.Status, value []byte) error {
	if p.Blocked() {
		p.CallCompleted = true
		p.CallValue = value
		p.CallRejected = status == types.StatusRejected
		p.ResolutionBlocked = true
		e.logger.Debug("settlement deferred",
			logging.Promise(p.ID), logging.Status(status), logging.Children(p.UnresolvedChildren))
		return e.store.PutPromise(p)
	}
	return e.settleTerminal(p, status, value)
}

// settleTerminal writes the terminal state, records the settlement event,
// flattens waiting outer promises and notifies the parent. The status
// write is the single monotonic transition; nothing here can run twice for
// the same promise. Lock held.
func (e *Engine) settleTerminal(p *types.Promise, status types.Status, value []byte) error {
	p.Status = status
	p.Value = value
	p.ResolutionBlocked = false
	p.HasNested = false
	if err := e.store.PutPromise(p); err != nil {
		return err
	}
	if p.DispatchOnSettle {
		e.dispatchQueue = append(e.dispatchQueue, p.ID)
	}

	e.pending--
	e.metrics.PromiseSettled(status.String())
	e.metrics.SetPendingPromises(e.pending)

	eventType := events.TypePromiseResolved
	if status == types.StatusRejected {
		eventType = events.TypePromiseRejected
	}
	e.publish(events.NewEvent(eventType, p.ID, e.cfg.Origin))
	e.logger.Info("promise settled", logging.Promise(p.ID), logging.Status(status))

	e.recordSettlement(p.ID, status, value)

	// Outer promises and chained handles waiting on this one adopt the
	// value now.
	cbs, err := e.store.Callbacks(p.ID)
	if err != nil {
		return err
	}
	remaining := make([]types.Callback, 0, len(cbs))
	for _, cb := range cbs {
		switch {
		case cb.Forward:
			if err := e.adoptValue(cb.ForwardTo, status, value); err != nil {
				return err
			}
		case cb.FillHandle:
			if err := e.fillHandle(cb.HandleOwner, cb.HandleIndex, value); err != nil {
				return err
			}
		default:
			remaining = append(remaining, cb)
		}
	}
	if len(remaining) != len(cbs) {
		if err := e.store.SetCallbacks(p.ID, remaining); err != nil {
			return err
		}
	}

	if p.HasParent && !p.ParentNotified {
		p.ParentNotified = true
		if err := e.store.PutPromise(p); err != nil {
			return err
		}
		return e.childSettled(p.Parent, p.ID, status, value)
	}
	return nil
}

// recordSettlement appends the settlement event to the origin log so
// remote oracles can validate the relayed payload.
func (e *Engine) recordSettlement(id types.PromiseID, status types.Status, value []byte) {
	if e.recorder == nil {
		return
	}
	eventID := types.DeriveEventID(e.cfg.Origin, id, status, value)
	payload, err := transport.EncodeSettlement(&transport.Settlement{
		Promise: id,
		Status:  uint8(status), //nolint:gosec // status values are small constants
		Value:   value,
		EventID: eventID,
	})
	if err != nil {
		e.logger.Error("encoding settlement event", logging.Promise(id), logging.Error(err))
		return
	}
	if err := e.recorder.Record(e.cfg.Origin, eventID, types.HashPayload(payload)); err != nil {
		e.logger.Error("recording settlement event", logging.Promise(id), logging.Error(err))
	}
}

// childSettled counts a settled child against its parent's fan-in state.
// Counting is exactly-once: the child's ParentNotified flag guards the
// notification and a drained counter refuses further counts. Lock held.
func (e *Engine) childSettled(parentID, childID types.PromiseID, status types.Status, value []byte) error {
	parent, err := e.store.GetPromise(parentID)
	if err != nil {
		if errors.Is(err, types.ErrUnknownPromise) {
			e.logger.Debug("parent gone, child settlement dropped",
				logging.Promise(childID))
			return nil
		}
		return err
	}

	if parent.UnresolvedChildren <= 0 {
		return types.WrapPromiseError(types.ErrChildAlreadyCounted, childID)
	}

	idx := -1
	for i, c := range parent.Children {
		if c == childID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return types.WrapPromiseError(types.ErrChildAlreadyCounted, childID)
	}

	if len(parent.ChildValues) < len(parent.Children) {
		grown := make([][]byte, len(parent.Children))
		copy(grown, parent.ChildValues)
		parent.ChildValues = grown
	}
	parent.ChildValues[idx] = value
	parent.UnresolvedChildren--

	if status == types.StatusRejected && !parent.ChildRejected {
		parent.ChildRejected = true
		parent.RejectionReason = value
		// First failure wins: an aggregate rejects without waiting for
		// the remaining members.
		if parent.Aggregate && !parent.Status.Settled() {
			return e.settleTerminal(parent, types.StatusRejected, value)
		}
	}

	if err := e.store.PutPromise(parent); err != nil {
		return err
	}

	if parent.UnresolvedChildren == 0 && !parent.Status.Settled() {
		return e.completeParent(parent)
	}
	return nil
}

// completeParent finishes a parent whose fan-in counter drained. A
// rejection captured from the parent's own call takes precedence over a
// member rejection. Lock held.
func (e *Engine) completeParent(p *types.Promise) error {
	if p.CallRejected {
		return e.settleTerminal(p, types.StatusRejected, p.CallValue)
	}
	if p.ChildRejected {
		return e.settleTerminal(p, types.StatusRejected, p.RejectionReason)
	}
	if p.Aggregate {
		e.metrics.ChildFanIn(len(p.Children))
		return e.settleTerminal(p, types.StatusResolved, types.EncodeValueList(p.ChildValues))
	}
	if p.HasNested {
		// Still waiting on the nested target.
		return e.store.PutPromise(p)
	}
	if p.CallCompleted {
		return e.settleTerminal(p, types.StatusResolved, p.CallValue)
	}
	p.ResolutionBlocked = false
	return e.store.PutPromise(p)
}

// setNested chains a promise to the referenced target. The target's
// settlement value is adopted as this promise's final value; chains
// flatten transitively. The existing chain is walked at link time: a
// reference that would close a cycle, or grow the chain past the
// configured depth bound, force-rejects the waiting promise instead of
// leaving it permanently blocked. Lock held.
func (e *Engine) setNested(p *types.Promise, ref types.PromiseID) error {
	chain, downLinks, cyclic, err := e.nestedChain(p.ID, ref)
	if err != nil {
		return err
	}

	length := p.NestDepth + 1 + downLinks
	e.metrics.NestingDepth(length)

	if cyclic {
		e.logger.Warn("nested reference closes a cycle",
			logging.Promise(p.ID), logging.Nested(ref))
		return e.settleOrDefer(p, types.StatusRejected, []byte(types.ErrMaxDepthExceeded.Error()))
	}
	if length > e.cfg.MaxNestingDepth {
		e.logger.Warn("nested chain too deep",
			logging.Promise(p.ID), logging.Nested(ref), logging.Depth(length))
		return e.settleOrDefer(p, types.StatusRejected, []byte(types.ErrMaxDepthExceeded.Error()))
	}

	var target *types.Promise
	if len(chain) == 0 {
		// Reference to a promise this engine has not seen, typically one
		// settling via a relayed event later. Hold a pending stub.
		target = &types.Promise{
			ID:             ref,
			Status:         types.StatusPending,
			ResolverOrigin: e.cfg.Origin,
			NestDepth:      p.NestDepth + 1,
		}
		if err := e.store.PutPromise(target); err != nil {
			return err
		}
		e.pending++
		e.metrics.PromiseCreated()
		e.metrics.SetPendingPromises(e.pending)
	} else {
		target = chain[0]
		// Depth propagates down the whole chain so a later link anywhere
		// in it sees the true distance from the chain head.
		depth := p.NestDepth
		for _, n := range chain {
			depth++
			if n.NestDepth >= depth {
				depth = n.NestDepth
				continue
			}
			n.NestDepth = depth
			if err := e.store.PutPromise(n); err != nil {
				return err
			}
		}
	}

	if target.Status.Settled() {
		e.logger.Debug("nested target already settled, flattening",
			logging.Promise(p.ID), logging.Nested(ref))
		return e.settleOrDefer(p, target.Status, target.Value)
	}

	cbs, err := e.store.Callbacks(ref)
	if err != nil {
		return err
	}
	cbs = append(cbs, types.Callback{Forward: true, ForwardTo: p.ID})
	if err := e.store.SetCallbacks(ref, cbs); err != nil {
		return err
	}

	p.HasNested = true
	p.NestedTarget = ref
	p.CallCompleted = true
	p.ResolutionBlocked = true
	e.logger.Debug("promise chained to nested target",
		logging.Promise(p.ID), logging.Nested(ref), logging.Depth(length))
	return e.store.PutPromise(p)
}

// nestedChain walks the forward links starting at ref, returning the
// loaded chain nodes and the number of links between them. cyclic reports
// that the walk reached self, meaning the link about to be added would
// close a cycle. The walk stops at the first settled, unknown or link-free
// node. Lock held.
func (e *Engine) nestedChain(self, ref types.PromiseID) ([]*types.Promise, int, bool, error) {
	var (
		chain []*types.Promise
		links int
	)
	seen := make(map[types.PromiseID]struct{})
	cur := ref
	for {
		if cur == self {
			return chain, links, true, nil
		}
		if _, ok := seen[cur]; ok {
			return chain, links, true, nil
		}
		seen[cur] = struct{}{}

		n, err := e.store.GetPromise(cur)
		if errors.Is(err, types.ErrUnknownPromise) {
			return chain, links, false, nil
		}
		if err != nil {
			return nil, 0, false, err
		}
		chain = append(chain, n)
		if n.Status.Settled() || !n.HasNested {
			return chain, links, false, nil
		}
		links++
		cur = n.NestedTarget
	}
}

// fillHandle copies a settled value into the handle return slot waiting on
// it. Lock held.
func (e *Engine) fillHandle(owner types.PromiseID, idx int, value []byte) error {
	hs, err := e.store.Handles(owner)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(hs) {
		return nil
	}
	hs[idx].ReturnData = value
	e.logger.Debug("handle return filled from chained promise",
		logging.Promise(owner), logging.Nested(hs[idx].NestedRef))
	return e.store.SetHandles(owner, hs)
}

// adoptValue settles an outer promise with the value of its settled nested
// target. Lock held.
func (e *Engine) adoptValue(outerID types.PromiseID, status types.Status, value []byte) error {
	outer, err := e.store.GetPromise(outerID)
	if err != nil {
		if errors.Is(err, types.ErrUnknownPromise) {
			return nil
		}
		return err
	}
	if outer.Status.Settled() {
		return nil
	}
	outer.HasNested = false
	outer.NestedTarget = types.ZeroPromiseID
	return e.settleOrDefer(outer, status, value)
}
