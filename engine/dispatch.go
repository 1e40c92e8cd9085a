package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/blockberries/promiseberry/events"
	"github.com/blockberries/promiseberry/logging"
	"github.com/blockberries/promiseberry/registry"
	"github.com/blockberries/promiseberry/store"
	"github.com/blockberries/promiseberry/transport"
	"github.com/blockberries/promiseberry/types"
)

// Dispatch runs the callbacks registered against a settled promise, in
// registration order. A resolved promise invokes success keys, a rejected
// one error keys; a rejection with no error key flows straight into the
// chained promise. Callback failures are recorded and do not stop the
// remaining callbacks. After the run the callback list is cleared and a
// tombstone written, so a repeat dispatch is a no-op.
func (e *Engine) Dispatch(id types.PromiseID) error {
	if _, ok := e.dispatched.Get(id); ok {
		return nil
	}

	e.mu.Lock()

	reason, found, err := e.store.Tombstone(id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if found {
		e.mu.Unlock()
		if reason == store.TombstoneMoved {
			return types.WrapPromiseError(types.ErrResolverMoved, id)
		}
		e.dispatched.Add(id, struct{}{})
		return nil
	}

	p, err := e.store.GetPromise(id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !p.Status.Settled() {
		e.mu.Unlock()
		return types.WrapPromiseError(types.ErrStillPending, id)
	}

	cbs, err := e.store.Callbacks(id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	status, value := p.Status, p.Value
	e.mu.Unlock()

	start := time.Now()
	for _, cb := range cbs {
		if cb.Forward || cb.FillHandle {
			// Engine-internal links ran at settlement.
			continue
		}
		e.runCallback(cb, status, value)
	}

	e.mu.Lock()
	if err := e.store.ClearCallbacks(id); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := e.store.PutTombstone(id, store.TombstoneDispatched); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	e.dispatched.Add(id, struct{}{})
	e.metrics.DispatchDuration(time.Since(start))
	e.publish(events.NewEvent(events.TypePromiseDispatched, id, e.cfg.Origin).
		WithAttribute("callbacks", fmt.Sprintf("%d", len(cbs))))
	e.logger.Debug("promise dispatched",
		logging.Promise(id), logging.Count(len(cbs)), logging.Duration(time.Since(start)))

	e.drainDispatchQueue()
	return nil
}

// drainDispatchQueue dispatches promises whose deferred settlement
// completed during the last engine operation. Runs without the lock so
// Dispatch can take it.
func (e *Engine) drainDispatchQueue() {
	for {
		e.mu.Lock()
		if len(e.dispatchQueue) == 0 {
			e.mu.Unlock()
			return
		}
		id := e.dispatchQueue[0]
		e.dispatchQueue = e.dispatchQueue[1:]
		e.mu.Unlock()

		if err := e.Dispatch(id); err != nil {
			e.logger.Error("dispatching deferred settlement",
				logging.Promise(id), logging.Error(err))
		}
	}
}

// runCallback invokes a single continuation outside the engine lock so it
// can mint promises and call back into the engine.
func (e *Engine) runCallback(cb types.Callback, status types.Status, value []byte) {
	rejected := status == types.StatusRejected
	key := cb.SuccessKey
	if rejected {
		key = cb.ErrorKey
		if key == "" {
			// Unhandled rejection: the reason propagates into the chain.
			if cb.HasChained {
				e.rejectChained(cb.ChainedID, value)
			}
			return
		}
	}

	cont, err := e.registry.Lookup(key)
	if err != nil {
		e.callbackFailed(cb, key, err)
		return
	}

	if cb.HasChained {
		if err := e.beginContext(cb.ChainedID); err != nil {
			e.callbackFailed(cb, key, err)
			return
		}
	}

	cc := &registry.CallContext{
		Promise:  cb.ChainedID,
		Origin:   e.cfg.Origin,
		Rejected: rejected,
		Context:  cb.Context,
	}
	result, err := cont.Invoke(cc, value)

	if cb.HasChained {
		e.endContext(cb.ChainedID)
	}

	if err != nil {
		e.callbackFailed(cb, key, err)
		return
	}

	e.metrics.CallbackExecuted(key, true)
	if cb.HasChained {
		if err := e.completeChained(cb.ChainedID, result); err != nil {
			e.logger.Error("completing chained promise",
				logging.Chained(cb.ChainedID), logging.Error(err))
		}
	}
}

// callbackFailed records a failed continuation and rejects its chained
// promise so the failure is observable downstream.
func (e *Engine) callbackFailed(cb types.Callback, key string, cause error) {
	e.metrics.CallbackExecuted(key, false)
	e.logger.Warn("callback failed", logging.DispatchKey(key), logging.Error(cause))
	e.publish(events.NewEvent(events.TypeCallbackFailed, cb.ChainedID, e.cfg.Origin).
		WithAttribute("key", key).
		WithAttribute("error", cause.Error()))

	if cb.HasChained {
		reason := types.WrapDispatchError(fmt.Errorf("%w: %v", types.ErrCallbackFailed, cause), key)
		e.rejectChained(cb.ChainedID, []byte(reason.Error()))
	}
}

// completeChained applies a continuation's result to its chained promise.
// The chained promise is settled by the engine itself, not the original
// resolver, so no authorization check applies here.
func (e *Engine) completeChained(id types.PromiseID, result types.Result) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetPromise(id)
	if err != nil {
		return err
	}
	if p.Status.Settled() {
		return nil
	}
	if result.IsNested() {
		return e.setNested(p, result.Ref)
	}
	return e.settleOrDefer(p, types.StatusResolved, result.Value)
}

// rejectChained rejects a chained promise, ignoring promises that already
// settled or disappeared. A chained promise still blocked by children the
// continuation minted captures the reason and rejects at drain.
func (e *Engine) rejectChained(id types.PromiseID, reason []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetPromise(id)
	if err != nil || p.Status.Settled() {
		return
	}
	if err := e.settleOrDefer(p, types.StatusRejected, reason); err != nil {
		e.logger.Error("rejecting chained promise", logging.Chained(id), logging.Error(err))
	}
}

// HandleRelayedEvent ingests a settlement relayed from another origin. The
// payload must validate against the event-log oracle before anything is
// applied: a failed validation returns ErrTransportRejected with zero
// state change. A duplicate delivery of an already-applied settlement is a
// no-op.
func (e *Engine) HandleRelayedEvent(ev transport.RelayedEvent) error {
	if e.oracle == nil {
		e.metrics.TransportRejected()
		return fmt.Errorf("%w: no oracle configured", types.ErrTransportRejected)
	}
	if err := e.oracle.Validate(ev.Origin, ev.EventID, types.HashPayload(ev.Payload)); err != nil {
		e.metrics.TransportRejected()
		e.logger.Warn("relayed event rejected",
			logging.Origin(ev.Origin), logging.Error(err))
		return fmt.Errorf("%w: %v", types.ErrTransportRejected, err)
	}

	env, err := transport.DecodeEnvelope(ev.Payload)
	if err != nil || env.Kind != transport.KindSettlement {
		e.metrics.TransportRejected()
		return fmt.Errorf("%w: not a settlement envelope", types.ErrTransportRejected)
	}
	s, err := transport.DecodeSettlement(env.Body)
	if err != nil {
		e.metrics.TransportRejected()
		return fmt.Errorf("%w: %v", types.ErrTransportRejected, err)
	}

	status := types.Status(s.Status)
	if !status.Settled() {
		e.metrics.TransportRejected()
		return fmt.Errorf("%w: non-terminal status", types.ErrTransportRejected)
	}

	// The event identifier binds origin, promise, status and value. A
	// validated event with mismatched content is a forgery attempt.
	want := types.DeriveEventID(ev.Origin, s.Promise, status, s.Value)
	if want != ev.EventID || s.EventID != ev.EventID {
		e.metrics.TransportRejected()
		return fmt.Errorf("%w: event id does not bind payload", types.ErrTransportRejected)
	}

	e.mu.Lock()
	p, err := e.store.GetPromise(s.Promise)
	if errors.Is(err, types.ErrUnknownPromise) {
		p = &types.Promise{
			ID:             s.Promise,
			Status:         types.StatusPending,
			ResolverOrigin: ev.Origin,
		}
		e.pending++
	} else if err != nil {
		e.mu.Unlock()
		return err
	}
	if p.Status.Settled() {
		e.mu.Unlock()
		e.logger.Debug("duplicate relayed settlement ignored",
			logging.Promise(s.Promise), logging.Origin(ev.Origin))
		return nil
	}
	if p.Blocked() {
		// Blocked on local children: dispatch fires once the fan-in
		// drains.
		p.DispatchOnSettle = true
	}
	if err := e.settleOrDefer(p, status, s.Value); err != nil {
		e.mu.Unlock()
		return err
	}
	settled := p.Status.Settled()
	e.mu.Unlock()

	e.executeHandles(s.Promise, status, s.Value)

	// A validated arrival triggers dispatch; deferred settlements dispatch
	// when their fan-in drains.
	if settled {
		if err := e.Dispatch(s.Promise); err != nil {
			e.logger.Error("dispatching relayed settlement",
				logging.Promise(s.Promise), logging.Error(err))
		}
	}
	e.drainDispatchQueue()
	return nil
}

// RelaySettlement sends a settled promise's settlement to the trusted peer
// engine at dest. The matching event was recorded at settlement time, so
// the receiving oracle validates it.
func (e *Engine) RelaySettlement(id types.PromiseID, dest types.Origin) error {
	e.mu.Lock()
	if e.transport == nil {
		e.mu.Unlock()
		return fmt.Errorf("promise %s: no transport bound", id.Short())
	}
	tr := e.transport

	p, err := e.store.GetPromise(id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !p.Status.Settled() {
		e.mu.Unlock()
		return types.WrapPromiseError(types.ErrStillPending, id)
	}

	target, ok := e.cfg.TrustedPeers[dest]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("origin %s: %w", dest, types.ErrUntrustedSender)
	}

	eventID := types.DeriveEventID(e.cfg.Origin, id, p.Status, p.Value)
	payload, err := transport.EncodeSettlement(&transport.Settlement{
		Promise: id,
		Status:  uint8(p.Status), //nolint:gosec // status values are small constants
		Value:   p.Value,
		EventID: eventID,
	})
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := tr.Send(dest, target, payload); err != nil {
		return fmt.Errorf("relaying settlement: %w", err)
	}
	return nil
}

// RegisterHandle registers a destination-side continuation that runs here
// when the owning promise lands. Only the trusted peer engine of the
// claimed origin may register handles.
func (e *Engine) RegisterHandle(owner types.PromiseID, action string, ctx []byte, sender types.Principal, from types.Origin) error {
	if err := e.checkTrusted(sender, from); err != nil {
		return err
	}

	e.mu.Lock()
	hs, err := e.store.Handles(owner)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	hs = append(hs, types.Handle{
		Owner:             owner,
		DestinationOrigin: e.cfg.Origin,
		Action:            action,
		Context:           ctx,
	})
	if err := e.store.SetHandles(owner, hs); err != nil {
		e.mu.Unlock()
		return err
	}

	// If the owner already landed, the new handle runs right away.
	var landedStatus types.Status
	var landedValue []byte
	landed := false
	if p, err := e.store.GetPromise(owner); err == nil && p.Status.Settled() {
		landed = true
		landedStatus, landedValue = p.Status, p.Value
	}
	e.mu.Unlock()

	e.publish(events.NewEvent(events.TypeHandleRegistered, owner, e.cfg.Origin).
		WithAttribute("action", action).
		WithAttribute("from", string(from)))
	e.logger.Debug("handle registered",
		logging.Promise(owner), logging.Action(action), logging.Origin(from))

	if landed {
		e.executeHandles(owner, landedStatus, landedValue)
	}
	return nil
}

// executeHandles runs the uncompleted handles for a landed promise.
// Handle results are classified like any call return: a nested reference
// chains the handle's outcome, and the referenced promise's settlement
// supplies the return payload.
func (e *Engine) executeHandles(owner types.PromiseID, status types.Status, value []byte) {
	e.mu.Lock()
	hs, err := e.store.Handles(owner)
	e.mu.Unlock()
	if err != nil || len(hs) == 0 {
		return
	}

	type handleLink struct {
		idx int
		ref types.PromiseID
	}
	var links []handleLink
	changed := false
	for i := range hs {
		h := &hs[i]
		if h.Completed {
			continue
		}

		cont, err := e.registry.Lookup(h.Action)
		if err != nil {
			e.metrics.HandleExecuted(h.Action, false)
			e.logger.Warn("handle action not registered",
				logging.Promise(owner), logging.Action(h.Action))
			h.Completed = true
			changed = true
			continue
		}

		cc := &registry.CallContext{
			Promise:  owner,
			Origin:   e.cfg.Origin,
			Rejected: status == types.StatusRejected,
			Context:  h.Context,
		}
		result, err := cont.Invoke(cc, value)
		h.Completed = true
		changed = true

		if err != nil {
			e.metrics.HandleExecuted(h.Action, false)
			e.logger.Warn("handle failed",
				logging.Promise(owner), logging.Action(h.Action), logging.Error(err))
			e.publish(events.NewEvent(events.TypeCallbackFailed, owner, e.cfg.Origin).
				WithAttribute("key", h.Action).
				WithAttribute("error", err.Error()))
			continue
		}

		e.metrics.HandleExecuted(h.Action, true)
		if result.IsNested() {
			h.NestedRef = result.Ref
			h.HasNested = true
			links = append(links, handleLink{idx: i, ref: result.Ref})
		} else {
			h.ReturnData = result.Value
		}
	}

	if changed {
		e.mu.Lock()
		if err := e.store.SetHandles(owner, hs); err != nil {
			e.logger.Error("persisting handles", logging.Promise(owner), logging.Error(err))
		}
		e.mu.Unlock()
	}

	for _, l := range links {
		filled, done, err := e.chainHandle(owner, l.idx, l.ref)
		if err != nil {
			e.logger.Error("chaining handle result",
				logging.Promise(owner), logging.Nested(l.ref), logging.Error(err))
			continue
		}
		if done {
			e.mu.Lock()
			if err := e.fillHandle(owner, l.idx, filled); err != nil {
				e.logger.Error("filling handle return",
					logging.Promise(owner), logging.Error(err))
			}
			e.mu.Unlock()
		}
	}
}

// chainHandle links a handle's outcome to the promise reference its
// continuation returned. A settled reference supplies the return payload
// right away; otherwise a fill callback on the reference copies the value
// in when it settles.
func (e *Engine) chainHandle(owner types.PromiseID, idx int, ref types.PromiseID) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target, err := e.store.GetPromise(ref)
	if errors.Is(err, types.ErrUnknownPromise) {
		target = &types.Promise{
			ID:             ref,
			Status:         types.StatusPending,
			ResolverOrigin: e.cfg.Origin,
		}
		if err := e.store.PutPromise(target); err != nil {
			return nil, false, err
		}
		e.pending++
		e.metrics.PromiseCreated()
		e.metrics.SetPendingPromises(e.pending)
	} else if err != nil {
		return nil, false, err
	}

	if target.Status.Settled() {
		return target.Value, true, nil
	}

	cbs, err := e.store.Callbacks(ref)
	if err != nil {
		return nil, false, err
	}
	cbs = append(cbs, types.Callback{FillHandle: true, HandleOwner: owner, HandleIndex: idx})
	return nil, false, e.store.SetCallbacks(ref, cbs)
}
