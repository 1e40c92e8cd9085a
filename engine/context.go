package engine

import (
	"github.com/blockberries/promiseberry/types"
)

// The execution context is a single slot: at most one promise is "the
// executing promise" at a time, and promises minted while the slot is
// occupied become its children. A second entry attempt fails fast instead
// of queueing, so reentrancy bugs surface immediately.

// beginContext occupies the execution slot for the given promise.
func (e *Engine) beginContext(id types.PromiseID) error {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	if e.exec != nil {
		return types.WrapPromiseError(types.ErrContextBusy, *e.exec)
	}
	e.exec = &id
	return nil
}

// endContext releases the execution slot. Releasing for a promise that
// does not hold the slot is a no-op.
func (e *Engine) endContext(id types.PromiseID) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	if e.exec != nil && *e.exec == id {
		e.exec = nil
	}
}

// currentContext returns the executing promise, if any.
func (e *Engine) currentContext() (types.PromiseID, bool) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	if e.exec == nil {
		return types.ZeroPromiseID, false
	}
	return *e.exec, true
}
