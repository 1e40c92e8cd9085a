package types

import (
	"errors"
	"fmt"
)

// Lifecycle errors.
var (
	// ErrAlreadySettled is returned when resolving or rejecting a promise
	// that is no longer pending. Settlement is exactly-once.
	ErrAlreadySettled = errors.New("promise already settled")

	// ErrUnknownPromise is returned when an operation references an
	// identifier never minted by this engine.
	ErrUnknownPromise = errors.New("unknown promise")

	// ErrDuplicatePromise is returned when minting collides with an
	// existing identifier.
	ErrDuplicatePromise = errors.New("promise already exists")

	// ErrStillPending is returned when dispatch is requested for a promise
	// that has not settled yet.
	ErrStillPending = errors.New("promise still pending")

	// ErrMaxDepthExceeded is returned when a nested-promise chain exceeds
	// the configured traversal bound. The outer promise is force-rejected
	// with this reason rather than left permanently blocked.
	ErrMaxDepthExceeded = errors.New("nested promise depth exceeded")
)

// Authorization errors.
var (
	// ErrNotAuthorized is returned when the caller is not the registered
	// resolver of the promise.
	ErrNotAuthorized = errors.New("caller is not the resolver")

	// ErrUntrustedSender is returned when a cross-origin instruction does
	// not come from the trusted peer engine of its claimed origin.
	ErrUntrustedSender = errors.New("sender is not a trusted peer")

	// ErrResolverMoved is returned when operating on a promise whose
	// resolver rights were transferred to another origin.
	ErrResolverMoved = errors.New("resolver rights moved to another origin")
)

// Dispatch errors.
var (
	// ErrCallbackFailed is returned when a registered continuation's
	// invocation itself failed.
	ErrCallbackFailed = errors.New("callback execution failed")

	// ErrUnknownDispatchKey is returned when no continuation is registered
	// under a dispatch key.
	ErrUnknownDispatchKey = errors.New("unknown dispatch key")

	// ErrDuplicateDispatchKey is returned when registering a continuation
	// under a key that is already taken.
	ErrDuplicateDispatchKey = errors.New("dispatch key already registered")

	// ErrEmptyDispatchKey is returned when registering a continuation
	// under an empty key.
	ErrEmptyDispatchKey = errors.New("dispatch key cannot be empty")

	// ErrContextBusy is returned when entering an execution context while
	// another context is active. Child attribution is strictly
	// one-active-parent-at-a-time.
	ErrContextBusy = errors.New("execution context already active")

	// ErrChildAlreadyCounted is returned when a child settlement is
	// notified to its parent more than once.
	ErrChildAlreadyCounted = errors.New("child settlement already counted")
)

// Transport errors.
var (
	// ErrTransportRejected is returned when the event-log oracle failed to
	// validate a claimed settlement payload. No state change is applied.
	ErrTransportRejected = errors.New("relayed event failed validation")

	// ErrInvalidResult is returned when a return payload does not decode
	// as a tagged result.
	ErrInvalidResult = errors.New("invalid result encoding")

	// ErrInvalidID is returned when a byte string is not a valid promise
	// identifier.
	ErrInvalidID = errors.New("invalid promise id")
)

// Store errors.
var (
	// ErrStoreClosed is returned when operations are attempted on a closed
	// store.
	ErrStoreClosed = errors.New("store is closed")
)

// WrapPromiseError wraps an error with promise identifier context.
func WrapPromiseError(err error, id PromiseID) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("promise %s: %w", id.Short(), err)
}

// WrapDispatchError wraps an error with dispatch key context.
func WrapDispatchError(err error, key string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("dispatch %q: %w", key, err)
}
