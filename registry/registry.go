// Package registry maps dispatch keys to continuation handlers. Dispatch
// never calls into arbitrary targets: a continuation must be registered
// under its key before any callback or handle referencing it can run.
package registry

import (
	"sort"
	"sync"

	"github.com/blockberries/promiseberry/types"
)

// CallContext is the execution token handed to a continuation. It carries
// the identity of the promise whose value the continuation is computing;
// promises created during the invocation are attributed to it.
type CallContext struct {
	// Promise is the executing promise.
	Promise types.PromiseID

	// Origin is the origin the continuation executes on.
	Origin types.Origin

	// Rejected is true when the continuation runs on the error path and
	// the input is a rejection reason rather than a success payload.
	Rejected bool

	// Context is the opaque blob captured at registration time.
	Context []byte
}

// Continuation is a handler invoked with a settled value. Its result is
// classified like any call return: terminal, or a reference to a further
// pending promise.
type Continuation interface {
	Invoke(cc *CallContext, input []byte) (types.Result, error)
}

// ContinuationFunc adapts a function to the Continuation interface.
type ContinuationFunc func(cc *CallContext, input []byte) (types.Result, error)

// Invoke implements Continuation.
func (f ContinuationFunc) Invoke(cc *CallContext, input []byte) (types.Result, error) {
	return f(cc, input)
}

// Registry is a thread-safe capability table from dispatch key to
// continuation handler.
type Registry struct {
	handlers map[string]Continuation
	mu       sync.RWMutex
}

// NewRegistry creates an empty continuation registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Continuation),
	}
}

// Register binds a continuation to a dispatch key. Keys are unique; a
// duplicate registration fails rather than silently replacing the handler.
func (r *Registry) Register(key string, c Continuation) error {
	if key == "" {
		return types.ErrEmptyDispatchKey
	}
	if c == nil {
		return types.WrapDispatchError(types.ErrUnknownDispatchKey, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		return types.WrapDispatchError(types.ErrDuplicateDispatchKey, key)
	}
	r.handlers[key] = c
	return nil
}

// RegisterFunc binds a plain function to a dispatch key.
func (r *Registry) RegisterFunc(key string, f func(cc *CallContext, input []byte) (types.Result, error)) error {
	return r.Register(key, ContinuationFunc(f))
}

// Lookup resolves a dispatch key to its continuation.
func (r *Registry) Lookup(key string) (Continuation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.handlers[key]
	if !ok {
		return nil, types.WrapDispatchError(types.ErrUnknownDispatchKey, key)
	}
	return c, nil
}

// Has reports whether a continuation is registered under key.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[key]
	return ok
}

// Keys returns the registered dispatch keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
