// Package engine implements the promise resolution engine: minting,
// settlement, fan-in, nested flattening, callback dispatch and relayed
// event ingestion. The engine owns every lifecycle invariant; the store
// underneath is plain keyed persistence.
package engine

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/blockberries/promiseberry/config"
	"github.com/blockberries/promiseberry/events"
	"github.com/blockberries/promiseberry/logging"
	"github.com/blockberries/promiseberry/metrics"
	"github.com/blockberries/promiseberry/registry"
	"github.com/blockberries/promiseberry/store"
	"github.com/blockberries/promiseberry/transport"
	"github.com/blockberries/promiseberry/types"
)

// Config carries the engine's identity and bounds.
type Config struct {
	// Origin is the logical chain this engine acts for.
	Origin types.Origin

	// Principal is the identity this engine settles chained promises as
	// and sends cross-origin instructions as.
	Principal types.Principal

	// MaxNestingDepth bounds nested promise chains. A chain growing past
	// it is force-rejected rather than left permanently blocked.
	MaxNestingDepth int

	// TombstoneCacheSize sizes the in-memory cache of dispatched promise
	// identifiers used for fast replay detection.
	TombstoneCacheSize int

	// TrustedPeers maps remote origins to the peer engine principal
	// trusted to send instructions from that origin.
	TrustedPeers map[types.Origin]types.Principal
}

// ConfigFromNode builds an engine Config from node configuration.
func ConfigFromNode(cfg *config.Config) Config {
	trusted := make(map[types.Origin]types.Principal, len(cfg.Node.TrustedPeers))
	for origin, principal := range cfg.Node.TrustedPeers {
		trusted[types.Origin(origin)] = types.Principal(principal)
	}
	return Config{
		Origin:             types.Origin(cfg.Node.Origin),
		Principal:          types.Principal(cfg.Node.Principal),
		MaxNestingDepth:    cfg.Engine.MaxNestingDepth,
		TombstoneCacheSize: cfg.Engine.TombstoneCacheSize,
		TrustedPeers:       trusted,
	}
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithBus attaches a lifecycle event bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l.WithComponent("engine") }
}

// WithOracle attaches the event-log oracle used to validate relayed
// settlements. Without one, HandleRelayedEvent rejects everything.
func WithOracle(o transport.Oracle) Option {
	return func(e *Engine) { e.oracle = o }
}

// WithRecorder attaches the settlement event recorder.
func WithRecorder(r transport.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// Engine is a single origin's promise resolution engine. All state
// mutations are serialized under one mutex; continuations are invoked
// outside it so they can call back into the engine.
type Engine struct {
	cfg      Config
	store    store.Store
	registry *registry.Registry

	bus      *events.Bus
	metrics  metrics.Metrics
	logger   *logging.Logger
	oracle   transport.Oracle
	recorder transport.Recorder

	transport transport.Transport

	// dispatched is the fast path over durable tombstones.
	dispatched *lru.Cache[types.PromiseID, struct{}]

	mu      sync.Mutex
	pending int

	// dispatchQueue holds promises whose deferred settlement completed
	// and requested a dispatch; drained outside the lock.
	dispatchQueue []types.PromiseID

	// exec is the single-slot execution context (see context.go).
	execMu sync.Mutex
	exec   *types.PromiseID
}

// New creates an engine over the given store and continuation registry.
func New(cfg Config, st store.Store, reg *registry.Registry, opts ...Option) (*Engine, error) {
	if cfg.Origin == "" {
		return nil, config.ErrEmptyOrigin
	}
	if cfg.Principal == "" {
		return nil, config.ErrEmptyPrincipal
	}
	if cfg.MaxNestingDepth < 1 {
		return nil, config.ErrInvalidNestingDepth
	}
	if cfg.TombstoneCacheSize <= 0 {
		return nil, config.ErrInvalidTombstoneCache
	}

	cache, err := lru.New[types.PromiseID, struct{}](cfg.TombstoneCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating tombstone cache: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		store:      st,
		registry:   reg,
		metrics:    metrics.NewNopMetrics(),
		logger:     logging.NewNopLogger().WithComponent("engine"),
		dispatched: cache,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Origin returns the origin this engine acts for.
func (e *Engine) Origin() types.Origin {
	return e.cfg.Origin
}

// Principal returns the engine's own principal.
func (e *Engine) Principal() types.Principal {
	return e.cfg.Principal
}

// Registry returns the continuation registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Create mints a new pending promise settled by resolver. While an
// execution context is active, the new promise is attached as a child of
// the executing promise and the parent cannot settle until it does.
func (e *Engine) Create(resolver types.Principal) (types.PromiseID, error) {
	return e.CreateFor(resolver, "create", nil)
}

// CreateFor mints a new pending promise with an explicit selector and
// salt mixed into the identifier derivation. Cross-origin callers use it
// so both sides compute the identifier before any message is relayed.
func (e *Engine) CreateFor(resolver types.Principal, selector string, salt []byte) (types.PromiseID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	nonce, err := e.store.NextNonce()
	if err != nil {
		return types.ZeroPromiseID, fmt.Errorf("allocating nonce: %w", err)
	}

	id := types.DerivePromiseID(e.cfg.Origin, nonce, resolver, selector, salt)

	exists, err := e.store.HasPromise(id)
	if err != nil {
		return types.ZeroPromiseID, err
	}
	if exists {
		return types.ZeroPromiseID, types.WrapPromiseError(types.ErrDuplicatePromise, id)
	}

	p := &types.Promise{
		ID:             id,
		Status:         types.StatusPending,
		Resolver:       resolver,
		ResolverOrigin: e.cfg.Origin,
		Nonce:          nonce,
	}

	if parentID, active := e.currentContext(); active {
		if err := e.attachChild(parentID, p); err != nil {
			return types.ZeroPromiseID, err
		}
	}

	if err := e.store.PutPromise(p); err != nil {
		return types.ZeroPromiseID, err
	}

	e.pending++
	e.metrics.PromiseCreated()
	e.metrics.SetPendingPromises(e.pending)
	e.publish(events.NewEvent(events.TypePromiseCreated, id, e.cfg.Origin).
		WithAttribute("resolver", string(resolver)))
	e.logger.Debug("promise created",
		logging.Promise(id), logging.Resolver(resolver), logging.Nonce(nonce))

	return id, nil
}

// attachChild links a freshly minted promise under the executing promise.
// Lock held.
func (e *Engine) attachChild(parentID types.PromiseID, child *types.Promise) error {
	parent, err := e.store.GetPromise(parentID)
	if err != nil {
		return err
	}
	parent.Children = append(parent.Children, child.ID)
	parent.UnresolvedChildren++
	if err := e.store.PutPromise(parent); err != nil {
		return err
	}

	child.Parent = parentID
	child.HasParent = true
	return nil
}

// Status returns the lifecycle state of a promise.
func (e *Engine) Status(id types.PromiseID) (types.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetPromise(id)
	if err != nil {
		return types.StatusPending, err
	}
	return p.Status, nil
}

// Value returns the settled payload of a promise. Returns ErrStillPending
// for an unsettled promise.
func (e *Engine) Value(id types.PromiseID) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetPromise(id)
	if err != nil {
		return nil, err
	}
	if !p.Status.Settled() {
		return nil, types.WrapPromiseError(types.ErrStillPending, id)
	}
	return p.Value, nil
}

// Get returns a copy of the stored promise record.
func (e *Engine) Get(id types.PromiseID) (*types.Promise, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.GetPromise(id)
}

// Handles returns the handle descriptors registered against a promise.
func (e *Engine) Handles(id types.PromiseID) ([]types.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Handles(id)
}

// Then registers a continuation against a promise and returns the chained
// promise representing the continuation's own result. The chained
// identifier is derived from the parent and the registration index, so it
// can be handed out before the parent ever settles. Callbacks run in
// registration order at dispatch time.
func (e *Engine) Then(id types.PromiseID, successKey, errorKey string, ctx []byte) (types.PromiseID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reason, found, err := e.store.Tombstone(id); err != nil {
		return types.ZeroPromiseID, err
	} else if found {
		if reason == store.TombstoneMoved {
			return types.ZeroPromiseID, types.WrapPromiseError(types.ErrResolverMoved, id)
		}
		return types.ZeroPromiseID, types.WrapPromiseError(types.ErrAlreadySettled, id)
	}

	if _, err := e.store.GetPromise(id); err != nil {
		return types.ZeroPromiseID, err
	}

	cbs, err := e.store.Callbacks(id)
	if err != nil {
		return types.ZeroPromiseID, err
	}

	chainedID := types.DeriveChainedID(id, uint64(len(cbs)))

	chained := &types.Promise{
		ID:             chainedID,
		Status:         types.StatusPending,
		Resolver:       e.cfg.Principal,
		ResolverOrigin: e.cfg.Origin,
	}
	if err := e.store.PutPromise(chained); err != nil {
		return types.ZeroPromiseID, err
	}

	cbs = append(cbs, types.Callback{
		SuccessKey: successKey,
		ErrorKey:   errorKey,
		Context:    ctx,
		ChainedID:  chainedID,
		HasChained: true,
	})
	if err := e.store.SetCallbacks(id, cbs); err != nil {
		return types.ZeroPromiseID, err
	}

	e.pending++
	e.metrics.PromiseCreated()
	e.metrics.SetPendingPromises(e.pending)
	e.publish(events.NewEvent(events.TypePromiseCreated, chainedID, e.cfg.Origin).
		WithAttribute("chained_from", id.Short()))
	e.logger.Debug("callback registered",
		logging.Promise(id), logging.Chained(chainedID), logging.DispatchKey(successKey))

	return chainedID, nil
}

// All mints a fan-in aggregate over the member promises. The aggregate
// resolves with the ordered encoding of the member values once every
// member resolves; the first observed member rejection rejects the
// aggregate immediately with that reason. The aggregate identifier is
// derived from the member list, so All over the same members is
// idempotent.
func (e *Engine) All(members []types.PromiseID) (types.PromiseID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	aggID := types.DeriveAggregateID(members)

	if exists, err := e.store.HasPromise(aggID); err != nil {
		return types.ZeroPromiseID, err
	} else if exists {
		return aggID, nil
	}

	agg := &types.Promise{
		ID:             aggID,
		Status:         types.StatusPending,
		Resolver:       e.cfg.Principal,
		ResolverOrigin: e.cfg.Origin,
		Aggregate:      true,
		Children:       append([]types.PromiseID(nil), members...),
		ChildValues:    make([][]byte, len(members)),
	}

	var firstRejection []byte
	rejected := false

	for i, memberID := range members {
		member, err := e.store.GetPromise(memberID)
		if err != nil {
			return types.ZeroPromiseID, err
		}

		switch {
		case member.Status == types.StatusResolved:
			agg.ChildValues[i] = member.Value
		case member.Status == types.StatusRejected:
			if !rejected {
				rejected = true
				firstRejection = member.Value
			}
		default:
			if member.HasParent {
				return types.ZeroPromiseID, fmt.Errorf(
					"promise %s: %w: already tracked by a parent",
					memberID.Short(), types.ErrChildAlreadyCounted)
			}
			member.Parent = aggID
			member.HasParent = true
			agg.UnresolvedChildren++
			if err := e.store.PutPromise(member); err != nil {
				return types.ZeroPromiseID, err
			}
		}
	}

	if err := e.store.PutPromise(agg); err != nil {
		return types.ZeroPromiseID, err
	}

	e.pending++
	e.metrics.PromiseCreated()
	e.metrics.SetPendingPromises(e.pending)
	e.publish(events.NewEvent(events.TypePromiseCreated, aggID, e.cfg.Origin).
		WithAttribute("aggregate", fmt.Sprintf("%d", len(members))))

	// Members that settled before the aggregate existed count immediately.
	if rejected {
		return aggID, e.settleTerminal(agg, types.StatusRejected, firstRejection)
	}
	if agg.UnresolvedChildren == 0 {
		e.metrics.ChildFanIn(len(agg.Children))
		return aggID, e.settleTerminal(agg, types.StatusResolved, types.EncodeValueList(agg.ChildValues))
	}

	return aggID, nil
}

// TransferResolver moves resolver rights for a pending promise to a new
// resolver on another origin. The move is total: the local record is
// tombstoned and later settlement attempts here fail with
// ErrResolverMoved. The receiving engine materializes the promise if the
// identifier is unknown; a duplicate delivery is a no-op there.
func (e *Engine) TransferResolver(id types.PromiseID, caller types.Principal, newOrigin types.Origin, newResolver types.Principal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return fmt.Errorf("promise %s: no transport bound", id.Short())
	}

	p, err := e.store.GetPromise(id)
	if err != nil {
		if reason, found, terr := e.store.Tombstone(id); terr == nil && found && reason == store.TombstoneMoved {
			return types.WrapPromiseError(types.ErrResolverMoved, id)
		}
		return err
	}
	if p.Status.Settled() {
		return types.WrapPromiseError(types.ErrAlreadySettled, id)
	}
	if p.Resolver != caller {
		return types.WrapPromiseError(types.ErrNotAuthorized, id)
	}

	target, ok := e.cfg.TrustedPeers[newOrigin]
	if !ok {
		return fmt.Errorf("origin %s: %w", newOrigin, types.ErrUntrustedSender)
	}

	payload, err := transport.EncodeTransfer(&transport.Transfer{
		Promise:     id,
		NewResolver: string(newResolver),
		Nonce:       p.Nonce,
	})
	if err != nil {
		return err
	}
	if _, err := e.transport.Send(newOrigin, target, payload); err != nil {
		return fmt.Errorf("sending transfer: %w", err)
	}

	if err := e.store.DeletePromise(id); err != nil {
		return err
	}
	if err := e.store.PutTombstone(id, store.TombstoneMoved); err != nil {
		return err
	}

	e.pending--
	e.metrics.SetPendingPromises(e.pending)
	e.metrics.ResolverTransferred()
	e.publish(events.NewEvent(events.TypeResolverTransferred, id, e.cfg.Origin).
		WithAttribute("new_origin", string(newOrigin)).
		WithAttribute("new_resolver", string(newResolver)))
	e.logger.Info("resolver rights moved",
		logging.Promise(id), logging.Origin(newOrigin), logging.Resolver(newResolver))

	return nil
}

// MaterializePromise creates a pending record for a promise minted
// elsewhere, typically the receiving side of a resolver transfer. A known
// identifier is a no-op so duplicate deliveries are harmless.
func (e *Engine) MaterializePromise(id types.PromiseID, resolver types.Principal, nonce uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	exists, err := e.store.HasPromise(id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	p := &types.Promise{
		ID:             id,
		Status:         types.StatusPending,
		Resolver:       resolver,
		ResolverOrigin: e.cfg.Origin,
		Nonce:          nonce,
	}
	if err := e.store.PutPromise(p); err != nil {
		return err
	}

	e.pending++
	e.metrics.PromiseCreated()
	e.metrics.SetPendingPromises(e.pending)
	e.publish(events.NewEvent(events.TypePromiseCreated, id, e.cfg.Origin).
		WithAttribute("materialized", "true"))
	e.logger.Debug("promise materialized", logging.Promise(id), logging.Resolver(resolver))

	return nil
}

// BindTransport attaches a transport endpoint and installs the inbound
// handler for cross-origin instructions.
func (e *Engine) BindTransport(tr transport.Transport) {
	e.mu.Lock()
	e.transport = tr
	e.mu.Unlock()

	tr.SetHandler(e.handleInbound)
}

// handleInbound routes an authenticated inbound message by envelope kind.
func (e *Engine) handleInbound(sender types.Principal, from types.Origin, payload []byte) error {
	env, err := transport.DecodeEnvelope(payload)
	if err != nil {
		return err
	}

	switch env.Kind {
	case transport.KindSettlement:
		s, err := transport.DecodeSettlement(env.Body)
		if err != nil {
			return err
		}
		return e.HandleRelayedEvent(transport.RelayedEvent{
			Origin:  from,
			EventID: s.EventID,
			Payload: payload,
		})

	case transport.KindTransfer:
		if err := e.checkTrusted(sender, from); err != nil {
			return err
		}
		t, err := transport.DecodeTransfer(env.Body)
		if err != nil {
			return err
		}
		return e.MaterializePromise(t.Promise, types.Principal(t.NewResolver), t.Nonce)

	case transport.KindHandle:
		h, err := transport.DecodeHandleRegistration(env.Body)
		if err != nil {
			return err
		}
		return e.RegisterHandle(h.Promise, h.Action, h.Context, sender, from)

	default:
		return fmt.Errorf("unknown envelope kind 0x%02x", env.Kind)
	}
}

// checkTrusted verifies that sender is the trusted peer engine for the
// claimed origin.
func (e *Engine) checkTrusted(sender types.Principal, from types.Origin) error {
	trusted, ok := e.cfg.TrustedPeers[from]
	if !ok || trusted != sender {
		return fmt.Errorf("origin %s sender %s: %w", from, sender, types.ErrUntrustedSender)
	}
	return nil
}

// publish sends a lifecycle event on the bus, best effort.
func (e *Engine) publish(ev events.Event) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(context.Background(), ev)
}
