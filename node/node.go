// Package node assembles a promiseberry node for one origin: store,
// event bus, registry, engine, metrics and logging wired together from
// configuration.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/blockberries/promiseberry/config"
	"github.com/blockberries/promiseberry/engine"
	"github.com/blockberries/promiseberry/events"
	"github.com/blockberries/promiseberry/logging"
	"github.com/blockberries/promiseberry/metrics"
	"github.com/blockberries/promiseberry/registry"
	"github.com/blockberries/promiseberry/store"
	"github.com/blockberries/promiseberry/transport"
)

// Node lifecycle errors.
var (
	ErrAlreadyStarted = errors.New("node already started")
	ErrNotStarted     = errors.New("node not started")
)

// Node is a fully assembled promiseberry node for a single origin.
type Node struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    store.Store
	bus      *events.Bus
	registry *registry.Registry
	engine   *engine.Engine

	prom       *metrics.PrometheusMetrics
	metricsSrv *http.Server

	mu      sync.Mutex
	started bool
}

// New builds a node from configuration. Extra engine options (an oracle,
// a recorder) are passed through to the engine.
func New(cfg *config.Config, opts ...engine.Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, err
	}

	logger, err := buildLogger(&cfg.Logging)
	if err != nil {
		return nil, err
	}

	st, err := store.NewFactory().Create(&cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	bus := events.NewBusWithConfig(events.BusConfigFromConfig(&cfg.Events))
	reg := registry.NewRegistry()

	n := &Node{
		cfg:      cfg,
		logger:   logger.WithComponent("node"),
		store:    st,
		bus:      bus,
		registry: reg,
	}

	var m metrics.Metrics = metrics.NewNopMetrics()
	if cfg.Metrics.Enabled {
		n.prom = metrics.NewPrometheusMetrics(cfg.Metrics.Namespace)
		m = n.prom
	}

	engineOpts := append([]engine.Option{
		engine.WithBus(bus),
		engine.WithMetrics(m),
		engine.WithLogger(logger),
	}, opts...)

	eng, err := engine.New(engine.ConfigFromNode(cfg), st, reg, engineOpts...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	n.engine = eng

	return n, nil
}

// Start starts the event bus and, when enabled, the metrics listener.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return ErrAlreadyStarted
	}

	if err := n.bus.Start(); err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}

	if n.prom != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", n.prom.Handler())
		n.metricsSrv = &http.Server{
			Addr:              n.cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				n.logger.Error("metrics server", logging.Error(err))
			}
		}()
		n.logger.Info("metrics listening", "addr", n.cfg.Metrics.ListenAddr)
	}

	n.started = true
	n.logger.Info("node started",
		logging.Origin(n.engine.Origin()),
		"store", n.cfg.Store.Backend)
	return nil
}

// Stop shuts the node down and releases the store.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started {
		return ErrNotStarted
	}

	if n.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.metricsSrv.Shutdown(ctx); err != nil {
			n.logger.Error("stopping metrics server", logging.Error(err))
		}
		cancel()
		n.metricsSrv = nil
	}

	if err := n.bus.Stop(); err != nil {
		n.logger.Error("stopping event bus", logging.Error(err))
	}

	if err := n.store.Close(); err != nil {
		n.logger.Error("closing store", logging.Error(err))
	}

	n.started = false
	n.logger.Info("node stopped")
	return nil
}

// IsRunning reports whether the node has been started.
func (n *Node) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

// BindTransport attaches a transport endpoint to the engine.
func (n *Node) BindTransport(tr transport.Transport) {
	n.engine.BindTransport(tr)
}

// Engine returns the node's resolution engine.
func (n *Node) Engine() *engine.Engine {
	return n.engine
}

// Registry returns the continuation registry.
func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// Bus returns the lifecycle event bus.
func (n *Node) Bus() *events.Bus {
	return n.bus
}

// Logger returns the node's logger.
func (n *Node) Logger() *logging.Logger {
	return n.logger
}

// buildLogger constructs the logger described by the logging config.
func buildLogger(cfg *config.LoggingConfig) (*logging.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, config.ErrInvalidLogLevel
	}

	var w io.Writer
	switch cfg.Output {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
	}

	if cfg.Format == "json" {
		return logging.NewJSONLogger(w, level), nil
	}
	return logging.NewTextLogger(w, level), nil
}
