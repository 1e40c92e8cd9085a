// Package config provides TOML configuration for a promiseberry node.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for a promiseberry node.
type Config struct {
	Node    NodeConfig    `toml:"node"`
	Engine  EngineConfig  `toml:"engine"`
	Store   StoreConfig   `toml:"store"`
	Events  EventsConfig  `toml:"events"`
	Metrics MetricsConfig `toml:"metrics"`
	Logging LoggingConfig `toml:"logging"`
}

// NodeConfig contains node identity configuration.
type NodeConfig struct {
	// Origin is the logical chain identifier this node acts for.
	Origin string `toml:"origin"`

	// Principal is the identity this node's engine sends cross-origin
	// instructions as. Remote peers authenticate instructions against it.
	Principal string `toml:"principal"`

	// TrustedPeers maps remote origins to the peer engine principal
	// trusted to send instructions from that origin.
	TrustedPeers map[string]string `toml:"trusted_peers"`
}

// EngineConfig contains resolution engine configuration.
type EngineConfig struct {
	// MaxNestingDepth is the traversal bound for nested promise chains.
	// A chain exceeding it is force-rejected rather than left blocked.
	MaxNestingDepth int `toml:"max_nesting_depth"`

	// TombstoneCacheSize is the size of the in-memory cache of dispatched
	// promise identifiers used for fast replay detection.
	TombstoneCacheSize int `toml:"tombstone_cache_size"`
}

// StoreConfig contains promise store configuration.
type StoreConfig struct {
	// Backend is the storage backend to use ("memory", "leveldb" or
	// "badgerdb").
	Backend string `toml:"backend"`

	// Path is the directory path for durable storage.
	Path string `toml:"path"`
}

// EventsConfig contains notification bus configuration.
type EventsConfig struct {
	// BufferSize is the per-subscriber channel buffer size.
	BufferSize int `toml:"buffer_size"`

	// PublishTimeout is the maximum time to wait on a slow subscriber.
	PublishTimeout Duration `toml:"publish_timeout"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled determines whether metrics collection is active.
	Enabled bool `toml:"enabled"`

	// Namespace is the Prometheus metrics namespace prefix.
	Namespace string `toml:"namespace"`

	// ListenAddr is the address to serve metrics on (e.g., ":9090").
	ListenAddr string `toml:"listen_addr"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `toml:"level"`

	// Format is the log output format ("text" or "json").
	Format string `toml:"format"`

	// Output is the log output destination ("stdout", "stderr", or a file path).
	Output string `toml:"output"`
}

// Duration is a wrapper around time.Duration for TOML unmarshaling.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Origin:       "promiseberry-local-1",
			Principal:    "promiseberry-engine",
			TrustedPeers: map[string]string{},
		},
		Engine: EngineConfig{
			MaxNestingDepth:    10,
			TombstoneCacheSize: 4096,
		},
		Store: StoreConfig{
			Backend: "leveldb",
			Path:    "data/promises",
		},
		Events: EventsConfig{
			BufferSize:     100,
			PublishTimeout: Duration(100 * time.Millisecond),
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Namespace:  "promiseberry",
			ListenAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadConfig loads configuration from a TOML file.
// Missing values are filled with defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validation errors.
var (
	ErrEmptyOrigin            = errors.New("origin cannot be empty")
	ErrEmptyPrincipal         = errors.New("principal cannot be empty")
	ErrEmptyTrustedPeer       = errors.New("trusted peer principal cannot be empty")
	ErrInvalidNestingDepth    = errors.New("max_nesting_depth must be at least 1")
	ErrInvalidTombstoneCache  = errors.New("tombstone_cache_size must be positive")
	ErrInvalidStoreBackend    = errors.New("store backend must be 'memory', 'leveldb' or 'badgerdb'")
	ErrEmptyStorePath         = errors.New("store path cannot be empty for durable backends")
	ErrInvalidEventBuffer     = errors.New("events buffer_size must be positive")
	ErrInvalidPublishTimeout  = errors.New("events publish_timeout must be positive")
	ErrEmptyMetricsNamespace  = errors.New("metrics namespace cannot be empty when enabled")
	ErrEmptyMetricsListenAddr = errors.New("metrics listen_addr cannot be empty when enabled")
	ErrInvalidLogLevel        = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat       = errors.New("log format must be 'text' or 'json'")
	ErrEmptyLogOutput         = errors.New("log output cannot be empty")
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node config: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate checks the node configuration for errors.
func (c *NodeConfig) Validate() error {
	if c.Origin == "" {
		return ErrEmptyOrigin
	}
	if c.Principal == "" {
		return ErrEmptyPrincipal
	}
	for origin, principal := range c.TrustedPeers {
		if origin == "" {
			return ErrEmptyOrigin
		}
		if principal == "" {
			return ErrEmptyTrustedPeer
		}
	}
	return nil
}

// Validate checks the engine configuration for errors.
func (c *EngineConfig) Validate() error {
	if c.MaxNestingDepth < 1 {
		return ErrInvalidNestingDepth
	}
	if c.TombstoneCacheSize <= 0 {
		return ErrInvalidTombstoneCache
	}
	return nil
}

// Validate checks the store configuration for errors.
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
		// No path required.
	case "leveldb", "badgerdb":
		if c.Path == "" {
			return ErrEmptyStorePath
		}
	default:
		return ErrInvalidStoreBackend
	}
	return nil
}

// Validate checks the events configuration for errors.
func (c *EventsConfig) Validate() error {
	if c.BufferSize <= 0 {
		return ErrInvalidEventBuffer
	}
	if c.PublishTimeout.Duration() <= 0 {
		return ErrInvalidPublishTimeout
	}
	return nil
}

// Validate checks the metrics configuration for errors.
func (c *MetricsConfig) Validate() error {
	if c.Enabled {
		if c.Namespace == "" {
			return ErrEmptyMetricsNamespace
		}
		if c.ListenAddr == "" {
			return ErrEmptyMetricsListenAddr
		}
	}
	return nil
}

// Validate checks the logging configuration for errors.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return ErrInvalidLogLevel
	}

	switch c.Format {
	case "text", "json":
		// Valid formats
	default:
		return ErrInvalidLogFormat
	}

	if c.Output == "" {
		return ErrEmptyLogOutput
	}

	return nil
}

// WriteConfigFile writes the configuration to a TOML file.
func WriteConfigFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}

// EnsureDataDirs creates the data directories specified in the configuration.
func (c *Config) EnsureDataDirs() error {
	if c.Store.Backend == "memory" || c.Store.Path == "" {
		return nil
	}
	if err := os.MkdirAll(c.Store.Path, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", c.Store.Path, err)
	}
	return nil
}
