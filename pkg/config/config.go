package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/visionflow/visionflow/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "30s" or "1m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full visionflow configuration.
type Config struct {
	// Engine configures the executor.
	Engine EngineConfig `yaml:"engine"`

	// Nodes holds per-node overrides keyed by node name.
	Nodes map[string]NodeConfig `yaml:"nodes"`

	// Store selects and configures the checkpoint backend.
	Store StoreConfig `yaml:"store"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// EngineConfig configures the executor control loop.
type EngineConfig struct {
	// StepBudget is the maximum number of node invocations per session.
	// It is the sole termination guarantee for cyclic graphs.
	StepBudget int `yaml:"step_budget" validate:"gt=0"`

	// DefaultMaxRetries bounds cumulative failures per node for nodes
	// without an override.
	DefaultMaxRetries int `yaml:"default_max_retries" validate:"gte=0"`

	// DefaultNodeTimeout bounds each node invocation for nodes without an
	// override.
	DefaultNodeTimeout Duration `yaml:"default_node_timeout"`

	// StreamBufferSize is the bounded stream event buffer per consumer.
	// When full, the oldest buffered event is dropped.
	StreamBufferSize int `yaml:"stream_buffer_size" validate:"gt=0"`

	// RequireDurableCheckpoints escalates checkpoint write failures to
	// fatal session errors. When false, a failed write is logged and
	// execution continues with a known gap in resumability.
	RequireDurableCheckpoints bool `yaml:"require_durable_checkpoints"`
}

// NodeConfig holds per-node overrides.
type NodeConfig struct {
	// MaxRetries overrides the engine default for this node.
	MaxRetries *int `yaml:"max_retries" validate:"omitempty,gte=0"`

	// Timeout overrides the engine default for this node.
	Timeout Duration `yaml:"timeout"`

	// RecoveryNode is where the retry policy routes after a recoverable
	// failure of this node. Empty means retry the node itself.
	RecoveryNode string `yaml:"recovery_node"`
}

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	// Backend is one of sqlite, redis, memory.
	Backend string `yaml:"backend" validate:"oneof=sqlite redis memory"`

	// Path is the SQLite database path.
	Path string `yaml:"path"`

	// RedisURL is the redis:// connection URL.
	RedisURL string `yaml:"redis_url"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			StepBudget:                25,
			DefaultMaxRetries:         3,
			DefaultNodeTimeout:        Duration(30 * time.Second),
			StreamBufferSize:          64,
			RequireDurableCheckpoints: true,
		},
		Nodes: make(map[string]NodeConfig),
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "visionflow.db",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads a YAML configuration file, applies defaults for unset values,
// and validates the result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Engine.DefaultNodeTimeout <= 0 {
		return fmt.Errorf("invalid configuration: engine.default_node_timeout must be positive")
	}
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("invalid configuration: store.path is required for the sqlite backend")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("invalid configuration: store.redis_url is required for the redis backend")
		}
	}
	return nil
}

// NodeMaxRetries returns the retry bound for a node, falling back to the
// engine default.
func (c *Config) NodeMaxRetries(node string) int {
	if nc, ok := c.Nodes[node]; ok && nc.MaxRetries != nil {
		return *nc.MaxRetries
	}
	return c.Engine.DefaultMaxRetries
}

// NodeTimeout returns the invocation timeout for a node, falling back to
// the engine default.
func (c *Config) NodeTimeout(node string) time.Duration {
	if nc, ok := c.Nodes[node]; ok && nc.Timeout > 0 {
		return nc.Timeout.Std()
	}
	return c.Engine.DefaultNodeTimeout.Std()
}

// NodeRecovery returns the recovery node for a node after a recoverable
// failure. Empty means the failing node retries itself.
func (c *Config) NodeRecovery(node string) string {
	if nc, ok := c.Nodes[node]; ok {
		return nc.RecoveryNode
	}
	return ""
}
