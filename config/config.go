// Package config provides configuration loading and management for a
// Homestar node.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a Homestar node.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Wasm      WasmConfig      `yaml:"wasm"`
	Memo      MemoConfig      `yaml:"memo"`
	Worker    WorkerConfig    `yaml:"worker"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	Blobstore BlobstoreConfig `yaml:"blobstore"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig configures the Receipt Store.
type StoreConfig struct {
	// Driver selects the Store implementation: "sqlite" or "memory".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file path (driver=="sqlite" only).
	Path string `yaml:"path"`
}

// WasmConfig configures the Wasm Host's default resource envelope.
type WasmConfig struct {
	// MaxMemoryBytes is validated and merged but not passed to the Wasm
	// Host: a task whose Resources.MaxMemoryBytes is zero gets
	// wasmhost.DefaultMaxMemoryBytes (4 GiB) whatever this is set to.
	MaxMemoryBytes int64 `yaml:"max_memory_bytes"`
}

// MemoConfig configures the Memoization Coordinator's peer-gossip behavior
//.
type MemoConfig struct {
	// PeerWaitWindow bounds how long the coordinator waits for a peer's
	// receipt before falling back to local execution.
	PeerWaitWindow time.Duration `yaml:"peer_wait_window"`
	// DisablePeerMemoization skips want/gossip entirely; every
	// non-memoized task runs locally. Set automatically when PubSub is
	// disabled.
	DisablePeerMemoization bool `yaml:"disable_peer_memoization"`
}

// WorkerConfig tunes how Workers drive workflows.
type WorkerConfig struct {
	// MaxConcurrent bounds how many tasks within one batch run at once.
	MaxConcurrent int `yaml:"max_concurrent"`
	// CancelDrain bounds how long a cancelled workflow waits for in-flight
	// tasks before the Worker detaches.
	CancelDrain time.Duration `yaml:"cancel_drain"`
}

// PubSubConfig configures the peer gossip transport.
type PubSubConfig struct {
	// Driver selects the PubSub implementation: "nats" or "memory".
	Driver string `yaml:"driver"`
	// NATSURL is the NATS server URL (driver=="nats" only).
	NATSURL string `yaml:"nats_url"`
}

// BlobstoreConfig configures how Wasm component bytes are fetched.
type BlobstoreConfig struct {
	// Driver selects the Fetcher implementation: "http" or "memory".
	Driver string `yaml:"driver"`
	// Gateway is the base URL of an IPFS HTTP gateway (driver=="http" only).
	Gateway string `yaml:"gateway"`
}

// APIConfig configures the admission HTTP/WebSocket surface.
type APIConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`
	// EventsBufferLen is the capacity of each workflow run's progress-event
	// channel (worker.Options.EventsBufferLen).
	EventsBufferLen int `yaml:"events_buffer_len"`
}

// TelemetryConfig configures metrics and tracing export.
type TelemetryConfig struct {
	// MetricsAddr serves Prometheus metrics, e.g. ":9090". Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
	// OTLPEndpoint is the OpenTelemetry collector endpoint. Empty disables
	// trace export.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// ServiceName identifies this node in exported telemetry.
	ServiceName string `yaml:"service_name"`
	// LogLevel sets the node's log verbosity: "debug", "info", "warn", or
	// "error".
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a Config with sensible single-node defaults: an
// in-memory receipt store, in-process pub/sub, no peer gossip, and a Wasm
// host with the default 4 GiB memory ceiling.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "memory",
			Path:   "homestar.db",
		},
		Wasm: WasmConfig{
			MaxMemoryBytes: 4 * 1024 * 1024 * 1024,
		},
		Memo: MemoConfig{
			PeerWaitWindow:         500 * time.Millisecond,
			DisablePeerMemoization: true,
		},
		Worker: WorkerConfig{
			MaxConcurrent: 8,
			CancelDrain:   30 * time.Second,
		},
		PubSub: PubSubConfig{
			Driver: "memory",
		},
		Blobstore: BlobstoreConfig{
			Driver:  "http",
			Gateway: "https://ipfs.io",
		},
		API: APIConfig{
			Addr:            ":8080",
			EventsBufferLen: 1024,
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: ":9090",
			ServiceName: "homestar",
			LogLevel:    "info",
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required when store.driver is sqlite")
		}
	default:
		return fmt.Errorf("store.driver must be \"memory\" or \"sqlite\", got %q", c.Store.Driver)
	}

	if c.Wasm.MaxMemoryBytes <= 0 {
		return fmt.Errorf("wasm.max_memory_bytes must be positive")
	}

	if c.Memo.PeerWaitWindow < 0 {
		return fmt.Errorf("memo.peer_wait_window must not be negative")
	}

	if c.Worker.MaxConcurrent <= 0 {
		return fmt.Errorf("worker.max_concurrent must be positive")
	}
	if c.Worker.CancelDrain < 0 {
		return fmt.Errorf("worker.cancel_drain must not be negative")
	}

	switch c.PubSub.Driver {
	case "memory":
	case "nats":
		if c.PubSub.NATSURL == "" {
			return fmt.Errorf("pubsub.nats_url is required when pubsub.driver is nats")
		}
	default:
		return fmt.Errorf("pubsub.driver must be \"memory\" or \"nats\", got %q", c.PubSub.Driver)
	}

	switch c.Blobstore.Driver {
	case "memory":
	case "http":
		if c.Blobstore.Gateway == "" {
			return fmt.Errorf("blobstore.gateway is required when blobstore.driver is http")
		}
	default:
		return fmt.Errorf("blobstore.driver must be \"memory\" or \"http\", got %q", c.Blobstore.Driver)
	}

	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	if c.API.EventsBufferLen <= 0 {
		return fmt.Errorf("api.events_buffer_len must be positive")
	}

	switch c.Telemetry.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.log_level must be one of debug, info, warn, error, got %q", c.Telemetry.LogLevel)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file, starting from
// DefaultConfig so unset fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration as YAML to path, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Merge overlays other onto c: any non-zero field in other takes
// precedence. Used to layer an environment-supplied config over file-based
// defaults.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Store.Driver != "" {
		c.Store.Driver = other.Store.Driver
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}

	if other.Wasm.MaxMemoryBytes != 0 {
		c.Wasm.MaxMemoryBytes = other.Wasm.MaxMemoryBytes
	}

	if other.Memo.PeerWaitWindow != 0 {
		c.Memo.PeerWaitWindow = other.Memo.PeerWaitWindow
	}
	if other.Memo.DisablePeerMemoization {
		c.Memo.DisablePeerMemoization = true
	}

	if other.Worker.MaxConcurrent != 0 {
		c.Worker.MaxConcurrent = other.Worker.MaxConcurrent
	}
	if other.Worker.CancelDrain != 0 {
		c.Worker.CancelDrain = other.Worker.CancelDrain
	}

	if other.PubSub.Driver != "" {
		c.PubSub.Driver = other.PubSub.Driver
	}
	if other.PubSub.NATSURL != "" {
		c.PubSub.NATSURL = other.PubSub.NATSURL
	}

	if other.Blobstore.Driver != "" {
		c.Blobstore.Driver = other.Blobstore.Driver
	}
	if other.Blobstore.Gateway != "" {
		c.Blobstore.Gateway = other.Blobstore.Gateway
	}

	if other.API.Addr != "" {
		c.API.Addr = other.API.Addr
	}
	if other.API.EventsBufferLen != 0 {
		c.API.EventsBufferLen = other.API.EventsBufferLen
	}

	if other.Telemetry.MetricsAddr != "" {
		c.Telemetry.MetricsAddr = other.Telemetry.MetricsAddr
	}
	if other.Telemetry.OTLPEndpoint != "" {
		c.Telemetry.OTLPEndpoint = other.Telemetry.OTLPEndpoint
	}
	if other.Telemetry.ServiceName != "" {
		c.Telemetry.ServiceName = other.Telemetry.ServiceName
	}
	if other.Telemetry.LogLevel != "" {
		c.Telemetry.LogLevel = other.Telemetry.LogLevel
	}
}
