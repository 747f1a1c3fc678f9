package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store.Driver != "memory" {
		t.Errorf("expected default store driver memory, got %s", cfg.Store.Driver)
	}
	if cfg.Wasm.MaxMemoryBytes != 4*1024*1024*1024 {
		t.Errorf("expected default max memory 4GiB, got %d", cfg.Wasm.MaxMemoryBytes)
	}
	if cfg.Memo.PeerWaitWindow != 500*time.Millisecond {
		t.Errorf("expected default peer wait window 500ms, got %v", cfg.Memo.PeerWaitWindow)
	}
	if !cfg.Memo.DisablePeerMemoization {
		t.Error("expected peer memoization disabled by default (no pubsub configured)")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}, wantErr: false},
		{name: "unknown store driver", modify: func(c *Config) { c.Store.Driver = "postgres" }, wantErr: true},
		{name: "sqlite without path", modify: func(c *Config) { c.Store.Driver = "sqlite"; c.Store.Path = "" }, wantErr: true},
		{name: "zero max memory", modify: func(c *Config) { c.Wasm.MaxMemoryBytes = 0 }, wantErr: true},
		{name: "negative peer wait window", modify: func(c *Config) { c.Memo.PeerWaitWindow = -1 }, wantErr: true},
		{name: "unknown pubsub driver", modify: func(c *Config) { c.PubSub.Driver = "kafka" }, wantErr: true},
		{name: "nats pubsub without url", modify: func(c *Config) { c.PubSub.Driver = "nats"; c.PubSub.NATSURL = "" }, wantErr: true},
		{name: "unknown blobstore driver", modify: func(c *Config) { c.Blobstore.Driver = "s3" }, wantErr: true},
		{name: "http blobstore without gateway", modify: func(c *Config) { c.Blobstore.Driver = "http"; c.Blobstore.Gateway = "" }, wantErr: true},
		{name: "missing api addr", modify: func(c *Config) { c.API.Addr = "" }, wantErr: true},
		{name: "zero events buffer", modify: func(c *Config) { c.API.EventsBufferLen = 0 }, wantErr: true},
		{name: "unknown log level", modify: func(c *Config) { c.Telemetry.LogLevel = "verbose" }, wantErr: true},
		{name: "zero worker concurrency", modify: func(c *Config) { c.Worker.MaxConcurrent = 0 }, wantErr: true},
		{name: "negative cancel drain", modify: func(c *Config) { c.Worker.CancelDrain = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
store:
  driver: sqlite
  path: /data/receipts.db
wasm:
  max_memory_bytes: 1073741824
memo:
  peer_wait_window: 2s
pubsub:
  driver: nats
  nats_url: nats://peer:4222
blobstore:
  driver: http
  gateway: https://gateway.example
api:
  addr: ":9091"
  events_buffer_len: 2048
telemetry:
  metrics_addr: ":9100"
  service_name: homestar-node-a
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "/data/receipts.db" {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Wasm.MaxMemoryBytes != 1073741824 {
		t.Errorf("expected max_memory_bytes 1073741824, got %d", cfg.Wasm.MaxMemoryBytes)
	}
	if cfg.Memo.PeerWaitWindow != 2*time.Second {
		t.Errorf("expected peer_wait_window 2s, got %v", cfg.Memo.PeerWaitWindow)
	}
	if cfg.PubSub.Driver != "nats" || cfg.PubSub.NATSURL != "nats://peer:4222" {
		t.Errorf("unexpected pubsub config: %+v", cfg.PubSub)
	}
	if cfg.API.Addr != ":9091" || cfg.API.EventsBufferLen != 2048 {
		t.Errorf("unexpected api config: %+v", cfg.API)
	}
	if cfg.Telemetry.ServiceName != "homestar-node-a" {
		t.Errorf("expected service_name homestar-node-a, got %s", cfg.Telemetry.ServiceName)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Store: StoreConfig{Driver: "sqlite", Path: "/override/receipts.db"},
		API:   APIConfig{Addr: ":9999"},
	}

	base.Merge(override)

	if base.Store.Driver != "sqlite" || base.Store.Path != "/override/receipts.db" {
		t.Errorf("expected store override applied, got %+v", base.Store)
	}
	// Wasm config should remain from base since override didn't set it.
	if base.Wasm.MaxMemoryBytes != 4*1024*1024*1024 {
		t.Errorf("expected max memory to remain default, got %d", base.Wasm.MaxMemoryBytes)
	}
	if base.API.Addr != ":9999" {
		t.Errorf("expected api addr override, got %s", base.API.Addr)
	}
	if base.API.EventsBufferLen != 1024 {
		t.Errorf("expected events_buffer_len to remain default, got %d", base.API.EventsBufferLen)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.API.Addr = ":7777"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.API.Addr != ":7777" {
		t.Errorf("expected api addr :7777, got %s", loaded.API.Addr)
	}
}
