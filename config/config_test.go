package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adir-intsights/sergeant/connector"
)

func validConfig() WorkerConfig {
	return WorkerConfig{
		Name: "some_worker",
		Connector: Connector{
			Type:  "redis",
			Nodes: []connector.Node{{Host: "localhost", Port: 6379}},
		},
	}
}

func TestNormalizedAppliesDefaults(t *testing.T) {
	cfg, err := validConfig().Normalized()
	if err != nil {
		t.Fatalf("Normalized failed: %v", err)
	}

	if cfg.ExecutorMode != ExecutorSerial {
		t.Errorf("default executor mode = %q, want serial", cfg.ExecutorMode)
	}
	if cfg.NumberOfThreads != 1 {
		t.Errorf("default number_of_threads = %d, want 1", cfg.NumberOfThreads)
	}
	if cfg.TasksPerTransaction != 1 {
		t.Errorf("default tasks_per_transaction = %d, want 1", cfg.TasksPerTransaction)
	}
}

func TestNormalizedRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkerConfig)
	}{
		{"empty name", func(c *WorkerConfig) { c.Name = "" }},
		{"unknown executor mode", func(c *WorkerConfig) { c.ExecutorMode = "fibered" }},
		{"negative threads", func(c *WorkerConfig) { c.NumberOfThreads = -2 }},
		{"zero batch via negative", func(c *WorkerConfig) { c.TasksPerTransaction = -1 }},
		{"negative max retries", func(c *WorkerConfig) { c.MaxRetries = -1 }},
		{"negative timeout", func(c *WorkerConfig) { c.Timeouts.Soft = -time.Second }},
		{"soft above hard", func(c *WorkerConfig) { c.Timeouts = Timeouts{Soft: 5 * time.Second, Hard: time.Second} }},
		{"hard above critical", func(c *WorkerConfig) { c.Timeouts = Timeouts{Hard: 10 * time.Second, Critical: time.Second} }},
		{"soft above critical", func(c *WorkerConfig) { c.Timeouts = Timeouts{Soft: 10 * time.Second, Critical: time.Second} }},
		{"missing connector type", func(c *WorkerConfig) { c.Connector.Type = "" }},
		{"unknown connector type", func(c *WorkerConfig) { c.Connector.Type = "carrier-pigeon" }},
		{"no nodes", func(c *WorkerConfig) { c.Connector.Nodes = nil }},
		{"negative starvation", func(c *WorkerConfig) { c.Starvation = &Starvation{MaxConsecutiveEmpty: -1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if _, err := cfg.Normalized(); !errors.Is(err, ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestNormalizedAcceptsDisabledTiers(t *testing.T) {
	cfg := validConfig()
	cfg.Timeouts = Timeouts{Soft: 0, Hard: 0, Critical: 30 * time.Second}

	if _, err := cfg.Normalized(); err != nil {
		t.Errorf("zero tiers should be allowed: %v", err)
	}

	cfg.Timeouts = Timeouts{Soft: time.Second, Hard: 0, Critical: 30 * time.Second}
	if _, err := cfg.Normalized(); err != nil {
		t.Errorf("disabled middle tier should be allowed: %v", err)
	}
}

func TestNormalizedStarvationDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Starvation = &Starvation{MaxConsecutiveEmpty: 3}

	normalized, err := cfg.Normalized()
	if err != nil {
		t.Fatalf("Normalized failed: %v", err)
	}
	if normalized.Starvation.Backoff <= 0 || normalized.Starvation.MaxBackoff <= 0 {
		t.Errorf("starvation defaults not applied: %+v", normalized.Starvation)
	}
	if cfg.Starvation.Backoff != 0 {
		t.Error("Normalized mutated the caller's starvation policy")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.toml")
	content := `
name = "some_worker"
max_retries = 2
executor_mode = "threaded"
number_of_threads = 4
tasks_per_transaction = 8

[connector]
type = "redis"

[[connector.nodes]]
host = "localhost"
port = 6379

[timeouts]
soft = "1s"
hard = "5s"
critical = "10s"

[starvation]
max_consecutive_empty = 3
backoff = "250ms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Name != "some_worker" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.ExecutorMode != ExecutorThreaded || cfg.NumberOfThreads != 4 {
		t.Errorf("executor = %q/%d, want threaded/4", cfg.ExecutorMode, cfg.NumberOfThreads)
	}
	if cfg.Timeouts.Soft != time.Second || cfg.Timeouts.Hard != 5*time.Second || cfg.Timeouts.Critical != 10*time.Second {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Starvation == nil || cfg.Starvation.Backoff != 250*time.Millisecond {
		t.Errorf("starvation = %+v", cfg.Starvation)
	}
	if cfg.Starvation.MaxBackoff <= 0 {
		t.Error("starvation max backoff default not applied")
	}
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.toml")
	if err := os.WriteFile(path, []byte(`name = `), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for malformed TOML, got %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for missing file, got %v", err)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.toml")
	content := `
name = "some_worker"

[connector]
type = "redis"

[[connector.nodes]]
host = "localhost"
port = 6379

[timeouts]
soft = "a while"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for bad duration, got %v", err)
	}
}
