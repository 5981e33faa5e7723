package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/adir-intsights/sergeant/connector"
)

// fileConfig is the TOML shape of a worker config. Durations are strings
// parsed by time.ParseDuration ("30s", "1m30s").
type fileConfig struct {
	Name      string        `toml:"name"`
	Connector fileConnector `toml:"connector"`

	Timeouts struct {
		Soft     string `toml:"soft"`
		Hard     string `toml:"hard"`
		Critical string `toml:"critical"`
	} `toml:"timeouts"`

	MaxRetries          int    `toml:"max_retries"`
	ExecutorMode        string `toml:"executor_mode"`
	NumberOfThreads     int    `toml:"number_of_threads"`
	TasksPerTransaction int    `toml:"tasks_per_transaction"`

	Starvation *struct {
		MaxConsecutiveEmpty int    `toml:"max_consecutive_empty"`
		Backoff             string `toml:"backoff"`
		MaxBackoff          string `toml:"max_backoff"`
	} `toml:"starvation"`
}

type fileConnector struct {
	Type  string           `toml:"type"`
	Nodes []connector.Node `toml:"nodes"`
}

// Load reads a worker config file and returns the normalized config.
func Load(path string) (WorkerConfig, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return WorkerConfig{}, fmt.Errorf("%w: %s: %w", ErrConfig, path, err)
	}

	cfg := WorkerConfig{
		Name: fc.Name,
		Connector: Connector{
			Type:  fc.Connector.Type,
			Nodes: fc.Connector.Nodes,
		},
		MaxRetries:          fc.MaxRetries,
		ExecutorMode:        ExecutorMode(fc.ExecutorMode),
		NumberOfThreads:     fc.NumberOfThreads,
		TasksPerTransaction: fc.TasksPerTransaction,
	}

	var err error
	if cfg.Timeouts.Soft, err = parseDuration(fc.Timeouts.Soft); err != nil {
		return WorkerConfig{}, fmt.Errorf("%w: timeouts.soft: %w", ErrConfig, err)
	}
	if cfg.Timeouts.Hard, err = parseDuration(fc.Timeouts.Hard); err != nil {
		return WorkerConfig{}, fmt.Errorf("%w: timeouts.hard: %w", ErrConfig, err)
	}
	if cfg.Timeouts.Critical, err = parseDuration(fc.Timeouts.Critical); err != nil {
		return WorkerConfig{}, fmt.Errorf("%w: timeouts.critical: %w", ErrConfig, err)
	}

	if fc.Starvation != nil {
		starvation := Starvation{
			MaxConsecutiveEmpty: fc.Starvation.MaxConsecutiveEmpty,
		}
		if starvation.Backoff, err = parseDuration(fc.Starvation.Backoff); err != nil {
			return WorkerConfig{}, fmt.Errorf("%w: starvation.backoff: %w", ErrConfig, err)
		}
		if starvation.MaxBackoff, err = parseDuration(fc.Starvation.MaxBackoff); err != nil {
			return WorkerConfig{}, fmt.Errorf("%w: starvation.max_backoff: %w", ErrConfig, err)
		}
		cfg.Starvation = &starvation
	}

	return cfg.Normalized()
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	return time.ParseDuration(s)
}
