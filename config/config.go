// Package config holds the declarative, immutable policy for one worker
// class. A config is validated once at construction and never mutated.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/adir-intsights/sergeant/connector"
)

var ErrConfig = errors.New("invalid worker config")

type ExecutorMode string

const (
	ExecutorSerial   ExecutorMode = "serial"
	ExecutorThreaded ExecutorMode = "threaded"
)

// Timeouts are the escalation tiers enforced on a running task. A zero tier
// is disabled; among the nonzero tiers soft <= hard <= critical must hold.
type Timeouts struct {
	Soft     time.Duration
	Hard     time.Duration
	Critical time.Duration
}

// Enabled reports whether any tier is configured.
func (t Timeouts) Enabled() bool {
	return t.Soft > 0 || t.Hard > 0 || t.Critical > 0
}

// Connector describes the broker driver for a worker class.
type Connector struct {
	Type  string
	Nodes []connector.Node
}

// Starvation backs the supervisor off after consecutive empty fetches.
type Starvation struct {
	// MaxConsecutiveEmpty is the count of consecutive empty fetches at which
	// backing off starts (0 and 1 both back off after the first).
	MaxConsecutiveEmpty int

	// Backoff is the initial back-off delay; it doubles per starved fetch
	// up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// WorkerConfig is the full policy for one worker class.
type WorkerConfig struct {
	Name      string
	Connector Connector

	Timeouts   Timeouts
	MaxRetries int

	ExecutorMode        ExecutorMode
	NumberOfThreads     int
	TasksPerTransaction int

	Starvation *Starvation
}

// Normalized returns a copy with defaults applied, or an error describing
// the first constraint violation. Every error wraps ErrConfig.
func (c WorkerConfig) Normalized() (WorkerConfig, error) {
	if c.Name == "" {
		return c, fmt.Errorf("%w: name is required", ErrConfig)
	}

	if c.ExecutorMode == "" {
		c.ExecutorMode = ExecutorSerial
	}
	switch c.ExecutorMode {
	case ExecutorSerial, ExecutorThreaded:
	default:
		return c, fmt.Errorf("%w: executor mode %q", ErrConfig, c.ExecutorMode)
	}

	if c.NumberOfThreads == 0 {
		c.NumberOfThreads = 1
	}
	if c.NumberOfThreads < 1 {
		return c, fmt.Errorf("%w: number_of_threads must be >= 1", ErrConfig)
	}

	if c.TasksPerTransaction == 0 {
		c.TasksPerTransaction = 1
	}
	if c.TasksPerTransaction < 1 {
		return c, fmt.Errorf("%w: tasks_per_transaction must be >= 1", ErrConfig)
	}

	if c.MaxRetries < 0 {
		return c, fmt.Errorf("%w: max_retries must be >= 0", ErrConfig)
	}

	if err := validateTimeouts(c.Timeouts); err != nil {
		return c, err
	}

	if c.Connector.Type == "" {
		return c, fmt.Errorf("%w: connector type is required", ErrConfig)
	}
	if !knownConnectorType(c.Connector.Type) {
		return c, fmt.Errorf("%w: %w: %q", ErrConfig, connector.ErrUnknownType, c.Connector.Type)
	}
	if len(c.Connector.Nodes) == 0 {
		return c, fmt.Errorf("%w: %w", ErrConfig, connector.ErrNoNodes)
	}

	if s := c.Starvation; s != nil {
		normalized := *s
		if normalized.MaxConsecutiveEmpty < 0 {
			return c, fmt.Errorf("%w: starvation max_consecutive_empty must be >= 0", ErrConfig)
		}
		if normalized.Backoff <= 0 {
			normalized.Backoff = time.Second
		}
		if normalized.MaxBackoff <= 0 {
			normalized.MaxBackoff = 30 * time.Second
		}
		c.Starvation = &normalized
	}

	return c, nil
}

func validateTimeouts(t Timeouts) error {
	if t.Soft < 0 || t.Hard < 0 || t.Critical < 0 {
		return fmt.Errorf("%w: timeouts must be non-negative", ErrConfig)
	}
	if t.Soft > 0 && t.Hard > 0 && t.Soft > t.Hard {
		return fmt.Errorf("%w: soft timeout exceeds hard timeout", ErrConfig)
	}
	if t.Hard > 0 && t.Critical > 0 && t.Hard > t.Critical {
		return fmt.Errorf("%w: hard timeout exceeds critical timeout", ErrConfig)
	}
	if t.Soft > 0 && t.Critical > 0 && t.Soft > t.Critical {
		return fmt.Errorf("%w: soft timeout exceeds critical timeout", ErrConfig)
	}

	return nil
}

func knownConnectorType(connectorType string) bool {
	return connectorType == "redis"
}
