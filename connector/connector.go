// Package connector provides the primitive queue operations against the
// external broker store.
package connector

import (
	"context"
	"fmt"
	"time"
)

// Connector is the broker driver contract. All operations retry transient
// failures internally; a persistent failure surfaces as ErrUnavailable.
// FIFO ordering holds per queue per endpoint.
type Connector interface {
	// PushBulk appends the payloads to the tail of the queue, in order.
	PushBulk(ctx context.Context, queueName string, payloads [][]byte) error

	// PopBulk removes up to count payloads from the head of the queue.
	// It blocks up to blockTimeout waiting for the first payload; the
	// remainder is collected without blocking.
	PopBulk(ctx context.Context, queueName string, count int, blockTimeout time.Duration) ([][]byte, error)

	// Length reports the number of payloads currently enqueued.
	Length(ctx context.Context, queueName string) (int64, error)

	// Purge drops the queue and reports how many payloads were removed.
	// Purging a queue that does not exist returns 0.
	Purge(ctx context.Context, queueName string) (int64, error)

	// Ping verifies broker reachability.
	Ping(ctx context.Context) error

	Close() error
}

// Node is one broker endpoint.
type Node struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	Database int    `toml:"database"`
}

func (n Node) addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// New constructs a driver by type tag. Unknown tags are a configuration
// error, reported before any worker starts.
func New(connectorType string, nodes []Node, opts ...Option) (Connector, error) {
	switch connectorType {
	case "redis":
		return NewRedis(nodes, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, connectorType)
	}
}
