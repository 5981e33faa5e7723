package connector

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "sergeant:task_queue:"

	// Backoff constants for retry loops
	defaultInitialBackoff = 10 * time.Millisecond
	defaultMaxBackoff     = 1 * time.Second
	backoffFactor         = 2

	// Maximum attempts before an operation is reported unavailable
	defaultMaxAttempts = 5
)

type options struct {
	logger         *slog.Logger
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxAttempts sets how many times a failing broker operation is retried
// before it fails with ErrUnavailable.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the initial and maximum delay between retries.
func WithRetryBackoff(initial, max time.Duration) Option {
	return func(o *options) {
		if initial > 0 {
			o.initialBackoff = initial
		}
		if max > 0 {
			o.maxBackoff = max
		}
	}
}

// Redis drives a pool of Redis endpoints with list primitives. A queue lives
// entirely on one endpoint, chosen by a stable hash of its name, so FIFO
// holds per queue; adding endpoints spreads queues, not records.
type Redis struct {
	clients []*redis.Client
	logger  *slog.Logger

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewRedis(nodes []Node, opts ...Option) (*Redis, error) {
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}

	o := &options{
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
	for _, fn := range opts {
		fn(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	clients := make([]*redis.Client, 0, len(nodes))
	for _, node := range nodes {
		clients = append(clients, redis.NewClient(&redis.Options{
			Addr:     node.addr(),
			Password: node.Password,
			DB:       node.Database,

			// The engine owns retries; keep the client's own retrying off
			// so backoff behavior stays in one place.
			MaxRetries: -1,
		}))
	}

	return &Redis{
		clients:        clients,
		logger:         o.logger,
		maxAttempts:    o.maxAttempts,
		initialBackoff: o.initialBackoff,
		maxBackoff:     o.maxBackoff,
	}, nil
}

func (r *Redis) clientFor(queueName string) *redis.Client {
	h := fnv.New32a()
	_, _ = h.Write([]byte(queueName))

	return r.clients[int(h.Sum32())%len(r.clients)]
}

func key(queueName string) string {
	return keyPrefix + queueName
}

// withRetry runs op until it succeeds, the context ends, or maxAttempts
// consecutive failures accumulate.
func (r *Redis) withRetry(ctx context.Context, name string, op func() error) error {
	backoff := r.initialBackoff

	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		r.logger.Debug("broker op failed, backing off",
			slog.String("op", name),
			slog.Any("err", err),
			slog.Duration("backoff", backoff),
			slog.Int("attempt", attempt))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= backoffFactor
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}

	return fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
}

func (r *Redis) PushBulk(ctx context.Context, queueName string, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}

	values := make([]any, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}

	client := r.clientFor(queueName)

	return r.withRetry(ctx, "push_bulk", func() error {
		return client.LPush(ctx, key(queueName), values...).Err()
	})
}

func (r *Redis) PopBulk(ctx context.Context, queueName string, count int, blockTimeout time.Duration) ([][]byte, error) {
	if count <= 0 {
		return nil, nil
	}

	client := r.clientFor(queueName)
	popped := make([][]byte, 0, count)

	// First record: wait up to blockTimeout for work to arrive.
	if blockTimeout > 0 {
		var first []string
		err := r.withRetry(ctx, "pop_bulk", func() error {
			res, err := client.BRPop(ctx, blockTimeout, key(queueName)).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			first = res
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(first) < 2 {
			return popped, nil
		}
		popped = append(popped, []byte(first[1]))
	}

	// The rest is drained without blocking.
	for len(popped) < count {
		var value string
		var empty bool
		err := r.withRetry(ctx, "pop_bulk", func() error {
			res, err := client.RPop(ctx, key(queueName)).Result()
			if errors.Is(err, redis.Nil) {
				empty = true
				return nil
			}
			value = res
			return err
		})
		if err != nil {
			return popped, err
		}
		if empty {
			break
		}
		popped = append(popped, []byte(value))
	}

	return popped, nil
}

func (r *Redis) Length(ctx context.Context, queueName string) (int64, error) {
	client := r.clientFor(queueName)

	var length int64
	err := r.withRetry(ctx, "length", func() error {
		res, err := client.LLen(ctx, key(queueName)).Result()
		length = res
		return err
	})

	return length, err
}

func (r *Redis) Purge(ctx context.Context, queueName string) (int64, error) {
	client := r.clientFor(queueName)

	var removed int64
	err := r.withRetry(ctx, "purge", func() error {
		length, err := client.LLen(ctx, key(queueName)).Result()
		if err != nil {
			return err
		}
		if err := client.Del(ctx, key(queueName)).Err(); err != nil {
			return err
		}
		removed = length
		return nil
	})

	return removed, err
}

func (r *Redis) Ping(ctx context.Context) error {
	for _, client := range r.clients {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	return nil
}

func (r *Redis) Close() error {
	var firstErr error
	for _, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
