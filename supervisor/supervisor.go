// Package supervisor owns the worker's outer loop: fetch a batch, execute
// it, commit, repeat — with starvation back-off when the queue runs dry and
// bounded retry when the broker goes away.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adir-intsights/sergeant/connector"
	"github.com/adir-intsights/sergeant/executor"
	"github.com/adir-intsights/sergeant/health"
	"github.com/adir-intsights/sergeant/task"
	"github.com/adir-intsights/sergeant/watchdog"
	"github.com/adir-intsights/sergeant/worker"
)

const (
	// Backoff constants for broker failures
	defaultConnectorBackoff    = 100 * time.Millisecond
	defaultConnectorMaxBackoff = 10 * time.Second
	backoffFactor              = 2

	// Maximum consecutive broker failures before the supervisor gives up
	defaultMaxConnectorFailures = 10
)

type options struct {
	logger   *slog.Logger
	monitor  *health.Monitor
	notifier *watchdog.Notifier

	executorOpts []executor.Option

	connectorBackoff     time.Duration
	connectorMaxBackoff  time.Duration
	maxConnectorFailures int
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMonitor wires outcome counters and activity marks into m.
func WithMonitor(m *health.Monitor) Option {
	return func(o *options) {
		o.monitor = m
	}
}

// WithNotifier wires systemd readiness, watchdog pings, and status lines.
func WithNotifier(n *watchdog.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithExecutorOptions passes options through to the executor construction.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *options) {
		o.executorOpts = append(o.executorOpts, opts...)
	}
}

// WithConnectorBackoff overrides the broker-failure backoff window.
func WithConnectorBackoff(initial, max time.Duration) Option {
	return func(o *options) {
		if initial > 0 {
			o.connectorBackoff = initial
		}
		if max > 0 {
			o.connectorMaxBackoff = max
		}
	}
}

// WithMaxConnectorFailures overrides the number of consecutive broker
// failures at which the loop exits; it survives one fewer.
func WithMaxConnectorFailures(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConnectorFailures = n
		}
	}
}

// Supervisor drives one worker until its context ends (graceful) or the
// broker stays unreachable past the failure budget (fatal).
type Supervisor struct {
	worker   *worker.Worker
	exec     executor.Executor
	logger   *slog.Logger
	monitor  *health.Monitor
	notifier *watchdog.Notifier

	connectorBackoff     time.Duration
	connectorMaxBackoff  time.Duration
	maxConnectorFailures int
}

// New initializes the worker's task queue if needed and builds the executor
// selected by its config.
func New(w *worker.Worker, opts ...Option) (*Supervisor, error) {
	o := &options{
		connectorBackoff:     defaultConnectorBackoff,
		connectorMaxBackoff:  defaultConnectorMaxBackoff,
		maxConnectorFailures: defaultMaxConnectorFailures,
	}
	for _, fn := range opts {
		fn(o)
	}
	if o.logger == nil {
		o.logger = w.Logger()
	}

	if w.Queue() == nil {
		if err := w.InitTaskQueue(); err != nil {
			return nil, err
		}
	}

	executorOpts := append([]executor.Option{executor.WithLogger(o.logger)}, o.executorOpts...)
	if o.monitor != nil {
		monitor := o.monitor
		executorOpts = append(executorOpts, executor.WithOnOutcome(func(_ task.Task, out executor.Outcome) {
			switch out.Kind {
			case executor.KindSuccess:
				monitor.RecordSuccess()
			case executor.KindRetry:
				monitor.RecordRetry()
			case executor.KindRequeue:
				monitor.RecordRequeue()
			case executor.KindMaxRetries:
				monitor.RecordMaxRetries()
			case executor.KindTimeout:
				monitor.RecordTimeout()
			case executor.KindFailure:
				monitor.RecordFailure()
			}
		}))
	}

	exec, err := executor.New(w, executorOpts...)
	if err != nil {
		return nil, err
	}

	return &Supervisor{
		worker:               w,
		exec:                 exec,
		logger:               o.logger,
		monitor:              o.monitor,
		notifier:             o.notifier,
		connectorBackoff:     o.connectorBackoff,
		connectorMaxBackoff:  o.connectorMaxBackoff,
		maxConnectorFailures: o.maxConnectorFailures,
	}, nil
}

// Run enters the supervisor loop. It returns nil on graceful stop and an
// error when the broker stays unreachable. In-flight tasks always run to
// completion; a fetched-but-unstarted tail is pushed back to the broker.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.exec.Close()

	cfg := s.worker.Config()

	_ = s.notifier.Ready()
	var statusFn func() string
	if s.monitor != nil {
		statusFn = s.monitor.Status
	}
	stopPinger := s.notifier.StartPinger(ctx, statusFn)
	defer stopPinger()

	s.logger.Info("supervisor started",
		slog.String("executor", string(cfg.ExecutorMode)),
		slog.Int("tasks_per_transaction", cfg.TasksPerTransaction))

	consecutiveEmpty := 0
	starvationBackoff := time.Duration(0)
	connectorFailures := 0
	connectorBackoff := s.connectorBackoff

	for {
		select {
		case <-ctx.Done():
			_ = s.notifier.Stopping()
			s.logger.Info("supervisor stopped")
			return nil
		default:
		}

		batch, fetchErr := s.fetchBatch(ctx)

		if len(batch) > 0 {
			consecutiveEmpty = 0
			starvationBackoff = 0
			if s.monitor != nil {
				s.monitor.RecordActivity()
			}
			if err := s.exec.ExecuteTasks(ctx, batch); err != nil {
				s.logger.Error("batch execution failed", slog.Any("err", err))
			}
		}

		switch {
		case fetchErr == nil:
			connectorFailures = 0
			connectorBackoff = s.connectorBackoff

		case errors.Is(fetchErr, task.ErrCodec):
			// A corrupt record is task-scoped: surface it to the failure
			// hook and keep consuming the queue.
			s.logger.Error("rejected corrupt task record", slog.Any("err", fetchErr))
			s.worker.OnFailure(task.Task{Name: cfg.Name}, fetchErr)
			continue

		case errors.Is(fetchErr, context.Canceled), errors.Is(fetchErr, context.DeadlineExceeded):
			continue

		case errors.Is(fetchErr, connector.ErrUnavailable):
			connectorFailures++
			if connectorFailures >= s.maxConnectorFailures {
				s.logger.Error("broker unreachable, giving up",
					slog.Int("failures", connectorFailures),
					slog.Any("err", fetchErr))
				return fmt.Errorf("supervisor: %w", fetchErr)
			}

			s.logger.Warn("broker unreachable, backing off",
				slog.Duration("backoff", connectorBackoff),
				slog.Int("failures", connectorFailures),
				slog.Any("err", fetchErr))
			if !s.sleep(ctx, connectorBackoff) {
				continue
			}
			connectorBackoff = nextBackoff(connectorBackoff, s.connectorMaxBackoff)
			continue

		default:
			s.logger.Error("fetch failed", slog.Any("err", fetchErr))
			continue
		}

		if len(batch) == 0 {
			consecutiveEmpty++
			if policy := cfg.Starvation; policy != nil && consecutiveEmpty >= policy.MaxConsecutiveEmpty {
				if starvationBackoff == 0 {
					starvationBackoff = policy.Backoff
				}
				s.logger.Debug("queue starved, backing off",
					slog.Int("consecutive_empty", consecutiveEmpty),
					slog.Duration("backoff", starvationBackoff))
				s.sleep(ctx, starvationBackoff)
				starvationBackoff = nextBackoff(starvationBackoff, policy.MaxBackoff)
			}
		}
	}
}

// fetchBatch collects up to tasks_per_transaction tasks, stopping early on
// context cancellation so the unstarted tail goes back to the broker.
func (s *Supervisor) fetchBatch(ctx context.Context) ([]task.Task, error) {
	cfg := s.worker.Config()

	var batch []task.Task
	for t, err := range s.worker.GetNextTasks(ctx, cfg.TasksPerTransaction) {
		if err != nil {
			return batch, err
		}

		batch = append(batch, t)

		select {
		case <-ctx.Done():
			return batch, nil
		default:
		}
	}

	return batch, nil
}

// sleep waits for d or the context, reporting whether the full wait
// happened.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * backoffFactor
	if next > max {
		next = max
	}

	return next
}
