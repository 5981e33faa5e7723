// Package executor runs task batches against a worker, supervises their
// timeouts, and drives the outcome state machine into the worker's hooks.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adir-intsights/sergeant/config"
	"github.com/adir-intsights/sergeant/killer"
	"github.com/adir-intsights/sergeant/task"
	"github.com/adir-intsights/sergeant/worker"
)

// Executor runs one batch at a time. Implementations differ only in how
// much of the batch runs concurrently.
type Executor interface {
	ExecuteTasks(ctx context.Context, tasks []task.Task) error

	// Close releases supervision resources. The executor must not be used
	// afterwards.
	Close()
}

type options struct {
	logger             *slog.Logger
	onOutcome          func(task.Task, Outcome)
	killerPollInterval time.Duration
	killProcess        func(*slog.Logger)
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOnOutcome registers an observer invoked after each task commits.
func WithOnOutcome(fn func(task.Task, Outcome)) Option {
	return func(o *options) {
		o.onOutcome = fn
	}
}

// WithKillerPollInterval overrides the timeout watch cadence.
func WithKillerPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.killerPollInterval = d
		}
	}
}

func newOptions(w *worker.Worker, opts []Option) *options {
	o := &options{
		killProcess: killer.TerminateProcess,
	}
	for _, fn := range opts {
		fn(o)
	}
	if o.logger == nil {
		o.logger = w.Logger()
	}

	return o
}

// New constructs the executor selected by the worker's config.
func New(w *worker.Worker, opts ...Option) (Executor, error) {
	switch w.Config().ExecutorMode {
	case config.ExecutorThreaded:
		return NewThreaded(w, opts...), nil
	case config.ExecutorSerial:
		return NewSerial(w, opts...), nil
	default:
		return nil, fmt.Errorf("%w: executor mode %q", config.ErrConfig, w.Config().ExecutorMode)
	}
}

// runWork invokes the handler on its own goroutine and waits for either a
// result or the hard tier. After the hard tier fires the user goroutine is
// abandoned; its eventual result is dropped.
func runWork(frame *killer.Frame, h worker.Handler, t task.Task) (any, error) {
	type result struct {
		value any
		err   error
	}

	resultCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: fmt.Errorf("work panicked: %v", r)}
			}
		}()

		value, err := h.Work(frame.Context(), t)
		resultCh <- result{value: value, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-frame.HardFired():
		return nil, killer.ErrHardTimeout
	}
}

// commit performs the broker action for an outcome and fires its terminal
// hook. It runs even when the batch context is already done: a popped task
// must never be dropped on shutdown.
func commit(ctx context.Context, w *worker.Worker, logger *slog.Logger, t task.Task, out Outcome) Outcome {
	ctx = context.WithoutCancel(ctx)

	switch out.Kind {
	case KindRetry:
		if err := w.Queue().PushTasks(ctx, []task.Task{t.Next()}); err != nil {
			logger.Error("failed to re-enqueue retried task",
				slog.String("task_id", t.ID),
				slog.Any("err", err))
			out = Outcome{Kind: KindFailure, Err: err}
		}
	case KindRequeue:
		if err := w.Queue().PushTasks(ctx, []task.Task{t.Requeued()}); err != nil {
			logger.Error("failed to re-enqueue requeued task",
				slog.String("task_id", t.ID),
				slog.Any("err", err))
			out = Outcome{Kind: KindFailure, Err: err}
		}
	}

	logger.Debug("task finished",
		slog.String("task_id", t.ID),
		slog.String("outcome", out.Kind.String()),
		slog.Int("run_count", t.RunCount))

	switch out.Kind {
	case KindSuccess:
		w.OnSuccess(t, out.Value)
	case KindRetry:
		w.OnRetry(t)
	case KindRequeue:
		w.OnRequeue(t)
	case KindMaxRetries:
		w.OnMaxRetries(t)
	case KindTimeout:
		w.OnTimeout(t, out.Tier)
	case KindFailure:
		w.OnFailure(t, out.Err)
	}

	return out
}
