// Package worker binds a worker class together: its config, its task queue,
// its handler, and the lifecycle hooks the executor dispatches into.
package worker

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/adir-intsights/sergeant/config"
	"github.com/adir-intsights/sergeant/connector"
	"github.com/adir-intsights/sergeant/killer"
	"github.com/adir-intsights/sergeant/queue"
	"github.com/adir-intsights/sergeant/task"
)

type options struct {
	logger     *slog.Logger
	conn       connector.Connector
	popTimeout time.Duration
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConnector injects a prebuilt broker connector instead of constructing
// one from the config descriptor.
func WithConnector(c connector.Connector) Option {
	return func(o *options) {
		o.conn = c
	}
}

// WithPopTimeout sets how long a fetch blocks waiting for the first task.
func WithPopTimeout(d time.Duration) Option {
	return func(o *options) {
		o.popTimeout = d
	}
}

// Worker is one worker class. Producers use its enqueue API; the supervisor
// and executors drive its handler and hooks.
type Worker struct {
	config  config.WorkerConfig
	handler Handler
	logger  *slog.Logger
	hooks   hooks

	conn       connector.Connector
	queue      *queue.TaskQueue
	popTimeout time.Duration
}

// New validates the config and binds it to a handler. The task queue is not
// touched until InitTaskQueue.
func New(cfg config.WorkerConfig, handler Handler, opts ...Option) (*Worker, error) {
	normalized, err := cfg.Normalized()
	if err != nil {
		return nil, err
	}

	o := &options{}
	for _, fn := range opts {
		fn(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Worker{
		config:     normalized,
		handler:    handler,
		logger:     o.logger.With(slog.String("worker", normalized.Name)),
		hooks:      resolveHooks(handler),
		conn:       o.conn,
		popTimeout: o.popTimeout,
	}, nil
}

func (w *Worker) Config() config.WorkerConfig {
	return w.config
}

func (w *Worker) Logger() *slog.Logger {
	return w.logger
}

func (w *Worker) Handler() Handler {
	return w.handler
}

// InitTaskQueue connects to the broker described by the config. It must run
// before any enqueue or fetch call.
func (w *Worker) InitTaskQueue() error {
	if w.conn == nil {
		conn, err := connector.New(
			w.config.Connector.Type,
			w.config.Connector.Nodes,
			connector.WithLogger(w.logger),
		)
		if err != nil {
			return err
		}
		w.conn = conn
	}

	queueOpts := []queue.Option{queue.WithLogger(w.logger)}
	if w.popTimeout > 0 {
		queueOpts = append(queueOpts, queue.WithPopTimeout(w.popTimeout))
	}
	w.queue = queue.New(w.conn, queueOpts...)

	return nil
}

// Queue exposes the underlying task queue; nil before InitTaskQueue.
func (w *Worker) Queue() *queue.TaskQueue {
	return w.queue
}

// Ping verifies broker reachability; it satisfies health.Pinger.
func (w *Worker) Ping(ctx context.Context) error {
	if w.conn == nil {
		return ErrNotInitialized
	}

	return w.conn.Ping(ctx)
}

func (w *Worker) Close() error {
	if w.conn == nil {
		return nil
	}

	return w.conn.Close()
}

// Enqueue API, delegated to the task queue. The unsuffixed methods target
// the worker's own queue; the Named variants route explicitly.

func (w *Worker) ApplyAsyncOne(ctx context.Context, kwargs task.Kwargs) error {
	return w.ApplyAsyncOneNamed(ctx, w.config.Name, kwargs)
}

func (w *Worker) ApplyAsyncOneNamed(ctx context.Context, taskName string, kwargs task.Kwargs) error {
	if w.queue == nil {
		return ErrNotInitialized
	}

	return w.queue.ApplyAsyncOne(ctx, taskName, kwargs)
}

func (w *Worker) ApplyAsyncMany(ctx context.Context, kwargsList []task.Kwargs) error {
	return w.ApplyAsyncManyNamed(ctx, w.config.Name, kwargsList)
}

func (w *Worker) ApplyAsyncManyNamed(ctx context.Context, taskName string, kwargsList []task.Kwargs) error {
	if w.queue == nil {
		return ErrNotInitialized
	}

	return w.queue.ApplyAsyncMany(ctx, taskName, kwargsList)
}

func (w *Worker) NumberOfEnqueuedTasks(ctx context.Context) (int64, error) {
	return w.NumberOfEnqueuedTasksNamed(ctx, w.config.Name)
}

func (w *Worker) NumberOfEnqueuedTasksNamed(ctx context.Context, taskName string) (int64, error) {
	if w.queue == nil {
		return 0, ErrNotInitialized
	}

	return w.queue.NumberOfEnqueuedTasks(ctx, taskName)
}

func (w *Worker) PurgeTasks(ctx context.Context) (int64, error) {
	return w.PurgeTasksNamed(ctx, w.config.Name)
}

func (w *Worker) PurgeTasksNamed(ctx context.Context, taskName string) (int64, error) {
	if w.queue == nil {
		return 0, ErrNotInitialized
	}

	return w.queue.PurgeTasks(ctx, taskName)
}

func (w *Worker) GetNextTasks(ctx context.Context, numberOfTasks int) iter.Seq2[task.Task, error] {
	if w.queue == nil {
		return func(yield func(task.Task, error) bool) {
			yield(task.Task{}, ErrNotInitialized)
		}
	}

	return w.queue.GetNextTasks(ctx, w.config.Name, numberOfTasks)
}

// Hook dispatch. Hooks never fail a task: errors are logged, panics are
// swallowed after logging.

func (w *Worker) PreWork(t task.Task) {
	defer w.recoverHook("pre_work", t)

	if err := w.hooks.preWork(t); err != nil {
		w.logger.Error("pre_work has failed", slog.String("task_id", t.ID), slog.Any("err", err))
	}
}

func (w *Worker) PostWork(t task.Task, success bool, workErr error) {
	defer w.recoverHook("post_work", t)

	if err := w.hooks.postWork(t, success, workErr); err != nil {
		w.logger.Error("post_work has failed", slog.String("task_id", t.ID), slog.Any("err", err))
	}
}

func (w *Worker) OnSuccess(t task.Task, value any) {
	defer w.recoverHook("on_success", t)
	w.hooks.onSuccess(t, value)
}

func (w *Worker) OnRetry(t task.Task) {
	defer w.recoverHook("on_retry", t)
	w.hooks.onRetry(t)
}

func (w *Worker) OnMaxRetries(t task.Task) {
	defer w.recoverHook("on_max_retries", t)
	w.hooks.onMax(t)
}

func (w *Worker) OnRequeue(t task.Task) {
	defer w.recoverHook("on_requeue", t)
	w.hooks.onRequeue(t)
}

func (w *Worker) OnTimeout(t task.Task, tier killer.Tier) {
	defer w.recoverHook("on_timeout", t)
	w.hooks.onTimeout(t, tier)
}

func (w *Worker) OnFailure(t task.Task, err error) {
	defer w.recoverHook("on_failure", t)
	w.hooks.onFailure(t, err)
}

func (w *Worker) recoverHook(hook string, t task.Task) {
	if r := recover(); r != nil {
		w.logger.Error("hook panicked",
			slog.String("hook", hook),
			slog.String("task_id", t.ID),
			slog.Any("recover", r))
	}
}
