// Package queue is the task-queue façade over a broker connector,
// namespacing every operation by task name.
package queue

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/adir-intsights/sergeant/connector"
	"github.com/adir-intsights/sergeant/task"
)

const (
	defaultPopTimeout = time.Second

	// popChunk bounds how many records one broker round-trip moves.
	popChunk = 16
)

type options struct {
	logger     *slog.Logger
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

// WithPopTimeout sets how long GetNextTasks blocks waiting for the first
// record of a fetch.
func WithPopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.popTimeout = d
		}
	}
}

// TaskQueue namespaces broker operations by task name. A record pushed for
// task name X lives on queue X; routing elsewhere is always explicit.
type TaskQueue struct {
	conn       connector.Connector
	logger     *slog.Logger
	popTimeout time.Duration
}

func New(conn connector.Connector, opts ...Option) *TaskQueue {
	o := &options{
		popTimeout: defaultPopTimeout,
	}
	for _, fn := range opts {
		fn(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &TaskQueue{
		conn:       conn,
		logger:     o.logger,
		popTimeout: o.popTimeout,
	}
}

// ApplyAsyncOne enqueues a single fresh task.
func (q *TaskQueue) ApplyAsyncOne(ctx context.Context, taskName string, kwargs task.Kwargs) error {
	return q.PushTasks(ctx, []task.Task{task.New(taskName, kwargs)})
}

// ApplyAsyncMany enqueues one fresh task per kwargs, in order, with a single
// broker round-trip.
func (q *TaskQueue) ApplyAsyncMany(ctx context.Context, taskName string, kwargsList []task.Kwargs) error {
	tasks := lo.Map(kwargsList, func(kwargs task.Kwargs, _ int) task.Task {
		return task.New(taskName, kwargs)
	})

	return q.PushTasks(ctx, tasks)
}

// PushTasks enqueues already-built records (the retry and requeue path).
// Every record goes to the queue named by the first record's task name, so
// one call must carry records of a single task name.
func (q *TaskQueue) PushTasks(ctx context.Context, tasks []task.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	payloads := make([][]byte, 0, len(tasks))
	for _, t := range tasks {
		payload, err := task.Encode(t)
		if err != nil {
			return err
		}
		payloads = append(payloads, payload)
	}

	return q.conn.PushBulk(ctx, tasks[0].Name, payloads)
}

// GetNextTasks removes up to numberOfTasks records from the queue and yields
// them in enqueue order. The sequence is lazy: records are popped from the
// broker as the caller consumes them, so stopping early leaves the tail
// enqueued (already-popped but unconsumed records are pushed back).
//
// A corrupt record ends the sequence with a task.ErrCodec error; the records
// behind it are pushed back, not dropped.
func (q *TaskQueue) GetNextTasks(ctx context.Context, taskName string, numberOfTasks int) iter.Seq2[task.Task, error] {
	return func(yield func(task.Task, error) bool) {
		remaining := numberOfTasks
		blockTimeout := q.popTimeout

		for remaining > 0 {
			chunk := min(remaining, popChunk)
			payloads, err := q.conn.PopBulk(ctx, taskName, chunk, blockTimeout)
			blockTimeout = 0
			if err != nil {
				yield(task.Task{}, fmt.Errorf("queue %q: %w", taskName, err))
				return
			}
			if len(payloads) == 0 {
				return
			}

			for idx, payload := range payloads {
				t, err := task.Decode(payload)
				if err != nil {
					q.pushBack(ctx, taskName, payloads[idx+1:])
					yield(task.Task{}, fmt.Errorf("queue %q: %w", taskName, err))
					return
				}

				remaining--
				if !yield(t, nil) {
					q.pushBack(ctx, taskName, payloads[idx+1:])
					return
				}
			}

			if len(payloads) < chunk {
				return
			}
		}
	}
}

// NumberOfEnqueuedTasks reports the queue length for a task name.
func (q *TaskQueue) NumberOfEnqueuedTasks(ctx context.Context, taskName string) (int64, error) {
	return q.conn.Length(ctx, taskName)
}

// PurgeTasks drops every record for a task name and reports how many were
// removed.
func (q *TaskQueue) PurgeTasks(ctx context.Context, taskName string) (int64, error) {
	return q.conn.Purge(ctx, taskName)
}

// pushBack returns popped-but-unconsumed records to the broker. Runs even
// when the consumer's context is already done; losing records is worse than
// a late push.
func (q *TaskQueue) pushBack(ctx context.Context, taskName string, payloads [][]byte) {
	if len(payloads) == 0 {
		return
	}

	if err := q.conn.PushBulk(context.WithoutCancel(ctx), taskName, payloads); err != nil {
		q.logger.Error("failed to push back unconsumed tasks",
			slog.String("task_name", taskName),
			slog.Int("count", len(payloads)),
			slog.Any("err", err))
	}
}
