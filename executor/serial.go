package executor

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/adir-intsights/sergeant/killer"
	"github.com/adir-intsights/sergeant/task"
	"github.com/adir-intsights/sergeant/worker"
)

// Serial processes tasks one at a time on the calling goroutine's schedule.
// One killer lives for the executor's whole lifetime; it targets whichever
// frame is currently working.
type Serial struct {
	worker      *worker.Worker
	logger      *slog.Logger
	onOutcome   func(task.Task, Outcome)
	killProcess func(*slog.Logger)

	killer           *killer.Killer
	current          atomic.Pointer[killer.Frame]
	currentlyWorking atomic.Bool
}

func NewSerial(w *worker.Worker, opts ...Option) *Serial {
	o := newOptions(w, opts)

	e := &Serial{
		worker:      w,
		logger:      o.logger,
		onOutcome:   o.onOutcome,
		killProcess: o.killProcess,
	}

	timeouts := w.Config().Timeouts
	if timeouts.Enabled() {
		killerOpts := []killer.Option{killer.WithLogger(o.logger)}
		if o.killerPollInterval > 0 {
			killerOpts = append(killerOpts, killer.WithPollInterval(o.killerPollInterval))
		}
		e.killer = killer.New(e, timeouts.Soft, timeouts.Hard, timeouts.Critical, killerOpts...)
	}

	return e
}

// The serial executor is its own killer target: escalations route to the
// frame that is currently working, if any.

func (e *Serial) CancelSoft() {
	if !e.currentlyWorking.Load() {
		return
	}
	if frame := e.current.Load(); frame != nil {
		frame.CancelSoft()
	}
}

func (e *Serial) CancelHard() {
	if !e.currentlyWorking.Load() {
		return
	}
	if frame := e.current.Load(); frame != nil {
		frame.CancelHard()
	}
}

func (e *Serial) CancelCritical() {
	e.killProcess(e.logger)
}

func (e *Serial) ExecuteTasks(ctx context.Context, tasks []task.Task) error {
	for _, t := range tasks {
		e.executeTask(ctx, t)
	}

	return nil
}

func (e *Serial) executeTask(ctx context.Context, t task.Task) {
	e.worker.PreWork(t)

	// In-flight work runs to completion even when the batch context ends
	// mid-task; only the killer may interrupt it.
	frame := killer.NewFrame(context.WithoutCancel(ctx))
	e.current.Store(frame)
	e.currentlyWorking.Store(true)
	if e.killer != nil {
		e.killer.Arm()
	}

	value, err := runWork(frame, e.worker.Handler(), t)

	if e.killer != nil {
		e.killer.DisarmAndReset()
	}
	e.currentlyWorking.Store(false)
	e.current.Store(nil)
	cause := context.Cause(frame.Context())
	frame.Close()

	e.worker.PostWork(t, err == nil, err)

	out := classify(t, value, err, cause, e.worker.Config().MaxRetries)
	out = commit(ctx, e.worker, e.logger, t, out)
	if e.onOutcome != nil {
		e.onOutcome(t, out)
	}
}

func (e *Serial) Close() {
	if e.killer != nil {
		e.killer.Terminate()
	}
}
