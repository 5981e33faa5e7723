package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/adir-intsights/sergeant/killer"
	"github.com/adir-intsights/sergeant/task"
	"github.com/adir-intsights/sergeant/worker"
)

// Threaded runs up to NumberOfThreads tasks of a batch concurrently. Each
// task gets its own killer targeting its own frame, so soft and hard tiers
// never touch sibling tasks; critical still ends the whole process.
type Threaded struct {
	worker      *worker.Worker
	logger      *slog.Logger
	onOutcome   func(task.Task, Outcome)
	killProcess func(*slog.Logger)

	threads            int
	killerPollInterval killer.Option
}

func NewThreaded(w *worker.Worker, opts ...Option) *Threaded {
	o := newOptions(w, opts)

	e := &Threaded{
		worker:      w,
		logger:      o.logger,
		onOutcome:   o.onOutcome,
		killProcess: o.killProcess,
		threads:     w.Config().NumberOfThreads,
	}
	if o.killerPollInterval > 0 {
		e.killerPollInterval = killer.WithPollInterval(o.killerPollInterval)
	}

	return e
}

// frameTarget scopes soft and hard escalation to one task's frame.
type frameTarget struct {
	frame       *killer.Frame
	logger      *slog.Logger
	killProcess func(*slog.Logger)
}

func (ft *frameTarget) CancelSoft() {
	ft.frame.CancelSoft()
}

func (ft *frameTarget) CancelHard() {
	ft.frame.CancelHard()
}

func (ft *frameTarget) CancelCritical() {
	ft.killProcess(ft.logger)
}

func (e *Threaded) ExecuteTasks(ctx context.Context, tasks []task.Task) error {
	taskCh := make(chan task.Task)

	var wg sync.WaitGroup
	for i := 0; i < e.threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				e.executeTask(ctx, t)
			}
		}()
	}

	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)
	wg.Wait()

	return nil
}

func (e *Threaded) executeTask(ctx context.Context, t task.Task) {
	e.worker.PreWork(t)

	frame := killer.NewFrame(context.WithoutCancel(ctx))

	var k *killer.Killer
	timeouts := e.worker.Config().Timeouts
	if timeouts.Enabled() {
		target := &frameTarget{
			frame:       frame,
			logger:      e.logger,
			killProcess: e.killProcess,
		}
		killerOpts := []killer.Option{killer.WithLogger(e.logger)}
		if e.killerPollInterval != nil {
			killerOpts = append(killerOpts, e.killerPollInterval)
		}
		k = killer.New(target, timeouts.Soft, timeouts.Hard, timeouts.Critical, killerOpts...)
		k.Arm()
	}

	value, err := runWork(frame, e.worker.Handler(), t)

	if k != nil {
		k.DisarmAndReset()
		k.Terminate()
	}
	cause := context.Cause(frame.Context())
	frame.Close()

	e.worker.PostWork(t, err == nil, err)

	// The outcome commits on the task's own goroutine; the batch returns
	// only after every task has committed.
	out := classify(t, value, err, cause, e.worker.Config().MaxRetries)
	out = commit(ctx, e.worker, e.logger, t, out)
	if e.onOutcome != nil {
		e.onOutcome(t, out)
	}
}

func (e *Threaded) Close() {}
