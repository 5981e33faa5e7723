// The sergeant binary runs the demo worker classes. Real deployments build
// their own binary: register handlers on a launcher.Registry and hand it to
// launcher.Main.
package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/adir-intsights/sergeant/killer"
	"github.com/adir-intsights/sergeant/launcher"
	"github.com/adir-intsights/sergeant/logging"
	"github.com/adir-intsights/sergeant/task"
	"github.com/adir-intsights/sergeant/worker"
)

// echoWorker logs each task it receives. kwargs:
//
//	sleep_ms  — hold the task for this long, observing cancellation
//	fail      — return an error instead of succeeding
type echoWorker struct {
	logger *slog.Logger
}

func (e *echoWorker) Work(ctx context.Context, t task.Task) (any, error) {
	e.logger.Info("working",
		slog.String("task_id", t.ID),
		slog.Int("run_count", t.RunCount),
		slog.Any("kwargs", t.Kwargs))

	if ms, ok := t.Kwargs["sleep_ms"].(float64); ok && ms > 0 {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}

	if fail, ok := t.Kwargs["fail"].(bool); ok && fail {
		return nil, worker.ErrRetry
	}

	return t.ID, nil
}

func (e *echoWorker) OnTimeout(t task.Task, tier killer.Tier) {
	e.logger.Warn("task timed out",
		slog.String("task_id", t.ID),
		slog.String("tier", tier.String()))
}

func main() {
	logger, err := logging.NewFromEnv()
	if err != nil {
		logger.Warn("log sink degraded", slog.Any("err", err))
	}
	slog.SetDefault(logger)

	registry := launcher.NewRegistry()
	registry.Register("some_worker", func() (worker.Handler, error) {
		return &echoWorker{logger: logger}, nil
	})

	launcher.Main(registry)
}
