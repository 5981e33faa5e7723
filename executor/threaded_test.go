package executor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adir-intsights/sergeant/config"
	"github.com/adir-intsights/sergeant/killer"
	"github.com/adir-intsights/sergeant/task"
)

func TestThreadedRunsBatchConcurrently(t *testing.T) {
	h := &recordingHandler{
		workFn: func(ctx context.Context, tk task.Task) (any, error) {
			time.Sleep(150 * time.Millisecond)
			return nil, nil
		},
	}
	w := testWorker(t, h, func(c *config.WorkerConfig) {
		c.ExecutorMode = config.ExecutorThreaded
		c.NumberOfThreads = 4
	})
	e := NewThreaded(w)
	defer e.Close()

	batch := make([]task.Task, 8)
	for i := range batch {
		batch[i] = task.New("some_worker", nil)
	}

	start := time.Now()
	if err := e.ExecuteTasks(context.Background(), batch); err != nil {
		t.Fatalf("ExecuteTasks failed: %v", err)
	}
	elapsed := time.Since(start)

	if h.count("success") != 8 {
		t.Errorf("success fired %d times, want 8", h.count("success"))
	}

	// 8 tasks of 150ms across 4 workers is two waves; serial would be 1.2s.
	if elapsed > 450*time.Millisecond {
		t.Errorf("batch took %v, expected about two waves of 150ms", elapsed)
	}
}

func TestThreadedBatchCompletesWhenAllCommitted(t *testing.T) {
	var inFlight, peak atomic.Int32
	h := &recordingHandler{
		workFn: func(ctx context.Context, tk task.Task) (any, error) {
			current := inFlight.Add(1)
			for {
				observed := peak.Load()
				if current <= observed || peak.CompareAndSwap(observed, current) {
					break
				}
			}
			defer inFlight.Add(-1)
			time.Sleep(50 * time.Millisecond)
			return nil, nil
		},
	}
	w := testWorker(t, h, func(c *config.WorkerConfig) {
		c.ExecutorMode = config.ExecutorThreaded
		c.NumberOfThreads = 2
	})
	e := NewThreaded(w)
	defer e.Close()

	batch := make([]task.Task, 6)
	for i := range batch {
		batch[i] = task.New("some_worker", nil)
	}
	if err := e.ExecuteTasks(context.Background(), batch); err != nil {
		t.Fatalf("ExecuteTasks failed: %v", err)
	}

	if got := peak.Load(); got > 2 {
		t.Errorf("concurrency peaked at %d, limit is 2", got)
	}
	if got := inFlight.Load(); got != 0 {
		t.Errorf("%d tasks still in flight after the batch returned", got)
	}
	if h.count("success") != 6 {
		t.Errorf("success fired %d times, want 6", h.count("success"))
	}
}

func TestThreadedPerTaskKillerIsolation(t *testing.T) {
	h := &recordingHandler{
		workFn: func(ctx context.Context, tk task.Task) (any, error) {
			if tk.Kwargs["slow"] == true {
				select {
				case <-ctx.Done():
					return nil, context.Cause(ctx)
				case <-time.After(2 * time.Second):
					return nil, nil
				}
			}
			time.Sleep(10 * time.Millisecond)
			return nil, nil
		},
	}
	w := testWorker(t, h, func(c *config.WorkerConfig) {
		c.ExecutorMode = config.ExecutorThreaded
		c.NumberOfThreads = 2
		c.Timeouts = config.Timeouts{
			Soft: 100 * time.Millisecond,
			Hard: 600 * time.Millisecond,
		}
	})
	e := NewThreaded(w, WithKillerPollInterval(10*time.Millisecond))
	defer e.Close()

	batch := []task.Task{
		task.New("some_worker", task.Kwargs{"slow": true}),
		task.New("some_worker", task.Kwargs{"slow": false}),
	}
	if err := e.ExecuteTasks(context.Background(), batch); err != nil {
		t.Fatalf("ExecuteTasks failed: %v", err)
	}

	// Only the slow task times out; its sibling is untouched.
	if h.count("timeout") != 1 {
		t.Errorf("timeout fired %d times, want 1", h.count("timeout"))
	}
	if h.count("success") != 1 {
		t.Errorf("success fired %d times, want 1", h.count("success"))
	}
	if len(h.timeoutTiers) == 1 && h.timeoutTiers[0] != killer.TierSoft {
		t.Errorf("tier = %v, want soft", h.timeoutTiers[0])
	}
}

func TestThreadedHardTimeout(t *testing.T) {
	h := &recordingHandler{
		workFn: func(ctx context.Context, tk task.Task) (any, error) {
			time.Sleep(time.Second) // ignores the context
			return nil, nil
		},
	}
	w := testWorker(t, h, func(c *config.WorkerConfig) {
		c.ExecutorMode = config.ExecutorThreaded
		c.NumberOfThreads = 2
		c.Timeouts = config.Timeouts{
			Soft: 30 * time.Millisecond,
			Hard: 90 * time.Millisecond,
		}
	})
	e := NewThreaded(w, WithKillerPollInterval(10*time.Millisecond))
	defer e.Close()

	start := time.Now()
	if err := e.ExecuteTasks(context.Background(), []task.Task{task.New("some_worker", nil)}); err != nil {
		t.Fatalf("ExecuteTasks failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("hard timeout took %v, expected ~90ms", elapsed)
	}

	if h.count("timeout") != 1 {
		t.Errorf("timeout fired %d times, want 1", h.count("timeout"))
	}

	time.Sleep(time.Second) // let the abandoned goroutine drain before teardown
}

func TestThreadedKillerStopsEscalatingAfterCommit(t *testing.T) {
	var killed atomic.Int32
	h := &recordingHandler{
		workFn: func(ctx context.Context, tk task.Task) (any, error) {
			time.Sleep(400 * time.Millisecond)
			return nil, nil
		},
	}
	w := testWorker(t, h, func(c *config.WorkerConfig) {
		c.ExecutorMode = config.ExecutorThreaded
		c.Timeouts = config.Timeouts{
			Soft:     30 * time.Millisecond,
			Hard:     60 * time.Millisecond,
			Critical: 120 * time.Millisecond,
		}
	})

	e := NewThreaded(w, WithKillerPollInterval(10*time.Millisecond))
	defer e.Close()
	e.killProcess = func(*slog.Logger) { killed.Add(1) }

	// Hard fires at 60ms and the executor stops waiting while the worker
	// goroutine is still running; the killer is terminated at that point, so
	// the 120ms critical tier must never fire.
	if err := e.ExecuteTasks(context.Background(), []task.Task{task.New("some_worker", nil)}); err != nil {
		t.Fatalf("ExecuteTasks failed: %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	if killed.Load() != 0 {
		// The per-task killer is terminated as soon as Work returns or is
		// abandoned, so a hard-aborted task must not still escalate to critical.
		t.Errorf("process kill fired %d times after the task committed", killed.Load())
	}
}
