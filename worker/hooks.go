package worker

import (
	"context"

	"github.com/adir-intsights/sergeant/killer"
	"github.com/adir-intsights/sergeant/task"
)

// Handler is the one required piece of a worker class: the task body.
// The context carries timeout cancellation; a Work method that can run long
// should observe it at reasonable checkpoints.
type Handler interface {
	Work(ctx context.Context, t task.Task) (any, error)
}

// Optional lifecycle hooks, discovered on the Handler via type assertions.
// A handler implements whichever it cares about; the rest default to no-ops.
type (
	// PreWorker runs before each task. A returned error is logged and the
	// task still executes.
	PreWorker interface {
		PreWork(t task.Task) error
	}

	// PostWorker runs after each task, before the terminal hook. A returned
	// error is logged and does not change the outcome.
	PostWorker interface {
		PostWork(t task.Task, success bool, workErr error) error
	}

	SuccessHandler interface {
		OnSuccess(t task.Task, value any)
	}

	RetryHandler interface {
		OnRetry(t task.Task)
	}

	MaxRetriesHandler interface {
		OnMaxRetries(t task.Task)
	}

	RequeueHandler interface {
		OnRequeue(t task.Task)
	}

	TimeoutHandler interface {
		OnTimeout(t task.Task, tier killer.Tier)
	}

	FailureHandler interface {
		OnFailure(t task.Task, err error)
	}
)

// hooks is the resolved hook set for one handler.
type hooks struct {
	preWork    func(task.Task) error
	postWork   func(task.Task, bool, error) error
	onSuccess  func(task.Task, any)
	onRetry    func(task.Task)
	onMax      func(task.Task)
	onRequeue  func(task.Task)
	onTimeout  func(task.Task, killer.Tier)
	onFailure  func(task.Task, error)
}

func resolveHooks(h Handler) hooks {
	resolved := hooks{
		preWork:   func(task.Task) error { return nil },
		postWork:  func(task.Task, bool, error) error { return nil },
		onSuccess: func(task.Task, any) {},
		onRetry:   func(task.Task) {},
		onMax:     func(task.Task) {},
		onRequeue: func(task.Task) {},
		onTimeout: func(task.Task, killer.Tier) {},
		onFailure: func(task.Task, error) {},
	}

	if hook, ok := h.(PreWorker); ok {
		resolved.preWork = hook.PreWork
	}
	if hook, ok := h.(PostWorker); ok {
		resolved.postWork = hook.PostWork
	}
	if hook, ok := h.(SuccessHandler); ok {
		resolved.onSuccess = hook.OnSuccess
	}
	if hook, ok := h.(RetryHandler); ok {
		resolved.onRetry = hook.OnRetry
	}
	if hook, ok := h.(MaxRetriesHandler); ok {
		resolved.onMax = hook.OnMaxRetries
	}
	if hook, ok := h.(RequeueHandler); ok {
		resolved.onRequeue = hook.OnRequeue
	}
	if hook, ok := h.(TimeoutHandler); ok {
		resolved.onTimeout = hook.OnTimeout
	}
	if hook, ok := h.(FailureHandler); ok {
		resolved.onFailure = hook.OnFailure
	}

	return resolved
}
