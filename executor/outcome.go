package executor

import (
	"context"
	"errors"

	"github.com/adir-intsights/sergeant/killer"
	"github.com/adir-intsights/sergeant/task"
	"github.com/adir-intsights/sergeant/worker"
)

// Kind is the terminal classification of one task execution. Exactly one
// terminal hook fires per task, selected by this value.
type Kind int

const (
	KindSuccess Kind = iota
	KindRetry
	KindRequeue
	KindMaxRetries
	KindTimeout
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetry:
		return "retry"
	case KindRequeue:
		return "requeue"
	case KindMaxRetries:
		return "max_retries"
	case KindTimeout:
		return "timeout"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one task execution.
type Outcome struct {
	Kind  Kind
	Value any         // set for success
	Tier  killer.Tier // set for timeout
	Err   error       // set for failure
}

// classify synthesizes the outcome from what Work produced. frameCause is
// the cancellation cause of the task's frame, which catches user code that
// reports a timeout as a plain context error.
func classify(t task.Task, value any, err error, frameCause error, maxRetries int) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: KindSuccess, Value: value}

	case errors.Is(err, killer.ErrHardTimeout):
		return Outcome{Kind: KindTimeout, Tier: killer.TierHard}

	case errors.Is(err, killer.ErrSoftTimeout):
		return Outcome{Kind: KindTimeout, Tier: killer.TierSoft}

	case errors.Is(err, worker.ErrRetry):
		if t.RunCount+1 > maxRetries {
			return Outcome{Kind: KindMaxRetries}
		}
		return Outcome{Kind: KindRetry}

	case errors.Is(err, worker.ErrMaxRetries):
		return Outcome{Kind: KindMaxRetries}

	case errors.Is(err, worker.ErrRequeue):
		return Outcome{Kind: KindRequeue}

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if errors.Is(frameCause, killer.ErrHardTimeout) {
			return Outcome{Kind: KindTimeout, Tier: killer.TierHard}
		}
		if errors.Is(frameCause, killer.ErrSoftTimeout) {
			return Outcome{Kind: KindTimeout, Tier: killer.TierSoft}
		}
		return Outcome{Kind: KindFailure, Err: err}

	default:
		return Outcome{Kind: KindFailure, Err: err}
	}
}
