package worker

import "errors"

// Control-flow signals a Work method returns (possibly wrapped) to steer the
// outcome of its task. They are not failures.
var (
	// ErrRetry asks for redelivery with the run counter incremented,
	// subject to the configured max retries.
	ErrRetry = errors.New("task retry requested")

	// ErrMaxRetries short-circuits straight to the max-retries outcome.
	ErrMaxRetries = errors.New("task max retries reached")

	// ErrRequeue asks for redelivery with the run counter preserved.
	ErrRequeue = errors.New("task requeue requested")
)

// ErrNotInitialized reports use of the enqueue API before InitTaskQueue.
var ErrNotInitialized = errors.New("task queue not initialized")
