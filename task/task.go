// Package task defines the task record and its wire codec.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Kwargs is the opaque argument mapping handed to a worker's Work method.
type Kwargs map[string]any

// Task is one scheduled unit of work. A record is immutable once built;
// retries and requeues produce fresh records via Next and Requeued.
type Task struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kwargs   Kwargs `json:"kwargs"`
	RunCount int    `json:"run_count"`
	Date     int64  `json:"date"`
}

// New builds a record for the given queue name. Date is the enqueue
// timestamp in unix milliseconds and is informational only.
func New(name string, kwargs Kwargs) Task {
	if kwargs == nil {
		kwargs = Kwargs{}
	}

	return Task{
		ID:       uuid.NewString(),
		Name:     name,
		Kwargs:   kwargs,
		RunCount: 0,
		Date:     time.Now().UnixMilli(),
	}
}

// Next returns the record to enqueue for a retry: same task, delivery
// counter incremented.
func (t Task) Next() Task {
	t.RunCount++
	return t
}

// Requeued returns the record to enqueue for a requeue: the delivery
// counter is preserved.
func (t Task) Requeued() Task {
	return t
}
