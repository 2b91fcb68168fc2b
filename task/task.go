// Package task defines the task model, the pending-task queue and the run
// journal that records executed tasks.
package task

import (
	"context"
	"time"
)

// Task is a unit of work derived from the objective.
type Task struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Queue is the ordered list of pending tasks. The head is the next task to
// execute. A Queue is not safe for concurrent use; it belongs to the loop
// goroutine.
type Queue struct {
	tasks []Task
}

// NewQueue returns a queue holding tasks in order.
func NewQueue(tasks ...Task) *Queue {
	q := &Queue{}
	q.tasks = append(q.tasks, tasks...)
	return q
}

// Push appends t at the tail.
func (q *Queue) Push(t Task) { q.tasks = append(q.tasks, t) }

// Pop removes and returns the head. ok is false when the queue is empty.
func (q *Queue) Pop() (t Task, ok bool) {
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t = q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// Len reports the number of pending tasks.
func (q *Queue) Len() int { return len(q.tasks) }

// Names returns the pending task names in queue order.
func (q *Queue) Names() []string {
	names := make([]string, len(q.tasks))
	for i, t := range q.tasks {
		names[i] = t.Name
	}
	return names
}

// Snapshot returns a copy of the pending tasks in queue order.
func (q *Queue) Snapshot() []Task {
	out := make([]Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// Replace discards the current contents and installs tasks in order.
func (q *Queue) Replace(tasks []Task) {
	q.tasks = make([]Task, len(tasks))
	copy(q.tasks, tasks)
}

// MaxID returns the largest pending id, or 0 for an empty queue.
func (q *Queue) MaxID() int {
	var m int
	for _, t := range q.tasks {
		m = max(m, t.ID)
	}
	return m
}

// Status is the outcome of an executed task.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one journalled task execution.
type Entry struct {
	Seq         int64     `json:"seq"`
	RunID       string    `json:"run_id"`
	TaskID      int       `json:"task_id"`
	Name        string    `json:"name"`
	Result      string    `json:"result,omitempty"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Journal is an append-only log of executed tasks.
type Journal interface {
	// Record appends e. Seq is assigned by the journal.
	Record(ctx context.Context, e Entry) error

	// List returns entries matching the filter, oldest first.
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// Filter controls which entries are returned by List.
type Filter struct {
	RunID  string  `json:"run_id,omitempty"`
	Status *Status `json:"status,omitempty"`
	Limit  int     `json:"limit,omitempty"`
	Offset int     `json:"offset,omitempty"`
}
