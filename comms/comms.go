// Package comms carries loop events from the controller to observers: the
// console trace, the monitoring server and remote subscribers.
package comms

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pawl/task"
)

// EventType identifies what happened in the loop.
type EventType string

const (
	TypeLoopStarted        EventType = "loop_started"
	TypeQueue              EventType = "queue"               // pending list before a task is popped
	TypeTaskStarted        EventType = "task_started"        // task popped for execution
	TypeTaskResult         EventType = "task_result"         // execution result
	TypeTasksCreated       EventType = "tasks_created"       // follow-ups appended to the queue
	TypeQueueReprioritized EventType = "queue_reprioritized" // queue replaced by the new ordering
	TypeLoopDraining       EventType = "loop_draining"
	TypeLoopStopped        EventType = "loop_stopped"
	TypeLoopFailed         EventType = "loop_failed"
)

// Event is a single loop notification.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	RunID     string      `json:"run_id"`
	TaskID    int         `json:"task_id,omitempty"`
	Task      string      `json:"task,omitempty"`
	Content   string      `json:"content,omitempty"` // objective, result or error text
	Queue     []task.Task `json:"queue,omitempty"`
	Remaining int         `json:"remaining"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent returns an event of the given type with a fresh id and timestamp.
func NewEvent(typ EventType, runID string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      typ,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
	}
}

// Handler processes a delivered event.
type Handler func(ctx context.Context, ev *Event) error

// Bus fans loop events out to subscribers.
type Bus interface {
	// Publish delivers ev to every subscriber.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe registers a handler for all events.
	// Returns an unsubscribe function.
	Subscribe(handler Handler) (unsubscribe func())

	// History returns up to limit recent events, oldest first. limit <= 0
	// returns everything retained.
	History(limit int) ([]*Event, error)
}
