// Package agent implements the task loop: the execution, context, creation
// and prioritization agents and the Runtime that drives them.
package agent

import (
	"time"

	"github.com/GoCodeAlone/pawl/provider"
	"github.com/GoCodeAlone/pawl/task"
)

// Status represents the current state of the loop.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusDraining Status = "draining" // queue empty, waiting for work
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed" // halted by an agent error
)

// Info is a read-only snapshot of the loop.
type Info struct {
	RunID     string      `json:"run_id"`
	Objective string      `json:"objective"`
	Status    Status      `json:"status"`
	Remaining int         `json:"remaining"`
	Executed  int         `json:"executed"`
	Current   *task.Task  `json:"current,omitempty"`
	Queue     []task.Task `json:"queue"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// DefaultContextK is the number of memory matches given to the execution agent.
const DefaultContextK = 5

// DefaultExecutionParams returns the sampling parameters for task execution.
func DefaultExecutionParams() provider.Params {
	return provider.Params{Temperature: 0.7, MaxTokens: 2000, TopP: 1}
}

// DefaultCreationParams returns the sampling parameters for task creation.
func DefaultCreationParams() provider.Params {
	return provider.Params{Temperature: 0.5, MaxTokens: 100, TopP: 1}
}

// DefaultPrioritizationParams returns the sampling parameters for
// reprioritization.
func DefaultPrioritizationParams() provider.Params {
	return provider.Params{Temperature: 0.5, MaxTokens: 1000, TopP: 1}
}
