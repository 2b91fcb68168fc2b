// Package api defines the REST handlers of the monitoring server.
package api

import (
	"context"

	"github.com/GoCodeAlone/pawl/agent"
	"github.com/GoCodeAlone/pawl/memory"
)

// Loop is the control surface of a running task loop.
// Implemented by agent.Runtime.
type Loop interface {
	Info() agent.Info
	Stop()
	AddTask(name string) error
}

// Retriever answers similarity queries over stored task results.
// Implemented by agent.ContextAgent.
type Retriever interface {
	Matches(ctx context.Context, query string, k int) ([]memory.Match, error)
}
