package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/GoCodeAlone/pawl/provider"
)

// ExecutionAgent performs a single task with the help of retrieved context.
type ExecutionAgent struct {
	Provider provider.Provider
	Context  *ContextAgent
	K        int
	Params   provider.Params
}

// NewExecutionAgent returns an agent using the default context size and
// sampling parameters.
func NewExecutionAgent(p provider.Provider, c *ContextAgent) *ExecutionAgent {
	return &ExecutionAgent{
		Provider: p,
		Context:  c,
		K:        DefaultContextK,
		Params:   DefaultExecutionParams(),
	}
}

// Execute performs taskName toward objective and returns the generated
// result. Context is retrieved with the objective as query.
func (a *ExecutionAgent) Execute(ctx context.Context, objective, taskName string) (result string, err error) {
	ctx, span := startSpan(ctx, "agent.execute", attribute.String("task.name", taskName))
	defer func() {
		span.SetAttributes(attribute.Int("result.length", len(result)))
		endSpan(span, err)
	}()

	var related []string
	if a.Context != nil {
		related, err = a.Context.Retrieve(ctx, objective, a.K)
		if err != nil {
			return "", fmt.Errorf("execute: %w", err)
		}
	}
	result, err = provider.Complete(ctx, a.Provider, executionPrompt(objective, related, taskName), a.Params)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	return result, nil
}
