package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/GoCodeAlone/pawl/provider"
)

// CreationAgent derives follow-up tasks from the last result.
type CreationAgent struct {
	Provider provider.Provider
	Params   provider.Params
	Logger   *slog.Logger
}

// NewCreationAgent returns an agent using the default sampling parameters.
func NewCreationAgent(p provider.Provider, logger *slog.Logger) *CreationAgent {
	return &CreationAgent{Provider: p, Params: DefaultCreationParams(), Logger: logger}
}

// CreateTasks asks for new tasks that follow from result and do not overlap
// pending. Blank output yields no tasks and no error.
func (a *CreationAgent) CreateTasks(ctx context.Context, objective, result, taskName string, pending []string) (names []string, err error) {
	ctx, span := startSpan(ctx, "agent.create_tasks", attribute.Int("queue.pending", len(pending)))
	defer func() {
		span.SetAttributes(attribute.Int("tasks.created", len(names)))
		endSpan(span, err)
	}()

	text, err := provider.Complete(ctx, a.Provider, creationPrompt(objective, result, taskName, pending), a.Params)
	if err != nil {
		return nil, fmt.Errorf("create tasks: %w", err)
	}
	names, err = ParseTaskLines(text)
	if errors.Is(err, ErrMalformedOutput) {
		a.logger().Warn("task creation returned no tasks", "task", taskName)
		return nil, nil
	}
	return names, err
}

func (a *CreationAgent) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
