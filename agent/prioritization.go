package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/GoCodeAlone/pawl/provider"
	"github.com/GoCodeAlone/pawl/task"
)

// PrioritizationAgent reorders the pending tasks and renumbers them.
type PrioritizationAgent struct {
	Provider provider.Provider
	Params   provider.Params
	Logger   *slog.Logger
}

// NewPrioritizationAgent returns an agent using the default sampling
// parameters.
func NewPrioritizationAgent(p provider.Provider, logger *slog.Logger) *PrioritizationAgent {
	return &PrioritizationAgent{Provider: p, Params: DefaultPrioritizationParams(), Logger: logger}
}

// Reprioritize returns names reordered toward objective with ids starting at
// startID. Unparseable lines are dropped; if nothing parses the result is
// empty. An empty input returns without calling the provider.
func (a *PrioritizationAgent) Reprioritize(ctx context.Context, objective string, names []string, startID int) (tasks []task.Task, err error) {
	if len(names) == 0 {
		return nil, nil
	}
	ctx, span := startSpan(ctx, "agent.prioritize",
		attribute.Int("queue.pending", len(names)),
		attribute.Int("queue.start_id", startID),
	)
	defer func() {
		span.SetAttributes(attribute.Int("queue.prioritized", len(tasks)))
		endSpan(span, err)
	}()

	text, err := provider.Complete(ctx, a.Provider, prioritizationPrompt(objective, names, startID), a.Params)
	if err != nil {
		return nil, fmt.Errorf("prioritize: %w", err)
	}
	tasks, dropped, err := ParseNumberedList(text, startID)
	if errors.Is(err, ErrMalformedOutput) {
		a.logger().Warn("prioritization output had no numbered tasks", "pending", len(names), "dropped", dropped)
		return nil, nil
	}
	if dropped > 0 {
		a.logger().Warn("prioritization dropped malformed lines", "dropped", dropped, "kept", len(tasks))
	}
	return tasks, err
}

func (a *PrioritizationAgent) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
