package agent

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/GoCodeAlone/pawl/memory"
	"github.com/GoCodeAlone/pawl/provider"
)

// ContextAgent retrieves previously completed work related to a query.
type ContextAgent struct {
	Embedder provider.Embedder
	Store    memory.Store
}

// NewContextAgent returns a ContextAgent reading from store.
func NewContextAgent(e provider.Embedder, store memory.Store) *ContextAgent {
	return &ContextAgent{Embedder: e, Store: store}
}

// Retrieve returns the task names of up to k stored results most similar to
// query, most similar first.
func (a *ContextAgent) Retrieve(ctx context.Context, query string, k int) (names []string, err error) {
	ctx, span := startSpan(ctx, "agent.context", attribute.Int("context.k", k))
	defer func() {
		span.SetAttributes(attribute.Int("context.matches", len(names)))
		endSpan(span, err)
	}()

	matches, err := a.Matches(ctx, query, k)
	if err != nil {
		return nil, err
	}
	names = make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Metadata[memory.KeyTask])
	}
	return names, nil
}

// Matches returns up to k raw matches for query ordered by descending score.
func (a *ContextAgent) Matches(ctx context.Context, query string, k int) ([]memory.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := a.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("context: embed query: %w", err)
	}
	matches, err := a.Store.Query(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("context: query memory: %w", err)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
