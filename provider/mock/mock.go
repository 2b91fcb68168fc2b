// Package mock provides scripted generation and deterministic embedding
// backends for tests and offline runs.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/GoCodeAlone/pawl/provider"
)

const defaultResponse = "Task acknowledged. Working on it."

// MockProvider implements provider.Provider for testing.
// It returns scripted responses and records every conversation it receives.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	respond   func(prompt string) (string, error)
	idx       int
	calls     []Call
}

// Call is one recorded Chat invocation.
type Call struct {
	Prompt string
	Params provider.Params
}

// New creates a MockProvider that cycles through the given responses.
func New(responses ...string) *MockProvider {
	return &MockProvider{responses: responses}
}

// NewFunc creates a MockProvider that answers each prompt with fn.
func NewFunc(fn func(prompt string) (string, error)) *MockProvider {
	return &MockProvider{respond: fn}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return "mock" }

// Chat returns the next scripted response, cycling through the queue.
func (m *MockProvider) Chat(_ context.Context, messages []provider.Message, params provider.Params) (*provider.Response, error) {
	var prompt strings.Builder
	for i, msg := range messages {
		if i > 0 {
			prompt.WriteString("\n")
		}
		prompt.WriteString(msg.Content)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Prompt: prompt.String(), Params: params})

	if m.respond != nil {
		content, err := m.respond(prompt.String())
		if err != nil {
			return nil, err
		}
		return &provider.Response{Content: content}, nil
	}
	if len(m.responses) == 0 {
		return &provider.Response{Content: defaultResponse}, nil
	}
	resp := m.responses[m.idx%len(m.responses)]
	m.idx++
	return &provider.Response{Content: resp}, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Embedder is a deterministic provider.Embedder based on feature hashing:
// every word increments one bucket of a fixed-size vector which is then
// L2-normalized. Texts sharing words end up close under cosine similarity.
type Embedder struct {
	dim int

	mu    sync.Mutex
	texts []string
}

// NewEmbedder returns an Embedder producing vectors of length dim.
func NewEmbedder(dim int) *Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &Embedder{dim: dim}
}

// Dimension returns the vector length.
func (e *Embedder) Dimension() int { return e.dim }

// Embed hashes the words of text into a normalized vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	text = provider.EmbeddingInput(text)

	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()

	vec := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// Texts returns the inputs Embed has seen, in order.
func (e *Embedder) Texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.texts))
	copy(out, e.texts)
	return out
}
