// Package provider defines the text-generation and embedding backends the
// task loop talks to.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrGeneration marks a failure of the text-generation capability.
var ErrGeneration = errors.New("generation failed")

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Params are the sampling parameters of a single generation call.
type Params struct {
	Temperature      float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens        int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	TopP             float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty" yaml:"frequency_penalty" toml:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty" yaml:"presence_penalty" toml:"presence_penalty"`
}

// Response is a completed provider response.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider is a text-generation backend.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "openai", "mock").
	Name() string

	// Chat sends the conversation and returns the complete response.
	Chat(ctx context.Context, messages []Message, params Params) (*Response, error)
}

// Complete sends prompt as a single user message and returns the trimmed
// generated text. Every failure wraps ErrGeneration.
func Complete(ctx context.Context, p Provider, prompt string, params Params) (string, error) {
	resp, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, params)
	if err != nil {
		if errors.Is(err, ErrGeneration) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %w", ErrGeneration, p.Name(), err)
	}
	return strings.TrimSpace(resp.Content), nil
}
