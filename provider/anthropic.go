package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
	anthropicAPIVersion       = "2023-06-01"
)

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// AnthropicProvider implements Provider using the Anthropic Messages API.
// Frequency and presence penalties have no Messages API equivalent and are
// ignored.
type AnthropicProvider struct {
	config AnthropicConfig
}

// NewAnthropicProvider creates a new Anthropic provider with the given config.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &AnthropicProvider{config: cfg}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// anthropicRequest is the request body for the Messages API.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the response from the Messages API.
type anthropicResponse struct {
	ID      string              `json:"id"`
	Type    string              `json:"type"`
	Content []anthropicRespItem `json:"content"`
	Usage   anthropicUsage      `json:"usage"`
	Error   *anthropicError     `json:"error,omitempty"`
}

type anthropicRespItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, params Params) (*Response, error) {
	data, err := json.Marshal(p.buildRequest(messages, params))
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: marshal request: %w", ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: create request: %w", ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: send request: %w", ErrGeneration, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: read response: %w", ErrGeneration, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: anthropic: API error (status %d): %s", ErrGeneration, resp.StatusCode, truncate(string(body), 500))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: anthropic: unmarshal response: %w", ErrGeneration, err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%w: anthropic: %s: %s", ErrGeneration, apiResp.Error.Type, apiResp.Error.Message)
	}

	var text strings.Builder
	for _, item := range apiResp.Content {
		if item.Type == "text" {
			text.WriteString(item.Text)
		}
	}
	return &Response{
		Content: text.String(),
		Usage: Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}, nil
}

// buildRequest lifts system messages into the top-level system field; the
// Messages API rejects them inline.
func (p *AnthropicProvider) buildRequest(messages []Message, params Params) *anthropicRequest {
	req := &anthropicRequest{
		Model:       p.config.Model,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultAnthropicMaxTokens
	}
	// Anthropic caps temperature at 1.
	if req.Temperature > 1 {
		req.Temperature = 1
	}

	var system []string
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	req.System = strings.Join(system, "\n\n")
	return req
}
