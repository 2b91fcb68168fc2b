package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrEmbedding marks a failure of the embedding capability.
var ErrEmbedding = errors.New("embedding failed")

const (
	defaultEmbeddingModel = "text-embedding-ada-002"
	defaultEmbeddingDim   = 1536
)

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	// Embed returns the embedding of text. Every failure wraps ErrEmbedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the length of every vector Embed produces.
	Dimension() int
}

// EmbeddingInput normalizes text before it is embedded. Newlines are folded
// into spaces, which is what the ada family of models was trained on.
func EmbeddingInput(text string) string {
	return strings.ReplaceAll(text, "\n", " ")
}

// OpenAIEmbedderConfig configures the OpenAI embedder.
type OpenAIEmbedderConfig struct {
	APIKey     string
	Model      string // default: text-embedding-ada-002
	BaseURL    string // default: https://api.openai.com
	Dimension  int    // default: derived from Model
	HTTPClient *http.Client
}

// OpenAIEmbedder generates embeddings using the OpenAI /v1/embeddings API.
type OpenAIEmbedder struct {
	config OpenAIEmbedderConfig
}

// NewOpenAIEmbedder creates a new OpenAI embedding provider.
func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = modelDimension(cfg.Model)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAIEmbedder{config: cfg}
}

func modelDimension(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	default:
		return defaultEmbeddingDim
	}
}

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *openaiError `json:"error,omitempty"`
}

// Dimension returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimension() int { return e.config.Dimension }

// Embed generates the embedding for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	data, err := json.Marshal(openaiEmbedRequest{
		Model: e.config.Model,
		Input: []string{EmbeddingInput(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: marshal request: %w", ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/v1/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: openai: create request: %w", ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: send request: %w", ErrEmbedding, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: read response: %w", ErrEmbedding, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: openai: API error (status %d): %s", ErrEmbedding, resp.StatusCode, truncate(string(body), 500))
	}

	var embedResp openaiEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("%w: openai: unmarshal response: %w", ErrEmbedding, err)
	}
	if embedResp.Error != nil {
		return nil, fmt.Errorf("%w: openai: %s: %s", ErrEmbedding, embedResp.Error.Type, embedResp.Error.Message)
	}
	for _, d := range embedResp.Data {
		if d.Index != 0 {
			continue
		}
		if len(d.Embedding) != e.config.Dimension {
			return nil, fmt.Errorf("%w: openai: got %d dimensions, want %d", ErrEmbedding, len(d.Embedding), e.config.Dimension)
		}
		return d.Embedding, nil
	}
	return nil, fmt.Errorf("%w: openai: response has no embedding", ErrEmbedding)
}
