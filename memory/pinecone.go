package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const pineconeAPIVersion = "2024-07"

// PineconeConfig configures a PineconeStore. Host is the data-plane host of
// an existing index, e.g. "https://your-table-abc123.svc.us-east4-gcp.pinecone.io".
type PineconeConfig struct {
	APIKey     string
	Host       string
	Namespace  string
	Dimension  int
	HTTPClient *http.Client
}

// PineconeStore is a Store backed by the Pinecone REST data plane.
type PineconeStore struct {
	config PineconeConfig
}

// NewPineconeStore returns a store for the index at cfg.Host.
func NewPineconeStore(cfg PineconeConfig) (*PineconeStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: pinecone: index host is required", ErrStore)
	}
	if !strings.HasPrefix(cfg.Host, "http://") && !strings.HasPrefix(cfg.Host, "https://") {
		cfg.Host = "https://" + cfg.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &PineconeStore{config: cfg}, nil
}

type pineconeVector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace,omitempty"`
}

type pineconeQueryRequest struct {
	Namespace       string    `json:"namespace,omitempty"`
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
	IncludeValues   bool      `json:"includeValues"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
	Namespace string `json:"namespace"`
}

// Upsert writes rec to the index.
func (s *PineconeStore) Upsert(ctx context.Context, rec Record) error {
	if s.config.Dimension > 0 && len(rec.Vector) != s.config.Dimension {
		return fmt.Errorf("%w: pinecone: record %s has %d dimensions, want %d", ErrStore, rec.ID, len(rec.Vector), s.config.Dimension)
	}
	body := pineconeUpsertRequest{
		Vectors:   []pineconeVector{{ID: rec.ID, Values: rec.Vector, Metadata: rec.Metadata}},
		Namespace: s.config.Namespace,
	}
	if _, err := s.post(ctx, "/vectors/upsert", body); err != nil {
		return storeErr("pinecone", "upsert "+rec.ID, err)
	}
	return nil
}

// Query asks the index for the k nearest vectors with metadata included.
func (s *PineconeStore) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	data, err := s.post(ctx, "/query", pineconeQueryRequest{
		Namespace:       s.config.Namespace,
		Vector:          vector,
		TopK:            k,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, storeErr("pinecone", "query", err)
	}

	var resp pineconeQueryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, storeErr("pinecone", "unmarshal query response", err)
	}
	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		meta := make(map[string]string, len(m.Metadata))
		for key, v := range m.Metadata {
			if str, ok := v.(string); ok {
				meta[key] = str
			} else {
				meta[key] = fmt.Sprint(v)
			}
		}
		matches = append(matches, Match{ID: m.ID, Score: m.Score, Metadata: meta})
	}
	return matches, nil
}

// Close is a no-op; the HTTP client holds no per-store resources.
func (s *PineconeStore) Close() error { return nil }

func (s *PineconeStore) post(ctx context.Context, path string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Host+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", s.config.APIKey)
	req.Header.Set("X-Pinecone-API-Version", pineconeAPIVersion)

	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 300 {
			msg = msg[:300] + "..."
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, msg)
	}
	return body, nil
}
