package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// ModelInfo describes an available model from a provider.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListModels fetches available models from the given provider type.
// Only requires an API key and optional base URL.
func ListModels(ctx context.Context, providerType, apiKey, baseURL string) ([]ModelInfo, error) {
	switch providerType {
	case "anthropic":
		return listAnthropicModels(ctx, apiKey, baseURL)
	case "openai":
		return listOpenAIModels(ctx, apiKey, baseURL)
	case "mock":
		return []ModelInfo{
			{ID: "mock-default", Name: "Mock Provider"},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}

// listAnthropicModels calls the Anthropic /v1/models endpoint.
func listAnthropicModels(ctx context.Context, apiKey, baseURL string) ([]ModelInfo, error) {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	body, err := getModels(ctx, baseURL+"/v1/models", func(req *http.Request) {
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			Type        string `json:"type"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var models []ModelInfo
	for _, m := range result.Data {
		if m.Type != "" && m.Type != "model" {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		models = append(models, ModelInfo{ID: m.ID, Name: name})
	}
	sortModels(models)
	return models, nil
}

// listOpenAIModels calls the OpenAI /v1/models endpoint. Both chat and
// embedding models are returned since the loop needs one of each.
func listOpenAIModels(ctx context.Context, apiKey, baseURL string) ([]ModelInfo, error) {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	body, err := getModels(ctx, baseURL+"/v1/models", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	prefixes := []string{"gpt-", "o1", "o3", "o4", "chatgpt", "text-embedding"}
	var models []ModelInfo
	for _, m := range result.Data {
		lower := strings.ToLower(m.ID)
		for _, prefix := range prefixes {
			if strings.HasPrefix(lower, prefix) {
				models = append(models, ModelInfo{ID: m.ID, Name: m.ID})
				break
			}
		}
	}
	sortModels(models)
	return models, nil
}

func getModels(ctx context.Context, url string, auth func(*http.Request)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	auth(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func sortModels(models []ModelInfo) {
	sort.Slice(models, func(i, j int) bool {
		return models[i].ID < models[j].ID
	})
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
