package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"polyglotd/backend/internal/retrieval"
	"polyglotd/backend/internal/settings"
)

// Client scores candidate passages against a query using an external
// cross-encoder API. Provider and API key come from runtime settings, with
// fallback values supplied at construction.
type Client struct {
	settingsSvc      *settings.Service
	defaultProvider  string
	defaultAPIKey    string
	client           *http.Client
	baseURL          string
}

func NewClient(svc *settings.Service, provider, apiKey string) *Client {
	return &Client{
		settingsSvc:     svc,
		defaultProvider: provider,
		defaultAPIKey:   apiKey,
		client:          &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

func (c *Client) Score(ctx context.Context, query string, docs []string) ([]retrieval.ScoredIndex, error) {
	provider, apiKey := c.resolveProvider(ctx)

	if provider == "jina" {
		return c.scoreJina(ctx, apiKey, query, docs)
	}
	if provider == "cohere" {
		return c.scoreCohere(ctx, apiKey, query, docs)
	}
	// No provider configured: identity order with neutral scores.
	scored := make([]retrieval.ScoredIndex, len(docs))
	for i := range scored {
		scored[i] = retrieval.ScoredIndex{Index: i, Score: 0}
	}
	return scored, nil
}

func (c *Client) resolveProvider(ctx context.Context) (string, string) {
	provider, apiKey := c.defaultProvider, c.defaultAPIKey
	if c.settingsSvc == nil {
		return provider, apiKey
	}
	s, err := c.settingsSvc.Get(ctx)
	if err != nil {
		return provider, apiKey
	}
	if s.RerankProvider != "" {
		provider = s.RerankProvider
	}
	if s.RerankAPIKey != "" {
		apiKey = s.RerankAPIKey
	}
	return provider, apiKey
}

func (c *Client) scoreJina(ctx context.Context, apiKey, query string, docs []string) ([]retrieval.ScoredIndex, error) {
	url := "https://api.jina.ai/v1/rerank"
	if c.baseURL != "" {
		url = c.baseURL
	}

	reqBody := map[string]interface{}{
		"model":     "jina-reranker-v2-base-multilingual",
		"query":     query,
		"documents": docs,
	}

	return c.post(ctx, url, apiKey, "jina", reqBody, len(docs))
}

func (c *Client) scoreCohere(ctx context.Context, apiKey, query string, docs []string) ([]retrieval.ScoredIndex, error) {
	url := "https://api.cohere.ai/v1/rerank"
	if c.baseURL != "" {
		url = c.baseURL
	}

	reqBody := map[string]interface{}{
		"model":            "rerank-multilingual-v3.0",
		"query":            query,
		"documents":        docs,
		"top_n":            len(docs),
		"return_documents": false,
	}

	return c.post(ctx, url, apiKey, "cohere", reqBody, len(docs))
}

func (c *Client) post(ctx context.Context, url, apiKey, provider string, reqBody map[string]interface{}, docCount int) ([]retrieval.ScoredIndex, error) {
	jsonBody, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%s api error: %d", provider, resp.StatusCode)
	}

	var result struct {
		Results []struct {
			Index int     `json:"index"`
			Score float64 `json:"relevance_score"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	scored := make([]retrieval.ScoredIndex, 0, docCount)
	for _, r := range result.Results {
		if r.Index >= 0 && r.Index < docCount {
			scored = append(scored, retrieval.ScoredIndex{Index: r.Index, Score: r.Score})
		}
	}

	return scored, nil
}
