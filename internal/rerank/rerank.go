// Package rerank implements the reranker collaborator as an HTTP client
// against a local cross-encoder model server: functional options, a single
// *http.Client with a generation-scale timeout, and a thin request/response
// envelope around a local model endpoint.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/govrag/govrag/internal/search"
)

// DefaultBaseURL is the default local reranker endpoint.
const DefaultBaseURL = "http://localhost:8931"

// Client implements search.Reranker against a cross-encoder model server
// exposing a /rerank endpoint: rerank(query, [chunk_text]) -> [score].
type Client struct {
	baseURL    string
	httpClient *http.Client
	model      string
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL for the reranker server.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithModel sets the cross-encoder model ID the server should load.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// New creates a reranker client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponseItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type rerankResponse struct {
	Results []rerankResponseItem `json:"results"`
}

// Rerank scores query/document pairs via the model server and returns them
// sorted by score descending. The deterministic tie-break on equal scores
// is the caller's responsibility, since rerank scores alone rarely tie
// exactly.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topK int) ([]search.RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	reqBody := rerankRequest{Model: c.model, Query: query, Documents: documents, TopK: topK}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("rerank: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("rerank: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank: server returned status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("rerank: decode response: %w", err)
	}

	results := make([]search.RerankResult, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			continue
		}
		results = append(results, search.RerankResult{
			Index:    item.Index,
			Score:    item.Score,
			Document: documents[item.Index],
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Index < results[j].Index
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}

	return results, nil
}

// Available probes the reranker server's health endpoint.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources. The HTTP client owns no closable state.
func (c *Client) Close() error {
	return nil
}

var _ search.Reranker = (*Client)(nil)
