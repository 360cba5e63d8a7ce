package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	govragerrors "github.com/govrag/govrag/internal/errors"
)

// HTTPConfig configures the HTTP embedding client.
type HTTPConfig struct {
	// Endpoint is the embedding service's base URL, e.g. http://localhost:11434.
	Endpoint string
	// Model is the embedding model name sent with every request.
	Model string
	// Dimensions overrides auto-detection (0 = detect from the first call).
	Dimensions int
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// MaxRetries is the number of retry attempts for transient failures.
	MaxRetries int
}

// DefaultHTTPConfig returns sensible defaults for HTTPConfig.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Endpoint:   "http://localhost:11434",
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// embedRequest is the embedding service's request body (Ollama-compatible
// /api/embed shape: input is a string for a single text, []string for a
// batch).
type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// embedResponse is the embedding service's response body.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// HTTPEmbedder calls an external embedding service over HTTP. It is
// deliberately a single-provider client: the embedding model is an opaque
// external collaborator, so there is exactly one way in (an HTTP endpoint),
// not a chain of local-process fallbacks.
type HTTPEmbedder struct {
	client *http.Client
	cfg    HTTPConfig
	dims   int
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates an HTTP-backed embedder. Dimensions are
// auto-detected from the first successful call when cfg.Dimensions is 0.
func NewHTTPEmbedder(cfg HTTPConfig) (*HTTPEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embed: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &HTTPEmbedder{
		client: &http.Client{},
		cfg:    cfg,
		dims:   cfg.Dimensions,
	}, nil
}

// Embed generates the embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single request.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embed(ctx, texts)
}

func (e *HTTPEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	retryCfg := govragerrors.DefaultRetryConfig()
	retryCfg.MaxRetries = e.cfg.MaxRetries
	retryCfg.InitialDelay = 500 * time.Millisecond
	retryCfg.MaxDelay = 8 * time.Second

	var resp *embedResponse
	err = govragerrors.Retry(ctx, retryCfg, func() error {
		r, doErr := e.doRequest(ctx, body)
		if doErr != nil {
			return doErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: service returned %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	if e.dims == 0 && len(resp.Embeddings) > 0 {
		e.dims = len(resp.Embeddings[0])
	}
	return resp.Embeddings, nil
}

func (e *HTTPEmbedder) doRequest(ctx context.Context, body []byte) (*embedResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(e.cfg.Endpoint, "/") + "/api/embed"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embed: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out embedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	return &out, nil
}

// Dimensions returns the embedding dimension, 0 until the first successful call
// if it was not configured explicitly.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the configured model identifier.
func (e *HTTPEmbedder) ModelName() string {
	return e.cfg.Model
}

// Close releases idle connections held by the underlying HTTP client.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
