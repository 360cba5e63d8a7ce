package generate

import (
	"bufio"
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

// DefaultBaseURL is the default Ollama API endpoint.
const DefaultBaseURL = "http://localhost:11434"

// OllamaClient implements LLM using the Ollama generate API, with forced
// deterministic decoding (temperature 0, top-p 1) regardless of caller
// input.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	model      string
}

// Option is a functional option for configuring OllamaClient.
type Option func(*OllamaClient)

// WithBaseURL sets a custom base URL for the Ollama API.
func WithBaseURL(url string) Option {
	return func(c *OllamaClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *OllamaClient) {
		c.httpClient = client
	}
}

// WithModel sets the default model for the client.
func WithModel(model string) Option {
	return func(c *OllamaClient) {
		c.model = model
	}
}

// NewOllamaClient creates a new Ollama-backed generator.
func NewOllamaClient(opts ...Option) *OllamaClient {
	c := &OllamaClient{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		model: "llama3.2",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate sends a prompt to Ollama and returns the complete, think-tag
// stripped response. Transient failures (connection resets, 5xx) are retried
// with backoff; a non-streaming answer can afford the extra latency that
// GenerateStream, already driving a live SSE-like connection, cannot.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	retryCfg := govragerrors.DefaultRetryConfig()
	retryCfg.MaxRetries = 2
	retryCfg.InitialDelay = 500 * time.Millisecond
	retryCfg.MaxDelay = 4 * time.Second

	return govragerrors.RetryWithResult(ctx, retryCfg, func() (string, error) {
		return c.generateOnce(ctx, prompt, opts)
	})
}

func (c *OllamaClient) generateOnce(ctx context.Context, prompt string, opts Options) (string, error) {
	req, err := c.buildRequest(ctx, prompt, opts, false)
	if err != nil {
		return "", fmt.Errorf("generate: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("generate: backend returned status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("generate: decode response: %w", err)
	}

	return StripThink(result.Response), nil
}

// GenerateStream sends a prompt to Ollama and streams sanitised deltas.
// Cancellation closes the upstream connection and the channel receives a
// final Delta with Interrupted=true.
func (c *OllamaClient) GenerateStream(ctx context.Context, prompt string, opts Options) (<-chan Delta, error) {
	req, err := c.buildRequest(ctx, prompt, opts, true)
	if err != nil {
		return nil, fmt.Errorf("generate: build request: %w", err)
	}

	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("generate: backend returned status %d: %s", resp.StatusCode, string(body))
	}

	out := make(chan Delta)
	filter := newThinkFilter()

	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)

		for {
			select {
			case <-ctx.Done():
				out <- Delta{Done: true, Interrupted: true}
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					if tail := filter.flush(); tail != "" {
						out <- Delta{Token: tail}
					}
					out <- Delta{Done: true}
					return
				}
				if ctx.Err() != nil {
					out <- Delta{Done: true, Interrupted: true}
					return
				}
				out <- Delta{Done: true, Error: fmt.Errorf("generate: reading stream: %w", err)}
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			var streamResp ollamaResponse
			if err := json.Unmarshal(line, &streamResp); err != nil {
				out <- Delta{Done: true, Error: fmt.Errorf("generate: parsing stream chunk: %w", err)}
				return
			}

			if text := filter.feed(streamResp.Response); text != "" {
				select {
				case <-ctx.Done():
					out <- Delta{Done: true, Interrupted: true}
					return
				case out <- Delta{Token: text}:
				}
			}

			if streamResp.Done {
				if tail := filter.flush(); tail != "" {
					out <- Delta{Token: tail}
				}
				out <- Delta{Done: true}
				return
			}
		}
	}()

	return out, nil
}

// Available probes the backend with a lightweight request to its root
// endpoint.
func (c *OllamaClient) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
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

func (c *OllamaClient) buildRequest(ctx context.Context, prompt string, opts Options, stream bool) (*http.Request, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	reqBody := ollamaRequest{
		Model:  model,
		Prompt: prompt,
		System: opts.SystemPrompt,
		Stream: stream,
		// Deterministic decoding is mandatory for grounded answers,
		// irrespective of what the caller set.
		Options: map[string]any{
			"temperature": float32(0),
			"top_p":       float32(1),
		},
	}
	if opts.MaxTokens > 0 {
		reqBody.Options["num_predict"] = opts.MaxTokens
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

var _ LLM = (*OllamaClient)(nil)
