// Package llmclient implements a generator adapter against any
// OpenAI-compatible `/v1/chat/completions` endpoint — the adapter the
// Chat Orchestrator uses when the LLM backend is a local server (e.g.
// llama.cpp, vLLM, or Ollama's OpenAI-compatible surface) rather than
// Ollama's native API (internal/generate.OllamaClient). Streaming decode
// uses a buffered SSE line reader.
package llmclient

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

	"github.com/govrag/govrag/internal/errors"
	"github.com/govrag/govrag/internal/generate"
)

// Client is an OpenAI/Ollama-chat-completions-compatible Generator Adapter.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent as Authorization.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the client used for whole-response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New constructs a Client against baseURL (e.g. "http://localhost:8080/v1").
func New(baseURL, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	TopP        float32       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
	Delta   chatMessage `json:"delta"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

func (c *Client) buildRequest(ctx context.Context, prompt string, opts generate.Options, stream bool) (*http.Request, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: opts.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		// Deterministic decoding is mandatory regardless of caller input.
		Temperature: 0,
		TopP:        1,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// Generate blocks until the full response is produced.
func (c *Client) Generate(ctx context.Context, prompt string, opts generate.Options) (string, error) {
	req, err := c.buildRequest(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.GenerationError("llm backend request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", errors.GenerationError(fmt.Sprintf("llm backend returned status %d: %s", resp.StatusCode, string(body)), nil)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.GenerationError("decoding llm backend response", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.GenerationError("llm backend returned no choices", nil)
	}
	return generate.StripThink(out.Choices[0].Message.Content), nil
}

// GenerateStream decodes an SSE-formatted `data: {...}` stream of chat
// completion chunks into sanitised text deltas.
func (c *Client) GenerateStream(ctx context.Context, prompt string, opts generate.Options) (<-chan generate.Delta, error) {
	req, err := c.buildRequest(ctx, prompt, opts, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.GenerationError("llm backend request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, errors.GenerationError(fmt.Sprintf("llm backend returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	out := make(chan generate.Delta)
	filter := generate.NewThinkFilter()

	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		for {
			select {
			case <-ctx.Done():
				out <- generate.Delta{Done: true, Interrupted: true}
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					if tail := filter.Flush(); tail != "" {
						out <- generate.Delta{Token: tail}
					}
					out <- generate.Delta{Done: true}
					return
				}
				if ctx.Err() != nil {
					out <- generate.Delta{Done: true, Interrupted: true}
					return
				}
				out <- generate.Delta{Done: true, Error: fmt.Errorf("llmclient: reading stream: %w", err)}
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			payload := bytes.TrimSpace(line[len("data:"):])
			if string(payload) == "[DONE]" {
				if tail := filter.Flush(); tail != "" {
					out <- generate.Delta{Token: tail}
				}
				out <- generate.Delta{Done: true}
				return
			}

			var chunk chatResponse
			if err := json.Unmarshal(payload, &chunk); err != nil {
				out <- generate.Delta{Done: true, Error: fmt.Errorf("llmclient: parsing stream chunk: %w", err)}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := filter.Feed(chunk.Choices[0].Delta.Content); text != "" {
				select {
				case <-ctx.Done():
					out <- generate.Delta{Done: true, Interrupted: true}
					return
				case out <- generate.Delta{Token: text}:
				}
			}
		}
	}()

	return out, nil
}

// Available probes the backend's models endpoint.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

var _ generate.LLM = (*Client)(nil)
