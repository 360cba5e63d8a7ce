// Package generate implements the Generator Adapter: a
// deterministic-decoding LLM client with whole and streaming modes.
package generate

import (
	"context"
)

// Options configures a single generation call: deterministic decoding and
// a bounded token budget.
type Options struct {
	Model        string
	SystemPrompt string
	Temperature  float32 // forced to 0 by callers composing a grounded answer
	TopP         float32 // forced to 1
	MaxTokens    int
}

// Delta is a single streamed output unit. Done marks stream end; Error
// carries a terminal failure; Interrupted marks a cancellation-driven stop
// so consumers can distinguish a cancel from a normal end of stream.
type Delta struct {
	Token       string
	Done        bool
	Interrupted bool
	Error       error
}

// LLM is the Generator Adapter's collaborator contract.
type LLM interface {
	// Generate blocks until the full response is produced.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// GenerateStream returns a channel of sanitised text deltas, closed when
	// generation completes, fails, or is cancelled.
	GenerateStream(ctx context.Context, prompt string, opts Options) (<-chan Delta, error)

	// Available reports whether the backend can currently serve requests.
	Available(ctx context.Context) bool
}
