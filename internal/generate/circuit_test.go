package generate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	govragerrors "github.com/govrag/govrag/internal/errors"
)

type fakeLLM struct {
	err  error
	text string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts Options) (<-chan Delta, error) {
	out := make(chan Delta, 1)
	if f.err != nil {
		out <- Delta{Done: true, Error: f.err}
	} else {
		out <- Delta{Token: f.text, Done: true}
	}
	close(out)
	return out, nil
}

func (f *fakeLLM) Available(ctx context.Context) bool { return f.err == nil }

func TestCircuitBreakingLLM_TripsAfterRepeatedFailures(t *testing.T) {
	inner := &fakeLLM{err: errors.New("backend down")}
	wrapped := WrapWithCircuitBreaker(inner, "test-llm")

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = wrapped.Generate(context.Background(), "q", Options{})
	}
	require.Error(t, lastErr)

	_, err := wrapped.Generate(context.Background(), "q", Options{})
	require.Error(t, err)
	var govErr *govragerrors.GovRAGError
	require.ErrorAs(t, err, &govErr)
	assert.Equal(t, govragerrors.ErrCodeModelUnavailable, govErr.Code)
}

func TestCircuitBreakingLLM_PassesThroughOnSuccess(t *testing.T) {
	inner := &fakeLLM{text: "answer"}
	wrapped := WrapWithCircuitBreaker(inner, "test-llm")

	text, err := wrapped.Generate(context.Background(), "q", Options{})
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
}

func TestCircuitBreakingLLM_StreamRecordsFailure(t *testing.T) {
	inner := &fakeLLM{err: errors.New("stream broke")}
	wrapped := WrapWithCircuitBreaker(inner, "test-stream")

	deltas, err := wrapped.GenerateStream(context.Background(), "q", Options{})
	require.NoError(t, err)

	var sawErr bool
	for d := range deltas {
		if d.Error != nil {
			sawErr = true
		}
	}
	assert.True(t, sawErr)
}
