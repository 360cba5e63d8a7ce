package generate

import (
	"context"

	govragerrors "github.com/govrag/govrag/internal/errors"
)

// CircuitBreakingLLM wraps an LLM backend with a circuit breaker: once the
// wrapped backend has
// failed enough consecutive calls, further calls fail fast with
// ModelUnavailable instead of blocking on a backend that is down, and
// generation resumes automatically once the breaker's reset timeout elapses
// and a probe call succeeds.
type CircuitBreakingLLM struct {
	inner LLM
	cb    *govragerrors.CircuitBreaker
}

// WrapWithCircuitBreaker returns inner protected by a named circuit breaker.
func WrapWithCircuitBreaker(inner LLM, name string) *CircuitBreakingLLM {
	return &CircuitBreakingLLM{
		inner: inner,
		cb:    govragerrors.NewCircuitBreaker(name),
	}
}

func (c *CircuitBreakingLLM) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if !c.cb.Allow() {
		return "", govragerrors.New(govragerrors.ErrCodeModelUnavailable, c.cb.Name()+" backend circuit is open", govragerrors.ErrCircuitOpen)
	}
	text, err := c.inner.Generate(ctx, prompt, opts)
	if err != nil {
		c.cb.RecordFailure()
		return "", err
	}
	c.cb.RecordSuccess()
	return text, nil
}

func (c *CircuitBreakingLLM) GenerateStream(ctx context.Context, prompt string, opts Options) (<-chan Delta, error) {
	if !c.cb.Allow() {
		return nil, govragerrors.New(govragerrors.ErrCodeModelUnavailable, c.cb.Name()+" backend circuit is open", govragerrors.ErrCircuitOpen)
	}
	deltas, err := c.inner.GenerateStream(ctx, prompt, opts)
	if err != nil {
		c.cb.RecordFailure()
		return nil, err
	}

	out := make(chan Delta)
	go func() {
		defer close(out)
		failed := false
		for d := range deltas {
			if d.Error != nil {
				failed = true
			}
			out <- d
		}
		if failed {
			c.cb.RecordFailure()
		} else {
			c.cb.RecordSuccess()
		}
	}()
	return out, nil
}

func (c *CircuitBreakingLLM) Available(ctx context.Context) bool {
	return c.cb.Allow() && c.inner.Available(ctx)
}

var _ LLM = (*CircuitBreakingLLM)(nil)
