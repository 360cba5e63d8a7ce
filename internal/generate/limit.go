package generate

import (
	"context"

	govragerrors "github.com/govrag/govrag/internal/errors"
)

// LimitedLLM bounds concurrent calls into the backing LLM with a global
// semaphore so a burst of chat turns cannot overrun the local model server.
// An excess caller waits until a slot frees or its context expires, in which
// case the call fails with an Overloaded error instead of a bare timeout.
type LimitedLLM struct {
	inner LLM
	slots chan struct{}
}

// WrapWithConcurrencyLimit returns inner bounded to maxConcurrent in-flight
// generation calls. A streaming call holds its slot until the delta channel
// drains.
func WrapWithConcurrencyLimit(inner LLM, maxConcurrent int) *LimitedLLM {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &LimitedLLM{
		inner: inner,
		slots: make(chan struct{}, maxConcurrent),
	}
}

func (l *LimitedLLM) acquire(ctx context.Context) (func(), error) {
	select {
	case l.slots <- struct{}{}:
		return func() { <-l.slots }, nil
	case <-ctx.Done():
		return nil, govragerrors.New(govragerrors.ErrCodeOverloaded, "llm backend is at capacity", ctx.Err())
	}
}

func (l *LimitedLLM) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return l.inner.Generate(ctx, prompt, opts)
}

func (l *LimitedLLM) GenerateStream(ctx context.Context, prompt string, opts Options) (<-chan Delta, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	deltas, err := l.inner.GenerateStream(ctx, prompt, opts)
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan Delta)
	go func() {
		defer close(out)
		defer release()
		for d := range deltas {
			out <- d
		}
	}()
	return out, nil
}

func (l *LimitedLLM) Available(ctx context.Context) bool {
	return l.inner.Available(ctx)
}

var _ LLM = (*LimitedLLM)(nil)
