package embed

import (
	"context"
	"sync"
	"time"
)

// Batcher coalesces concurrent Embed calls into EmbedBatch requests: a
// caller's request joins whatever batch is currently open and waits
// at most MaxWait before the batch is flushed, even if it never fills up to
// MaxBatchSize. This amortizes per-request network overhead to the
// embedding service without making any single caller wait longer than
// necessary.
type Batcher struct {
	inner        Embedder
	maxBatchSize int
	maxWait      time.Duration

	mu      sync.Mutex
	pending []batchItem
	timer   *time.Timer
}

type batchItem struct {
	text   string
	result chan<- batchResult
}

type batchResult struct {
	vec []float32
	err error
}

var _ Embedder = (*Batcher)(nil)

// NewBatcher wraps inner with request batching. maxBatchSize <= 0 uses
// DefaultBatchSize; maxWait <= 0 uses DefaultMaxWait.
func NewBatcher(inner Embedder, maxBatchSize int, maxWait time.Duration) *Batcher {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultBatchSize
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Batcher{
		inner:        inner,
		maxBatchSize: maxBatchSize,
		maxWait:      maxWait,
	}
}

// Embed joins the batcher's currently open batch and blocks until that
// batch is flushed (by size or by MaxWait) and a result is available, or
// until ctx is done.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	resultCh := make(chan batchResult, 1)
	b.enqueue(text, resultCh)

	select {
	case res := <-resultCh:
		return res.vec, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EmbedBatch bypasses the batcher and calls straight through: the caller
// has already formed its own batch, so there is nothing to coalesce.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return b.inner.EmbedBatch(ctx, texts)
}

func (b *Batcher) enqueue(text string, result chan<- batchResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, batchItem{text: text, result: result})

	if len(b.pending) >= b.maxBatchSize {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		batch := b.pending
		b.pending = nil
		go b.flush(batch)
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxWait, b.flushOnTimer)
	}
}

func (b *Batcher) flushOnTimer() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
}

func (b *Batcher) flush(batch []batchItem) {
	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.text
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	vecs, err := b.inner.EmbedBatch(ctx, texts)
	for i, item := range batch {
		if err != nil {
			item.result <- batchResult{err: err}
			continue
		}
		item.result <- batchResult{vec: vecs[i]}
	}
}

// Dimensions passes through to the wrapped embedder.
func (b *Batcher) Dimensions() int { return b.inner.Dimensions() }

// ModelName passes through to the wrapped embedder.
func (b *Batcher) ModelName() string { return b.inner.ModelName() }

// Close flushes any pending batch synchronously, then closes the inner
// embedder.
func (b *Batcher) Close() error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
	return b.inner.Close()
}
