package embed

import (
	"context"
	"testing"
)

// countingEmbedder embeds deterministically by text length and counts calls,
// so tests can assert the cache actually avoids recomputation.
type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text))}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, _ := c.Embed(ctx, t)
		out[i] = vec
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int   { return 1 }
func (c *countingEmbedder) ModelName() string { return "counting" }
func (c *countingEmbedder) Close() error      { return nil }

func TestCachedEmbedder_Embed_CachesRepeatedText(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 16)

	if _, err := c.Embed(context.Background(), "질문"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if _, err := c.Embed(context.Background(), "질문"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("expected 1 underlying call for a repeated text, got %d", inner.calls)
	}
}

func TestCachedEmbedder_EmbedBatch_PartialCacheHit(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 16)

	if _, err := c.Embed(context.Background(), "a"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	inner.calls = 0

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 results, got %d", len(vecs))
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 underlying calls (one per uncached text), got %d", inner.calls)
	}
}

func TestCachedEmbedder_Close_ClosesInner(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 16)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
