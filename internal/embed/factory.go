package embed

import (
	"fmt"
	"time"
)

// Config configures the embedding collaborator adapter end to end: the HTTP
// client, the in-process request batcher, and the result cache in front of
// both.
type Config struct {
	Endpoint   string
	Model      string
	Dimensions int
	BatchSize  int
	MaxWait    time.Duration
	CacheSize  int
	Timeout    time.Duration
	MaxRetries int
}

// New builds the full Embedder stack: HTTPEmbedder -> Batcher -> CachedEmbedder.
// EmbedBatch calls bypass the batcher (the caller already formed its batch)
// but still benefit from the cache.
func New(cfg Config) (Embedder, error) {
	client, err := NewHTTPEmbedder(HTTPConfig{
		Endpoint:   cfg.Endpoint,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	batched := NewBatcher(client, cfg.BatchSize, cfg.MaxWait)
	cached := NewCachedEmbedder(batched, cfg.CacheSize)
	return cached, nil
}
