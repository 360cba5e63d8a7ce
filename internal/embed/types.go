// Package embed adapts the external embedding collaborator: a
// deterministic, text-hash-cacheable vector embedding service reached over
// HTTP. The service itself (model choice, GPU placement, warm-up) is out of
// scope; this package only owns the client, an in-process request batcher,
// and a result cache in front of it.
package embed

import (
	"context"
	"time"
)

const (
	// DefaultTimeout bounds a single HTTP call to the embedding service.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retry attempts for transient
	// embedding service failures.
	DefaultMaxRetries = 3

	// DefaultBatchSize is the default request batch size, used when
	// config does not override it.
	DefaultBatchSize = 32

	// DefaultMaxWait bounds how long the batcher holds a request open
	// waiting for siblings to join its batch.
	DefaultMaxWait = 20 * time.Millisecond

	// DefaultCacheSize is the default embedding LRU cache entry count.
	DefaultCacheSize = 4096
)

// Embedder generates vector embeddings for text. The backing service is
// deterministic, so results are safe to cache by text hash.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one request.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier, used as part of the cache key
	// so switching models can't return a stale vector from a different one.
	ModelName() string

	// Close releases any held resources (idle HTTP connections, pending
	// batcher goroutines).
	Close() error
}
