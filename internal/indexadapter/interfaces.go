// Package indexadapter binds the retrieval pipeline to the external lexical
// and vector index engines, and to the chunk metadata store. These engines
// are deliberately out of scope for this module: the ingest pipeline that
// produces Chunk records and populates the indexes runs elsewhere. This
// package only exposes the read-side collaborator contracts, plus default
// local-engine implementations so the system is runnable standalone.
package indexadapter

import (
	"context"

	"github.com/govrag/govrag/internal/model"
)

// ScoredChunk is a single hit from a lexical or vector search: a chunk_id,
// the engine's native score, and its 1-based rank within that engine's
// result list.
type ScoredChunk struct {
	ChunkID string
	Score   float64
	Rank    int
}

// LexicalIndex is the index collaborator's lexical-search facet:
// lexical.search(query, k, allowed_doc_ids?).
type LexicalIndex interface {
	Search(ctx context.Context, query string, k int, allowedDocIDs []string) ([]ScoredChunk, error)
}

// VectorIndex is the index collaborator's vector-search facet:
// vector.search(embedding, k, allowed_doc_ids?).
//
// Dimension returns the dimensionality the index was built with, so callers
// can fail loudly (RetrievalUnavailable) on an embedder/index mismatch
// instead of silently degrading.
type VectorIndex interface {
	Search(ctx context.Context, embedding []float32, k int, allowedDocIDs []string) ([]ScoredChunk, error)
	Dimension() int
}

// ChunkStore is the index collaborator's metadata facet:
// chunks.get(ids) -> [Chunk].
type ChunkStore interface {
	Get(ctx context.Context, ids []string) ([]model.Chunk, error)
}
