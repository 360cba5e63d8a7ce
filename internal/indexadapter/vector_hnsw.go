package indexadapter

import (
	"context"
	"fmt"

	"github.com/govrag/govrag/internal/store"
)

// HNSWVectorIndex is the default VectorIndex, backed by the coder/hnsw
// HNSWStore. allowed_doc_ids filtering happens post-search: HNSW has no
// native predicate filter, so the adapter over-fetches (k times an
// overfetch factor) and drops chunks outside the scope.
type HNSWVectorIndex struct {
	store     *store.HNSWStore
	chunks    ChunkStore
	dimension int
}

// NewHNSWVectorIndex wraps an existing HNSWStore. dimension is the
// embedding dimensionality the index was built with; query-time embeddings
// of a different dimension must fail loudly.
func NewHNSWVectorIndex(s *store.HNSWStore, chunks ChunkStore, dimension int) *HNSWVectorIndex {
	return &HNSWVectorIndex{store: s, chunks: chunks, dimension: dimension}
}

// Dimension reports the dimensionality the underlying index was built with.
func (v *HNSWVectorIndex) Dimension() int {
	return v.dimension
}

// overfetchFactor bounds how much we over-fetch from HNSW to compensate for
// post-search doc_id filtering without a second index round-trip.
const overfetchFactor = 4

// Search returns up to k chunks ranked by vector similarity, restricted to
// allowedDocIDs when non-empty.
func (v *HNSWVectorIndex) Search(ctx context.Context, embedding []float32, k int, allowedDocIDs []string) ([]ScoredChunk, error) {
	if len(embedding) != v.dimension {
		return nil, fmt.Errorf("indexadapter: query embedding dimension %d does not match index dimension %d", len(embedding), v.dimension)
	}

	fetchK := k
	if len(allowedDocIDs) > 0 {
		fetchK = k * overfetchFactor
	}

	raw, err := v.store.Search(ctx, embedding, fetchK)
	if err != nil {
		return nil, fmt.Errorf("indexadapter: vector search: %w", err)
	}

	var allow map[string]bool
	if len(allowedDocIDs) > 0 {
		allow = make(map[string]bool, len(allowedDocIDs))
		for _, id := range allowedDocIDs {
			allow[id] = true
		}
	}

	out := make([]ScoredChunk, 0, len(raw))
	var ids []string
	for _, r := range raw {
		ids = append(ids, r.ID)
	}
	var docByChunk map[string]string
	if allow != nil && v.chunks != nil {
		chunks, err := v.chunks.Get(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("indexadapter: resolve doc_id for scope filter: %w", err)
		}
		docByChunk = make(map[string]string, len(chunks))
		for _, c := range chunks {
			docByChunk[c.ChunkID] = c.DocID
		}
	}

	rank := 0
	for _, r := range raw {
		if allow != nil {
			docID, known := docByChunk[r.ID]
			if !known || !allow[docID] {
				continue
			}
		}
		rank++
		out = append(out, ScoredChunk{ChunkID: r.ID, Score: float64(r.Score), Rank: rank})
		if rank >= k {
			break
		}
	}
	return out, nil
}
