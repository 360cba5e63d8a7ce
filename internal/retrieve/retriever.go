// Package retrieve implements the Hybrid Retriever: parallel lexical and
// vector search, Reciprocal Rank Fusion, a per-document diversity clamp,
// and a minimum-score floor. The two searches fan out concurrently and
// degrade to a single source when one side is unavailable.
package retrieve

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	govragerrors "github.com/govrag/govrag/internal/errors"
	"github.com/govrag/govrag/internal/indexadapter"
	"github.com/govrag/govrag/internal/model"
	"github.com/govrag/govrag/internal/search"
	"github.com/govrag/govrag/internal/store"
)

// Embedder is the subset of the embedding collaborator the
// retriever needs: a single query-time embedding call.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures a single retrieval call: the search depths, fusion
// constant, tie-break weights, and the diversity/floor knobs.
type Options struct {
	AllowedDocIDs []string
	KLex          int
	KVec          int
	RRFK          int
	KOut          int
	MaxPerDoc     int
	FloorRatio    float64
	WLex          float64
	WVec          float64
	Classifier    search.Classifier
}

// Result is the Hybrid Retriever's output: a deduplicated, ranked evidence
// shortlist plus degradation metadata.
type Result struct {
	Evidences []model.Evidence
	Degraded  bool
}

// Retriever wires the index collaborator facets together.
type Retriever struct {
	Lexical  indexadapter.LexicalIndex
	Vector   indexadapter.VectorIndex
	Chunks   indexadapter.ChunkStore
	Embedder Embedder
}

// New constructs a Retriever. Vector and Embedder may be nil to run
// lexical-only (e.g. when the vector backend is known to be unavailable).
func New(lex indexadapter.LexicalIndex, vec indexadapter.VectorIndex, chunks indexadapter.ChunkStore, embedder Embedder) *Retriever {
	return &Retriever{Lexical: lex, Vector: vec, Chunks: chunks, Embedder: embedder}
}

// Retrieve executes the full hybrid search pipeline.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, opts Options) (*Result, error) {
	weights := search.Weights{BM25: opts.WLex, Semantic: opts.WVec}
	if opts.Classifier != nil {
		if _, classified, err := opts.Classifier.Classify(ctx, queryText); err == nil {
			weights = classified
		}
	}

	lexResults, vecResults, degraded, err := r.parallelSearch(ctx, queryText, opts)
	if err != nil {
		return nil, govragerrors.RetrievalError("both lexical and vector search failed", err)
	}

	bm25 := toBM25Results(lexResults)
	vecR := toVectorResults(vecResults)

	fusion := search.NewRRFFusionWithK(opts.RRFK)
	// Pure RRF is the authoritative rank; the weighted combination is
	// applied afterwards purely as a tie-break.
	fused := fusion.Fuse(bm25, vecR, search.Weights{BM25: 1, Semantic: 1})
	reorderTiesByWeight(fused, weights)

	// doc_id isn't known until chunks are resolved, so the diversity clamp
	// and score floor apply to the materialized evidences, not the raw
	// fused (chunk_id-only) results.
	evidences, err := r.materialize(ctx, fused)
	if err != nil {
		return nil, govragerrors.RetrievalError("materializing evidence chunks", err)
	}

	evidences = clampPerDoc(evidences, opts.MaxPerDoc)
	evidences = applyFloor(evidences, opts.FloorRatio)

	kOut := opts.KOut
	if kOut <= 0 || kOut > len(evidences) {
		kOut = len(evidences)
	}
	evidences = evidences[:kOut]

	return &Result{Evidences: evidences, Degraded: degraded}, nil
}

// parallelSearch runs lexical and vector search concurrently, degrading to
// single-source results when one side is unavailable.
func (r *Retriever) parallelSearch(ctx context.Context, queryText string, opts Options) ([]indexadapter.ScoredChunk, []indexadapter.ScoredChunk, bool, error) {
	var lexResults, vecResults []indexadapter.ScoredChunk
	var lexErr, vecErr error

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if r.Lexical == nil {
			lexErr = fmt.Errorf("lexical index not configured")
			return nil
		}
		res, err := r.Lexical.Search(gctx, queryText, opts.KLex, opts.AllowedDocIDs)
		if err != nil {
			lexErr = err
			return nil
		}
		lexResults = res
		return nil
	})

	g.Go(func() error {
		if r.Vector == nil || r.Embedder == nil {
			vecErr = fmt.Errorf("vector index not configured")
			return nil
		}
		emb, err := r.Embedder.Embed(gctx, queryText)
		if err != nil {
			vecErr = err
			return nil
		}
		res, err := r.Vector.Search(gctx, emb, opts.KVec, opts.AllowedDocIDs)
		if err != nil {
			vecErr = err
			return nil
		}
		vecResults = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, false, err
	}

	if lexErr != nil && vecErr != nil {
		return nil, nil, false, fmt.Errorf("lexical: %v; vector: %v", lexErr, vecErr)
	}

	return lexResults, vecResults, lexErr != nil || vecErr != nil, nil
}

func toBM25Results(scored []indexadapter.ScoredChunk) []*store.BM25Result {
	out := make([]*store.BM25Result, len(scored))
	for i, s := range scored {
		out[i] = &store.BM25Result{DocID: s.ChunkID, Score: s.Score}
	}
	return out
}

func toVectorResults(scored []indexadapter.ScoredChunk) []*store.VectorResult {
	out := make([]*store.VectorResult, len(scored))
	for i, s := range scored {
		out[i] = &store.VectorResult{ID: s.ChunkID, Score: float32(s.Score)}
	}
	return out
}

// reorderTiesByWeight re-sorts exact-RRF-score ties using the weighted
// lexical/vector combination. Only ties move; RRF rank stays authoritative.
func reorderTiesByWeight(fused []*search.FusedResult, weights search.Weights) {
	start := 0
	for start < len(fused) {
		end := start + 1
		for end < len(fused) && fused[end].RRFScore == fused[start].RRFScore {
			end++
		}
		if end-start > 1 {
			group := fused[start:end]
			sort.SliceStable(group, func(i, j int) bool {
				wi := weights.BM25*group[i].BM25Score + weights.Semantic*group[i].VecScore
				wj := weights.BM25*group[j].BM25Score + weights.Semantic*group[j].VecScore
				return wi > wj
			})
		}
		start = end
	}
}

// clampPerDoc enforces the diversity clamp: no more than maxPerDoc
// chunks from a single doc_id, excess dropped in ascending RRF order. Since
// evidences is already sorted descending by RRF score, visiting it in order
// and keeping the first maxPerDoc hits per doc_id is equivalent to dropping
// the lowest-scoring excess.
func clampPerDoc(evidences []model.Evidence, maxPerDoc int) []model.Evidence {
	if maxPerDoc <= 0 {
		return evidences
	}
	counts := make(map[string]int)
	out := make([]model.Evidence, 0, len(evidences))
	for _, e := range evidences {
		if counts[e.DocID] >= maxPerDoc {
			continue
		}
		counts[e.DocID]++
		out = append(out, e)
	}
	return out
}

// applyFloor drops chunks whose RRF score falls below s_top * floorRatio.
func applyFloor(evidences []model.Evidence, floorRatio float64) []model.Evidence {
	if len(evidences) == 0 || floorRatio <= 0 {
		return evidences
	}
	floor := evidences[0].ScoreRRF * floorRatio
	out := evidences[:0:0]
	for _, e := range evidences {
		if e.ScoreRRF >= floor {
			out = append(out, e)
		}
	}
	return out
}

func (r *Retriever) materialize(ctx context.Context, fused []*search.FusedResult) ([]model.Evidence, error) {
	if len(fused) == 0 {
		return nil, nil
	}
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	chunks, err := r.Chunks.Get(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}

	out := make([]model.Evidence, 0, len(fused))
	for _, f := range fused {
		c, ok := byID[f.ChunkID]
		if !ok {
			continue
		}
		out = append(out, model.Evidence{
			Chunk:        c,
			ScoreLexical: f.BM25Score,
			ScoreVector:  f.VecScore,
			ScoreRRF:     f.RRFScore,
		})
	}
	return out, nil
}
