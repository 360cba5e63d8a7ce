package rerank

import (
	"context"
	"sort"

	"github.com/govrag/govrag/internal/model"
	"github.com/govrag/govrag/internal/search"
)

// Apply reorders evidences through a search.Reranker. If the
// reranker is unavailable or errors, the input order is passed through
// unchanged and skipped is true.
func Apply(ctx context.Context, reranker search.Reranker, queryText string, evidences []model.Evidence, topK int) (reranked []model.Evidence, skipped bool, err error) {
	if reranker == nil || len(evidences) == 0 {
		return passthrough(evidences, topK), true, nil
	}
	if !reranker.Available(ctx) {
		return passthrough(evidences, topK), true, nil
	}

	texts := make([]string, len(evidences))
	for i, e := range evidences {
		texts[i] = e.Chunk.Text
	}

	results, rerr := reranker.Rerank(ctx, queryText, texts, 0)
	if rerr != nil {
		return passthrough(evidences, topK), true, nil
	}

	out := make([]model.Evidence, 0, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(evidences) {
			continue
		}
		e := evidences[res.Index]
		e.ScoreRerank = res.Score
		out = append(out, e)
	}

	sortByRerankTieBreak(out)

	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, false, nil
}

func passthrough(evidences []model.Evidence, topK int) []model.Evidence {
	out := make([]model.Evidence, len(evidences))
	copy(out, evidences)
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out
}

// sortByRerankTieBreak implements the deterministic tie-break:
// higher score_rerank wins; ties broken by higher RRF score, then by
// (doc_id, char_start).
func sortByRerankTieBreak(evidences []model.Evidence) {
	sort.SliceStable(evidences, func(i, j int) bool {
		a, b := evidences[i], evidences[j]
		if a.ScoreRerank != b.ScoreRerank {
			return a.ScoreRerank > b.ScoreRerank
		}
		if a.ScoreRRF != b.ScoreRRF {
			return a.ScoreRRF > b.ScoreRRF
		}
		if a.Chunk.DocID != b.Chunk.DocID {
			return a.Chunk.DocID < b.Chunk.DocID
		}
		return a.Chunk.CharStart < b.Chunk.CharStart
	})
}
