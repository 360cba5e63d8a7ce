// Package topic implements the Topic Detector: it decides
// whether a turn's query marks a topic change from the previous turn by
// combining three independent signals.
package topic

import (
	"context"
	"math"

	"github.com/govrag/govrag/internal/indexadapter"
)

// Thresholds holds the topic-detection firing thresholds.
type Thresholds struct {
	SimilarityThreshold float64
	ConfidenceThreshold float64
	MinScoreThreshold   float64
}

// Embedder embeds text for the cosine-similarity signal.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Signals carries the three raw measurements Detect combines.
type Signals struct {
	QuerySimilarity    float64 // cosine(current query embedding, previous query embedding)
	RetrievalConfidence float64 // confidence of retrieval against the previous scope
	TopRRFScore        float64 // top RRF score of that retrieval
}

// Verdict is the detector's decision plus its full-corpus probe.
type Verdict struct {
	TopicChangeDetected bool
	SuggestedDocIDs     []string
	Signals             Signals
}

// Detect evaluates the three signals and declares a topic change when at
// least two fire.
func Detect(signals Signals, t Thresholds) bool {
	fired := 0
	if signals.QuerySimilarity < t.SimilarityThreshold {
		fired++
	}
	if signals.RetrievalConfidence < t.ConfidenceThreshold {
		fired++
	}
	if signals.TopRRFScore < t.MinScoreThreshold {
		fired++
	}
	return fired >= 2
}

// CosineSimilarity mirrors the dot-product-over-norms helper used
// throughout this module's grounding checks (internal/ground).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// ProbeFullCorpus runs a quick, unscoped lexical search to discover
// suggested_doc_ids for a detected topic change.
func ProbeFullCorpus(ctx context.Context, lexical indexadapter.LexicalIndex, chunks indexadapter.ChunkStore, query string, k int) ([]string, error) {
	if lexical == nil {
		return nil, nil
	}
	results, err := lexical.Search(ctx, query, k, nil)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || chunks == nil {
		return nil, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	resolved, err := chunks.Get(ctx, ids)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(resolved))
	var docIDs []string
	for _, c := range resolved {
		if !seen[c.DocID] {
			seen[c.DocID] = true
			docIDs = append(docIDs, c.DocID)
		}
	}
	return docIDs, nil
}
