// Package evidence implements the Evidence Set Builder: it
// turns a reranked shortlist into the final, densely-ranked evidence set the
// Prompt Composer consumes.
package evidence

import (
	"sort"
	"strings"

	"github.com/govrag/govrag/internal/model"
)

// Options configures Build.
type Options struct {
	N         int // top-N evidences kept
	MaxPerDoc int // diversity clamp, re-applied after reranking
}

// Set is the builder's output: the final evidence list plus a coverage
// metric for later diagnostics.
type Set struct {
	Evidences []model.Evidence
	Coverage  float64
}

// Build truncates the reranked evidence list to the top-N, assigns
// dense rank_final (1..N), re-enforces max_per_doc, and computes keyword
// coverage against the query.
func Build(reranked []model.Evidence, queryText string, opts Options) Set {
	clamped := clampPerDoc(reranked, opts.MaxPerDoc)

	n := opts.N
	if n <= 0 || n > len(clamped) {
		n = len(clamped)
	}
	top := clamped[:n]

	out := make([]model.Evidence, len(top))
	for i, e := range top {
		e.RankFinal = i + 1
		out[i] = e
	}

	return Set{
		Evidences: out,
		Coverage:  coverage(queryText, out),
	}
}

// clampPerDoc re-applies the max_per_doc diversity clamp after reranking,
// dropping excess chunks in ascending rerank-score order. The
// input is assumed sorted by rerank score descending, so a simple first-N
// keep per doc_id drops the lowest-scoring excess.
func clampPerDoc(evidences []model.Evidence, maxPerDoc int) []model.Evidence {
	if maxPerDoc <= 0 {
		return evidences
	}
	counts := make(map[string]int)
	out := make([]model.Evidence, 0, len(evidences))
	for _, e := range evidences {
		if counts[e.Chunk.DocID] >= maxPerDoc {
			continue
		}
		counts[e.Chunk.DocID]++
		out = append(out, e)
	}
	return out
}

// coverage reports the fraction of distinct query keywords that appear in
// at least one evidence's text.
func coverage(queryText string, evidences []model.Evidence) float64 {
	keywords := tokenize(queryText)
	if len(keywords) == 0 {
		return 0
	}

	var corpus strings.Builder
	for _, e := range evidences {
		corpus.WriteString(e.Chunk.Text)
		corpus.WriteByte(' ')
	}
	present := tokenSet(corpus.String())

	hit := 0
	for kw := range keywords {
		if present[kw] {
			hit++
		}
	}
	return float64(hit) / float64(len(keywords))
}

func tokenize(s string) map[string]bool {
	return tokenSet(s)
}

func tokenSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isWordRune(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = true
		}
	}
	return set
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
		return true
	case r >= 0x1100 && r <= 0x11FF: // Hangul Jamo
		return true
	case r >= 0x3130 && r <= 0x318F: // Hangul compatibility jamo
		return true
	default:
		return false
	}
}

// SortByRerank orders evidences by ScoreRerank descending, tie-breaking on
// ScoreRRF descending then (doc_id, char_start) ascending — the same
// deterministic tie-break the reranker documents. Build does not call it;
// Build keeps the order of its input.
func SortByRerank(evidences []model.Evidence) {
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
