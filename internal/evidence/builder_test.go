package evidence

import (
	"testing"

	"github.com/govrag/govrag/internal/model"
)

func ev(docID string, rerank, rrf float64, charStart int, text string) model.Evidence {
	return model.Evidence{
		Chunk:       model.Chunk{DocID: docID, CharStart: charStart, Text: text},
		ScoreRerank: rerank,
		ScoreRRF:    rrf,
	}
}

func TestBuild_AssignsDenseRankFinal(t *testing.T) {
	in := []model.Evidence{
		ev("a", 0.9, 0.5, 0, "alpha"),
		ev("b", 0.8, 0.4, 0, "beta"),
	}
	set := Build(in, "alpha", Options{N: 5})
	if len(set.Evidences) != 2 {
		t.Fatalf("len(Evidences) = %d, want 2", len(set.Evidences))
	}
	for i, e := range set.Evidences {
		if e.RankFinal != i+1 {
			t.Errorf("Evidences[%d].RankFinal = %d, want %d", i, e.RankFinal, i+1)
		}
	}
}

func TestBuild_TruncatesToN(t *testing.T) {
	in := []model.Evidence{
		ev("a", 0.9, 0.5, 0, "x"),
		ev("b", 0.8, 0.4, 0, "y"),
		ev("c", 0.7, 0.3, 0, "z"),
	}
	set := Build(in, "x", Options{N: 2})
	if len(set.Evidences) != 2 {
		t.Fatalf("len(Evidences) = %d, want 2", len(set.Evidences))
	}
	if set.Evidences[0].Chunk.DocID != "a" || set.Evidences[1].Chunk.DocID != "b" {
		t.Errorf("unexpected truncation order: %+v", set.Evidences)
	}
}

func TestBuild_NZeroKeepsAll(t *testing.T) {
	in := []model.Evidence{ev("a", 0.9, 0.5, 0, "x"), ev("b", 0.8, 0.4, 0, "y")}
	set := Build(in, "x", Options{N: 0})
	if len(set.Evidences) != 2 {
		t.Fatalf("len(Evidences) = %d, want 2 (N<=0 keeps all)", len(set.Evidences))
	}
}

func TestBuild_MaxPerDocClamp(t *testing.T) {
	in := []model.Evidence{
		ev("a", 0.9, 0.5, 0, "x1"),
		ev("a", 0.8, 0.4, 10, "x2"),
		ev("a", 0.7, 0.3, 20, "x3"),
		ev("b", 0.6, 0.2, 0, "y1"),
	}
	set := Build(in, "x", Options{N: 10, MaxPerDoc: 2})
	countA := 0
	for _, e := range set.Evidences {
		if e.Chunk.DocID == "a" {
			countA++
		}
	}
	if countA != 2 {
		t.Fatalf("count of doc a evidences = %d, want 2 (max_per_doc clamp)", countA)
	}
	if len(set.Evidences) != 3 {
		t.Fatalf("len(Evidences) = %d, want 3", len(set.Evidences))
	}
}

func TestBuild_Coverage_FullMatch(t *testing.T) {
	in := []model.Evidence{ev("a", 0.9, 0.5, 0, "the fee is high")}
	set := Build(in, "fee high", Options{N: 5})
	if set.Coverage != 1.0 {
		t.Errorf("Coverage = %v, want 1.0", set.Coverage)
	}
}

func TestBuild_Coverage_PartialMatch(t *testing.T) {
	in := []model.Evidence{ev("a", 0.9, 0.5, 0, "the fee is high")}
	set := Build(in, "fee unrelated", Options{N: 5})
	if set.Coverage != 0.5 {
		t.Errorf("Coverage = %v, want 0.5", set.Coverage)
	}
}

func TestBuild_Coverage_EmptyQuery(t *testing.T) {
	in := []model.Evidence{ev("a", 0.9, 0.5, 0, "text")}
	set := Build(in, "", Options{N: 5})
	if set.Coverage != 0 {
		t.Errorf("Coverage = %v, want 0 for empty query", set.Coverage)
	}
}

func TestSortByRerank_OrdersByScoreThenTiebreaks(t *testing.T) {
	evidences := []model.Evidence{
		ev("b", 0.5, 0.5, 10, "x"),
		ev("a", 0.5, 0.5, 0, "y"),
		ev("c", 0.9, 0.1, 0, "z"),
	}
	SortByRerank(evidences)

	if evidences[0].Chunk.DocID != "c" {
		t.Fatalf("evidences[0].DocID = %q, want c (highest ScoreRerank)", evidences[0].Chunk.DocID)
	}
	if evidences[1].Chunk.DocID != "a" || evidences[2].Chunk.DocID != "b" {
		t.Fatalf("tie-break order = %+v, want [a, b] by doc_id then char_start", evidences)
	}
}
