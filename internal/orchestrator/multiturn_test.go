package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govrag/govrag/internal/generate"
	"github.com/govrag/govrag/internal/ground"
	"github.com/govrag/govrag/internal/indexadapter"
	"github.com/govrag/govrag/internal/model"
	"github.com/govrag/govrag/internal/retrieve"
	"github.com/govrag/govrag/internal/session"
)

// reorderingLexical returns a different hit order on each call, simulating a
// reranked shortlist across turns: the first
// turn ranks doc-1 first, later turns rank a new doc first and push doc-1 to
// rank 2.
type reorderingLexical struct {
	perCall [][]indexadapter.ScoredChunk
	calls   int
}

func (f *reorderingLexical) Search(ctx context.Context, query string, k int, allowedDocIDs []string) ([]indexadapter.ScoredChunk, error) {
	idx := f.calls
	if idx >= len(f.perCall) {
		idx = len(f.perCall) - 1
	}
	f.calls++
	return f.perCall[idx], nil
}

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts generate.Options) (string, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return s.responses[idx], nil
}

func (s *scriptedLLM) GenerateStream(ctx context.Context, prompt string, opts generate.Options) (<-chan generate.Delta, error) {
	return nil, nil
}

func (s *scriptedLLM) Available(ctx context.Context) bool { return true }

func TestOrchestrator_SecondTurn_FrozenCitationOrdinalStaysStable(t *testing.T) {
	chunkA := model.Chunk{ChunkID: "c-a", DocID: "doc-a", Page: 1, CharStart: 0, CharEnd: 20, Text: "the filing deadline is March 1"}
	chunkB := model.Chunk{ChunkID: "c-b", DocID: "doc-b", Page: 2, CharStart: 0, CharEnd: 20, Text: "late filings incur a 2% penalty fee"}
	chunks := map[string]model.Chunk{"c-a": chunkA, "c-b": chunkB}

	lexical := &reorderingLexical{perCall: [][]indexadapter.ScoredChunk{
		{{ChunkID: "c-a", Score: 1, Rank: 1}},
		{{ChunkID: "c-b", Score: 1, Rank: 1}, {ChunkID: "c-a", Score: 0.9, Rank: 2}},
	}}
	// The query rewriter and the generator share the LLM: each turn makes a
	// rewrite call (answered with the query unchanged), then a generation call.
	llm := &scriptedLLM{responses: []string{
		"when is the filing due?",
		"The filing deadline is March 1 [1].",
		"what if I miss that deadline?",
		"Late filings incur a 2% penalty fee [1]. The filing deadline is March 1 [2].",
	}}

	store, err := session.NewStore(session.Config{StoragePath: t.TempDir()})
	require.NoError(t, err)

	retriever := retrieve.New(lexical, nil, &fakeChunkStore{chunks: chunks}, nil)
	orch := New(Params{
		Sessions:   store,
		Retriever:  retriever,
		LLM:        llm,
		EvidenceN:  4,
		MaxPerDoc:  4,
		TopKRerank: 10,
		KLex:       10,
		KVec:       10,
		RRFK:       60,
		FloorRatio: 0,
		WLex:       1,
		WVec:       1,
		GroundingConfig: ground.Thresholds{
			EvidenceJaccard: 0.01,
			CitationSentSim: 0.90,
			CitationSpanIOU: 0.50,
		},
	})

	ctx := context.Background()
	sess, err := store.Create(ctx, "t")
	require.NoError(t, err)

	turn1, err := orch.Handle(ctx, Request{SessionID: sess.SessionID, Query: "when is the filing due?"})
	require.NoError(t, err)
	require.Equal(t, model.VerdictAccepted, turn1.Metadata.Grounding)

	loc1, ok := turn1.CitationMap.Get(1)
	require.True(t, ok)
	assert.Equal(t, "doc-a", loc1.DocID)

	// Second turn: doc-a is now retrieved at rank 2 (doc-b displaced it at
	// rank 1), and the LLM cites it as [2] — the turn-local rank_final, not
	// the session-wide ordinal. Track must resolve doc-a by locator value
	// back to its frozen ordinal 1, not alias it to the new evidence at
	// rank 1 (doc-b).
	turn2, err := orch.Handle(ctx, Request{SessionID: sess.SessionID, Query: "what if I miss that deadline?"})
	require.NoError(t, err)
	require.Equal(t, model.VerdictAccepted, turn2.Metadata.Grounding)

	loc1Again, ok := turn2.CitationMap.Get(1)
	require.True(t, ok, "expected frozen ordinal 1 to still resolve")
	assert.Equal(t, "doc-a", loc1Again.DocID, "frozen ordinal 1 must keep pointing at doc-a even though it reranked to position 2")

	loc2, ok := turn2.CitationMap.Get(2)
	require.True(t, ok, "expected doc-b to be appended as a new ordinal")
	assert.Equal(t, "doc-b", loc2.DocID)

	assert.Contains(t, turn2.Content, "[1]", "answer text should be rewritten to cite the frozen ordinal, not the turn-local rank")
	assert.True(t, turn2.CitationMap.StableAgainst(turn1.CitationMap), "second turn's citation map must remain stable against the first turn's frozen map")
}
