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

type fakeLexical struct {
	hits []indexadapter.ScoredChunk
	err  error
}

func (f *fakeLexical) Search(ctx context.Context, query string, k int, allowedDocIDs []string) ([]indexadapter.ScoredChunk, error) {
	return f.hits, f.err
}

type fakeChunkStore struct {
	chunks map[string]model.Chunk
}

func (f *fakeChunkStore) Get(ctx context.Context, ids []string) ([]model.Chunk, error) {
	out := make([]model.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) Put(ctx context.Context, chunks []model.Chunk) error { return nil }

func (f *fakeChunkStore) DocIDs(ctx context.Context) ([]string, error) { return nil, nil }

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts generate.Options) (string, error) {
	return f.response, f.err
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts generate.Options) (<-chan generate.Delta, error) {
	return nil, nil
}

func (f *fakeLLM) Available(ctx context.Context) bool { return true }

func newTestOrchestrator(t *testing.T, llm generate.LLM, chunks map[string]model.Chunk, hits []indexadapter.ScoredChunk) (*Orchestrator, *session.Store) {
	t.Helper()
	store, err := session.NewStore(session.Config{StoragePath: t.TempDir()})
	require.NoError(t, err)

	retriever := retrieve.New(&fakeLexical{hits: hits}, nil, &fakeChunkStore{chunks: chunks}, nil)

	orch := New(Params{
		Sessions:   store,
		Retriever:  retriever,
		Reranker:   nil,
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
	return orch, store
}

func TestOrchestrator_HandleGroundedAnswer(t *testing.T) {
	chunk := model.Chunk{ChunkID: "c1", DocID: "doc-1", Page: 1, CharStart: 0, CharEnd: 20, Text: "the budget allocation increased significantly"}
	hits := []indexadapter.ScoredChunk{{ChunkID: "c1", Score: 1, Rank: 1}}
	llm := &fakeLLM{response: "The budget allocation increased significantly. [1]"}

	orch, store := newTestOrchestrator(t, llm, map[string]model.Chunk{"c1": chunk}, hits)

	ctx := context.Background()
	sess, err := store.Create(ctx, "t")
	require.NoError(t, err)

	turn, err := orch.Handle(ctx, Request{SessionID: sess.SessionID, Query: "how did the budget change?"})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictAccepted, turn.Metadata.Grounding)
	assert.NotEmpty(t, turn.CitationMap.Ordinals())
	assert.True(t, turn.Metadata.Persisted)
}

func TestOrchestrator_HandleInsufficientEvidenceOnEmptyRetrieval(t *testing.T) {
	llm := &fakeLLM{response: "anything"}
	orch, store := newTestOrchestrator(t, llm, map[string]model.Chunk{}, nil)

	ctx := context.Background()
	sess, err := store.Create(ctx, "t")
	require.NoError(t, err)

	turn, err := orch.Handle(ctx, Request{SessionID: sess.SessionID, Query: "unanswerable question"})
	require.NoError(t, err)
	assert.Equal(t, InsufficientEvidenceMessage, turn.Content)
	assert.Equal(t, model.VerdictInsufficientEvidence, turn.Metadata.Grounding)
}

func TestOrchestrator_HandleRejectsSecondInFlightTurn(t *testing.T) {
	llm := &fakeLLM{response: "x"}
	orch, store := newTestOrchestrator(t, llm, map[string]model.Chunk{}, nil)

	ctx := context.Background()
	sess, err := store.Create(ctx, "t")
	require.NoError(t, err)

	acquired, err := store.SetInFlight(ctx, sess.SessionID, true)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = orch.Handle(ctx, Request{SessionID: sess.SessionID, Query: "q"})
	require.Error(t, err)
}

func TestOrchestrator_HandleUnknownSession(t *testing.T) {
	llm := &fakeLLM{response: "x"}
	orch, _ := newTestOrchestrator(t, llm, map[string]model.Chunk{}, nil)

	_, err := orch.Handle(context.Background(), Request{SessionID: "does-not-exist", Query: "q"})
	require.Error(t, err)
}
