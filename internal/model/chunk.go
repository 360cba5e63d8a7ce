// Package model defines the core data types shared across the retrieval,
// generation, and session-memory pipeline: chunks, evidences, citation maps,
// sessions, turns, and document scope.
package model

// ChunkKind classifies the structural role of a chunk within its source document.
type ChunkKind string

const (
	ChunkKindBody     ChunkKind = "body"
	ChunkKindTable    ChunkKind = "table"
	ChunkKindFootnote ChunkKind = "footnote"
)

// Chunk is an indexed unit of text produced by the (external) ingest pipeline.
// Chunks are immutable after ingest: (DocID, CharStart, CharEnd) uniquely
// identifies the chunk within a document, and CharEnd > CharStart always holds.
type Chunk struct {
	ChunkID    string    `json:"chunk_id"`
	DocID      string    `json:"doc_id"`
	Page       int       `json:"page"`
	CharStart  int       `json:"char_start"`
	CharEnd    int       `json:"char_end"`
	Kind       ChunkKind `json:"kind"`
	Text       string    `json:"text"`
	BacklinkID string    `json:"backlink_id,omitempty"`
}

// Valid reports whether the chunk satisfies its data-model invariants:
// a half-open, non-empty character span and a page number >= 1.
func (c Chunk) Valid() bool {
	return c.Page >= 1 && c.CharEnd > c.CharStart
}

// Evidence is a Chunk materialised for a specific query, carrying the scores
// assigned during retrieval, fusion, and reranking.
type Evidence struct {
	Chunk
	ScoreLexical float64 `json:"score_lexical"`
	ScoreVector  float64 `json:"score_vector"`
	ScoreRRF     float64 `json:"score_rrf"`
	ScoreRerank  float64 `json:"score_rerank"`
	RankFinal    int     `json:"rank_final"`
}

// Locator is the source coordinate a citation ordinal resolves to.
type Locator struct {
	DocID     string `json:"doc_id"`
	Page      int    `json:"page"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
}

// LocatorFromEvidence builds the locator a citation for this evidence would point at.
func LocatorFromEvidence(e Evidence) Locator {
	return Locator{DocID: e.DocID, Page: e.Page, CharStart: e.CharStart, CharEnd: e.CharEnd}
}
