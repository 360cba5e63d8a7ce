// Package search provides the Hybrid Retriever's fusion and classification
// primitives: Reciprocal Rank Fusion across lexical/vector result lists
// (fusion.go), the Reranker collaborator contract (reranker.go), and query
// classification for dynamic weight selection (classifier.go, patterns.go).
package search

import (
	"context"
)

// Weights configures the relative importance of lexical vs vector search in
// the tie-break combination (RRF rank stays authoritative; weights only
// reorder exact-score ties).
type Weights struct {
	// BM25 is the weight for lexical search (0-1, default: 0.35).
	BM25 float64

	// Semantic is the weight for vector search (0-1, default: 0.65).
	Semantic float64
}

// DefaultWeights returns the default retrieval weights for a mixed query.
func DefaultWeights() Weights {
	return Weights{
		BM25:     0.35,
		Semantic: 0.65,
	}
}

// QueryType classifies a query's shape for dynamic weight selection.
type QueryType string

const (
	// QueryTypeLexical indicates the query needs exact/keyword matching:
	// quoted phrases, legal article numbers, document IDs.
	QueryTypeLexical QueryType = "LEXICAL"

	// QueryTypeSemantic indicates the query is natural language seeking
	// meaning: questions, conceptual queries, explanations.
	QueryTypeSemantic QueryType = "SEMANTIC"

	// QueryTypeMixed indicates the query benefits from both approaches.
	QueryTypeMixed QueryType = "MIXED"
)

// Classifier determines optimal search weights for a query. Implementations
// may use an LLM, pattern matching, or a hybrid of both.
type Classifier interface {
	// Classify analyzes a query and returns its type and optimal weights.
	// On error, implementations should return (QueryTypeMixed, DefaultWeights(), err).
	Classify(ctx context.Context, query string) (QueryType, Weights, error)
}

// WeightsForQueryType returns the predefined weights for a query type.
func WeightsForQueryType(qt QueryType) Weights {
	switch qt {
	case QueryTypeLexical:
		return Weights{BM25: 0.85, Semantic: 0.15}
	case QueryTypeSemantic:
		return Weights{BM25: 0.20, Semantic: 0.80}
	default:
		return Weights{BM25: 0.35, Semantic: 0.65}
	}
}
