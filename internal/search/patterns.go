package search

import (
	"context"
	"regexp"
	"strings"
)

// Compiled regex patterns for query classification, covering the shapes
// that actually recur in Korean government document queries: legal article
// citations, quoted
// exact phrases, document/notice IDs, and ISO or Korean-style dates.
var (
	// Legal article citations: 제15조, 제3항, 시행령 제2조
	legalArticlePattern = regexp.MustCompile(`제\s*\d+\s*(조|항|호|목)`)

	// Quoted exact phrases: "..." or '...' or Korean corner brackets
	quotedPattern = regexp.MustCompile(`^["'「『].*["'」』]$`)

	// Document/notice IDs: 공고 제2024-53호, 고시 제2023-12호
	noticeIDPattern = regexp.MustCompile(`(공고|고시|훈령|예규)\s*제?\s*\d{4}-\d+\s*호`)

	// ISO or Korean-style dates: 2024-03-15, 2024.03.15, 2024년 3월 15일
	datePattern = regexp.MustCompile(`\d{4}[-.]\d{1,2}[-.]\d{1,2}|\d{4}년\s*\d{1,2}월(\s*\d{1,2}일)?`)

	// Currency/amount figures: 100억 원, 1,200만원, 50,000원
	amountPattern = regexp.MustCompile(`[\d,]+\s*(원|억\s*원|만\s*원|천\s*원)`)

	// Natural language starters (questions, requests)
	naturalLanguagePattern = regexp.MustCompile(`(어디|누구|언제|왜|무엇|어떻게|알려줘|설명해|찾아|무슨|얼마)`)
)

// PatternClassifier classifies queries using regex pattern matching.
// This is the fallback classifier when the LLM classifier is unavailable.
type PatternClassifier struct{}

// NewPatternClassifier creates a new pattern-based classifier.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Classify determines the query type using pattern matching.
// Returns (QueryType, Weights, nil) - never returns an error.
func (p *PatternClassifier) Classify(_ context.Context, query string) (QueryType, Weights, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return QueryTypeMixed, WeightsForQueryType(QueryTypeMixed), nil
	}

	qt := p.classifyQuery(query)
	return qt, WeightsForQueryType(qt), nil
}

// classifyQuery determines the query type based on patterns.
func (p *PatternClassifier) classifyQuery(query string) QueryType {
	if p.isLexicalQuery(query) {
		return QueryTypeLexical
	}

	if naturalLanguagePattern.MatchString(query) {
		return QueryTypeSemantic
	}

	// Long queries (5+ words/particles) that don't match other patterns skew semantic.
	if len(strings.Fields(query)) >= 5 {
		return QueryTypeSemantic
	}

	return QueryTypeMixed
}

// isLexicalQuery checks if the query matches patterns demanding exact
// keyword matching: legal citations, quotes, notice IDs, dates, amounts.
func (p *PatternClassifier) isLexicalQuery(query string) bool {
	return legalArticlePattern.MatchString(query) ||
		quotedPattern.MatchString(query) ||
		noticeIDPattern.MatchString(query) ||
		datePattern.MatchString(query) ||
		amountPattern.MatchString(query)
}

// Ensure PatternClassifier implements Classifier interface.
var _ Classifier = (*PatternClassifier)(nil)
