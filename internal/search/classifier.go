package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Default classifier configuration values.
const (
	DefaultClassifierModel     = "llama3.2:1b"
	DefaultClassifierTimeout   = 2 * time.Second
	DefaultClassifierCacheSize = 10000
	DefaultOllamaHost          = "http://localhost:11434"
)

// ClassifierConfig configures the query classifier that decides how much
// weight a query's hybrid search gives BM25 versus vector similarity.
type ClassifierConfig struct {
	Model      string
	Timeout    time.Duration
	CacheSize  int
	OllamaHost string
}

// DefaultClassifierConfig returns sensible defaults for the classifier.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Model:      DefaultClassifierModel,
		Timeout:    DefaultClassifierTimeout,
		CacheSize:  DefaultClassifierCacheSize,
		OllamaHost: DefaultOllamaHost,
	}
}

func (c ClassifierConfig) withDefaults() ClassifierConfig {
	if c.Model == "" {
		c.Model = DefaultClassifierModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultClassifierTimeout
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultClassifierCacheSize
	}
	if c.OllamaHost == "" {
		c.OllamaHost = DefaultOllamaHost
	}
	return c
}

type classificationResult struct {
	queryType QueryType
	weights   Weights
}

// HybridClassifier tries LLM classification, then falls back to lexical
// pattern matching (citation numbers, quoted phrases, statute references)
// when the LLM is unset or errors. Results are LRU-cached by normalized
// query text, since a conversational session often repeats near-identical
// follow-up phrasing (query rewriting feeds this classifier the rewritten,
// not the raw, query).
type HybridClassifier struct {
	llm      *LLMClassifier
	patterns *PatternClassifier
	cache    *lru.Cache[string, classificationResult]
}

// NewHybridClassifier creates a classifier with default cache sizing. If llm
// is nil, only pattern-based classification runs.
func NewHybridClassifier(llm *LLMClassifier) *HybridClassifier {
	return NewHybridClassifierWithConfig(llm, DefaultClassifierConfig())
}

// NewHybridClassifierWithConfig creates a classifier with a custom cache size.
func NewHybridClassifierWithConfig(llm *LLMClassifier, config ClassifierConfig) *HybridClassifier {
	config = config.withDefaults()
	cache, _ := lru.New[string, classificationResult](config.CacheSize)
	return &HybridClassifier{
		llm:      llm,
		patterns: NewPatternClassifier(),
		cache:    cache,
	}
}

// Classify returns the query's type and the BM25/vector weight split that
// type implies, preferring a cached result, then the LLM, then patterns.
func (h *HybridClassifier) Classify(ctx context.Context, query string) (QueryType, Weights, error) {
	cacheKey := normalizeQuery(query)
	if cacheKey == "" {
		return mixed()
	}

	if result, ok := h.cache.Get(cacheKey); ok {
		return result.queryType, result.weights, nil
	}

	if h.llm != nil {
		if qt, weights, err := h.llm.Classify(ctx, query); err == nil {
			h.cache.Add(cacheKey, classificationResult{qt, weights})
			return qt, weights, nil
		}
	}

	qt, weights, err := h.patterns.Classify(ctx, query)
	if err == nil {
		h.cache.Add(cacheKey, classificationResult{qt, weights})
	}
	return qt, weights, err
}

func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func mixed() (QueryType, Weights, error) {
	return QueryTypeMixed, WeightsForQueryType(QueryTypeMixed), nil
}

var _ Classifier = (*HybridClassifier)(nil)

// LLMClassifier asks an Ollama-compatible model to label a query LEXICAL,
// SEMANTIC, or MIXED.
type LLMClassifier struct {
	client *http.Client
	config ClassifierConfig
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewLLMClassifier creates a new LLM-based classifier.
func NewLLMClassifier(config ClassifierConfig) *LLMClassifier {
	config = config.withDefaults()
	return &LLMClassifier{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

// classificationPrompt routes Korean government document queries: legal
// citations and form/document IDs need exact lexical matching, natural
// language questions need semantic recall, and short or ambiguous terms
// benefit from both legs of the hybrid search.
const classificationPrompt = `You are a retrieval query classifier for a Korean government document archive. Classify the given query into exactly ONE of these categories:

LEXICAL - The query needs exact/keyword matching. Examples:
- Legal article citations: 제15조, 시행령 제3항
- Quoted phrases: "100억 원"
- Document or form IDs: 공고 제2024-53호
- Specific dates or amounts: 2024년 3월 15일

SEMANTIC - The query is natural language seeking meaning. Examples:
- Questions: "담당 부서는 어디인가요"
- Conceptual: "이 정책의 목적을 설명해줘"
- Descriptions: "예산 집행 절차를 알려줘"

MIXED - The query benefits from both approaches. Examples:
- Short topic terms: "예산 편성"
- Ambiguous: "보조금" (could be a defined term or a general concept)

Respond with ONLY one word: LEXICAL, SEMANTIC, or MIXED.

Query: %s

Classification:`

// Classify sends query to the configured Ollama model and maps its one-word
// answer to a QueryType and the corresponding retrieval weights.
func (l *LLMClassifier) Classify(ctx context.Context, query string) (QueryType, Weights, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return mixed()
	}

	body, err := json.Marshal(generateRequest{
		Model:  l.config.Model,
		Prompt: fmt.Sprintf(classificationPrompt, query),
		Stream: false,
	})
	if err != nil {
		qt, w, _ := mixed()
		return qt, w, fmt.Errorf("search: marshal classification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.config.OllamaHost+"/api/generate", bytes.NewReader(body))
	if err != nil {
		qt, w, _ := mixed()
		return qt, w, fmt.Errorf("search: build classification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		qt, w, _ := mixed()
		return qt, w, fmt.Errorf("search: classification request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		qt, w, _ := mixed()
		return qt, w, fmt.Errorf("search: classifier backend returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		qt, w, _ := mixed()
		return qt, w, fmt.Errorf("search: decode classification response: %w", err)
	}

	qt := parseClassificationResponse(result.Response)
	return qt, WeightsForQueryType(qt), nil
}

// parseClassificationResponse extracts the query type from the model's
// one-word (ideally) answer, tolerating extra surrounding text.
func parseClassificationResponse(response string) QueryType {
	response = strings.ToUpper(strings.TrimSpace(response))

	switch response {
	case "LEXICAL":
		return QueryTypeLexical
	case "SEMANTIC":
		return QueryTypeSemantic
	case "MIXED":
		return QueryTypeMixed
	}

	switch {
	case strings.Contains(response, "LEXICAL"):
		return QueryTypeLexical
	case strings.Contains(response, "SEMANTIC"):
		return QueryTypeSemantic
	default:
		return QueryTypeMixed
	}
}

// Available reports whether the classifier's Ollama backend is reachable.
func (l *LLMClassifier) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.config.OllamaHost+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

var _ Classifier = (*LLMClassifier)(nil)
