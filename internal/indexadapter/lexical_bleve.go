package indexadapter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveq "github.com/blevesearch/bleve/v2/search/query"
)

// bleveDocument is the per-chunk record indexed in Bleve: the chunk text
// (analyzed, for BM25 scoring) plus the owning document ID (keyword, for
// allowed_doc_ids filtering).
type bleveDocument struct {
	Content string `json:"content"`
	DocID   string `json:"doc_id"`
}

// BleveLexicalIndex is the default LexicalIndex, backed by a Bleve
// inverted index with BM25 scoring: corruption detection and rebuild on
// open, RWMutex-guarded batch indexing, and a plain-text field mapping
// (Korean government documents have no camelCase/snake_case tokens to
// split on, so Bleve's standard analyzer is sufficient).
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// NewBleveLexicalIndex opens (or creates) a Bleve index at path. An empty
// path creates an in-memory index, used in tests.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	m, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("indexadapter: build bleve mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("indexadapter: create lexical index dir: %w", mkErr)
		}

		if vErr := validateBleveIntegrity(path); vErr != nil {
			slog.Warn("lexical_index_corrupted", slog.String("path", path), slog.String("error", vErr.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("indexadapter: lexical index corrupted at %s and cannot remove: %w (original: %v)", path, rmErr, vErr)
			}
			slog.Info("lexical_index_cleared", slog.String("path", path), slog.String("reason", "corruption detected, reindex required"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, m)
		} else if err != nil && isBleveCorruption(err) {
			slog.Warn("lexical_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("indexadapter: cannot clear corrupted lexical index: %w (original: %v)", rmErr, err)
			}
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("indexadapter: open/create lexical index: %w", err)
	}

	return &BleveLexicalIndex{index: idx, path: path}, nil
}

func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	docMapping := bleve.NewDocumentMapping()

	content := bleve.NewTextFieldMapping()
	content.Store = false
	content.Analyzer = "standard"
	docMapping.AddFieldMappingsAt("content", content)

	docID := bleve.NewTextFieldMapping()
	docID.Store = false
	docID.Index = true
	docID.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("doc_id", docID)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = "standard"
	return im, nil
}

func validateBleveIntegrity(path string) error {
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	return nil
}

func isBleveCorruption(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "cannot find index") ||
		strings.Contains(errStr, "corrupt") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// IndexChunks adds or replaces chunks in the lexical index. Not part of the
// LexicalIndex collaborator contract (ingest runs elsewhere), but
// kept so this adapter is independently exercisable and testable without an
// external indexer.
func (b *BleveLexicalIndex) IndexChunks(ctx context.Context, chunkID, docID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("indexadapter: lexical index is closed")
	}
	return b.index.Index(chunkID, bleveDocument{Content: text, DocID: docID})
}

// Search implements LexicalIndex.
func (b *BleveLexicalIndex) Search(ctx context.Context, query string, k int, allowedDocIDs []string) ([]ScoredChunk, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("indexadapter: lexical index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	var q bleveq.Query = matchQuery
	if len(allowedDocIDs) > 0 {
		disjunction := bleve.NewDisjunctionQuery()
		for _, id := range allowedDocIDs {
			t := bleve.NewTermQuery(id)
			t.SetField("doc_id")
			disjunction.AddQuery(t)
		}
		conj := bleve.NewConjunctionQuery(matchQuery, disjunction)
		q = conj
	}

	req := bleve.NewSearchRequest(q)
	req.Size = k

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("indexadapter: lexical search: %w", err)
	}

	out := make([]ScoredChunk, 0, len(result.Hits))
	for i, hit := range result.Hits {
		out = append(out, ScoredChunk{ChunkID: hit.ID, Score: hit.Score, Rank: i + 1})
	}
	return out, nil
}

// Close releases the underlying Bleve index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)
