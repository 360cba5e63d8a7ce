package indexadapter

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/govrag/govrag/internal/model"
)

// SQLiteChunkStore is the default ChunkStore, backed by the pure-Go
// modernc.org/sqlite driver in WAL mode, holding the Korean-document chunk
// schema (doc_id, page, char span, kind, backlink_id).
type SQLiteChunkStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteChunkStore opens (or creates) the chunk metadata database at path.
// An empty path opens an in-memory store, used in tests.
func NewSQLiteChunkStore(path string) (*SQLiteChunkStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("indexadapter: create chunk store directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("indexadapter: open chunk store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteChunkStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteChunkStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id    TEXT PRIMARY KEY,
	doc_id      TEXT NOT NULL,
	page        INTEGER NOT NULL,
	char_start  INTEGER NOT NULL,
	char_end    INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	text        TEXT NOT NULL,
	backlink_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("indexadapter: migrate chunk store schema: %w", err)
	}
	return nil
}

// Put upserts chunk records. Exposed for the out-of-scope ingest pipeline to
// populate this store, and by test fixtures.
func (s *SQLiteChunkStore) Put(ctx context.Context, chunks []model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("indexadapter: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (chunk_id, doc_id, page, char_start, char_end, kind, text, backlink_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chunk_id) DO UPDATE SET
	doc_id=excluded.doc_id, page=excluded.page, char_start=excluded.char_start,
	char_end=excluded.char_end, kind=excluded.kind, text=excluded.text,
	backlink_id=excluded.backlink_id`)
	if err != nil {
		return fmt.Errorf("indexadapter: prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if !c.Valid() {
			return fmt.Errorf("indexadapter: invalid chunk %s: char_end must exceed char_start and page >= 1", c.ChunkID)
		}
		if _, err := stmt.ExecContext(ctx, c.ChunkID, c.DocID, c.Page, c.CharStart, c.CharEnd, string(c.Kind), c.Text, nullIfEmpty(c.BacklinkID)); err != nil {
			return fmt.Errorf("indexadapter: upsert chunk %s: %w", c.ChunkID, err)
		}
	}

	return tx.Commit()
}

// Get implements ChunkStore.Get: batch-retrieves chunks by ID, in any order.
func (s *SQLiteChunkStore) Get(ctx context.Context, ids []string) ([]model.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT chunk_id, doc_id, page, char_start, char_end, kind, text, backlink_id
FROM chunks WHERE chunk_id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("indexadapter: query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var kind string
		var backlink sql.NullString
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Page, &c.CharStart, &c.CharEnd, &kind, &c.Text, &backlink); err != nil {
			return nil, fmt.Errorf("indexadapter: scan chunk row: %w", err)
		}
		c.Kind = model.ChunkKind(kind)
		if backlink.Valid {
			c.BacklinkID = backlink.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DocIDs returns the distinct set of document IDs currently indexed, used by
// the full-corpus probe in the Topic Detector.
func (s *SQLiteChunkStore) DocIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT doc_id FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("indexadapter: query doc ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteChunkStore) Close() error {
	return s.db.Close()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ ChunkStore = (*SQLiteChunkStore)(nil)
