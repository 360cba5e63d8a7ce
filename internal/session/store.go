// Package session implements the Session Store: a persistent key-value
// store of model.Session records keyed by session_id, laid out as a
// directory of JSON files with temp-file+rename atomic writes. Each
// session_id gets a single
// writer goroutine that serializes mutations and flushes asynchronously, and
// a gofrs/flock-guarded rename so a crash mid-flush leaves the previous file
// intact.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	govragerrors "github.com/govrag/govrag/internal/errors"
	"github.com/govrag/govrag/internal/model"
)

const sessionFileSuffix = ".json"

// Config configures the Session Store.
type Config struct {
	StoragePath string
	MaxSessions int
}

// Info summarizes a session for listing.
type Info struct {
	SessionID  string
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	TurnCount  int
	SizeBytes  int64
}

// Store is the default, filesystem-backed Session Store.
type Store struct {
	storagePath string
	maxSessions int

	mu     sync.Mutex
	actors map[string]*sessionActor

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// NewStore opens (creating if necessary) the session storage directory.
func NewStore(cfg Config) (*Store, error) {
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("session: storage path is required")
	}
	if err := os.MkdirAll(cfg.StoragePath, 0755); err != nil {
		return nil, fmt.Errorf("session: create storage directory: %w", err)
	}
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 1000
	}
	return &Store{
		storagePath: cfg.StoragePath,
		maxSessions: maxSessions,
		actors:      make(map[string]*sessionActor),
		cancels:     make(map[string]context.CancelFunc),
	}, nil
}

func (s *Store) pathFor(sessionID string) string {
	return filepath.Join(s.storagePath, sessionID+sessionFileSuffix)
}

// Create allocates a new session with a fresh session_id. docIDs, if
// provided, seeds the session's recent-document scope so the first turn's
// Doc-Scope Resolver sees an explicit client-supplied scope even before any
// turn carries doc_ids itself.
func (s *Store) Create(ctx context.Context, title string, docIDs ...string) (*model.Session, error) {
	count, err := s.count()
	if err != nil {
		return nil, err
	}
	if count >= s.maxSessions {
		return nil, govragerrors.SessionError(fmt.Sprintf("maximum %d sessions reached", s.maxSessions), nil)
	}

	now := nowFunc()
	sess := &model.Session{
		SessionID:          uuid.NewString(),
		Title:               title,
		CreatedAt:           now,
		UpdatedAt:           now,
		RecentSourceDocIDs:  append([]string(nil), docIDs...),
	}

	a := s.actorFor(sess.SessionID)
	if _, err := a.call(ctx, func(cur *model.Session) (any, error) {
		*cur = *sess
		return nil, nil
	}, true); err != nil {
		return nil, err
	}
	return sess, nil
}

// Fetch returns a consistent point-in-time snapshot of the session, or a
// SessionNotFound error if no session with this id was ever created.
func (s *Store) Fetch(ctx context.Context, sessionID string) (*model.Session, error) {
	if _, err := os.Stat(s.pathFor(sessionID)); err != nil {
		if os.IsNotExist(err) {
			return nil, govragerrors.New(govragerrors.ErrCodeSessionNotFound, "session not found: "+sessionID, nil)
		}
		return nil, fmt.Errorf("session: stat: %w", err)
	}

	a := s.actorFor(sessionID)
	res, err := a.call(ctx, func(cur *model.Session) (any, error) {
		clone := cloneSession(cur)
		return clone, nil
	}, false)
	if err != nil {
		return nil, err
	}
	return res.(*model.Session), nil
}

// AppendTurn appends a turn to the session and persists it.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn model.Turn) error {
	a := s.actorFor(sessionID)
	_, err := a.call(ctx, func(cur *model.Session) (any, error) {
		cur.Turns = append(cur.Turns, turn)
		cur.UpdatedAt = nowFunc()
		return nil, nil
	}, true)
	return err
}

// UpdateSummary replaces the session's conversation summary.
func (s *Store) UpdateSummary(ctx context.Context, sessionID, summary string, confidence float64) error {
	a := s.actorFor(sessionID)
	_, err := a.call(ctx, func(cur *model.Session) (any, error) {
		cur.ConversationSummary = summary
		cur.SummaryConfidence = confidence
		cur.UpdatedAt = nowFunc()
		return nil, nil
	}, true)
	return err
}

// UpdateEntities replaces the session's recent-entities list, capped at
// model.MaxRecentEntities.
func (s *Store) UpdateEntities(ctx context.Context, sessionID string, entities []string) error {
	a := s.actorFor(sessionID)
	_, err := a.call(ctx, func(cur *model.Session) (any, error) {
		if len(entities) > model.MaxRecentEntities {
			entities = entities[len(entities)-model.MaxRecentEntities:]
		}
		cur.RecentEntities = entities
		cur.UpdatedAt = nowFunc()
		return nil, nil
	}, true)
	return err
}

// FreezeCitationMap persists the session's first-response citation map and
// evidences. It is a no-op if the session already has a frozen map: only
// the first successful answer freezes one.
func (s *Store) FreezeCitationMap(ctx context.Context, sessionID string, m *model.CitationMap, evidences []model.Evidence) error {
	a := s.actorFor(sessionID)
	_, err := a.call(ctx, func(cur *model.Session) (any, error) {
		if cur.FirstResponseCitationMap != nil {
			return nil, nil
		}
		cur.FirstResponseCitationMap = m
		cur.FirstResponseEvidences = evidences
		cur.UpdatedAt = nowFunc()
		return nil, nil
	}, true)
	return err
}

// AppendRecentDocIDs records the doc_ids a turn retrieved from, deduplicated
// and capped (model.AppendRecentDocIDs).
func (s *Store) AppendRecentDocIDs(ctx context.Context, sessionID string, docIDs []string) error {
	a := s.actorFor(sessionID)
	_, err := a.call(ctx, func(cur *model.Session) (any, error) {
		cur.AppendRecentDocIDs(docIDs)
		cur.UpdatedAt = nowFunc()
		return nil, nil
	}, true)
	return err
}

// SetInFlight marks or clears the session's single-in-flight-turn guard.
func (s *Store) SetInFlight(ctx context.Context, sessionID string, inFlight bool) (bool, error) {
	a := s.actorFor(sessionID)
	res, err := a.call(ctx, func(cur *model.Session) (any, error) {
		if inFlight && cur.InFlight {
			return false, nil
		}
		cur.InFlight = inFlight
		return true, nil
	}, false)
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// ClearTurns removes all turns and first-answer citation state from a
// session, leaving its identity intact.
func (s *Store) ClearTurns(ctx context.Context, sessionID string) error {
	a := s.actorFor(sessionID)
	_, err := a.call(ctx, func(cur *model.Session) (any, error) {
		cur.Turns = nil
		cur.RecentSourceDocIDs = nil
		cur.FirstResponseEvidences = nil
		cur.FirstResponseCitationMap = nil
		cur.ConversationSummary = ""
		cur.SummaryConfidence = 0
		cur.RecentEntities = nil
		cur.UpdatedAt = nowFunc()
		return nil, nil
	}, true)
	return err
}

// RegisterInFlight associates a cancel func with a session's current turn so
// Interrupt can cooperatively cancel it. The
// returned release func must be called once the turn completes, successfully
// or not, to avoid cancelling a future unrelated turn.
func (s *Store) RegisterInFlight(sessionID string, cancel context.CancelFunc) (release func()) {
	s.cancelMu.Lock()
	s.cancels[sessionID] = cancel
	s.cancelMu.Unlock()
	return func() {
		s.cancelMu.Lock()
		if s.cancels[sessionID] != nil {
			delete(s.cancels, sessionID)
		}
		s.cancelMu.Unlock()
	}
}

// Interrupt cancels the in-flight turn for a session, if any. Idempotent:
// calling it with no in-flight turn is a no-op.
func (s *Store) Interrupt(sessionID string) bool {
	s.cancelMu.Lock()
	cancel, ok := s.cancels[sessionID]
	s.cancelMu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// List enumerates all sessions known to the store.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: list storage directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != sessionFileSuffix {
			continue
		}
		sessionID := entry.Name()[:len(entry.Name())-len(sessionFileSuffix)]
		sess, err := s.Fetch(ctx, sessionID)
		if err != nil {
			continue
		}
		fi, _ := entry.Info()
		var size int64
		if fi != nil {
			size = fi.Size()
		}
		infos = append(infos, Info{
			SessionID: sess.SessionID,
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
			TurnCount: len(sess.Turns),
			SizeBytes: size,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	return infos, nil
}

// PruneExpired deletes sessions whose last update is older than maxAge,
// skipping any with an in-flight turn. Returns the IDs it removed.
func (s *Store) PruneExpired(ctx context.Context, maxAge time.Duration) ([]string, error) {
	if maxAge <= 0 {
		return nil, nil
	}
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-maxAge)

	var pruned []string
	for _, info := range infos {
		if !info.UpdatedAt.Before(cutoff) {
			continue
		}
		acquired, err := s.SetInFlight(ctx, info.SessionID, true)
		if err != nil || !acquired {
			continue
		}
		if err := s.Delete(ctx, info.SessionID); err != nil {
			_, _ = s.SetInFlight(ctx, info.SessionID, false)
			continue
		}
		pruned = append(pruned, info.SessionID)
	}
	return pruned, nil
}

// Delete removes a session's on-disk state and stops its writer.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	a, ok := s.actors[sessionID]
	delete(s.actors, sessionID)
	s.mu.Unlock()

	if ok {
		a.stop()
	}

	path := s.pathFor(sessionID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete: %w", err)
	}
	_ = os.Remove(path + ".lock")
	return nil
}

func (s *Store) count() (int, error) {
	entries, err := os.ReadDir(s.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("session: count: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == sessionFileSuffix {
			n++
		}
	}
	return n, nil
}

func (s *Store) actorFor(sessionID string) *sessionActor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actors[sessionID]; ok {
		return a
	}
	a := newSessionActor(s.pathFor(sessionID))
	s.actors[sessionID] = a
	return a
}

// nowFunc is overridable in tests; production always uses wall-clock time.
var nowFunc = time.Now

func cloneSession(s *model.Session) *model.Session {
	data, err := json.Marshal(s)
	if err != nil {
		c := *s
		return &c
	}
	var out model.Session
	if err := json.Unmarshal(data, &out); err != nil {
		c := *s
		return &c
	}
	out.InFlight = s.InFlight
	return &out
}
