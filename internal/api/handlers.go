// Package api implements the chat HTTP surface: session
// management, non-streaming and streaming chat turns, and interrupt. It is
// a thin transport layer over the orchestrator.Orchestrator and
// session.Store — all retrieval/generation/grounding logic lives upstream of
// here.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	govragerrors "github.com/govrag/govrag/internal/errors"
	"github.com/govrag/govrag/internal/model"
	"github.com/govrag/govrag/internal/orchestrator"
	"github.com/govrag/govrag/internal/session"
)

// Server bundles the collaborators the chat HTTP surface depends on.
type Server struct {
	Sessions     *session.Store
	Orchestrator *orchestrator.Orchestrator
}

type createSessionRequest struct {
	Title       string   `json:"title"`
	DocumentIDs []string `json:"document_ids"`
}

type sessionView struct {
	SessionID string      `json:"session_id"`
	Title     string      `json:"title"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
	Turns     []model.Turn `json:"turns,omitempty"`
}

func toSessionView(s *model.Session, withTurns bool) sessionView {
	v := sessionView{
		SessionID: s.SessionID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt.Format(timeLayout),
		UpdatedAt: s.UpdatedAt.Format(timeLayout),
	}
	if withTurns {
		v.Turns = s.Turns
	}
	return v
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// CreateSession handles POST /api/chat/sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, govragerrors.New(govragerrors.ErrCodeInvalidInput, "malformed request body", err))
			return
		}
	}

	sess, err := s.Sessions.Create(r.Context(), req.Title, req.DocumentIDs...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": toSessionView(sess, false)})
}

// ListSessions handles GET /api/chat/sessions?page=&page_size=.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}

	infos, err := s.Sessions.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	total := len(infos)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":  infos[start:end],
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

// GetSession handles GET /api/chat/sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.Sessions.Fetch(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionView(sess, true)})
}

// DeleteSession handles DELETE /api/chat/sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Sessions.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type messageRequest struct {
	Query        string   `json:"query"`
	DocIDs       []string `json:"doc_ids"`
	ResetContext bool     `json:"reset_context"`
}

// PostMessage handles POST /api/chat/sessions/{id}/messages — the
// non-streaming turn endpoint.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, govragerrors.New(govragerrors.ErrCodeInvalidInput, "malformed request body", err))
		return
	}
	if req.Query == "" {
		writeError(w, govragerrors.New(govragerrors.ErrCodeQueryEmpty, "query must not be empty", nil))
		return
	}

	if req.ResetContext {
		if err := s.Sessions.ClearTurns(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	release := s.Sessions.RegisterInFlight(id, cancel)
	defer release()

	turn, err := s.Orchestrator.Handle(ctx, orchestrator.Request{
		SessionID:    id,
		Query:        req.Query,
		ClientDocIDs: req.DocIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":   turn.Content,
		"sources":  turn.Sources,
		"metadata": turn.Metadata,
	})
}

// StreamMessage handles POST /api/chat/sessions/{id}/messages/stream,
// emitting newline-delimited JSON objects.
func (s *Server) StreamMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, govragerrors.New(govragerrors.ErrCodeInvalidInput, "malformed request body", err))
		return
	}
	if req.Query == "" {
		writeError(w, govragerrors.New(govragerrors.ErrCodeQueryEmpty, "query must not be empty", nil))
		return
	}
	if req.ResetContext {
		if err := s.Sessions.ClearTurns(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, govragerrors.New(govragerrors.ErrCodeInternal, "streaming unsupported by this transport", nil))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	release := s.Sessions.RegisterInFlight(id, cancel)
	defer release()

	events, err := s.Orchestrator.HandleStream(ctx, orchestrator.Request{
		SessionID:    id,
		Query:        req.Query,
		ClientDocIDs: req.DocIDs,
	})
	if err != nil {
		writeNDJSON(w, map[string]any{"error": true, "message": err.Error()})
		flusher.Flush()
		return
	}

	enc := json.NewEncoder(w)
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventStatus:
			_ = enc.Encode(map[string]any{"status": ev.Status})
		case orchestrator.EventContent:
			_ = enc.Encode(map[string]any{"content": ev.Content})
		case orchestrator.EventComplete:
			_ = enc.Encode(map[string]any{
				"complete": true,
				"answer":   ev.Turn.Content,
				"sources":  ev.Turn.Sources,
				"metadata": ev.Turn.Metadata,
			})
		case orchestrator.EventError:
			_ = enc.Encode(map[string]any{"error": true, "message": ev.Err.Error()})
		}
		flusher.Flush()
	}
}

// Interrupt handles POST /api/chat/sessions/{id}/interrupt.
func (s *Server) Interrupt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.Sessions.Interrupt(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ClearMessages handles DELETE /api/chat/sessions/{id}/messages.
func (s *Server) ClearMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Sessions.ClearTurns(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeNDJSON(w http.ResponseWriter, body any) {
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := govragerrors.HTTPStatus(err)
	data, _ := govragerrors.FormatJSON(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
