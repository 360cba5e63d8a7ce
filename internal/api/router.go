package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the chi.Mux for the chat HTTP surface: request-ID +
// recoverer middleware, route groups per resource, and a bounded write
// timeout on every route except the SSE-style streaming endpoint.
func NewRouter(s *Server, requestTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/api/chat/sessions", func(r chi.Router) {
		bounded := middleware.Timeout(requestTimeout)

		r.With(bounded).Post("/", s.CreateSession)
		r.With(bounded).Get("/", s.ListSessions)

		r.Route("/{id}", func(r chi.Router) {
			r.With(bounded).Get("/", s.GetSession)
			r.With(bounded).Delete("/", s.DeleteSession)
			r.With(bounded).Post("/messages", s.PostMessage)
			r.With(bounded).Delete("/messages", s.ClearMessages)
			// Streaming has no write-timeout: the client controls duration via
			// the request timeout's cancellation propagating into the
			// orchestrator, not a forced HTTP write deadline.
			r.Post("/messages/stream", s.StreamMessage)
			r.With(bounded).Post("/interrupt", s.Interrupt)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "route not found"})
	})

	return r
}
