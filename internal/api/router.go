package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/casefile/internal/caseservice"
)

// EventStream serves Server-Sent Events, either every event or the events
// of one session.
type EventStream interface {
	http.Handler
	Serve(w http.ResponseWriter, r *http.Request, topic string)
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events, if non-nil, backs GET /events and GET /sessions/{id}/events inside
// the auth group.
func NewRouter(svc *caseservice.Service, authEnabled bool, token string, events EventStream) chi.Router {
	h := NewHandler(svc, events)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Sessions.
	r.Get("/sessions", h.ListSessions)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/start", h.StartSession)
		r.Post("/approve", h.Approve)
		r.Post("/rollback", h.Rollback)
		r.Get("/checkpoint", h.Checkpoint)
		r.Get("/state", h.State)
		r.Get("/history", h.History)
		if events != nil {
			r.Get("/events", h.SessionEvents)
		}
	})

	// Cache.
	r.Get("/cache/stats", h.CacheStats)
	r.Post("/cache/refresh/{type}", h.RefreshCache)
	r.Delete("/cache", h.ClearCache)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}
