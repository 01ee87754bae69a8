package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/casefile/internal/caseservice"
	"github.com/starford/casefile/internal/checksum"
	"github.com/starford/casefile/internal/workflow"
)

const maxBody = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc    *caseservice.Service
	events EventStream
}

// NewHandler creates a new Handler.
func NewHandler(svc *caseservice.Service, events EventStream) *Handler {
	return &Handler{svc: svc, events: events}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// ListSessions handles GET /api/sessions.
//
//	@Summary		List sessions
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	SessionListResponse
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Sessions(r.Context())
	if err != nil {
		writeError(w, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionListResponse{Sessions: list})
}

// StartSession handles POST /api/sessions/{id}/start.
//
//	@Summary		Start a session from the director's input
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Session id, or new"
//	@Param			body	body		workflow.SessionInput	true	"Session input"
//	@Success		201		{object}	workflow.State
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/start [post]
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var in workflow.SessionInput
	if !decodeBody(w, r, &in) {
		return
	}
	st, err := h.svc.StartSession(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, "start session", err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+st.SessionID+"/state")
	writeJSON(w, http.StatusCreated, st)
}

// Approve handles POST /api/sessions/{id}/approve.
//
//	@Summary		Resolve the pending checkpoint
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string				true	"Session id"
//	@Param			If-Match	header		string				false	"Checksum of the checkpoint being answered"
//	@Param			body		body		workflow.Response	true	"Checkpoint response"
//	@Success		200			{object}	workflow.State
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/approve [post]
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var resp workflow.Response
	if !decodeBody(w, r, &resp) {
		return
	}
	st, err := h.svc.Approve(r.Context(), chi.URLParam(r, "id"), resp, r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Rollback handles POST /api/sessions/{id}/rollback.
//
//	@Summary		Return a session to an earlier checkpoint
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string						true	"Session id"
//	@Param			body	body		workflow.RollbackRequest	true	"Target checkpoint and overrides"
//	@Success		200		{object}	workflow.State
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/rollback [post]
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req workflow.RollbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := h.svc.Rollback(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, "rollback", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Checkpoint handles GET /api/sessions/{id}/checkpoint.
//
//	@Summary		Get the pending checkpoint
//	@Tags			sessions
//	@Produce		json
//	@Param			id				path		string	true	"Session id"
//	@Param			If-None-Match	header		string	false	"Checksum already held by the client"
//	@Success		200				{object}	workflow.Checkpoint
//	@Success		304				"Unchanged"
//	@Failure		404				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/checkpoint [get]
func (h *Handler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	cp, etag, err := h.svc.Checkpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get checkpoint", err)
		return
	}
	w.Header().Set("ETag", etag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && checksum.Match(inm, cp.Checksum) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// State handles GET /api/sessions/{id}/state.
//
//	@Summary		Get the full session state
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	workflow.State
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/state [get]
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get state", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// History handles GET /api/sessions/{id}/history.
//
//	@Summary		List the checkpoint snapshots of a session
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	HistoryResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get history", err)
		return
	}
	entries := make([]HistoryEntry, len(snaps))
	for i, s := range snaps {
		entries[i] = HistoryEntry{Seq: s.Seq, Checkpoint: s.Checkpoint, Phase: s.State.Phase, Revisions: s.State.Revisions}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Snapshots: entries})
}

// SessionEvents handles GET /api/sessions/{id}/events.
//
//	@Summary		Stream the progress events of a session
//	@Tags			sessions
//	@Produce		text/event-stream
//	@Param			id	path	string	true	"Session id"
//	@Security		BearerAuth
//	@Router			/sessions/{id}/events [get]
func (h *Handler) SessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Session(r.Context(), id); err != nil {
		writeError(w, "session events", err)
		return
	}
	h.events.Serve(w, r, id)
}

// CacheStats handles GET /api/cache/stats.
//
//	@Summary		Summarise the entity cache
//	@Tags			cache
//	@Produce		json
//	@Success		200	{object}	CacheStatsResponse
//	@Security		BearerAuth
//	@Router			/cache/stats [get]
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CacheStats(r.Context())
	if err != nil {
		writeError(w, "cache stats", err)
		return
	}
	writeJSON(w, http.StatusOK, CacheStatsResponse{Types: stats})
}

// RefreshCache handles POST /api/cache/refresh/{type}.
//
//	@Summary		Refresh one collection, or all of them
//	@Tags			cache
//	@Produce		json
//	@Param			type	path		string	true	"Entity type"	Enums(token, character, timeline, photo, all)
//	@Success		200		{object}	RefreshResponse
//	@Failure		422		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cache/refresh/{type} [post]
func (h *Handler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Refresh(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, "refresh cache", err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Refreshed: stats})
}

// ClearCache handles DELETE /api/cache.
//
//	@Summary		Empty the entity cache
//	@Tags			cache
//	@Success		204	"Cache cleared"
//	@Security		BearerAuth
//	@Router			/cache [delete]
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context()); err != nil {
		writeError(w, "clear cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
