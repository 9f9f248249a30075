package deadletter

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/apperr"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/httpx"
	"github.com/hiennm11/Simple-Booking-Microservices-Project-sub000/internal/platform/reqctx"
)

// Handler exposes the operator surface of one service's dead-letter store.
// Both routes require the admin role; parked payloads can carry anything the
// saga ever saw.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Mount(r chi.Router) {
	r.Get("/dead-letters", h.list)
	r.Post("/dead-letters/{id}/resolve", h.resolve)
}

type messageDTO struct {
	ID              string     `json:"id"`
	SourceQueue     string     `json:"sourceQueue"`
	EventType       string     `json:"eventType"`
	Payload         string     `json:"payload"`
	ErrorMessage    string     `json:"errorMessage"`
	AttemptCount    int        `json:"attemptCount"`
	FirstAttemptAt  time.Time  `json:"firstAttemptAt"`
	FailedAt        time.Time  `json:"failedAt"`
	Resolved        bool       `json:"resolved"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy      *string    `json:"resolvedBy,omitempty"`
	ResolutionNotes *string    `json:"resolutionNotes,omitempty"`
}

func requireOperator(w http.ResponseWriter, r *http.Request) bool {
	if !httpx.HasRole(r, "admin") {
		httpx.FailErr(w, r, apperr.NewForbidden("operator role required"))
		return false
	}
	return true
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	includeResolved := r.URL.Query().Get("include_resolved") == "true"
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.Fail(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	msgs, err := h.store.List(r.Context(), includeResolved, limit)
	if err != nil {
		httpx.FailErr(w, r, apperr.NewInternal("list dead letters", err))
		return
	}

	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO{
			ID:          m.ID,
			SourceQueue: m.SourceQueue,
			EventType:   m.EventType,
			// Payload travels as a string because poison bodies are not
			// guaranteed to be valid JSON.
			Payload:         string(m.Payload),
			ErrorMessage:    m.ErrorMessage,
			AttemptCount:    m.AttemptCount,
			FirstAttemptAt:  m.FirstAttemptAt,
			FailedAt:        m.FailedAt,
			Resolved:        m.Resolved,
			ResolvedAt:      m.ResolvedAt,
			ResolvedBy:      m.ResolvedBy,
			ResolutionNotes: m.ResolutionNotes,
		})
	}
	httpx.Data(w, r, http.StatusOK, out)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolvedBy"`
	Notes      string `json:"notes"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}
	// The body is optional; resolvedBy falls back to the caller's identity.
	var req resolveRequest
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			httpx.Fail(w, r, http.StatusBadRequest, string(apperr.CodeValidation), "invalid json body", nil)
			return
		}
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = reqctx.UserID(r.Context())
	}

	id := chi.URLParam(r, "id")
	if err := h.store.Resolve(r.Context(), id, req.ResolvedBy, req.Notes); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Fail(w, r, http.StatusNotFound, string(apperr.CodeNotFound), "dead letter not found", nil)
			return
		}
		httpx.FailErr(w, r, apperr.NewInternal("resolve dead letter", err))
		return
	}
	httpx.Data(w, r, http.StatusOK, map[string]any{"id": id, "resolved": true})
}
