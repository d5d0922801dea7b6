package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/w-h-a/memories/internal/service/memory"
	"github.com/w-h-a/memories/storer"
	getsafe "github.com/w-h-a/memories/util/get_safe"
)

type MemoryService interface {
	Ingest(ctx context.Context, userId string, payload memory.Payload) (string, error)
	Recent(ctx context.Context, userId string, query memory.RecentQuery) ([]memory.Summary, error)
	Search(ctx context.Context, userId string, query string, limit int) ([]memory.Summary, error)
}

type memoriesHandler struct {
	memories MemoryService
}

func (h *memoriesHandler) MemoryCreated(w http.ResponseWriter, r *http.Request) {
	userId := r.URL.Query().Get("uid")

	var payload memory.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.fail(w, r, fmt.Errorf("%w: invalid request payload: %w", memory.ErrValidation, err), http.StatusBadRequest, "user_id", userId)
		return
	}

	id, err := h.memories.Ingest(r.Context(), userId, payload)
	if err != nil {
		h.fail(w, r, err, http.StatusBadRequest, "user_id", userId, "memory_id", payload.Id)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"memory_id": id,
	})
}

func (h *memoriesHandler) RealtimeTranscript(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload == nil {
		if err == nil {
			err = errors.New("body must be a JSON object")
		}
		h.fail(w, r, fmt.Errorf("%w: invalid request payload: %w", memory.ErrValidation, err), http.StatusBadRequest)
		return
	}

	slog.InfoContext(
		r.Context(),
		"realtime transcript received",
		"user_id", r.URL.Query().Get("uid"),
		"session_id", getsafe.String(payload, "session_id"),
		"segments", len(getsafe.Slice(payload, "segments")),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"received_data": payload,
	})
}

func (h *memoriesHandler) ListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userId := q.Get("user_id")

	query := memory.RecentQuery{}

	var err error
	if query.Limit, err = limitParam(q.Get("limit")); err != nil {
		h.fail(w, r, err, http.StatusInternalServerError, "user_id", userId)
		return
	}
	if query.IncludeTranscripts, err = boolParam("include_transcripts", q.Get("include_transcripts")); err != nil {
		h.fail(w, r, err, http.StatusInternalServerError, "user_id", userId)
		return
	}
	if query.ExcludeDeleted, err = boolParam("exclude_deleted", q.Get("exclude_deleted")); err != nil {
		h.fail(w, r, err, http.StatusInternalServerError, "user_id", userId)
		return
	}
	if query.Start, err = memory.ParseTimestamp(q.Get("start_date")); err != nil {
		h.fail(w, r, fmt.Errorf("%w: start_date: %w", memory.ErrValidation, err), http.StatusInternalServerError, "user_id", userId)
		return
	}
	if query.End, err = memory.ParseTimestamp(q.Get("end_date")); err != nil {
		h.fail(w, r, fmt.Errorf("%w: end_date: %w", memory.ErrValidation, err), http.StatusInternalServerError, "user_id", userId)
		return
	}

	summaries, err := h.memories.Recent(r.Context(), userId, query)
	if err != nil {
		h.fail(w, r, err, http.StatusInternalServerError, "user_id", userId)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (h *memoriesHandler) SearchMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userId := q.Get("user_id")

	limit, err := limitParam(q.Get("limit"))
	if err != nil {
		h.fail(w, r, err, http.StatusInternalServerError, "user_id", userId)
		return
	}

	summaries, err := h.memories.Search(r.Context(), userId, q.Get("query"), limit)
	if err != nil {
		h.fail(w, r, err, http.StatusInternalServerError, "user_id", userId)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (h *memoriesHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": http.StatusText(http.StatusNotFound)})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": http.StatusText(http.StatusMethodNotAllowed)})
}

// fail logs err with its context and writes the matching status. Provider
// failures answer with providerStatus, which differs between ingestion and search.
func (h *memoriesHandler) fail(w http.ResponseWriter, r *http.Request, err error, providerStatus int, attrs ...any) {
	status := statusFor(err, providerStatus)

	args := append([]any{"path", r.URL.Path, "status", status, "error", err}, attrs...)
	slog.ErrorContext(r.Context(), "request failed", args...)

	detail := err.Error()
	if status >= http.StatusInternalServerError {
		detail = http.StatusText(status)
	}

	writeJSON(w, status, map[string]string{"detail": detail})
}

func statusFor(err error, providerStatus int) int {
	switch {
	case errors.Is(err, memory.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrProvider):
		return providerStatus
	case errors.Is(err, storer.ErrConstraintViolation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// limitParam returns 0 for an absent value so the service applies its default.
func limitParam(raw string) (int, error) {
	if len(strings.TrimSpace(raw)) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", memory.ErrValidation)
	}
	return n, nil
}

func boolParam(name string, raw string) (bool, error) {
	if len(strings.TrimSpace(raw)) == 0 {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", memory.ErrValidation, name)
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// NewRouter binds the memory endpoints. A nil authenticator leaves them open.
func NewRouter(memories MemoryService, auth *Authenticator) *mux.Router {
	h := &memoriesHandler{
		memories: memories,
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	router.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	if auth != nil {
		api.Use(auth.Middleware)
	}

	api.HandleFunc("/memory-created", h.MemoryCreated).Methods(http.MethodPost)
	api.HandleFunc("/realtime-transcript", h.RealtimeTranscript).Methods(http.MethodPost)
	api.HandleFunc("/memories/search", h.SearchMemories).Methods(http.MethodGet)
	api.HandleFunc("/memories/", h.ListMemories).Methods(http.MethodGet)
	api.HandleFunc("/memories", h.ListMemories).Methods(http.MethodGet)

	return router
}
