package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"script-sandbox/internal/runtime"
	"script-sandbox/internal/service"
	"script-sandbox/internal/storage"
)

type Handlers struct {
	exec *service.Executor
	db   *storage.DB
}

func NewHandlers(exec *service.Executor, db *storage.DB) *Handlers {
	return &Handlers{exec: exec, db: db}
}

func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Language == "" {
		req.Language = "python"
	}

	lang, err := runtime.ParseLanguage(req.Language)
	if err != nil {
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	out := h.exec.Execute(r.Context(), service.Request{
		Code:          req.Code,
		Language:      lang,
		Timeout:       req.Timeout.Duration,
		MemoryLimitMB: req.MemoryLimitMB,
		CallerID:      req.CallerID,
		SessionID:     req.SessionID,
	})

	// Failures inside the sandbox are still 200s: the HTTP exchange
	// succeeded, the script did not. Only transport-level problems map
	// to error statuses.
	writeJSON(w, http.StatusOK, toResponse(out))
}

func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	rec, err := h.db.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.ExecutionFilter{
		CallerID:  r.URL.Query().Get("caller_id"),
		SessionID: r.URL.Query().Get("session_id"),
		Status:    r.URL.Query().Get("status"),
		Limit:     100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, "limit must be 1-1000", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Limit = n
	}

	recs, err := h.db.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
