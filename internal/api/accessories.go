package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/controller/status"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// handleListAccessories returns the last-known state of every accessory.
func (s *Server) handleListAccessories(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, ErrKindUnavailable, "status tracking is disabled")
		return
	}
	snapshots, err := s.status.Accessories(r.Context())
	if err != nil {
		s.logger.Error("listing accessories failed", "error", err)
		writeInternalError(w, "failed to list accessories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessories": snapshots,
		"count":       len(snapshots),
	})
}

// handleGetAccessory returns the last-known state of one accessory.
func (s *Server) handleGetAccessory(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, ErrKindUnavailable, "status tracking is disabled")
		return
	}
	id, ok := accessoryIDParam(w, r)
	if !ok {
		return
	}
	snapshot, err := s.status.Accessory(r.Context(), id)
	if errors.Is(err, status.ErrUnknownAccessory) {
		writeNotFound(w, "accessory not found")
		return
	}
	if err != nil {
		s.logger.Error("getting accessory failed", "accessory_id", id.String(), "error", err)
		writeInternalError(w, "failed to get accessory")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleAccessoryHistory returns recorded values for one accessory, newest
// first. The optional limit query parameter is capped at 1000.
func (s *Server) handleAccessoryHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrKindUnavailable, "history is disabled")
		return
	}
	id, ok := accessoryIDParam(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.History(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("querying history failed", "accessory_id", id.String(), "error", err)
		writeInternalError(w, "failed to query history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessory-id": id,
		"entries":      entries,
		"count":        len(entries),
	})
}

func accessoryIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "accessoryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrKindInvalidAccessory, err.Error())
		return uuid.Nil, false
	}
	return id, true
}
