package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/castscribe/internal/report"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

type RunHandler struct {
	store report.Store
}

func NewRunHandler(store report.Store) *RunHandler {
	return &RunHandler{store: store}
}

func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	rep, err := h.store.Get(r.Context(), id)
	if errors.Is(err, report.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		slog.Error("get run", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListByEpisode returns the most recent runs first.
func (h *RunHandler) ListByEpisode(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")

	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.store.ListByEpisode(r.Context(), episodeID, limit)
	if err != nil {
		slog.Error("list runs", "episode_id", episodeID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []report.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"episode_id": episodeID,
		"runs":       runs,
	})
}
