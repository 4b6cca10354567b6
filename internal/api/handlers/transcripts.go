package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/castscribe/internal/auth"
	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/queue"
)

// Enqueuer is satisfied by *queue.Client.
type Enqueuer interface {
	EnqueueTranscriptComplete(ctx context.Context, p queue.TranscriptCompletePayload) error
}

type TranscriptHandler struct {
	jobs Enqueuer
}

func NewTranscriptHandler(jobs Enqueuer) *TranscriptHandler {
	return &TranscriptHandler{jobs: jobs}
}

type createTranscriptRequest struct {
	ShowID          string   `json:"show_id"`
	EpisodeID       string   `json:"episode_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	AudioRef        string   `json:"audio_ref"`
	DurationSeconds float64  `json:"duration_seconds"`
	SpeakerHints    []string `json:"speaker_hints"`
}

func (req createTranscriptRequest) validate() string {
	switch {
	case strings.TrimSpace(req.EpisodeID) == "":
		return "episode_id is required"
	case strings.TrimSpace(req.AudioRef) == "":
		return "audio_ref is required"
	case req.DurationSeconds < 0:
		return "duration_seconds must not be negative"
	}
	return ""
}

// Create queues a transcription run and answers before any work starts.
func (h *TranscriptHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	runID := uuid.New()
	payload := queue.TranscriptCompletePayload{
		RunID: runID.String(),
		Metadata: models.RecordingMetadata{
			ShowID:          strings.TrimSpace(req.ShowID),
			EpisodeID:       strings.TrimSpace(req.EpisodeID),
			Title:           req.Title,
			Description:     req.Description,
			AudioRef:        strings.TrimSpace(req.AudioRef),
			DurationSeconds: req.DurationSeconds,
			SpeakerHints:    req.SpeakerHints,
		},
	}
	if err := h.jobs.EnqueueTranscriptComplete(r.Context(), payload); err != nil {
		slog.Error("enqueue transcript run", "episode_id", payload.Metadata.EpisodeID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue transcription")
		return
	}

	requestedBy := ""
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		requestedBy = claims.Subject
	}
	slog.Info("transcript run queued",
		"run_id", runID,
		"show_id", payload.Metadata.ShowID,
		"episode_id", payload.Metadata.EpisodeID,
		"requested_by", requestedBy,
	)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID.String(),
		"status": "queued",
	})
}
