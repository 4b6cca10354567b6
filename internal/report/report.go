// Package report records the outcome of every transcription run.
package report

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/castscribe/internal/models"
)

var ErrNotFound = errors.New("run not found")

type Report struct {
	ID             uuid.UUID                    `json:"id"`
	ShowID         string                       `json:"show_id"`
	EpisodeID      string                       `json:"episode_id"`
	State          models.RunState              `json:"state"`
	Reason         string                       `json:"reason,omitempty"`
	Attempts       int                          `json:"attempts"`
	Calls          int                          `json:"calls"`
	CoverageRatio  float64                      `json:"coverage_ratio"`
	CoveredSeconds float64                      `json:"covered_seconds"`
	TotalSeconds   float64                      `json:"total_seconds"`
	SeamAnomalies  int                          `json:"seam_anomalies"`
	CaptionKey     string                       `json:"caption_key,omitempty"`
	CueCount       int                          `json:"cue_count"`
	AttemptLog     []models.ContinuationAttempt `json:"attempt_log,omitempty"`
	StartedAt      time.Time                    `json:"started_at"`
	FinishedAt     time.Time                    `json:"finished_at"`
}

// Sink receives a report when a run ends.
type Sink interface {
	Record(ctx context.Context, r Report) error
}

// Store is a Sink that can be queried.
type Store interface {
	Sink
	Get(ctx context.Context, id uuid.UUID) (*Report, error)
	ListByEpisode(ctx context.Context, episodeID string, limit int) ([]Report, error)
}

type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(_ context.Context, r Report) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if r.State != models.StateComplete {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "transcription run finished",
		"run_id", r.ID,
		"show_id", r.ShowID,
		"episode_id", r.EpisodeID,
		"state", r.State,
		"reason", r.Reason,
		"attempts", r.Attempts,
		"coverage", r.CoverageRatio,
		"seam_anomalies", r.SeamAnomalies,
		"cues", r.CueCount,
		"elapsed", r.FinishedAt.Sub(r.StartedAt),
	)
	return nil
}

// MultiSink records to every sink and returns the errors joined.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Record(ctx context.Context, r Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryStore keeps reports in process.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[uuid.UUID]Report)}
}

func (s *MemoryStore) Record(_ context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) ListByEpisode(_ context.Context, episodeID string, limit int) ([]Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Report
	for _, r := range s.reports {
		if r.EpisodeID == episodeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
