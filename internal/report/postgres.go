package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nikhilbhutani/castscribe/internal/models"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const reportColumns = `id, show_id, episode_id, state, reason, attempts, calls, coverage_ratio,
	covered_seconds, total_seconds, seam_anomalies, caption_key, cue_count, attempt_log,
	started_at, finished_at`

func (s *PostgresStore) Record(ctx context.Context, r Report) error {
	attempts, err := json.Marshal(r.AttemptLog)
	if err != nil {
		return fmt.Errorf("marshal attempt log: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO transcription_runs (`+reportColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (id) DO UPDATE SET
		   state = EXCLUDED.state, reason = EXCLUDED.reason, attempts = EXCLUDED.attempts,
		   calls = EXCLUDED.calls, coverage_ratio = EXCLUDED.coverage_ratio,
		   covered_seconds = EXCLUDED.covered_seconds, seam_anomalies = EXCLUDED.seam_anomalies,
		   caption_key = EXCLUDED.caption_key, cue_count = EXCLUDED.cue_count,
		   attempt_log = EXCLUDED.attempt_log, finished_at = EXCLUDED.finished_at`,
		r.ID, r.ShowID, r.EpisodeID, string(r.State), r.Reason, r.Attempts, r.Calls, r.CoverageRatio,
		r.CoveredSeconds, r.TotalSeconds, r.SeamAnomalies, r.CaptionKey, r.CueCount, attempts,
		r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transcription run: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	row := s.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM transcription_runs WHERE id = $1`, id)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transcription run: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListByEpisode(ctx context.Context, episodeID string, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+reportColumns+` FROM transcription_runs
		 WHERE episode_id = $1 ORDER BY started_at DESC LIMIT $2`,
		episodeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transcription runs: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcription run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReport(row pgx.Row) (*Report, error) {
	var (
		r        Report
		state    string
		attempts []byte
	)
	err := row.Scan(&r.ID, &r.ShowID, &r.EpisodeID, &state, &r.Reason, &r.Attempts, &r.Calls,
		&r.CoverageRatio, &r.CoveredSeconds, &r.TotalSeconds, &r.SeamAnomalies, &r.CaptionKey,
		&r.CueCount, &attempts, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	r.State = models.RunState(state)
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &r.AttemptLog); err != nil {
			return nil, fmt.Errorf("decode attempt log: %w", err)
		}
	}
	return &r, nil
}
