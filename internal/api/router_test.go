package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/castscribe/internal/auth"
	"github.com/nikhilbhutani/castscribe/internal/config"
	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/queue"
	"github.com/nikhilbhutani/castscribe/internal/report"
)

const testSecret = "test-secret"

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.TranscriptCompletePayload
	err      error
}

func (q *fakeQueue) EnqueueTranscriptComplete(_ context.Context, p queue.TranscriptCompletePayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.payloads = append(q.payloads, p)
	return nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixture struct {
	handler http.Handler
	queue   *fakeQueue
	runs    *report.MemoryStore
	token   string
}

func newFixture(t *testing.T, db pingFunc, rdb *redis.Client) *fixture {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{RateLimitRPS: 1000, RateLimitBurst: 1000},
		Auth:   config.AuthConfig{JWTSecret: testSecret},
	}
	q := &fakeQueue{}
	runs := report.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var pinger interface{ Ping(context.Context) error }
	if db != nil {
		pinger = db
	}
	h := NewRouter(pinger, rdb, cfg, q, runs).Setup(ctx)

	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "producer-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	return &fixture{handler: h, queue: q, runs: runs, token: token}
}

func (f *fixture) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	dbErr := error(nil)
	f := newFixture(t, func(context.Context) error { return dbErr }, rdb)

	rec := f.do(http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/readyz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"database":"ok","redis":"ok"}}`, rec.Body.String())

	dbErr = errors.New("connection refused")
	rec = f.do(http.MethodGet, "/readyz", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy: connection refused")
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t, nil, nil)

	for _, path := range []string{"/api/v1/runs/" + uuid.NewString(), "/api/v1/episodes/ep1/runs"} {
		rec := f.do(http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := f.do(http.MethodPost, "/api/v1/transcripts", `{"episode_id":"ep1","audio_ref":"a.mp3"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.queue.payloads)
}

func TestCreateTranscript(t *testing.T) {
	f := newFixture(t, nil, nil)

	body := `{"show_id":"tech-talk","episode_id":" ep-42 ","title":"Episode 42","audio_ref":"s3://audio/ep42.mp3","duration_seconds":3600,"speaker_hints":["Host","Guest"]}`
	rec := f.do(http.MethodPost, "/api/v1/transcripts", body, true)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	_, err := uuid.Parse(resp["run_id"])
	require.NoError(t, err)

	require.Len(t, f.queue.payloads, 1)
	p := f.queue.payloads[0]
	assert.Equal(t, resp["run_id"], p.RunID)
	assert.Equal(t, models.RecordingMetadata{
		ShowID:          "tech-talk",
		EpisodeID:       "ep-42",
		Title:           "Episode 42",
		AudioRef:        "s3://audio/ep42.mp3",
		DurationSeconds: 3600,
		SpeakerHints:    []string{"Host", "Guest"},
	}, p.Metadata)
}

func TestCreateTranscriptRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, "invalid request body"},
		{"no episode", `{"audio_ref":"a.mp3"}`, "episode_id is required"},
		{"no audio", `{"episode_id":"ep1","audio_ref":"  "}`, "audio_ref is required"},
		{"negative duration", `{"episode_id":"ep1","audio_ref":"a.mp3","duration_seconds":-1}`, "duration_seconds must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			rec := f.do(http.MethodPost, "/api/v1/transcripts", tt.body, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"`+tt.want+`"}`, rec.Body.String())
			assert.Empty(t, f.queue.payloads)
		})
	}
}

func TestCreateTranscriptQueueDown(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.queue.err = errors.New("redis: connection refused")

	rec := f.do(http.MethodPost, "/api/v1/transcripts", `{"episode_id":"ep1","audio_ref":"a.mp3"}`, true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")
}

func TestRuns(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := report.Report{ID: uuid.New(), EpisodeID: "ep1", State: models.StateExhausted, Reason: "coverage 62% after 10 attempts", StartedAt: base}
	newer := report.Report{ID: uuid.New(), EpisodeID: "ep1", State: models.StateComplete, CoverageRatio: 0.97, StartedAt: base.Add(time.Hour)}
	other := report.Report{ID: uuid.New(), EpisodeID: "ep2", State: models.StateComplete, StartedAt: base}
	for _, r := range []report.Report{older, newer, other} {
		require.NoError(t, f.runs.Record(ctx, r))
	}

	t.Run("get", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/runs/"+older.ID.String(), "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		var got report.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, older.ID, got.ID)
		assert.Equal(t, models.StateExhausted, got.State)
		assert.Equal(t, "coverage 62% after 10 attempts", got.Reason)
	})

	t.Run("get missing", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/runs/"+uuid.NewString(), "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("get bad id", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/runs/not-a-uuid", "", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list newest first", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/episodes/ep1/runs", "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		var got struct {
			EpisodeID string          `json:"episode_id"`
			Runs      []report.Report `json:"runs"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "ep1", got.EpisodeID)
		require.Len(t, got.Runs, 2)
		assert.Equal(t, newer.ID, got.Runs[0].ID)
		assert.Equal(t, older.ID, got.Runs[1].ID)
	})

	t.Run("list limit", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/episodes/ep1/runs?limit=1", "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, strings.Count(rec.Body.String(), `"id"`))

		rec = f.do(http.MethodGet, "/api/v1/episodes/ep1/runs?limit=zero", "", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list empty", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/api/v1/episodes/unknown/runs", "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"episode_id":"unknown","runs":[]}`, rec.Body.String())
	})
}
