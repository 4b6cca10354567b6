// Package app assembles the transcription engine from configuration. The worker and
// the CLI share it.
package app

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/castscribe/internal/cache"
	"github.com/nikhilbhutani/castscribe/internal/caption"
	"github.com/nikhilbhutani/castscribe/internal/config"
	"github.com/nikhilbhutani/castscribe/internal/continuation"
	"github.com/nikhilbhutani/castscribe/internal/engine"
	"github.com/nikhilbhutani/castscribe/internal/events"
	"github.com/nikhilbhutani/castscribe/internal/llm"
	"github.com/nikhilbhutani/castscribe/internal/media"
	"github.com/nikhilbhutani/castscribe/internal/quota"
	"github.com/nikhilbhutani/castscribe/internal/report"
	"github.com/nikhilbhutani/castscribe/internal/storage"
	"github.com/nikhilbhutani/castscribe/internal/transcribe"
)

// Resources are the shared connections. Either may be nil; the engine then falls back
// to in-process locking and log-only reports.
type Resources struct {
	Redis  *redis.Client
	DB     report.DB
	Logger *slog.Logger
}

func NewEngine(cfg *config.Config, res Resources) (*engine.Engine, error) {
	logger := res.Logger
	if logger == nil {
		logger = slog.Default()
	}

	capability, localAudio, err := NewCapability(cfg)
	if err != nil {
		return nil, err
	}
	q, err := NewQuota(cfg.Quota, res.Redis, logger)
	if err != nil {
		return nil, err
	}
	store, err := NewStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	collector := events.LogCollector{Logger: logger}
	orch := continuation.New(capability, q, OrchestratorConfig(cfg.Engine),
		continuation.WithEvents(collector),
		continuation.WithLogger(logger),
	)

	var locker cache.Locker = cache.NewMemoryLocker()
	if res.Redis != nil {
		locker = cache.NewCache(res.Redis)
	}

	sink := report.Sink(report.LogSink{Logger: logger})
	if res.DB != nil {
		sink = report.MultiSink(sink, report.NewPostgresStore(res.DB))
	}

	deps := engine.Deps{
		Transcriber: orch,
		Converter:   caption.NewConverter(caption.Config{MaxCueDuration: cfg.Engine.MaxCueDuration}),
		Storage:     store,
		Locker:      locker,
		Sink:        sink,
		Events:      collector,
		Logger:      logger,
	}
	if localAudio {
		deps.Prober = media.New(cfg.STT.FFmpegPath, cfg.STT.FFprobePath, cfg.STT.WorkDir)
	}
	return engine.New(deps, engine.Config{
		LockTTL:    cfg.Engine.LockTTL,
		LocalAudio: localAudio,
		WorkDir:    cfg.STT.WorkDir,
	}), nil
}

func OrchestratorConfig(c config.EngineConfig) continuation.Config {
	return continuation.Config{
		MinCoverageRatio:        c.MinCoverageRatio,
		MaxContinuationAttempts: c.MaxContinuationAttempts,
		MaxConsecutiveFailures:  c.MaxConsecutiveFailures,
		MaxConsecutiveMalformed: c.MaxConsecutiveMalformed,
		CallTimeout:             c.CallTimeout,
		BackoffBase:             c.BackoffBase,
		OverlapTolerance:        c.OverlapTolerance,
		ExcerptLines:            c.ExcerptLines,
		ExcerptChars:            c.ExcerptChars,
		ExcerptTokens:           c.ExcerptTokens,
	}
}

// NewCapability picks the transcription backend. The bool reports whether the backend
// reads audio from local disk.
func NewCapability(cfg *config.Config) (continuation.Capability, bool, error) {
	switch cfg.STT.Backend {
	case "whisper":
		clients := llm.NewOpenAIClients(cfg.LLM.OpenAIKey, cfg.STT.OpenAIBaseURL)
		ff := media.New(cfg.STT.FFmpegPath, cfg.STT.FFprobePath, cfg.STT.WorkDir)
		return transcribe.NewWhisper(clients, ff, cfg.STT.OpenAIModel), true, nil
	case "chat":
		gw := llm.NewGateway(cfg.LLM)
		if _, err := gw.Provider(cfg.LLM.DefaultProvider); err != nil {
			return nil, false, fmt.Errorf("chat backend: %w", err)
		}
		return transcribe.NewChat(gw, cfg.LLM.DefaultProvider, cfg.LLM.DefaultModel, cfg.LLM.MaxTokens), false, nil
	default:
		return nil, false, fmt.Errorf("unknown STT backend %q", cfg.STT.Backend)
	}
}

func NewQuota(cfg config.QuotaConfig, rdb *redis.Client, logger *slog.Logger) (quota.Manager, error) {
	if len(cfg.Keys) == 0 {
		logger.Warn("no quota keys configured, transcription calls are not rate limited")
		return quota.Unlimited{}, nil
	}
	qc := quota.Config{
		Keys:              cfg.Keys,
		RequestsPerWindow: cfg.RequestsPerWindow,
		Window:            cfg.Window,
		MaxInFlight:       cfg.MaxInFlight,
	}
	switch cfg.Backend {
	case "memory":
		return quota.NewMemory(qc), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis quota backend needs a redis connection")
		}
		return quota.NewRedis(rdb, qc, "", 0), nil
	default:
		return nil, fmt.Errorf("unknown quota backend %q", cfg.Backend)
	}
}

func NewStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case "local":
		return storage.NewLocalStorage(cfg.LocalDir), nil
	case "supabase":
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			return nil, fmt.Errorf("supabase storage needs SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
		return storage.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
