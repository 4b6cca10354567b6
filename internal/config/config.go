package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	LLM      LLMConfig
	STT      STTConfig
	Storage  StorageConfig
	Quota    QuotaConfig
	Engine   EngineConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type LLMConfig struct {
	OpenAIKey        string
	AnthropicKey     string
	OllamaURL        string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	MaxRetries       int
	MaxTokens        int
}

type STTConfig struct {
	Backend       string // "whisper" or "chat"
	OpenAIBaseURL string
	OpenAIModel   string
	FFmpegPath    string
	FFprobePath   string
	WorkDir       string
}

type StorageConfig struct {
	Backend     string // "supabase" or "local"
	SupabaseURL string
	SupabaseKey string
	Bucket      string
	LocalDir    string
}

type QuotaConfig struct {
	Backend           string // "redis" or "memory"
	Keys              []string
	RequestsPerWindow int
	Window            time.Duration
	MaxInFlight       int
}

type EngineConfig struct {
	MinCoverageRatio        float64
	MaxContinuationAttempts int
	MaxConsecutiveFailures  int
	MaxConsecutiveMalformed int
	CallTimeout             time.Duration
	BackoffBase             time.Duration
	OverlapTolerance        float64
	MaxCueDuration          float64
	ExcerptLines            int
	ExcerptChars            int
	ExcerptTokens           int
	LockTTL                 time.Duration
}

type WorkerConfig struct {
	Concurrency int
}

// Load reads configuration from the environment. The first malformed value aborts.
func Load() (*Config, error) {
	l := &loader{}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           l.int("SERVER_PORT", 8080),
			RateLimitRPS:   l.float("RATE_LIMIT_RPS", 10),
			RateLimitBurst: l.int("RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       l.int("DB_MAX_CONNS", 20),
			MinConns:       l.int("DB_MIN_CONNS", 5),
			MigrationsPath: getEnv("MIGRATIONS_PATH", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       l.int("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			OllamaURL:        getEnv("OLLAMA_URL", ""),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "gpt-4o"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       l.int("LLM_MAX_RETRIES", 2),
			MaxTokens:        l.int("LLM_MAX_TOKENS", 8192),
		},
		STT: STTConfig{
			Backend:       getEnv("STT_BACKEND", "whisper"),
			OpenAIBaseURL: getEnv("STT_OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("STT_OPENAI_MODEL", "whisper-1"),
			FFmpegPath:    getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:   getEnv("FFPROBE_PATH", "ffprobe"),
			WorkDir:       getEnv("STT_WORK_DIR", os.TempDir()),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "local"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "captions"),
			LocalDir:    getEnv("STORAGE_LOCAL_DIR", "data"),
		},
		Quota: QuotaConfig{
			Backend:           getEnv("QUOTA_BACKEND", "redis"),
			Keys:              getEnvList("QUOTA_API_KEYS", nil),
			RequestsPerWindow: l.int("QUOTA_REQUESTS_PER_WINDOW", 50),
			Window:            l.duration("QUOTA_WINDOW", time.Minute),
			MaxInFlight:       l.int("QUOTA_MAX_IN_FLIGHT", 4),
		},
		Engine: EngineConfig{
			MinCoverageRatio:        l.float("ENGINE_MIN_COVERAGE_RATIO", 0.85),
			MaxContinuationAttempts: l.int("ENGINE_MAX_CONTINUATION_ATTEMPTS", 10),
			MaxConsecutiveFailures:  l.int("ENGINE_MAX_CONSECUTIVE_FAILURES", 3),
			MaxConsecutiveMalformed: l.int("ENGINE_MAX_CONSECUTIVE_MALFORMED", 2),
			CallTimeout:             l.duration("ENGINE_CALL_TIMEOUT", 10*time.Minute),
			BackoffBase:             l.duration("ENGINE_BACKOFF_BASE", 500*time.Millisecond),
			OverlapTolerance:        l.float("ENGINE_OVERLAP_TOLERANCE", 10),
			MaxCueDuration:          l.float("ENGINE_MAX_CUE_DURATION", 7),
			ExcerptLines:            l.int("ENGINE_EXCERPT_LINES", 8),
			ExcerptChars:            l.int("ENGINE_EXCERPT_CHARS", 2000),
			ExcerptTokens:           l.int("ENGINE_EXCERPT_TOKENS", 400),
			LockTTL:                 l.duration("ENGINE_LOCK_TTL", 2*time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency: l.int("WORKER_CONCURRENCY", 4),
		},
	}

	if l.err != nil {
		return nil, l.err
	}
	if len(cfg.Quota.Keys) == 0 && cfg.LLM.OpenAIKey != "" {
		cfg.Quota.Keys = []string{cfg.LLM.OpenAIKey}
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports settings that are missing or out of range for the service binaries.
func (c *Config) Validate() error {
	var problems []string
	if c.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	problems = append(problems, c.Engine.problems()...)

	switch c.STT.Backend {
	case "whisper":
		if len(c.Quota.Keys) == 0 {
			problems = append(problems, "QUOTA_API_KEYS or OPENAI_API_KEY is required for the whisper backend")
		}
	case "chat":
	default:
		problems = append(problems, fmt.Sprintf("STT_BACKEND %q is not one of whisper, chat", c.STT.Backend))
	}
	switch c.Storage.Backend {
	case "local":
	case "supabase":
		if c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "" {
			problems = append(problems, "SUPABASE_URL and SUPABASE_SERVICE_KEY are required for supabase storage")
		}
	default:
		problems = append(problems, fmt.Sprintf("STORAGE_BACKEND %q is not one of local, supabase", c.Storage.Backend))
	}
	if c.Quota.Backend != "redis" && c.Quota.Backend != "memory" {
		problems = append(problems, fmt.Sprintf("QUOTA_BACKEND %q is not one of redis, memory", c.Quota.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (e EngineConfig) problems() []string {
	var p []string
	if e.MinCoverageRatio <= 0 || e.MinCoverageRatio > 1 {
		p = append(p, "ENGINE_MIN_COVERAGE_RATIO must be in (0, 1]")
	}
	if e.MaxContinuationAttempts < 1 {
		p = append(p, "ENGINE_MAX_CONTINUATION_ATTEMPTS must be at least 1")
	}
	if e.MaxConsecutiveFailures < 1 {
		p = append(p, "ENGINE_MAX_CONSECUTIVE_FAILURES must be at least 1")
	}
	if e.MaxConsecutiveMalformed < 1 {
		p = append(p, "ENGINE_MAX_CONSECUTIVE_MALFORMED must be at least 1")
	}
	if e.CallTimeout <= 0 {
		p = append(p, "ENGINE_CALL_TIMEOUT must be positive")
	}
	if e.MaxCueDuration <= 0 {
		p = append(p, "ENGINE_MAX_CUE_DURATION must be positive")
	}
	return p
}

// loader keeps the first parse error so Load can read every value in one pass.
type loader struct {
	err error
}

func (l *loader) int(key string, fallback int) int {
	v, err := getEnvInt(key, fallback)
	l.keep(key, err)
	return v
}

func (l *loader) float(key string, fallback float64) float64 {
	v, err := getEnvFloat(key, fallback)
	l.keep(key, err)
	return v
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	v, err := getEnvDuration(key, fallback)
	l.keep(key, err)
	return v
}

func (l *loader) keep(key string, err error) {
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
