// Package quota rotates API keys and rations calls to the transcription service.
// Acquire is an atomic check-then-consume so concurrent episodes never both spend the
// last unit of capacity.
package quota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

var ErrDenied = errors.New("quota capacity denied")

// Grant is one unit of capacity on a specific key. It must be released.
type Grant struct {
	KeyID string
	Key   string
	index int
}

type Manager interface {
	Acquire(ctx context.Context) (Grant, error)
	Release(ctx context.Context, g Grant) error
}

type Config struct {
	Keys              []string
	RequestsPerWindow int // 0 = unlimited
	Window            time.Duration
	MaxInFlight       int // per key, 0 = unlimited
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

// KeyID derives a stable, non-secret identifier for an API key.
func KeyID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

type grantKey struct{}

func WithGrant(ctx context.Context, g Grant) context.Context {
	return context.WithValue(ctx, grantKey{}, g)
}

func GrantFromContext(ctx context.Context) (Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(Grant)
	return g, ok
}

// Unlimited grants every request with no key attached.
type Unlimited struct{}

func (Unlimited) Acquire(context.Context) (Grant, error) { return Grant{}, nil }
func (Unlimited) Release(context.Context, Grant) error   { return nil }

type keyState struct {
	windowStart time.Time
	used        int
	inFlight    int
}

// Memory is an in-process Manager for single-process use and tests.
type Memory struct {
	mu     sync.Mutex
	cfg    Config
	state  []keyState
	cursor int
	now    func() time.Time
}

func NewMemory(cfg Config) *Memory {
	cfg = cfg.withDefaults()
	return &Memory{cfg: cfg, state: make([]keyState, len(cfg.Keys)), now: time.Now}
}

func (m *Memory) Acquire(ctx context.Context) (Grant, error) {
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.cfg.Keys)
	now := m.now()
	for step := 0; step < n; step++ {
		i := (m.cursor + step) % n
		s := &m.state[i]
		if now.Sub(s.windowStart) >= m.cfg.Window {
			s.windowStart, s.used = now, 0
		}
		if m.cfg.RequestsPerWindow > 0 && s.used >= m.cfg.RequestsPerWindow {
			continue
		}
		if m.cfg.MaxInFlight > 0 && s.inFlight >= m.cfg.MaxInFlight {
			continue
		}
		s.used++
		s.inFlight++
		m.cursor = (i + 1) % n
		key := m.cfg.Keys[i]
		return Grant{KeyID: KeyID(key), Key: key, index: i}, nil
	}
	return Grant{}, ErrDenied
}

func (m *Memory) Release(_ context.Context, g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.index < 0 || g.index >= len(m.state) || g.KeyID == "" {
		return nil
	}
	if m.state[g.index].inFlight > 0 {
		m.state[g.index].inFlight--
	}
	return nil
}
