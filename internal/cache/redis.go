// Package cache provides Redis-backed run locks.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("already locked")

// Locker grants exclusive, expiring locks. Release is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// releaseScript deletes the key only while it still holds our token, so an expired lock
// taken over by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Cache struct {
	client *redis.Client
	prefix string
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "castscribe:lock:"}
}

func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache setnx %s: %w", key, err)
	}
	return ok, nil
}

func (c *Cache) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := c.prefix + key
	token := uuid.NewString()

	ok, err := c.SetNX(ctx, k, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", key, ErrLocked)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Released even when the run's context was canceled.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, c.client, []string{k}, token).Err()
		})
	}, nil
}

// MemoryLocker is a Locker for a single process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryLocker) Lock(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("lock %s: %w", key, ErrLocked)
	}
	exp := now.Add(ttl)
	m.held[key] = exp

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.held[key].Equal(exp) {
				delete(m.held, key)
			}
		})
	}, nil
}
