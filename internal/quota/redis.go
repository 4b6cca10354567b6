package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript walks the keys round-robin from a shared cursor and consumes one unit
// on the first key below both its window limit and its in-flight limit.
// KEYS: rate1, flight1, ..., rateN, flightN, cursor
// ARGV: limit, maxInFlight, windowTTLms, inFlightTTLms
var acquireScript = redis.NewScript(`
local n = (#KEYS - 1) / 2
if n < 1 then return -1 end
local limit = tonumber(ARGV[1])
local maxInFlight = tonumber(ARGV[2])
local start = redis.call('INCR', KEYS[#KEYS]) % n
for step = 0, n - 1 do
  local i = (start + step) % n
  local rateKey = KEYS[2 * i + 1]
  local flightKey = KEYS[2 * i + 2]
  local used = tonumber(redis.call('GET', rateKey) or '0')
  local inflight = tonumber(redis.call('GET', flightKey) or '0')
  if (limit <= 0 or used < limit) and (maxInFlight <= 0 or inflight < maxInFlight) then
    redis.call('INCR', rateKey)
    redis.call('PEXPIRE', rateKey, ARGV[3])
    redis.call('INCR', flightKey)
    redis.call('PEXPIRE', flightKey, ARGV[4])
    return i
  end
end
return -1
`)

var releaseScript = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v > 0 then return redis.call('DECR', KEYS[1]) end
return 0
`)

// Redis shares capacity between worker processes.
type Redis struct {
	client      *redis.Client
	cfg         Config
	prefix      string
	inFlightTTL time.Duration
	now         func() time.Time
}

func NewRedis(client *redis.Client, cfg Config, prefix string, inFlightTTL time.Duration) *Redis {
	if prefix == "" {
		prefix = "castscribe:quota"
	}
	if inFlightTTL <= 0 {
		inFlightTTL = 30 * time.Minute
	}
	return &Redis{client: client, cfg: cfg.withDefaults(), prefix: prefix, inFlightTTL: inFlightTTL, now: time.Now}
}

func (r *Redis) rateKey(id string, window int64) string {
	return fmt.Sprintf("%s:rate:%s:%d", r.prefix, id, window)
}

func (r *Redis) flightKey(id string) string {
	return fmt.Sprintf("%s:inflight:%s", r.prefix, id)
}

func (r *Redis) Acquire(ctx context.Context) (Grant, error) {
	if len(r.cfg.Keys) == 0 {
		return Grant{}, ErrDenied
	}
	window := r.now().UnixMilli() / r.cfg.Window.Milliseconds()

	keys := make([]string, 0, 2*len(r.cfg.Keys)+1)
	for _, k := range r.cfg.Keys {
		id := KeyID(k)
		keys = append(keys, r.rateKey(id, window), r.flightKey(id))
	}
	keys = append(keys, r.prefix+":cursor")

	idx, err := acquireScript.Run(ctx, r.client, keys,
		r.cfg.RequestsPerWindow,
		r.cfg.MaxInFlight,
		r.cfg.Window.Milliseconds(),
		r.inFlightTTL.Milliseconds(),
	).Int()
	if err != nil {
		return Grant{}, fmt.Errorf("acquire quota: %w", err)
	}
	if idx < 0 {
		return Grant{}, ErrDenied
	}
	key := r.cfg.Keys[idx]
	return Grant{KeyID: KeyID(key), Key: key, index: idx}, nil
}

func (r *Redis) Release(ctx context.Context, g Grant) error {
	if g.KeyID == "" {
		return nil
	}
	err := releaseScript.Run(ctx, r.client, []string{r.flightKey(g.KeyID)}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release quota %s: %w", g.KeyID, err)
	}
	return nil
}

// Usage reports the units consumed on each key in the current window.
func (r *Redis) Usage(ctx context.Context) (map[string]int, error) {
	window := r.now().UnixMilli() / r.cfg.Window.Milliseconds()
	out := make(map[string]int, len(r.cfg.Keys))
	for _, k := range r.cfg.Keys {
		id := KeyID(k)
		v, err := r.client.Get(ctx, r.rateKey(id, window)).Result()
		if errors.Is(err, redis.Nil) {
			out[id] = 0
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read usage %s: %w", id, err)
		}
		n, _ := strconv.Atoi(v)
		out[id] = n
	}
	return out, nil
}
