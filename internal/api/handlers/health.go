package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

func PingCheck(p Pinger) Check {
	return p.Ping
}

func RedisCheck(rdb *redis.Client) Check {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
}

func NewHealthHandler(checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz runs every check in parallel and fails if any of them does.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		status = http.StatusOK
		checks = make(map[string]string, len(h.checks))
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := "ok"
			if err := check(ctx); err != nil {
				result = "unhealthy: " + err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			checks[name] = result
			if result != "ok" {
				status = http.StatusServiceUnavailable
			}
		}()
	}
	wg.Wait()

	writeJSON(w, status, map[string]interface{}{"status": statusStr(status), "checks": checks})
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
