// Package health exposes the aggregated readiness check behind GET /health
// (spec §6), grounded on the teacher's internal/health.HealthChecker
// (Pinger interface, Check(ctx) map[string]string, 200/503 Handler).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *redis.Client's Ping method.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Checker aggregates the status of every dependency the service degrades
// gracefully without (spec §7: "Store connectivity loss degrades to
// read-only").
type Checker struct {
	mu    sync.RWMutex
	redis Pinger
}

func NewChecker(redis Pinger) *Checker {
	return &Checker{redis: redis}
}

// SetRedis allows rewiring the Redis dependency after a reconnect.
func (c *Checker) SetRedis(p Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redis = p
}

// Check returns a status string per dependency: "ok", "unavailable", or
// "not configured" (Redis when no Pinger is wired).
func (c *Checker) Check(ctx context.Context) map[string]string {
	c.mu.RLock()
	redis := c.redis
	c.mu.RUnlock()

	result := map[string]string{"service": "ok"}
	if redis == nil {
		result["redis"] = "not configured"
		return result
	}
	if err := redis.Ping(ctx).Err(); err != nil {
		result["redis"] = "unavailable"
	} else {
		result["redis"] = "ok"
	}
	return result
}

// Handler returns 200 when every dependency reports ok (or not configured),
// 503 otherwise.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.Check(r.Context())
		code := http.StatusOK
		for _, v := range status {
			if v == "unavailable" {
				code = http.StatusServiceUnavailable
				break
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
