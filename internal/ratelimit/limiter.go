// Package ratelimit implements the two rate limits the Protocol Dispatcher
// applies to every inbound frame (spec §4.7): per-connection and per-IP,
// each allowing 20 messages per 1s.
//
// Per-connection limiting uses golang.org/x/time/rate's token bucket
// in-process (no Redis round trip per frame on the hot path). Per-IP
// limiting, which must count across connections and therefore across
// instances, is grounded directly on the teacher's auth.RateLimiter
// (a fixed window: Redis INCR+EXPIRE under the "ratelimit:" key prefix).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"turntimer-backend/internal/store"
)

const (
	WindowMessages = 20
	Window         = 1 * time.Second
)

// ConnLimiter is a per-connection in-memory token bucket, one per
// connection, discarded when the connection closes.
type ConnLimiter struct {
	limiter *rate.Limiter
}

func NewConnLimiter() *ConnLimiter {
	// WindowMessages tokens per Window, burst WindowMessages.
	return &ConnLimiter{
		limiter: rate.NewLimiter(rate.Every(Window/WindowMessages), WindowMessages),
	}
}

func (c *ConnLimiter) Allow() bool {
	return c.limiter.Allow()
}

// IPLimiter counts requests per remote IP across all connections and
// instances via Redis INCR+EXPIRE.
type IPLimiter struct {
	client *redis.Client
}

func NewIPLimiter(client *redis.Client) *IPLimiter {
	return &IPLimiter{client: client}
}

func (l *IPLimiter) Allow(ctx context.Context, ip string) (bool, error) {
	key := store.RateLimitKey(ip)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, Window).Err(); err != nil {
			return false, err
		}
	}
	return count <= WindowMessages, nil
}

// MemoryIPLimiter is the single-instance variant used when Redis is not
// configured (memory storage): the same fixed-window contract backed by an
// in-process counter map instead of Redis INCR+EXPIRE.
type MemoryIPLimiter struct {
	mu     sync.Mutex
	counts map[string]*ipWindow
}

type ipWindow struct {
	count     int
	expiresAt time.Time
}

func NewMemoryIPLimiter() *MemoryIPLimiter {
	return &MemoryIPLimiter{counts: make(map[string]*ipWindow)}
}

// IPAllower is the common contract the transport dispatches against,
// satisfied by both IPLimiter and MemoryIPLimiter so the caller doesn't
// need to know which backend is active.
type IPAllower interface {
	Allow(ctx context.Context, ip string) (bool, error)
}

func (l *MemoryIPLimiter) Allow(ctx context.Context, ip string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	w, ok := l.counts[ip]
	if !ok || now.After(w.expiresAt) {
		w = &ipWindow{count: 0, expiresAt: now.Add(Window)}
		l.counts[ip] = w
	}
	w.count++
	return w.count <= WindowMessages, nil
}
