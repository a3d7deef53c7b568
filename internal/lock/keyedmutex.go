// Package lock implements the per-session named mutex (spec §4.3): an
// asynchronous mutex keyed by session id, fair FIFO among waiters, ephemeral
// (collected when no waiters remain), local to one instance.
package lock

import (
	"context"
	"sync"
	"time"

	apperr "turntimer-backend/internal/errors"
)

const AcquireTimeout = 5 * time.Second

type slot struct {
	ch   chan struct{} // capacity 1, acts as the binary lock
	refs int
}

// KeyedMutex serializes mutations to any single key. Acquisition order is
// FIFO because ch is a buffered channel of capacity 1: goroutines block on
// the channel send/receive in request order under Go's runtime scheduling
// of blocked receivers.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func New() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (k *KeyedMutex) acquire(ctx context.Context, id string) (*slot, error) {
	k.mu.Lock()
	s, ok := k.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		s.ch <- struct{}{}
		k.slots[id] = s
	}
	s.refs++
	k.mu.Unlock()

	timeout := time.NewTimer(AcquireTimeout)
	defer timeout.Stop()

	select {
	case <-s.ch:
		return s, nil
	case <-timeout.C:
		k.release(id, s, false)
		return nil, apperr.ErrLockTimeout
	case <-ctx.Done():
		k.release(id, s, false)
		return nil, ctx.Err()
	}
}

func (k *KeyedMutex) release(id string, s *slot, held bool) {
	if held {
		s.ch <- struct{}{}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, id)
	}
}

// WithLock acquires exclusive use of id's slot, runs fn, and releases on
// every exit path. Acquisition fails with ErrLockTimeout after 5s, or with
// ctx.Err() if ctx is canceled first.
func (k *KeyedMutex) WithLock(ctx context.Context, id string, fn func() error) error {
	s, err := k.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer k.release(id, s, true)
	return fn()
}
