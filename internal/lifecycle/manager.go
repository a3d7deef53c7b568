// Package lifecycle implements session creation (with id reservation),
// startup restoration, idle cleanup, and graceful shutdown (spec §4.8),
// grounded on the teacher's cmd/game-server/main.go shutdown sequence and
// world.Registry-style enumeration for restoration.
package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperr "turntimer-backend/internal/errors"
	"turntimer-backend/internal/session"
	"turntimer-backend/internal/store"
)

const (
	MaxCreateAttempts = 10
	StateTTL          = 24 * time.Hour
	ReservationTTL    = 10 * time.Second

	IdleCheckInterval  = 5 * time.Minute
	IdleCloseThreshold = 5 * time.Minute
	ForceCloseAfter    = 24 * time.Hour

	ShutdownDrain = 30 * time.Second
)

// SessionCancelFunc stops a session's tick and unsubscribes it from
// cross-instance channels; supplied by the coordinator that owns both.
type SessionCancelFunc func(sessionID string)

// Deps are the collaborators the lifecycle manager orchestrates.
type Deps struct {
	Store   store.Store
	Cache   CacheLike
	Cancel  SessionCancelFunc
	NowMs   func() int64
	// LocalSubscribers reports how many local connections a session has.
	LocalSubscribers func(sessionID string) int
}

// CacheLike is the subset of cache.Cache the manager needs, so this
// package doesn't import cache directly and create an import cycle risk.
type CacheLike interface {
	Get(id string) (any, bool)
	Set(id string, value any)
	Delete(id string)
}

// Manager owns creation, restoration, idle cleanup, and shutdown.
type Manager struct {
	deps Deps

	createMu sync.Mutex // singleton create-id lock, local to this instance

	trackMu sync.Mutex
	tracked map[string]struct{} // in-memory sessions this instance knows about
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, tracked: make(map[string]struct{})}
}

// CreateWithUniqueID generates candidate ids and reserves one atomically,
// retrying up to MaxCreateAttempts before surfacing
// ErrIDAllocationExhausted (spec §4.8).
func (m *Manager) CreateWithUniqueID(ctx context.Context, build func(id string) *session.Session) (*session.Session, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	for attempt := 0; attempt < MaxCreateAttempts; attempt++ {
		id, err := session.NewID()
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrInternal, "failed to generate id", err)
		}
		ok, err := m.deps.Store.ReserveID(ctx, id, ReservationTTL)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrInternal, "failed to reserve id", err)
		}
		if !ok {
			continue
		}

		sess := build(id)
		data, err := json.Marshal(sess)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrInternal, "failed to marshal session", err)
		}
		if err := m.deps.Store.Create(ctx, id, data, StateTTL); err != nil {
			continue
		}
		m.track(id)
		m.deps.Cache.Set(id, sess)
		return sess, nil
	}
	return nil, apperr.ErrIDAllocationExhausted
}

func (m *Manager) track(id string) {
	m.trackMu.Lock()
	m.tracked[id] = struct{}{}
	m.trackMu.Unlock()
}

func (m *Manager) untrack(id string) {
	m.trackMu.Lock()
	delete(m.tracked, id)
	m.trackMu.Unlock()
}

func (m *Manager) TrackedIDs() []string {
	m.trackMu.Lock()
	defer m.trackMu.Unlock()
	ids := make([]string, 0, len(m.tracked))
	for id := range m.tracked {
		ids = append(ids, id)
	}
	return ids
}

// RestoredCallback is invoked once per session rehydrated at startup.
type RestoredCallback func(sess *session.Session)

// Restore enumerates every non-closed session in the Store, materializes it
// into the Cache, and invokes onRestored once per session (spec §4.8).
// Closed sessions are skipped (they are deleted from the Store separately,
// after ForceCloseAfter, by PurgeClosed).
func (m *Manager) Restore(ctx context.Context, onRestored RestoredCallback) (int, error) {
	ids, err := m.deps.Store.ScanIDs(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, id := range ids {
		data, err := m.deps.Store.Get(ctx, id)
		if err != nil {
			continue
		}
		var sess session.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if sess.IsClosed {
			continue
		}
		m.track(id)
		m.deps.Cache.Set(id, &sess)
		if onRestored != nil {
			onRestored(&sess)
		}
		restored++
	}
	return restored, nil
}

// RunIdleCleanup runs one cleanup pass: every 5 minutes (by the caller's
// ticker), mark sessions closed if they have no local subscribers and have
// been idle 5+ minutes, or unconditionally if idle 24+ hours. Closed
// sessions are persisted with isClosed=true, their timers cancelled, and
// dropped from memory; this instance stops tracking them. Sessions that are
// already closed are skipped here; PurgeClosed hard-deletes them from the
// Store.
func (m *Manager) RunIdleCleanup(ctx context.Context, withLock func(id string, fn func() error) error) {
	now := m.deps.NowMs()
	for _, id := range m.TrackedIDs() {
		var sess *session.Session
		if v, ok := m.deps.Cache.Get(id); ok {
			sess, _ = v.(*session.Session)
		}
		if sess == nil {
			// Cache entries expire after their TTL; fall back to the Store.
			data, err := m.deps.Store.Get(ctx, id)
			if err != nil {
				continue
			}
			sess = &session.Session{}
			if err := json.Unmarshal(data, sess); err != nil {
				continue
			}
		}
		idleFor := time.Duration(now-sess.LastActivity) * time.Millisecond

		shouldClose := (!hasLocalSubscribers(m.deps.LocalSubscribers, id) && idleFor >= IdleCloseThreshold) || idleFor >= ForceCloseAfter
		if sess.IsClosed || !shouldClose {
			continue
		}

		_ = withLock(id, func() error {
			sess.IsClosed = true
			if m.deps.Cancel != nil {
				m.deps.Cancel(id)
			}
			data, err := json.Marshal(sess)
			if err != nil {
				return err
			}
			if err := m.persistClosed(ctx, id, data); err != nil {
				return err
			}
			m.deps.Cache.Delete(id)
			m.untrack(id)
			return nil
		})
	}
}

func hasLocalSubscribers(fn func(string) int, id string) bool {
	if fn == nil {
		return true
	}
	return fn(id) > 0
}

func (m *Manager) persistClosed(ctx context.Context, id string, data []byte) error {
	_, err := m.deps.Store.Update(ctx, id, StateTTL, func([]byte) ([]byte, error) {
		return data, nil
	})
	return err
}

// PurgeClosed deletes closed sessions older than ForceCloseAfter from the
// Store entirely (spec §4.8, "deleted from the Store after 24 hours").
func (m *Manager) PurgeClosed(ctx context.Context) {
	now := m.deps.NowMs()
	ids, err := m.deps.Store.ScanIDs(ctx)
	if err != nil {
		return
	}
	for _, id := range ids {
		data, err := m.deps.Store.Get(ctx, id)
		if err != nil {
			continue
		}
		var sess session.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if sess.IsClosed && time.Duration(now-sess.LastActivity)*time.Millisecond >= ForceCloseAfter {
			_ = m.deps.Store.Delete(ctx, id)
		}
	}
}

// Shutdown cancels each tracked session's timers and cross-instance
// subscriptions and then persists it through persist, one session at a
// time, stopping once ShutdownDrain has elapsed. It does not wait for
// in-flight operations and does not close the Store; the caller stops the
// HTTP server and closes its clients.
func (m *Manager) Shutdown(ctx context.Context, persist func(id string) error) {
	deadline := time.Now().Add(ShutdownDrain)
	ids := m.TrackedIDs()
	for _, id := range ids {
		if time.Now().After(deadline) {
			break
		}
		if m.deps.Cancel != nil {
			m.deps.Cancel(id)
		}
		_ = persist(id)
	}
}
