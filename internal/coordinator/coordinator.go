// Package coordinator wires together the Store, Cache, per-session Lock,
// Tick Engine, and Fan-out Bus into the handler pipeline the Protocol
// Dispatcher invokes for every mutating message (spec §4.7):
// ensureLoaded -> withSessionLock -> validate -> authorize -> mutate ->
// persist -> broadcast.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"turntimer-backend/internal/bus"
	"turntimer-backend/internal/cache"
	apperr "turntimer-backend/internal/errors"
	"turntimer-backend/internal/lifecycle"
	"turntimer-backend/internal/lock"
	"turntimer-backend/internal/metrics"
	"turntimer-backend/internal/session"
	"turntimer-backend/internal/store"
	"turntimer-backend/internal/tick"
)

// errMutateAborted signals that mutate itself rejected the operation
// (validation/authorization failure) from inside the Store.Update
// transform; the actual domain error is stashed in mutateErr by the
// closure that returns this sentinel, so it never surfaces as a retryable
// store-level conflict.
var errMutateAborted = errors.New("coordinator: mutate aborted")

// PersistMode controls whether a mutation is written through to the Store
// immediately (most ops) or left to periodic persistence (tick updates,
// spec §4.7 step g: "Switch ticks are deliberately NOT written through").
type PersistMode int

const (
	PersistImmediate PersistMode = iota
	PersistDeferred
)

// Coordinator owns every session-scoped collaborator.
type Coordinator struct {
	Store      store.Store
	Cache      *cache.Cache
	Lock       *lock.KeyedMutex
	Bus        *bus.Bus
	Tick       *tick.Engine
	Lifecycle  *lifecycle.Manager
	Metrics    *metrics.Metrics
	InstanceID string
	MultiInstance bool

	nowMs func() int64

	subMu sync.Mutex
	subs  map[string][2]func() // sessionID -> [broadcast unsub, invalidate unsub]
}

func New(st store.Store, ch *cache.Cache, bs *bus.Bus, m *metrics.Metrics, instanceID string, multiInstance bool) *Coordinator {
	c := &Coordinator{
		Store:         st,
		Cache:         ch,
		Lock:          lock.New(),
		Bus:           bs,
		Metrics:       m,
		InstanceID:    instanceID,
		MultiInstance: multiInstance,
		nowMs:         func() int64 { return time.Now().UnixMilli() },
		subs:          make(map[string][2]func()),
	}
	c.Tick = tick.NewEngine(c.onTick)
	c.Lifecycle = lifecycle.NewManager(lifecycle.Deps{
		Store: st,
		Cache: ch,
		Cancel: func(id string) {
			c.Tick.Stop(id)
			c.unsubscribeCrossInstance(id)
		},
		NowMs:            c.nowMs,
		LocalSubscribers: bs.LocalSubscriberCount,
	})
	return c
}

// ensureCrossInstanceSubscribed wires a session's broadcast:{id} and
// cache:invalidate:{id} channels the first time this instance touches it
// (spec §4.1, §4.2, §4.6). A no-op in single-instance mode.
func (c *Coordinator) ensureCrossInstanceSubscribed(ctx context.Context, id string) {
	if !c.MultiInstance {
		return
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[id]; ok {
		return
	}
	unsubBroadcast, err := c.Store.Subscribe(ctx, store.BroadcastChannel(id), c.Bus.HandlePeerMessage)
	if err != nil {
		return
	}
	unsubInvalidate, err := c.Store.Subscribe(ctx, store.InvalidateChannel(id), func(_ string, payload []byte) {
		if string(payload) == c.InstanceID {
			return
		}
		c.Cache.Delete(id)
	})
	if err != nil {
		unsubBroadcast()
		return
	}
	c.subs[id] = [2]func(){unsubBroadcast, unsubInvalidate}
}

func (c *Coordinator) unsubscribeCrossInstance(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if fns, ok := c.subs[id]; ok {
		fns[0]()
		fns[1]()
		delete(c.subs, id)
	}
}

// ensureLoaded resolves a session by id: cache hit, or Store fetch plus
// cache population (spec §4.2, §4.7 step 1).
func (c *Coordinator) ensureLoaded(ctx context.Context, id string) (*session.Session, error) {
	if v, ok := c.Cache.Get(id); ok {
		sess, ok := v.(*session.Session)
		if ok {
			c.ensureCrossInstanceSubscribed(ctx, id)
			return sess, nil
		}
	}
	data, err := c.Store.Get(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.ErrGameNotFound
		}
		return nil, apperr.Wrap(apperr.ErrInternal, "failed to load game", err)
	}
	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "failed to decode game", err)
	}
	if sess.IsClosed {
		return nil, apperr.ErrGameNotFound
	}
	c.Cache.Set(id, &sess)
	c.ensureCrossInstanceSubscribed(ctx, id)
	return &sess, nil
}

// withSession acquires the session lock, loads the session, runs mutate,
// persists per mode, and refreshes the cache — the common spine of every
// handler (spec §4.7).
//
// PersistImmediate does not precompute the new state from the locally
// cached copy: mutate runs *inside* the Store.Update transform, against
// whatever bytes the Store hands back on that attempt, so a retry after a
// concurrent instance's write re-applies mutate to the post-write state
// instead of clobbering it with a stale precomputed result (spec §4.1 step
// 3, §8 scenario 4).
func (c *Coordinator) withSession(ctx context.Context, id string, mode PersistMode, mutate func(*session.Session) error) (*session.Session, error) {
	var sess *session.Session
	var mutateErr error

	lockErr := c.Lock.WithLock(ctx, id, func() error {
		s, err := c.ensureLoaded(ctx, id)
		if err != nil {
			return err
		}
		sess = s

		if mode == PersistDeferred {
			if err := mutate(sess); err != nil {
				mutateErr = err
				return nil // validation/authorization failures don't abort the lock hold abnormally
			}
			c.Cache.Set(id, sess)
			return nil
		}

		updated, err := c.Store.Update(ctx, id, lifecycle.StateTTL, func(current []byte) ([]byte, error) {
			var fresh session.Session
			if err := json.Unmarshal(current, &fresh); err != nil {
				return nil, err
			}
			if err := mutate(&fresh); err != nil {
				mutateErr = err
				return nil, errMutateAborted
			}
			return json.Marshal(&fresh)
		})
		if err == errMutateAborted {
			return nil // mutateErr already stashed above
		}
		if err == store.ErrConflict && c.Metrics != nil {
			c.Metrics.OptimisticRetries.Inc()
		}
		if err == store.ErrNotFound {
			mutateErr = apperr.ErrGameNotFound
			return nil
		}
		if err != nil {
			return err
		}

		var fresh session.Session
		if err := json.Unmarshal(updated, &fresh); err != nil {
			return err
		}
		sess = &fresh
		c.Cache.Set(id, sess)
		if c.MultiInstance {
			_ = c.Store.Publish(ctx, store.InvalidateChannel(id), []byte(c.InstanceID))
		}
		return nil
	})

	if lockErr != nil {
		return nil, lockErr
	}
	if mutateErr != nil {
		return nil, mutateErr
	}
	return sess, nil
}

// BroadcastState publishes the session snapshot to every subscriber (spec
// §4.6, §4.7 step f), with every player's reconnect token redacted first —
// the token is persisted on the Player record but must never ride this
// path (spec §4.9).
func (c *Coordinator) BroadcastState(ctx context.Context, sess *session.Session) {
	_ = c.Bus.Broadcast(ctx, sess.ID, "state", sess.Redacted())
}

func (c *Coordinator) now() int64 { return c.nowMs() }
