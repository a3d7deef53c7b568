package coordinator

import (
	"context"
	"encoding/json"

	"turntimer-backend/internal/lifecycle"
	"turntimer-backend/internal/session"
)

// PersistTracked writes every tracked session's current cache snapshot
// through to the Store. Intended to be driven by a periodic ticker owned by
// the caller (design note §9d's PERSISTENCE_INTERVAL); it is what covers
// tick-driven mutations that are deliberately not written through per-tick
// (spec §4.7 step g). Each session is persisted under its own lock, and one
// failing write never blocks the rest.
func (c *Coordinator) PersistTracked(ctx context.Context) {
	for _, id := range c.Lifecycle.TrackedIDs() {
		_ = c.PersistOne(ctx, id)
	}
}

// PersistOne writes a single tracked session's current cache snapshot
// through to the Store, under its own lock. Used both by PersistTracked's
// per-id loop and by the shutdown drain, which persists each tracked
// session exactly once before closing the Store.
func (c *Coordinator) PersistOne(ctx context.Context, sessionID string) error {
	return c.Lock.WithLock(ctx, sessionID, func() error {
		v, ok := c.Cache.Get(sessionID)
		if !ok {
			return nil
		}
		sess, ok := v.(*session.Session)
		if !ok {
			return nil
		}
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = c.Store.Update(ctx, sessionID, lifecycle.StateTTL, func([]byte) ([]byte, error) {
			return data, nil
		})
		return err
	})
}
