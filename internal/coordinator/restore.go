package coordinator

import (
	"context"

	"turntimer-backend/internal/session"
)

// RestoreAll enumerates every non-closed session in the Store, hydrates it
// into the Cache, re-arms the Tick Engine for anything left running, and
// (in multi-instance mode) resubscribes to its cross-instance channels
// (spec §4.8 "Restoration"). Returns the count restored, for the startup
// metric.
func (c *Coordinator) RestoreAll(ctx context.Context) (int, error) {
	return c.Lifecycle.Restore(ctx, func(sess *session.Session) {
		if sess.Status == session.StatusRunning {
			c.Tick.Spawn(sess.ID)
		}
		c.ensureCrossInstanceSubscribed(ctx, sess.ID)
	})
}
