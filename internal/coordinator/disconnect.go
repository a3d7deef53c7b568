package coordinator

import (
	"context"

	"turntimer-backend/internal/session"
)

// HandleDisconnect is invoked by the transport once a client's socket has
// closed and the bus has already dropped its subscription. If the session
// it was attached to now has no local subscribers, it auto-pauses (spec
// §4.4 "Auto-pause triggers when the last subscriber disconnects from a
// running game").
func (c *Coordinator) HandleDisconnect(ctx context.Context, sessionID string) {
	if sessionID == "" || c.Bus.LocalSubscriberCount(sessionID) > 0 {
		return
	}
	sess, err := c.withSession(ctx, sessionID, PersistImmediate, func(s *session.Session) error {
		s.AutoPause(c.now())
		return nil
	})
	if err != nil || sess == nil {
		return
	}
	if sess.Status != session.StatusRunning {
		c.Tick.Stop(sess.ID)
	}
	c.BroadcastState(ctx, sess)
}
