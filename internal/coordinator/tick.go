package coordinator

import (
	"context"
	"time"

	"turntimer-backend/internal/session"
)

// tickPayload is the compact per-player time map carried on every tick
// event (spec §4.5).
type tickPayload struct {
	Times map[int]int64 `json:"times"`
}

type warningPayload struct {
	PlayerID  int   `json:"playerId"`
	Threshold int64 `json:"threshold"`
}

type timeoutPayload struct {
	PlayerID int `json:"playerId"`
}

// onTick is the tick.Engine callback: it runs under the session lock, like
// every other mutation, applies the elapsed delta, and broadcasts
// tick/warning/timeout events. Per spec §4.7 step g, tick-driven state
// changes are NOT written through to the Store immediately; periodic
// persistence covers them.
func (c *Coordinator) onTick(sessionID string, deltaMs int64, nowMs int64) {
	ctx := context.Background()

	start := time.Now()
	sess, err := c.withSession(ctx, sessionID, PersistDeferred, func(s *session.Session) error {
		if s.Status != session.StatusRunning {
			return errSkipTick
		}
		playerID, crossedWarnings, justTimedOut := s.ApplyTick(deltaMs, nowMs)
		if playerID == 0 {
			return errSkipTick
		}

		times := make(map[int]int64, len(s.Players))
		for _, p := range s.Players {
			times[p.ID] = p.TimeRemaining
		}
		_ = c.Bus.Broadcast(ctx, sessionID, "tick", tickPayload{Times: times})

		for _, th := range crossedWarnings {
			_ = c.Bus.Broadcast(ctx, sessionID, "warning", warningPayload{PlayerID: playerID, Threshold: th})
		}

		if justTimedOut {
			if pid := s.MarkTimeout(nowMs); pid != 0 {
				_ = c.Bus.Broadcast(ctx, sessionID, "timeout", timeoutPayload{PlayerID: pid})
			}
		}
		return nil
	})
	if c.Metrics != nil {
		c.Metrics.TickLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil && err != errSkipTick {
		return
	}
	if sess != nil && sess.Status != session.StatusRunning {
		c.Tick.Stop(sessionID)
	}
}

// errSkipTick is a sentinel used only within onTick's closure to short
// circuit persistence/broadcast for a no-op tick (session paused, or no
// active player); it never escapes to a caller.
var errSkipTick = &skipTickError{}

type skipTickError struct{}

func (*skipTickError) Error() string { return "tick skipped" }
