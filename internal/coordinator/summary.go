package coordinator

import "context"

// GameSummary is the read-only projection served by GET /api/games (spec
// §6): just enough to populate a lobby list, never the full session (no
// tokens, no per-player detail).
type GameSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	PlayerCount int    `json:"playerCount"`
	CreatedAt   int64  `json:"createdAt"`
}

// ListGames returns every non-closed session this instance currently
// tracks. It reads through the Cache (ensureLoaded falls back to the Store
// on a miss) without taking any session lock, matching spec §4.3's "reads
// may bypass the lock but must tolerate stale snapshots".
func (c *Coordinator) ListGames() []GameSummary {
	ids := c.Lifecycle.TrackedIDs()
	out := make([]GameSummary, 0, len(ids))
	for _, id := range ids {
		sess, err := c.ensureLoaded(context.Background(), id)
		if err != nil || sess.IsClosed {
			continue
		}
		out = append(out, GameSummary{
			ID:          sess.ID,
			Name:        sess.Name,
			Status:      string(sess.Status),
			PlayerCount: len(sess.Players),
			CreatedAt:   sess.CreatedAt,
		})
	}
	return out
}
