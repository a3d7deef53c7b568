// Package api holds the plain HTTP (non-WebSocket) surface: the lobby
// listing endpoint the spec's front end polls before opening a socket.
package api

import (
	"encoding/json"
	"net/http"

	"turntimer-backend/internal/coordinator"
)

// GamesHandler serves GET /api/games with the coordinator's current
// lobby snapshot.
func GamesHandler(c *coordinator.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		games := c.ListGames()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Games []coordinator.GameSummary `json:"games"`
		}{Games: games})
	}
}
