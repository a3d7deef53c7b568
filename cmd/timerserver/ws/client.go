// Package ws is the transport boundary: it upgrades HTTP connections to
// WebSocket, pumps frames in both directions, and adapts a connection to
// the bus.Subscriber and protocol.ConnContext contracts. Grounded on the
// teacher's cmd/game-server/websocket package (Client, ReadPump/WritePump,
// ping/pong keepalive, NextWriter coalescing).
package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames at 64 KiB (spec §6), tighter than
	// the teacher's 512 KB since a turn-timer frame never carries the kind
	// of free-text payload a chat message does.
	maxMessageSize = 64 * 1024

	sendBuffer = 64
)

// Client adapts one WebSocket connection to bus.Subscriber. ControllerID
// is the opaque id the coordinator uses for claim/ownership checks;
// SessionID is mutable (set once create/join resolves) and guarded by mu.
type Client struct {
	ControllerID string
	RemoteIP     string

	conn *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// NewClient wraps an upgraded connection. ControllerID is a fresh random
// id, not tied to any account — this protocol has none (spec §2).
func NewClient(conn *websocket.Conn, remoteIP string) *Client {
	return &Client{
		ControllerID: uuid.New().String(),
		RemoteIP:     remoteIP,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
	}
}

func (c *Client) ID() string { return c.ControllerID }

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Send enqueues payload for delivery, matching bus.Subscriber's
// non-blocking contract: a full channel reports itself as overflowed
// rather than blocking the bus's delivery goroutine.
func (c *Client) Send(payload []byte) (ok bool, bufferedBytes int) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, 0
	}
	c.mu.Unlock()

	select {
	case c.send <- payload:
		return true, len(c.send) * maxMessageSize
	default:
		return false, len(c.send) * maxMessageSize
	}
}

// Close marks the client closed and stops WritePump by closing the send
// channel; the actual socket teardown happens once ReadPump/WritePump unwind.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	close(c.send)
}

// ReadPump pumps inbound frames to onMessage until the socket errs or
// closes. onDisconnect runs exactly once, after the loop exits.
func (c *Client) ReadPump(onMessage func(payload []byte), onDisconnect func()) {
	defer onDisconnect()
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("controllerId", c.ControllerID).Msg("websocket read error")
			}
			return
		}
		onMessage(message)
	}
}

// WritePump pumps c.send to the socket, coalescing queued frames into one
// WebSocket message and keeping the connection alive with pings,
// identical in structure to the teacher's Client.WritePump.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
