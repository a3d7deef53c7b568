package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"turntimer-backend/internal/bus"
	apperr "turntimer-backend/internal/errors"
	"turntimer-backend/internal/metrics"
	"turntimer-backend/internal/protocol"
	"turntimer-backend/internal/ratelimit"
)

// Upgrader validates Origin against the configured allow-list before
// upgrading; CheckOrigin is wired at construction since it needs
// config.Config's OriginAllowed (spec §4.10).
type OriginChecker func(origin string) bool

// Server is the WebSocket boundary: it upgrades connections, enforces the
// two rate limits, decodes the {"type","data"} envelope, and dispatches
// through the Registry (spec §4.7). It never touches session state
// directly — that's entirely the coordinator's job.
type Server struct {
	Registry     *protocol.Registry
	Bus          *bus.Bus
	Metrics      *metrics.Metrics
	IPLimiter    ratelimit.IPAllower
	OnDisconnect func(ctx context.Context, sessionID string)

	upgrader websocket.Upgrader
}

func NewServer(reg *protocol.Registry, b *bus.Bus, m *metrics.Metrics, ipLimiter ratelimit.IPAllower, checkOrigin OriginChecker, onDisconnect func(ctx context.Context, sessionID string)) *Server {
	return &Server{
		Registry:     reg,
		Bus:          b,
		Metrics:      m,
		IPLimiter:    ipLimiter,
		OnDisconnect: onDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return checkOrigin(origin)
			},
		},
	}
}

func remoteIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// ServeHTTP upgrades the connection and runs its read/write pumps until
// the socket closes, grounded on the teacher's websocket.Handler.ServeHTTP.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if ok, err := s.IPLimiter.Allow(r.Context(), ip); err != nil {
		log.Error().Err(err).Msg("ip rate limiter error")
	} else if !ok {
		if s.Metrics != nil {
			s.Metrics.RateLimitRejects.WithLabelValues("ip").Inc()
		}
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, ip)
	connLimiter := ratelimit.NewConnLimiter()

	if s.Metrics != nil {
		s.Metrics.ActiveConnections.Inc()
	}

	connCtx := &protocol.ConnContext{ControllerID: client.ControllerID, RemoteIP: ip}
	connCtx.Attach = func(sessionID string) {
		prev := client.SessionID()
		if prev != "" && prev != sessionID {
			s.Bus.Unsubscribe(prev, client.ControllerID)
		}
		client.SetSessionID(sessionID)
		s.Bus.Subscribe(client)
	}

	go client.WritePump()
	s.sendClientID(client)

	client.ReadPump(
		func(payload []byte) {
			s.handleFrame(connCtx, client, connLimiter, payload)
		},
		func() {
			if s.Metrics != nil {
				s.Metrics.ActiveConnections.Dec()
			}
			sessionID := client.SessionID()
			if sessionID != "" {
				s.Bus.Unsubscribe(sessionID, client.ControllerID)
			}
			if s.OnDisconnect != nil {
				s.OnDisconnect(context.Background(), sessionID)
			}
		},
	)
}

// handleFrame enforces the per-connection and per-IP limits, decodes the
// envelope, dispatches it, and resubscribes the client to the Bus if the
// handler attached it to a session for the first time (create/join/reconnect).
func (s *Server) handleFrame(connCtx *protocol.ConnContext, client *Client, connLimiter *ratelimit.ConnLimiter, raw []byte) {
	if !connLimiter.Allow() {
		if s.Metrics != nil {
			s.Metrics.RateLimitRejects.WithLabelValues("connection").Inc()
		}
		s.replyError(client, apperr.ErrRateLimitExceeded)
		return
	}
	if ok, err := s.IPLimiter.Allow(context.Background(), client.RemoteIP); err != nil {
		log.Error().Err(err).Msg("ip rate limiter error")
	} else if !ok {
		if s.Metrics != nil {
			s.Metrics.RateLimitRejects.WithLabelValues("ip").Inc()
		}
		s.replyError(client, apperr.ErrRateLimitExceeded)
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.replyError(client, apperr.ErrInvalidJSON)
		return
	}

	connCtx.SessionID = client.SessionID()

	err := s.Registry.Dispatch(connCtx, env.Type, env.Data)

	if s.Metrics != nil {
		s.Metrics.MessagesHandled.WithLabelValues(string(env.Type)).Inc()
	}

	if err != nil {
		if s.Metrics != nil {
			s.Metrics.ErrorsByKind.WithLabelValues(string(apperr.KindOf(err))).Inc()
		}
		s.replyError(client, err)
	}
}

// sendClientID tells a freshly connected client its opaque controller id,
// the only identity this protocol hands out (spec §6's clientId frame, no
// accounts involved).
func (s *Server) sendClientID(client *Client) {
	frame, err := json.Marshal(protocol.Outbound{
		Type: protocol.OutClientID,
		Data: struct {
			ClientID string `json:"clientId"`
		}{ClientID: client.ControllerID},
	})
	if err != nil {
		return
	}
	client.Send(frame)
}

func (s *Server) replyError(client *Client, err error) {
	wire := apperr.ToWire(err)
	data := protocol.ErrorData{Kind: wire.Kind, Message: wire.Message}
	frame, marshalErr := json.Marshal(protocol.Outbound{Type: protocol.OutError, Data: data})
	if marshalErr != nil {
		return
	}
	client.Send(frame)
}
