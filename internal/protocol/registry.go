package protocol

import apperr "turntimer-backend/internal/errors"

// HandlerFunc processes one inbound message's decoded data for a given
// connection. ctx carries the caller's controller/session identity.
type HandlerFunc func(ctx *ConnContext, data []byte) error

// ConnContext identifies the connection issuing a request: its opaque
// controller id, remote IP (for per-IP rate limiting), and the session it
// is currently attached to (empty until join/create).
type ConnContext struct {
	ControllerID string
	RemoteIP     string
	SessionID    string

	// Attach is invoked by a handler the moment it binds this connection
	// to a session (create/join/reconnect), before the handler sends any
	// direct reply. It lets the transport subscribe to the Bus
	// synchronously so a same-handler SendToSubscriber call isn't lost.
	// Nil in tests that don't exercise the transport.
	Attach func(sessionID string)
}

// AttachSession records sessionID and runs the transport's Attach hook, if
// any, so callers never need a nil check at the call site.
func (c *ConnContext) AttachSession(sessionID string) {
	c.SessionID = sessionID
	if c.Attach != nil {
		c.Attach(sessionID)
	}
}

// Registry is the closed dispatch table: one handler per InboundType. No
// dynamic registration past startup (spec §9 "dispatch on tagged
// variants").
type Registry struct {
	handlers map[InboundType]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[InboundType]HandlerFunc)}
}

// Register wires a handler for type t. Intended to be called once per type
// during wiring, not at request time.
func (r *Registry) Register(t InboundType, fn HandlerFunc) {
	r.handlers[t] = fn
}

// Dispatch resolves type t and invokes its handler, or returns
// ErrUnknownMessageType if t is not in the registry.
func (r *Registry) Dispatch(ctx *ConnContext, t InboundType, data []byte) error {
	fn, ok := r.handlers[t]
	if !ok {
		return apperr.ErrUnknownMessageType
	}
	return fn(ctx, data)
}
