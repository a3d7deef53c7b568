// Package bus implements the fan-out broadcaster (spec §4.6): local
// subscriber delivery with buffer-overflow eviction, a worker pool for
// large fan-out, and cross-instance propagation through the Store's
// pub/sub. Grounded on the teacher's websocket.Hub (broadcastConcurrent,
// 4 workers, threshold 10) and pubsub.RedisAdapter (self-instance
// filtering via a source-id stamp).
package bus

import (
	"context"
	"encoding/json"
	"sync"

	"turntimer-backend/internal/store"
)

const (
	maxBufferBytes   = 1 << 20 // 1 MiB
	concurrencyThreshold = 10
	workerCount      = 4
	closeCodeBufferOverflow = 1008
)

// Subscriber receives serialized events for one session. Send must be
// non-blocking from the bus's perspective; Close is invoked with a close
// code when the bus evicts the subscriber.
type Subscriber interface {
	ID() string
	SessionID() string
	// Send attempts to enqueue payload. ok is false if the subscriber's
	// outbound buffer would exceed maxBufferBytes; the bus then evicts it.
	Send(payload []byte) (ok bool, bufferedBytes int)
	Close(code int, reason string)
}

// envelope is the cross-instance wire format stamped with the publishing
// instance id so peers can filter out their own echoes.
type envelope struct {
	InstanceID string          `json:"instanceId"`
	SessionID  string          `json:"sessionId"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
}

// Bus fans events out to local subscribers and, when backed by a
// cross-instance Store, to peer instances via pub/sub.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]Subscriber // sessionID -> subscriberID -> Subscriber

	store      store.Store // nil in single-instance mode
	instanceID string

	evicted int64
}

func New(st store.Store, instanceID string) *Bus {
	return &Bus{
		subscribers: make(map[string]map[string]Subscriber),
		store:       st,
		instanceID:  instanceID,
	}
}

func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subscribers[sub.SessionID()]
	if !ok {
		set = make(map[string]Subscriber)
		b.subscribers[sub.SessionID()] = set
	}
	set[sub.ID()] = sub
}

func (b *Bus) Unsubscribe(sessionID, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subscribers[sessionID]; ok {
		delete(set, subscriberID)
		if len(set) == 0 {
			delete(b.subscribers, sessionID)
		}
	}
}

// LocalSubscriberCount reports how many local subscribers a session has,
// used by idle cleanup and auto-pause (spec §4.4, §4.8).
func (b *Bus) LocalSubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// Broadcast serializes payload once and delivers it to every local
// subscriber of sessionID, then (in multi-instance mode) publishes it to
// peers (spec §4.6).
func (b *Bus) Broadcast(ctx context.Context, sessionID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.deliverLocal(sessionID, event, data)

	if b.store != nil {
		env := envelope{InstanceID: b.instanceID, SessionID: sessionID, Event: event, Payload: data}
		raw, err := json.Marshal(env)
		if err != nil {
			return err
		}
		// A publish failure is returned to the caller; local delivery above
		// has already happened and is not undone. The coordinator's handlers
		// discard this error without logging it.
		return b.store.Publish(ctx, store.BroadcastChannel(sessionID), raw)
	}
	return nil
}

// SendToSubscriber delivers an event to exactly one local subscriber —
// used for the claim token reply, which must never reach any other
// subscriber (spec §4.9, §8's "no other subscriber ever receives the
// token value").
func (b *Bus) SendToSubscriber(sessionID, subscriberID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.mu.RLock()
	set := b.subscribers[sessionID]
	sub, ok := set[subscriberID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	b.deliverOne(sub, frameBytes(event, data))
	return nil
}

// HandlePeerMessage is the Subscribe handler wired to broadcast:{id}
// channels in multi-instance mode. It filters out self-stamped messages
// and delivers the rest locally.
func (b *Bus) HandlePeerMessage(_ string, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	b.deliverLocal(env.SessionID, env.Event, env.Payload)
}

func (b *Bus) deliverLocal(sessionID, event string, payload []byte) {
	b.mu.RLock()
	set := b.subscribers[sessionID]
	subs := make([]Subscriber, 0, len(set))
	for _, s := range set {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	frame := frameBytes(event, payload)

	if len(subs) < concurrencyThreshold {
		for _, s := range subs {
			b.deliverOne(s, frame)
		}
		return
	}
	b.broadcastConcurrent(subs, frame)
}

// broadcastConcurrent fans a frame out across a small worker pool for
// large subscriber sets, grounded on Hub.broadcastConcurrent.
func (b *Bus) broadcastConcurrent(subs []Subscriber, frame []byte) {
	jobs := make(chan Subscriber, len(subs))
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range jobs {
				b.deliverOne(s, frame)
			}
		}()
	}
	for _, s := range subs {
		jobs <- s
	}
	close(jobs)
	wg.Wait()
}

func (b *Bus) deliverOne(s Subscriber, frame []byte) {
	ok, buffered := s.Send(frame)
	if !ok || buffered > maxBufferBytes {
		s.Close(closeCodeBufferOverflow, "buffer overflow")
		b.mu.Lock()
		b.evicted++
		b.mu.Unlock()
	}
}

func frameBytes(event string, payload []byte) []byte {
	// {"type": event, "data": payload}
	out := make([]byte, 0, len(event)+len(payload)+20)
	out = append(out, `{"type":"`...)
	out = append(out, event...)
	out = append(out, `","data":`...)
	out = append(out, payload...)
	out = append(out, '}')
	return out
}

// EvictedCount returns the number of subscribers closed for buffer
// overflow so far (observability hook for metrics).
func (b *Bus) EvictedCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.evicted
}
