package bus

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turntimer-backend/internal/store"
)

// fakeSubscriber is a minimal in-memory Subscriber, grounded on the
// transport's real ws.Client contract but without any network I/O.
type fakeSubscriber struct {
	mu        sync.Mutex
	id        string
	sessionID string
	received  [][]byte
	closedCode int
	closed    bool
	reject    bool // when true, Send always reports overflow
}

func newFakeSubscriber(id, sessionID string) *fakeSubscriber {
	return &fakeSubscriber{id: id, sessionID: sessionID}
}

func (f *fakeSubscriber) ID() string        { return f.id }
func (f *fakeSubscriber) SessionID() string { return f.sessionID }

func (f *fakeSubscriber) Send(payload []byte) (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false, 0
	}
	f.received = append(f.received, payload)
	return true, 0
}

func (f *fakeSubscriber) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closedCode = code
}

func (f *fakeSubscriber) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.received...)
}

func TestBroadcastDeliversToAllLocalSubscribersOfSession(t *testing.T) {
	b := New(nil, "instance-a")
	s1 := newFakeSubscriber("c1", "g1")
	s2 := newFakeSubscriber("c2", "g1")
	other := newFakeSubscriber("c3", "g2")
	b.Subscribe(s1)
	b.Subscribe(s2)
	b.Subscribe(other)

	require.NoError(t, b.Broadcast(context.Background(), "g1", "state", map[string]int{"x": 1}))

	assert.Len(t, s1.messages(), 1)
	assert.Len(t, s2.messages(), 1)
	assert.Empty(t, other.messages(), "a subscriber of a different session must not receive the frame")

	frame := string(s1.messages()[0])
	assert.True(t, strings.HasPrefix(frame, `{"type":"state","data":`))
}

func TestSendToSubscriberReachesOnlyThatOne(t *testing.T) {
	b := New(nil, "instance-a")
	s1 := newFakeSubscriber("c1", "g1")
	s2 := newFakeSubscriber("c2", "g1")
	b.Subscribe(s1)
	b.Subscribe(s2)

	require.NoError(t, b.SendToSubscriber("g1", "c1", "claimed", map[string]string{"token": "secret"}))

	assert.Len(t, s1.messages(), 1)
	assert.Empty(t, s2.messages(), "no other subscriber may ever see the token payload")
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	b := New(nil, "instance-a")
	s1 := newFakeSubscriber("c1", "g1")
	b.Subscribe(s1)
	b.Unsubscribe("g1", "c1")

	require.NoError(t, b.Broadcast(context.Background(), "g1", "state", "x"))
	assert.Empty(t, s1.messages())
	assert.Equal(t, 0, b.LocalSubscriberCount("g1"))
}

func TestDeliverOneEvictsOnBufferOverflow(t *testing.T) {
	b := New(nil, "instance-a")
	s1 := newFakeSubscriber("c1", "g1")
	s1.reject = true
	b.Subscribe(s1)

	require.NoError(t, b.Broadcast(context.Background(), "g1", "state", "x"))

	s1.mu.Lock()
	closed := s1.closed
	code := s1.closedCode
	s1.mu.Unlock()

	assert.True(t, closed)
	assert.Equal(t, closeCodeBufferOverflow, code)
	assert.Equal(t, int64(1), b.EvictedCount())
}

func TestBroadcastConcurrentPathAboveThreshold(t *testing.T) {
	b := New(nil, "instance-a")
	subs := make([]*fakeSubscriber, concurrencyThreshold+5)
	for i := range subs {
		subs[i] = newFakeSubscriber(string(rune('a'+i)), "g1")
		b.Subscribe(subs[i])
	}

	require.NoError(t, b.Broadcast(context.Background(), "g1", "state", "x"))

	for _, s := range subs {
		assert.Len(t, s.messages(), 1)
	}
}

func TestCrossInstancePublishFiltersSelfEcho(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	st := store.NewRedisStore(client)

	busA := New(st, "instance-a")
	busB := New(st, "instance-b")

	subA := newFakeSubscriber("cA", "g1")
	subB := newFakeSubscriber("cB", "g1")
	busA.Subscribe(subA)
	busB.Subscribe(subB)

	unsubA, err := st.Subscribe(context.Background(), store.BroadcastChannel("g1"), busA.HandlePeerMessage)
	require.NoError(t, err)
	defer unsubA()
	unsubB, err := st.Subscribe(context.Background(), store.BroadcastChannel("g1"), busB.HandlePeerMessage)
	require.NoError(t, err)
	defer unsubB()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, busA.Broadcast(context.Background(), "g1", "state", map[string]int{"x": 1}))

	assert.Eventually(t, func() bool {
		return len(subB.messages()) == 1
	}, time.Second, 5*time.Millisecond, "the peer instance's local subscriber should receive the relayed frame")

	// busA's own local subscriber got it via the direct local delivery path,
	// not the self-published echo, so it must still see exactly one copy.
	assert.Len(t, subA.messages(), 1)
}
