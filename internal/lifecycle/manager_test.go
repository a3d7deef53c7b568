package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "turntimer-backend/internal/errors"
	"turntimer-backend/internal/session"
	"turntimer-backend/internal/store"
)

type fakeCache struct {
	data map[string]any
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string]any)} }

func (c *fakeCache) Get(id string) (any, bool) { v, ok := c.data[id]; return v, ok }
func (c *fakeCache) Set(id string, v any)       { c.data[id] = v }
func (c *fakeCache) Delete(id string)           { delete(c.data, id) }

func newSettings() session.Settings {
	return session.Settings{PlayerCount: 2, InitialTime: 60000}
}

func newManager() (*Manager, store.Store, *fakeCache, *int64) {
	st := store.NewMemoryStore()
	ch := newFakeCache()
	var now int64
	m := NewManager(Deps{
		Store:            st,
		Cache:            ch,
		Cancel:           func(id string) {},
		NowMs:            func() int64 { return now },
		LocalSubscribers: func(string) int { return 0 },
	})
	return m, st, ch, &now
}

func TestCreateWithUniqueIDReservesAndPersists(t *testing.T) {
	m, st, ch, _ := newManager()
	ctx := context.Background()

	sess, err := m.CreateWithUniqueID(ctx, func(id string) *session.Session {
		return session.New(id, "game", newSettings(), 0)
	})
	require.NoError(t, err)
	assert.Len(t, sess.ID, 6)

	exists, err := st.Exists(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	v, ok := ch.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, sess, v)

	assert.Contains(t, m.TrackedIDs(), sess.ID)
}

func TestCreateWithUniqueIDExhaustion(t *testing.T) {
	m, _, _, _ := newManager()
	ctx := context.Background()

	// Pre-reserve every id the generator could possibly produce is
	// impractical; instead force exhaustion by reserving the same id
	// MaxCreateAttempts times via a store that always reports it taken.
	blocked := blockAllStore{}
	m.deps.Store = blocked

	_, err := m.CreateWithUniqueID(ctx, func(id string) *session.Session {
		return session.New(id, "game", newSettings(), 0)
	})
	assert.ErrorIs(t, err, apperr.ErrIDAllocationExhausted)
}

// blockAllStore always fails ReserveID, forcing CreateWithUniqueID to
// exhaust its attempt budget.
type blockAllStore struct{ store.Store }

func (blockAllStore) ReserveID(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func TestRestoreSkipsClosedSessions(t *testing.T) {
	m, st, ch, _ := newManager()
	ctx := context.Background()

	open := session.New("ABC123", "open", newSettings(), 0)
	closed := session.New("XYZ999", "closed", newSettings(), 0)
	closed.IsClosed = true

	for _, s := range []*session.Session{open, closed} {
		data, err := json.Marshal(s)
		require.NoError(t, err)
		require.NoError(t, st.Create(ctx, s.ID, data, time.Hour))
	}

	var restoredIDs []string
	count, err := m.Restore(ctx, func(s *session.Session) {
		restoredIDs = append(restoredIDs, s.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"ABC123"}, restoredIDs)

	_, ok := ch.Get("XYZ999")
	assert.False(t, ok, "closed sessions are never hydrated into the cache")
}

func TestRunIdleCleanupTombstonesIdleSessionsWithNoSubscribers(t *testing.T) {
	m, st, ch, now := newManager()
	ctx := context.Background()

	sess := session.New("ABC123", "game", newSettings(), 0)
	sess.LastActivity = 0
	ch.Set(sess.ID, sess)
	m.track(sess.ID)
	data, _ := json.Marshal(sess)
	require.NoError(t, st.Create(ctx, sess.ID, data, time.Hour))

	*now = IdleCloseThreshold.Milliseconds()

	m.RunIdleCleanup(ctx, func(id string, fn func() error) error { return fn() })

	assert.True(t, sess.IsClosed)
	_, ok := ch.Get(sess.ID)
	assert.False(t, ok, "closed sessions are dropped from the cache")
	assert.NotContains(t, m.TrackedIDs(), sess.ID)

	raw, err := st.Get(ctx, sess.ID)
	require.NoError(t, err)
	var persisted session.Session
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.True(t, persisted.IsClosed, "tombstone is persisted, not hard-deleted")
}

func TestRunIdleCleanupLeavesActiveSessionsAlone(t *testing.T) {
	m, _, ch, now := newManager()
	ctx := context.Background()

	sess := session.New("ABC123", "game", newSettings(), 0)
	sess.LastActivity = 0
	ch.Set(sess.ID, sess)
	m.track(sess.ID)
	m.deps.LocalSubscribers = func(string) int { return 1 }

	*now = IdleCloseThreshold.Milliseconds()

	m.RunIdleCleanup(ctx, func(id string, fn func() error) error { return fn() })

	assert.False(t, sess.IsClosed, "a session with a local subscriber is not closed at the 5-minute mark")
}

func TestRunIdleCleanupForceClosesAfter24Hours(t *testing.T) {
	m, _, ch, now := newManager()
	ctx := context.Background()

	sess := session.New("ABC123", "game", newSettings(), 0)
	sess.LastActivity = 0
	ch.Set(sess.ID, sess)
	m.track(sess.ID)
	m.deps.LocalSubscribers = func(string) int { return 1 }

	*now = ForceCloseAfter.Milliseconds()

	m.RunIdleCleanup(ctx, func(id string, fn func() error) error { return fn() })

	assert.True(t, sess.IsClosed, "24h+ idle forces closure even with subscribers present")
}

func TestPurgeClosedDeletesOldTombstones(t *testing.T) {
	m, st, _, now := newManager()
	ctx := context.Background()

	sess := session.New("ABC123", "game", newSettings(), 0)
	sess.IsClosed = true
	sess.LastActivity = 0
	data, _ := json.Marshal(sess)
	require.NoError(t, st.Create(ctx, sess.ID, data, time.Hour))

	*now = ForceCloseAfter.Milliseconds()
	m.PurgeClosed(ctx)

	exists, err := st.Exists(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, exists, "tombstones older than ForceCloseAfter are hard-deleted")
}
