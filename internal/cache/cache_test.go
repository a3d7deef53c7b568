package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGetDelete(t *testing.T) {
	c := New(50 * time.Millisecond)
	defer c.Close()

	_, ok := c.Get("k1")
	assert.False(t, ok)

	c.Set("k1", "v1")
	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	c.Delete("k1")
	_, ok = c.Get("k1")
	assert.False(t, ok)
}

func TestCacheEntryExpiresAfterTTL(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Close()

	c.Set("k1", "v1")
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k1")
	assert.False(t, ok, "entry older than ttl must be treated as absent")
}

func TestCacheGetOrSetLoadsOnMissAndCachesOnHit(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	calls := 0
	load := func() (any, error) {
		calls++
		return "loaded", nil
	}

	v, err := c.GetOrSet("k1", load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
	assert.Equal(t, 1, calls)

	v, err = c.GetOrSet("k1", load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
	assert.Equal(t, 1, calls, "a cache hit must not invoke load again")
}

func TestCacheGetOrSetPropagatesLoadError(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	wantErr := errors.New("boom")
	_, err := c.GetOrSet("k1", func() (any, error) { return nil, wantErr })
	assert.ErrorIs(t, err, wantErr)

	_, ok := c.Get("k1")
	assert.False(t, ok, "a failed load must not populate the cache")
}

func TestCacheStatsTracksHitRate(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("k1", "v1")
	c.Get("k1")       // hit
	c.Get("k1")       // hit
	c.Get("missing")  // miss

	hits, misses := c.Stats.Snapshot()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
	assert.InDelta(t, 2.0/3.0, c.Stats.HitRate(), 0.0001)
}

func TestCacheHitRateWithNoObservationsIsZero(t *testing.T) {
	s := &Stats{}
	assert.Equal(t, 0.0, s.HitRate())
}
