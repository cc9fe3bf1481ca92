package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/meghashyamc/placefinder/clock"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type item struct {
	Label string `json:"label"`
}

func newRedisCache(t *testing.T, clk clock.Clock, ttl time.Duration) (*Redis[[]item], *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis[[]item](client, logger.Discard(), "test:", Options{Name: "search", TTL: ttl, Clock: clk}), mr
}

func TestMemoryGetSet(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	c := NewMemory[string](Options{Name: "location", TTL: 10 * time.Minute, Clock: clk})

	_, ok := c.Get(ctx, "current-location")
	assert.False(ok, "empty cache should miss")

	c.Set(ctx, "current-location", "Vancouver")
	value, ok := c.Get(ctx, "current-location")
	assert.True(ok)
	assert.Equal("Vancouver", value)

	c.Set(ctx, "current-location", "Burnaby")
	value, ok = c.Get(ctx, "current-location")
	assert.True(ok)
	assert.Equal("Burnaby", value, "set should overwrite unconditionally")
}

func TestMemoryExpiry(t *testing.T) {
	testCases := []struct {
		name    string
		advance time.Duration
		wantHit bool
	}{
		{name: "FreshEntry", advance: time.Minute, wantHit: true},
		{name: "ExactlyAtTTL", advance: 5 * time.Minute, wantHit: true},
		{name: "PastTTL", advance: 5*time.Minute + time.Nanosecond, wantHit: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert := require.New(t)
			ctx := context.Background()
			clk := clock.NewManual(testStart)
			c := NewMemory[int](Options{TTL: 5 * time.Minute, Clock: clk})

			c.Set(ctx, "k", 1)
			clk.Advance(testCase.advance)

			_, ok := c.Get(ctx, "k")
			assert.Equal(testCase.wantHit, ok)
			if !testCase.wantHit {
				assert.Equal(0, c.Len(), "expired entry should be dropped on read")
			}
		})
	}
}

func TestMemoryTTLsAreIndependent(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	search := NewMemory[string](Options{Name: "search", TTL: 5 * time.Minute, Clock: clk})
	location := NewMemory[string](Options{Name: "location", TTL: 10 * time.Minute, Clock: clk})

	search.Set(ctx, "van", "results")
	location.Set(ctx, "current-location", "Vancouver")
	clk.Advance(7 * time.Minute)

	_, ok := search.Get(ctx, "van")
	assert.False(ok)
	_, ok = location.Get(ctx, "current-location")
	assert.True(ok)
}

func TestMemoryDropsExpiredEntriesOnWrite(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	c := NewMemory[int](Options{Name: "search", TTL: 5 * time.Minute, Clock: clk})

	for i := 0; i < 100; i++ {
		c.Set(ctx, fmt.Sprintf("stale-%d", i), i)
	}
	assert.Equal(100, c.Len())

	clk.Advance(6 * time.Minute)
	c.Set(ctx, "fresh", 1)
	assert.Equal(1, c.Len(), "keys that are never read again should not be retained past their TTL")

	value, ok := c.Get(ctx, "fresh")
	assert.True(ok)
	assert.Equal(1, value)
}

func TestMemoryKeepsUnexpiredEntriesOnWrite(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	c := NewMemory[int](Options{TTL: 5 * time.Minute, Clock: clk})

	c.Set(ctx, "old", 1)
	clk.Advance(3 * time.Minute)
	c.Set(ctx, "newer", 2)
	clk.Advance(3 * time.Minute)
	c.Set(ctx, "newest", 3)

	assert.Equal(2, c.Len())
	_, ok := c.Get(ctx, "old")
	assert.False(ok)
	_, ok = c.Get(ctx, "newer")
	assert.True(ok)
}

func TestMemoryRewriteRefreshesInsertionOrder(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	c := NewMemory[int](Options{TTL: 5 * time.Minute, Clock: clk})

	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	clk.Advance(4 * time.Minute)
	c.Set(ctx, "a", 10)
	clk.Advance(2 * time.Minute)
	c.Set(ctx, "c", 3)

	assert.Equal(2, c.Len())
	value, ok := c.Get(ctx, "a")
	assert.True(ok)
	assert.Equal(10, value)
	_, ok = c.Get(ctx, "b")
	assert.False(ok)
}

func TestMemoryMaxEntries(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	c := NewMemory[int](Options{TTL: time.Hour, MaxEntries: 3, Clock: clk})

	for i := 0; i < 10; i++ {
		c.Set(ctx, fmt.Sprintf("key-%d", i), i)
		clk.Advance(time.Second)
		assert.LessOrEqual(c.Len(), 3)
	}

	for i := 0; i < 7; i++ {
		_, ok := c.Get(ctx, fmt.Sprintf("key-%d", i))
		assert.False(ok, "key-%d should have been evicted", i)
	}
	for i := 7; i < 10; i++ {
		value, ok := c.Get(ctx, fmt.Sprintf("key-%d", i))
		assert.True(ok)
		assert.Equal(i, value)
	}
}

func TestMemoryDefaultMaxEntries(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	c := NewMemory[int](Options{TTL: time.Hour, Clock: clock.NewManual(testStart)})

	for i := 0; i < DefaultMaxEntries+5; i++ {
		c.Set(ctx, fmt.Sprintf("key-%d", i), i)
	}
	assert.Equal(DefaultMaxEntries, c.Len())
	_, ok := c.Get(ctx, "key-0")
	assert.False(ok)
}

func TestMemoryRecordsMetrics(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	m := metrics.New(prometheus.NewRegistry())
	c := NewMemory[string](Options{Name: "search", TTL: time.Minute, Clock: clk, Metrics: m})

	c.Get(ctx, "a")
	c.Set(ctx, "a", "x")
	c.Get(ctx, "a")
	clk.Advance(2 * time.Minute)
	_, ok := c.Get(ctx, "a")
	assert.False(ok)
}

func TestRedisGetSet(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	c, mr := newRedisCache(t, clk, 5*time.Minute)

	_, ok := c.Get(ctx, "van")
	assert.False(ok)

	c.Set(ctx, "van", []item{{Label: "Vancouver"}})
	value, ok := c.Get(ctx, "van")
	assert.True(ok)
	assert.Equal([]item{{Label: "Vancouver"}}, value)

	assert.True(mr.Exists("test:van"), "entry should be stored under the prefixed key")
	assert.Equal(5*time.Minute, mr.TTL("test:van"))
}

func TestRedisExpiryUsesClock(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	c, mr := newRedisCache(t, clk, 5*time.Minute)

	c.Set(ctx, "van", []item{{Label: "Vancouver"}})
	clk.Advance(6 * time.Minute)

	_, ok := c.Get(ctx, "van")
	assert.False(ok)
	assert.False(mr.Exists("test:van"), "expired entry should be deleted")
}

func TestRedisUnavailableIsAMiss(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	c, mr := newRedisCache(t, clk, 5*time.Minute)

	mr.Close()

	c.Set(ctx, "van", []item{{Label: "Vancouver"}})
	_, ok := c.Get(ctx, "van")
	assert.False(ok)
}

func TestRedisCorruptEntryIsAMiss(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	clk := clock.NewManual(testStart)
	c, mr := newRedisCache(t, clk, 5*time.Minute)

	assert.NoError(mr.Set("test:van", "not json"))
	_, ok := c.Get(ctx, "van")
	assert.False(ok)
}
