package projection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vd-speed-test/speedroll/internal/core/period"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
	"github.com/vd-speed-test/speedroll/internal/core/storage/memory"
)

// countingStore records reads and the peak number of concurrent reads.
type countingStore struct {
	*memory.Store

	mu       sync.Mutex
	failing  map[string]bool
	delay    time.Duration
	gets     atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New(), failing: make(map[string]bool)}
}

func (s *countingStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.gets.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	fail := s.failing[path]
	s.mu.Unlock()
	if fail {
		return nil, errors.New("503 slow down")
	}
	return s.Store.Get(ctx, path)
}

var testNow = time.Date(2025, 11, 4, 0, 30, 0, 0, time.UTC)

func newTestCache(store *countingStore, opts CacheOptions) (*QueryCache, *time.Time) {
	now := testNow
	c := NewQueryCache(store, rollup.NewLayout(nil), time.UTC, opts)
	c.nowFn = func() time.Time { return now }
	return c, &now
}

// seedDays writes a daily summary for every day of the window except skip.
func seedDays(t *testing.T, store *countingStore, ids []string, skip map[string]bool) {
	t.Helper()
	layout := rollup.NewLayout(nil)
	for i, id := range ids {
		if skip[id] {
			continue
		}
		key := rollup.BucketKey{Level: period.Day, HostScope: rollup.HostScopeAll, PeriodID: id}
		path, err := layout.SummaryPath(key)
		require.NoError(t, err)
		data, err := rollup.EncodeSummary(&rollup.BucketSummary{BucketKey: key, RecordCount: i + 1})
		require.NoError(t, err)
		require.NoError(t, store.Store.Put(context.Background(), path, data))
	}
}

func dailyQuery(force bool) Query {
	return Query{
		DataType:     DataTypeSpeedTest,
		HostScope:    rollup.HostScopeAll,
		Level:        period.Day,
		Window:       30,
		ForceRefresh: force,
	}
}

func TestQueryCache_HitMissAndForcedRefresh(t *testing.T) {
	store := newCountingStore()
	ids, err := period.Last(period.Day, testNow, 30, time.UTC)
	require.NoError(t, err)
	require.Equal(t, "2025-10-06", ids[0])
	require.Equal(t, "2025-11-04", ids[29])

	// The current day has no artifact yet and one older day is unreadable.
	seedDays(t, store, ids, map[string]bool{"2025-11-04": true})
	failingPath, err := rollup.NewLayout(nil).SummaryPath(rollup.BucketKey{Level: period.Day, HostScope: rollup.HostScopeAll, PeriodID: "2025-10-20"})
	require.NoError(t, err)
	store.failing[failingPath] = true

	cache, now := newTestCache(store, DefaultCacheOptions())
	ctx := context.Background()

	first, result, err := cache.Get(ctx, dailyQuery(false))
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, result)
	assert.EqualValues(t, 30, store.gets.Load())
	require.Len(t, first, 28)
	for i := 1; i < len(first); i++ {
		assert.Less(t, first[i-1].BucketKey.PeriodID, first[i].BucketKey.PeriodID)
	}
	assert.Equal(t, "2025-10-06", first[0].BucketKey.PeriodID)

	second, result, err := cache.Get(ctx, dailyQuery(false))
	require.NoError(t, err)
	assert.Equal(t, CacheHit, result)
	assert.EqualValues(t, 30, store.gets.Load())
	assert.Equal(t, first, second)

	_, result, err = cache.Get(ctx, dailyQuery(true))
	require.NoError(t, err)
	assert.Equal(t, CacheRefresh, result)
	assert.EqualValues(t, 60, store.gets.Load())

	*now = now.Add(defaultCacheTTL + time.Second)
	_, result, err = cache.Get(ctx, dailyQuery(false))
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, result)
	assert.EqualValues(t, 90, store.gets.Load())

	stats := cache.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 2, stats.Misses)
	assert.EqualValues(t, 1, stats.Refreshes)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 0.25, stats.HitRate, 1e-9)
}

func TestQueryCache_KeysAreIndependent(t *testing.T) {
	store := newCountingStore()
	cache, _ := newTestCache(store, DefaultCacheOptions())
	ctx := context.Background()

	_, _, err := cache.Get(ctx, dailyQuery(false))
	require.NoError(t, err)

	other := dailyQuery(false)
	other.HostScope = "host-a"
	_, result, err := cache.Get(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, result)

	other.DataType = "latency_probe"
	_, result, err = cache.Get(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, result)
	assert.EqualValues(t, 90, store.gets.Load())
}

func TestQueryCache_PoolBoundsConcurrency(t *testing.T) {
	store := newCountingStore()
	store.delay = 5 * time.Millisecond

	opts := DefaultCacheOptions()
	opts.Pools = map[period.Level]int{period.Day: 4}
	cache, _ := newTestCache(store, opts)

	_, _, err := cache.Get(context.Background(), dailyQuery(false))
	require.NoError(t, err)
	assert.EqualValues(t, 30, store.gets.Load())
	assert.LessOrEqual(t, store.peak.Load(), int64(4))
	assert.GreaterOrEqual(t, store.peak.Load(), int64(1))
}

func TestQueryCache_HourlyWindow(t *testing.T) {
	store := newCountingStore()
	cache, _ := newTestCache(store, DefaultCacheOptions())

	summaries, _, err := cache.Get(context.Background(), Query{
		DataType:  DataTypeSpeedTest,
		HostScope: rollup.HostScopeAll,
		Level:     period.Hour,
		Window:    24,
	})
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.EqualValues(t, 24, store.gets.Load())
}

func TestQueryCache_CancelledFillIsNotCached(t *testing.T) {
	store := newCountingStore()
	cache, _ := newTestCache(store, DefaultCacheOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := cache.Get(ctx, dailyQuery(false))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, cache.Stats().Entries)
}

func TestQueryCache_ResultsDoNotAliasTheCache(t *testing.T) {
	store := newCountingStore()
	layout := rollup.NewLayout(nil)
	key := rollup.BucketKey{Level: period.Day, HostScope: rollup.HostScopeAll, PeriodID: "2025-11-03"}
	path, err := layout.SummaryPath(key)
	require.NoError(t, err)
	data, err := rollup.EncodeSummary(&rollup.BucketSummary{
		BucketKey:       key,
		RecordCount:     96,
		Anomalies:       []rollup.Anomaly{{RecordRef: "r1", Kind: "high_latency"}},
		TopServers:      []rollup.ServerCount{{Server: "Airtel Mumbai", Count: 96}},
		PublicIPs:       []string{"203.0.113.7"},
		ConnectionTypes: []string{"fiber"},
	})
	require.NoError(t, err)
	require.NoError(t, store.Store.Put(context.Background(), path, data))

	cache, _ := newTestCache(store, DefaultCacheOptions())
	ctx := context.Background()

	first, _, err := cache.Get(ctx, dailyQuery(false))
	require.NoError(t, err)
	require.Len(t, first, 1)
	first[0].Anomalies[0].Kind = "tampered"
	first[0].TopServers[0].Count = 0
	first[0].PublicIPs[0] = "0.0.0.0"
	first[0].ConnectionTypes[0] = "tampered"

	second, result, err := cache.Get(ctx, dailyQuery(false))
	require.NoError(t, err)
	assert.Equal(t, CacheHit, result)
	assert.Equal(t, "high_latency", second[0].Anomalies[0].Kind)
	assert.Equal(t, 96, second[0].TopServers[0].Count)
	assert.Equal(t, []string{"203.0.113.7"}, second[0].PublicIPs)
	assert.Equal(t, []string{"fiber"}, second[0].ConnectionTypes)
}

func TestQueryCache_Invalidate(t *testing.T) {
	store := newCountingStore()
	cache, _ := newTestCache(store, DefaultCacheOptions())
	ctx := context.Background()

	_, _, err := cache.Get(ctx, dailyQuery(false))
	require.NoError(t, err)
	cache.Invalidate()

	_, result, err := cache.Get(ctx, dailyQuery(false))
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, result)
}
