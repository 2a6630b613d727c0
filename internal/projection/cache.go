package projection

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vd-speed-test/speedroll/internal/core/period"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
	"github.com/vd-speed-test/speedroll/internal/core/storage"
	"github.com/vd-speed-test/speedroll/internal/metrics"
)

const (
	defaultCacheTTL         = 120 * time.Second
	defaultPoolSize         = 20
	defaultOperationTimeout = 10 * time.Second
)

// DefaultPoolSizes scales fan-out with how many periods a typical window spans.
func DefaultPoolSizes() map[period.Level]int {
	return map[period.Level]int{
		period.Hour:  50,
		period.Day:   20,
		period.Week:  20,
		period.Month: 20,
		period.Year:  10,
	}
}

// CacheOptions configures the query cache.
type CacheOptions struct {
	TTL              time.Duration
	Pools            map[period.Level]int
	OperationTimeout time.Duration
}

func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		TTL:              defaultCacheTTL,
		Pools:            DefaultPoolSizes(),
		OperationTimeout: defaultOperationTimeout,
	}
}

func (o CacheOptions) normalized() CacheOptions {
	n := o
	if n.TTL <= 0 {
		n.TTL = defaultCacheTTL
	}
	pools := DefaultPoolSizes()
	for level, size := range o.Pools {
		if size > 0 {
			pools[level] = size
		}
	}
	n.Pools = pools
	if n.OperationTimeout <= 0 {
		n.OperationTimeout = defaultOperationTimeout
	}
	return n
}

type cacheEntry struct {
	summaries []rollup.BucketSummary
	expiresAt time.Time
}

// QueryCache serves multi-period summary lists with a TTL. Entries live in a
// sync.Map so unrelated keys never contend; two concurrent misses on one key
// both fetch and the later fill wins.
type QueryCache struct {
	store  storage.ObjectStore
	layout rollup.Layout
	loc    *time.Location
	opts   CacheOptions

	entries sync.Map // cacheKey -> *cacheEntry

	hits      atomic.Int64
	misses    atomic.Int64
	refreshes atomic.Int64

	nowFn func() time.Time
}

func NewQueryCache(store storage.ObjectStore, layout rollup.Layout, loc *time.Location, opts CacheOptions) *QueryCache {
	if loc == nil {
		loc = time.UTC
	}
	return &QueryCache{
		store:  store,
		layout: layout,
		loc:    loc,
		opts:   opts.normalized(),
		nowFn:  time.Now,
	}
}

// Get returns the chronological summaries for q. Periods that are missing or
// unreadable are left out; only cancellation fails the call.
func (c *QueryCache) Get(ctx context.Context, q Query) ([]rollup.BucketSummary, CacheResult, error) {
	key := q.cacheKey()
	now := c.nowFn()

	result := CacheMiss
	if q.ForceRefresh {
		result = CacheRefresh
	} else if v, ok := c.entries.Load(key); ok {
		e := v.(*cacheEntry)
		if now.Before(e.expiresAt) {
			c.hits.Add(1)
			metrics.QueryCacheRequests.WithLabelValues(string(CacheHit)).Inc()
			return cloneSummaries(e.summaries), CacheHit, nil
		}
		c.entries.CompareAndDelete(key, v)
	}

	if result == CacheRefresh {
		c.refreshes.Add(1)
	} else {
		c.misses.Add(1)
	}
	metrics.QueryCacheRequests.WithLabelValues(string(result)).Inc()

	summaries, err := c.fill(ctx, q, now)
	if err != nil {
		return nil, result, err
	}

	c.entries.Store(key, &cacheEntry{
		summaries: summaries,
		expiresAt: c.nowFn().Add(c.opts.TTL),
	})
	return cloneSummaries(summaries), result, nil
}

func (c *QueryCache) fill(ctx context.Context, q Query, now time.Time) ([]rollup.BucketSummary, error) {
	ids, err := period.Last(q.Level, now, q.Window, c.loc)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	slots := make([]*rollup.BucketSummary, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.poolSize(q.Level))
	for i, id := range ids {
		g.Go(func() error {
			slots[i] = c.fetchPeriod(gctx, rollup.BucketKey{Level: q.Level, HostScope: q.HostScope, PeriodID: id})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]rollup.BucketSummary, 0, len(ids))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}

	slog.Debug("[QueryCache] Filled",
		"level", q.Level,
		"host_scope", q.HostScope,
		"window", q.Window,
		"periods", len(ids),
		"found", len(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// fetchPeriod reads one summary; nil means the period is omitted from the result.
func (c *QueryCache) fetchPeriod(ctx context.Context, key rollup.BucketKey) *rollup.BucketSummary {
	if ctx.Err() != nil {
		return nil
	}
	path, err := c.layout.SummaryPath(key)
	if err != nil {
		slog.Warn("[QueryCache] Cannot derive summary path", "key", key.String(), "error", err)
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()

	data, err := c.store.Get(opCtx, path)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		metrics.QueryPeriodFetches.WithLabelValues(string(key.Level), "missing").Inc()
		return nil
	case err != nil:
		if ctx.Err() == nil {
			slog.Warn("[QueryCache] Period fetch failed", "path", path, "error", err)
		}
		metrics.QueryPeriodFetches.WithLabelValues(string(key.Level), "failed").Inc()
		return nil
	}

	summary, err := rollup.DecodeSummary(data)
	if err != nil {
		slog.Warn("[QueryCache] Malformed summary", "path", path, "error", err)
		metrics.QueryPeriodFetches.WithLabelValues(string(key.Level), "malformed").Inc()
		return nil
	}
	metrics.QueryPeriodFetches.WithLabelValues(string(key.Level), "found").Inc()
	return summary
}

func (c *QueryCache) poolSize(level period.Level) int {
	if n, ok := c.opts.Pools[level]; ok && n > 0 {
		return n
	}
	return defaultPoolSize
}

// Invalidate drops every cached entry.
func (c *QueryCache) Invalidate() {
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
}

// Stats reports counters and the number of live entries.
func (c *QueryCache) Stats() CacheStats {
	now := c.nowFn()
	live := 0
	c.entries.Range(func(_, v any) bool {
		if now.Before(v.(*cacheEntry).expiresAt) {
			live++
		}
		return true
	})

	stats := CacheStats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Refreshes:  c.refreshes.Load(),
		Entries:    live,
		TTLSeconds: c.opts.TTL.Seconds(),
		SampledAt:  now.UTC(),
	}
	if total := stats.Hits + stats.Misses + stats.Refreshes; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// cloneSummaries copies the slice fields too, so callers never alias a cached entry.
func cloneSummaries(in []rollup.BucketSummary) []rollup.BucketSummary {
	out := make([]rollup.BucketSummary, len(in))
	for i, s := range in {
		s.Anomalies = slices.Clone(s.Anomalies)
		s.TopServers = slices.Clone(s.TopServers)
		s.PublicIPs = slices.Clone(s.PublicIPs)
		s.ConnectionTypes = slices.Clone(s.ConnectionTypes)
		s.Sources = slices.Clone(s.Sources)
		out[i] = s
	}
	return out
}
