package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vd-speed-test/speedroll/internal/core/period"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
	"github.com/vd-speed-test/speedroll/internal/core/storage"
)

var (
	// ErrInvalidQuery marks request validation errors that should return HTTP 400.
	ErrInvalidQuery = errors.New("invalid summary query")
	// ErrInvalidMode is the ErrInvalidQuery raised for an unknown or raw mode.
	ErrInvalidMode = fmt.Errorf("%w: unknown mode", ErrInvalidQuery)
)

// windowLimits holds the default and maximum window per level, in periods.
var windowLimits = map[period.Level]struct{ def, max int }{
	period.Hour:  {def: 24, max: 24 * 31},
	period.Day:   {def: 30, max: 366},
	period.Week:  {def: 12, max: 104},
	period.Month: {def: 12, max: 120},
	period.Year:  {def: 5, max: 20},
}

// daysPerPeriod converts a days parameter when the level's own unit is absent.
var daysPerPeriod = map[period.Level]int{
	period.Week:  7,
	period.Month: 30,
	period.Year:  365,
}

// Service implements the dashboard read path on top of the query cache.
type Service struct {
	cache  *QueryCache
	store  storage.ObjectStore
	layout rollup.Layout
	hosts  []string
}

// NewService creates a projection service. hosts are the configured collector ids,
// reported alongside any discovered in storage.
func NewService(cache *QueryCache, store storage.ObjectStore, layout rollup.Layout, hosts []string) *Service {
	return &Service{
		cache:  cache,
		store:  store,
		layout: layout,
		hosts:  append([]string(nil), hosts...),
	}
}

// Summaries validates req, converts its window to periods and serves it through the cache.
func (s *Service) Summaries(ctx context.Context, req SummariesQueryRequest) ([]rollup.BucketSummary, CacheResult, error) {
	q, err := s.toQuery(req)
	if err != nil {
		return nil, "", err
	}
	return s.cache.Get(ctx, q)
}

func (s *Service) toQuery(req SummariesQueryRequest) (Query, error) {
	mode := req.Mode
	if mode == "" {
		mode = period.Day.Mode()
	}
	level, err := period.ParseLevel(mode)
	if err != nil || level == period.Raw {
		return Query{}, fmt.Errorf("%w %q", ErrInvalidMode, req.Mode)
	}

	if req.Days < 0 || req.Weeks < 0 || req.Months < 0 || req.Years < 0 {
		return Query{}, invalidQueryf("window must not be negative")
	}

	window := s.window(level, req)
	limits := windowLimits[level]
	if window > limits.max {
		return Query{}, invalidQueryf("window of %d %s periods exceeds the maximum of %d", window, level, limits.max)
	}

	host := strings.TrimSpace(req.Host)
	if host == "" {
		host = rollup.HostScopeAll
	}
	if err := rollup.ValidHostScope(host); err != nil {
		return Query{}, invalidQueryf("%v", err)
	}

	dataType := strings.TrimSpace(req.DataType)
	if dataType == "" {
		dataType = DataTypeSpeedTest
	}

	return Query{
		DataType:     dataType,
		HostScope:    host,
		Level:        level,
		Window:       window,
		ForceRefresh: req.ForceRefresh,
	}, nil
}

func (s *Service) window(level period.Level, req SummariesQueryRequest) int {
	var n int
	switch level {
	case period.Hour:
		n = req.Days * 24
	case period.Day:
		n = req.Days
	case period.Week:
		n = req.Weeks
	case period.Month:
		n = req.Months
	case period.Year:
		n = req.Years
	}
	if n == 0 && req.Days > 0 {
		if per, ok := daysPerPeriod[level]; ok {
			n = max(1, req.Days/per)
		}
	}
	if n == 0 {
		n = windowLimits[level].def
	}
	return n
}

// Hosts returns "all" followed by every known host scope, configured or found
// under the daily bucket.
func (s *Service) Hosts(ctx context.Context) ([]string, error) {
	prefix, err := s.layout.HostsPrefix(period.Day)
	if err != nil {
		return nil, err
	}

	paths, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list host partitions: %w", err)
	}

	seen := make(map[string]struct{}, len(s.hosts))
	for _, h := range s.hosts {
		if h != "" && h != rollup.HostScopeAll {
			seen[h] = struct{}{}
		}
	}
	for _, h := range rollup.HostsUnder(prefix, paths) {
		seen[h] = struct{}{}
	}

	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return append([]string{rollup.HostScopeAll}, hosts...), nil
}

// CacheStats exposes the cache counters.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// InvalidateCache drops every cached query result.
func (s *Service) InvalidateCache() {
	s.cache.Invalidate()
}

func invalidQueryf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
