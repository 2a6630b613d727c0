package projection

import (
	"fmt"
	"time"

	"github.com/vd-speed-test/speedroll/internal/core/period"
)

// DataTypeSpeedTest is the only data type collectors produce today.
const DataTypeSpeedTest = "speed_test"

// Query selects the last Window periods of Level for one host scope.
type Query struct {
	DataType     string
	HostScope    string
	Level        period.Level
	Window       int
	ForceRefresh bool
}

func (q Query) cacheKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", q.DataType, q.HostScope, q.Level, q.Window)
}

// SummariesQueryRequest is the query string of GET /v1/summaries.
// Only the unit matching the mode is read; days is converted when the matching unit is absent.
type SummariesQueryRequest struct {
	Mode         string `form:"mode"`
	Days         int    `form:"days"`
	Weeks        int    `form:"weeks"`
	Months       int    `form:"months"`
	Years        int    `form:"years"`
	Host         string `form:"host"`
	DataType     string `form:"data_type"`
	ForceRefresh bool   `form:"force_refresh"`
}

// CacheResult tells the caller how a query was served.
type CacheResult string

const (
	CacheHit     CacheResult = "hit"
	CacheMiss    CacheResult = "miss"
	CacheRefresh CacheResult = "refresh"
)

// CacheStats is a point-in-time view of the query cache.
type CacheStats struct {
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Refreshes  int64     `json:"refreshes"`
	Entries    int       `json:"entries"`
	TTLSeconds float64   `json:"ttl_seconds"`
	HitRate    float64   `json:"hit_rate"`
	SampledAt  time.Time `json:"sampled_at"`
}
