package rollup

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vd-speed-test/speedroll/internal/core/period"
)

// SummaryFilename is shared by every rollup level; only the prefix differs.
const SummaryFilename = "speed_test_summary.json"

// DefaultBuckets mirrors the production bucket naming.
func DefaultBuckets() map[period.Level]string {
	return map[period.Level]string{
		period.Raw:   "vd-speed-test",
		period.Hour:  "vd-speed-test-hourly-prod",
		period.Day:   "vd-speed-test/aggregated",
		period.Week:  "vd-speed-test-weekly-prod",
		period.Month: "vd-speed-test-monthly-prod",
		period.Year:  "vd-speed-test-yearly-prod",
	}
}

// Layout derives storage paths:
//
//	{bucket}/{host=<id>/}year=YYYY/month=YYYYMM/day=YYYYMMDD/[hour=YYYYMMDDHH/|week=YYYY-Www/]speed_test_summary.json
//
// Month paths stop after month=, year paths after year=. Week paths hang off the week's Monday.
type Layout struct {
	Buckets map[period.Level]string
}

func NewLayout(buckets map[period.Level]string) Layout {
	merged := DefaultBuckets()
	for level, b := range buckets {
		if b = strings.Trim(strings.TrimSpace(b), "/"); b != "" {
			merged[level] = b
		}
	}
	return Layout{Buckets: merged}
}

// Path returns the summary path for rollup keys and the listing prefix for raw keys.
func (l Layout) Path(key BucketKey) (string, error) {
	if key.Level == period.Raw {
		return l.RawPrefix(key)
	}
	return l.SummaryPath(key)
}

// SummaryPath is the deterministic location of a rollup artifact.
func (l Layout) SummaryPath(key BucketKey) (string, error) {
	if key.Level == period.Raw {
		return "", &InvalidLevelError{Level: string(key.Level)}
	}
	prefix, err := l.partition(key)
	if err != nil {
		return "", err
	}
	return prefix + SummaryFilename, nil
}

// RawPrefix is the listing prefix of one raw hour partition, ending in "/".
func (l Layout) RawPrefix(key BucketKey) (string, error) {
	if key.Level != period.Raw {
		return "", &InvalidLevelError{Level: string(key.Level)}
	}
	return l.partition(key)
}

// RecordPath is where a collector's raw record lands, one file per probe.
func (l Layout) RecordPath(rec MeasurementRecord, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.UTC
	}
	hourID, err := period.Derive(period.Raw, rec.Timestamp, loc)
	if err != nil {
		return "", err
	}
	prefix, err := l.RawPrefix(BucketKey{Level: period.Raw, HostScope: rec.HostID, PeriodID: hourID})
	if err != nil {
		return "", err
	}
	local := rec.Timestamp.In(loc)
	return fmt.Sprintf("%sminute=%02d/measurement_%d.json", prefix, local.Minute(), rec.Timestamp.UnixNano()), nil
}

// ScopePrefix is the root under which a level/scope pair keeps its artifacts.
func (l Layout) ScopePrefix(level period.Level, hostScope string) (string, error) {
	if err := ValidHostScope(hostScope); err != nil {
		return "", err
	}
	bucket, ok := l.Buckets[level]
	if !ok || bucket == "" {
		return "", &InvalidLevelError{Level: string(level)}
	}
	return bucket + "/" + hostSegment(hostScope), nil
}

// HostsPrefix is the listing prefix that covers every host=<id>/ partition of a level.
func (l Layout) HostsPrefix(level period.Level) (string, error) {
	root, err := l.ScopePrefix(level, HostScopeAll)
	if err != nil {
		return "", err
	}
	return root + "host=", nil
}

// HostsUnder extracts the sorted, distinct host ids from paths listed under a
// HostsPrefix. Segments that are not valid host scopes are dropped.
func HostsUnder(prefix string, paths []string) []string {
	seen := make(map[string]struct{})
	for _, p := range paths {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		i := strings.IndexByte(rest, '/')
		if i <= 0 {
			continue
		}
		id := rest[:i]
		if id == HostScopeAll || ValidHostScope(id) != nil {
			continue
		}
		seen[id] = struct{}{}
	}

	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func (l Layout) partition(key BucketKey) (string, error) {
	root, err := l.ScopePrefix(key.Level, key.HostScope)
	if err != nil {
		return "", err
	}

	// Ids encode the local calendar already, so UTC parsing reproduces the same date parts.
	span, err := period.Parse(key.Level, key.PeriodID, time.UTC)
	if err != nil {
		return "", err
	}
	s := span.Start

	var b strings.Builder
	b.WriteString(root)
	fmt.Fprintf(&b, "year=%04d/", s.Year())
	if key.Level == period.Year {
		return b.String(), nil
	}
	fmt.Fprintf(&b, "month=%s/", s.Format("200601"))
	if key.Level == period.Month {
		return b.String(), nil
	}
	fmt.Fprintf(&b, "day=%s/", s.Format("20060102"))

	switch key.Level {
	case period.Raw, period.Hour:
		fmt.Fprintf(&b, "hour=%s/", s.Format("2006010215"))
	case period.Week:
		fmt.Fprintf(&b, "week=%s/", key.PeriodID)
	}
	return b.String(), nil
}

// ValidHostScope accepts "", "all" or a host id that stays inside its own
// host=<id>/ segment.
func ValidHostScope(hostScope string) error {
	if hostScope == "." || hostScope == ".." || strings.ContainsAny(hostScope, "/\\=") {
		return fmt.Errorf("%w %q: must not contain '/', '\\' or '=' or be a dot segment", ErrInvalidHostScope, hostScope)
	}
	return nil
}

func hostSegment(hostScope string) string {
	if hostScope == "" || hostScope == HostScopeAll {
		return ""
	}
	return "host=" + hostScope + "/"
}
