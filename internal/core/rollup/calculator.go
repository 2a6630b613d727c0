package rollup

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vd-speed-test/speedroll/internal/core/period"
)

// Probes run on a 15 minute cadence.
const slotSize = 15 * time.Minute

var baseExpected = map[period.Level]int{
	period.Hour: 4,
	period.Day:  96,
	period.Week: 7,
	period.Year: 12,
}

// Calculator turns fetched inputs into a BucketSummary. It has no side effects.
type Calculator struct {
	thresholds ThresholdConfig
	loc        *time.Location
	nowFn      func() time.Time
}

func NewCalculator(thresholds ThresholdConfig, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{
		thresholds: thresholds,
		loc:        loc,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// Thresholds returns the policy the calculator classifies against.
func (c *Calculator) Thresholds() ThresholdConfig {
	return c.thresholds
}

// Compute builds the summary for key. It returns nil when no usable input remains.
func (c *Calculator) Compute(key BucketKey, in Inputs) (*BucketSummary, error) {
	source, err := SourceLevel(key.Level)
	if err != nil {
		return nil, err
	}
	if key.HostScope == "" {
		key.HostScope = HostScopeAll
	}
	span, err := period.Parse(key.Level, key.PeriodID, c.loc)
	if err != nil {
		return nil, err
	}

	if source == period.Raw {
		return c.fromRecords(key, span, in), nil
	}
	return c.fromSummaries(key, span, in), nil
}

// ExpectedCount is the number of source units a complete period holds. Raw-sourced
// levels scale with the number of hosts feeding the scope.
func ExpectedCount(level period.Level, span period.Span, hosts int) int {
	if hosts < 1 {
		hosts = 1
	}
	switch level {
	case period.Hour, period.Day:
		return baseExpected[level] * hosts
	case period.Month:
		return span.Start.AddDate(0, 1, -1).Day()
	default:
		return baseExpected[level]
	}
}

func completionRate(records, expected int) float64 {
	if expected <= 0 {
		return 0
	}
	return round2(math.Min(100, 100*float64(records)/float64(expected)))
}

func (c *Calculator) fromRecords(key BucketKey, span period.Span, in Inputs) *BucketSummary {
	errCount := in.Errors
	valid := make([]MeasurementRecord, 0, len(in.Records))
	for _, r := range in.Records {
		if err := c.validate(r); err != nil {
			errCount++
			continue
		}
		valid = append(valid, r)
	}

	records := dedupeSlots(valid)
	if len(records) == 0 {
		return nil
	}

	hosts := make(map[string]struct{})
	servers := make(map[string]int)
	ips := make(map[string]struct{})
	conns := make(map[string]struct{})
	var download, upload, ping []sample
	cands := make([]candidate, 0, len(records))

	for _, r := range records {
		hosts[r.HostID] = struct{}{}
		if label := serverLabel(r); label != "" {
			servers[label]++
		}
		if r.PublicIP != "" {
			ips[r.PublicIP] = struct{}{}
		}
		if r.ConnectionType != "" {
			conns[r.ConnectionType] = struct{}{}
		}

		download = append(download, rawSample(r.DownloadMbps))
		upload = append(upload, rawSample(r.UploadMbps))
		ping = append(ping, rawSample(r.PingMs))
		cands = append(cands, candidate{
			ref:            recordRef(r, c.loc),
			download:       r.DownloadMbps,
			ping:           r.PingMs,
			connectionType: r.ConnectionType,
		})
	}

	hostCount := 1
	if key.HostScope == HostScopeAll {
		hostCount = len(hosts)
	}
	expected := ExpectedCount(key.Level, span, hostCount)

	return &BucketSummary{
		BucketKey:      key,
		PeriodStart:    span.Start,
		PeriodEnd:      span.End,
		RecordCount:    len(records),
		SampleCount:    len(records),
		ExpectedCount:  expected,
		CompletionRate: completionRate(len(records), expected),
		Errors:         errCount,
		Overall: MetricSet{
			Download: describe(download),
			Upload:   describe(upload),
			Ping:     describe(ping),
		},
		Anomalies:       c.detect(cands),
		TopServers:      topServers(servers),
		PublicIPs:       sortedKeys(ips),
		ConnectionTypes: sortedKeys(conns),
		Threshold:       c.thresholds.forConnection(""),
		GeneratedAt:     c.nowFn(),
	}
}

func (c *Calculator) fromSummaries(key BucketKey, span period.Span, in Inputs) *BucketSummary {
	children := latestPerPeriod(in.Summaries)
	if len(children) == 0 {
		return nil
	}

	errCount := in.Errors
	servers := make(map[string]int)
	ips := make(map[string]struct{})
	conns := make(map[string]struct{})
	var download, upload, ping []sample
	cands := make([]candidate, 0, len(children))
	sources := make([]string, 0, len(children))
	samples := 0

	for _, child := range children {
		w := child.SampleCount
		if w <= 0 {
			w = child.RecordCount
		}
		samples += w
		errCount += child.Errors
		sources = append(sources, child.BucketKey.PeriodID)

		for _, s := range child.TopServers {
			servers[s.Server] += s.Count
		}
		for _, ip := range child.PublicIPs {
			ips[ip] = struct{}{}
		}
		for _, ct := range child.ConnectionTypes {
			conns[ct] = struct{}{}
		}

		o := child.Overall
		download = append(download, sample{value: o.Download.Avg, weight: w, lo: o.Download.Min, hi: o.Download.Max})
		upload = append(upload, sample{value: o.Upload.Avg, weight: w, lo: o.Upload.Min, hi: o.Upload.Max})
		ping = append(ping, sample{value: o.Ping.Avg, weight: w, lo: o.Ping.Min, hi: o.Ping.Max})
		cands = append(cands, candidate{
			ref:      child.BucketKey.PeriodID,
			download: o.Download.Avg,
			ping:     o.Ping.Avg,
		})
	}

	expected := ExpectedCount(key.Level, span, 1)

	return &BucketSummary{
		BucketKey:      key,
		PeriodStart:    span.Start,
		PeriodEnd:      span.End,
		RecordCount:    len(children),
		SampleCount:    samples,
		ExpectedCount:  expected,
		CompletionRate: completionRate(len(children), expected),
		Errors:         errCount,
		Overall: MetricSet{
			Download: describe(download),
			Upload:   describe(upload),
			Ping:     describe(ping),
		},
		Anomalies:       c.detect(cands),
		TopServers:      topServers(servers),
		PublicIPs:       sortedKeys(ips),
		ConnectionTypes: sortedKeys(conns),
		Sources:         sources,
		Threshold:       c.thresholds.forConnection(""),
		GeneratedAt:     c.nowFn(),
	}
}

func (c *Calculator) validate(r MeasurementRecord) error {
	if r.Timestamp.IsZero() {
		return malformedf(nil, "missing timestamp")
	}
	for _, v := range []float64{r.DownloadMbps, r.UploadMbps, r.PingMs} {
		if !finite(v) || v < 0 {
			return malformedf(nil, "invalid metric value %v", v)
		}
	}
	if c.thresholds.MaxValidPingMs > 0 && r.PingMs > c.thresholds.MaxValidPingMs {
		return malformedf(nil, "ping %v ms exceeds %v ms", r.PingMs, c.thresholds.MaxValidPingMs)
	}
	return nil
}

// dedupeSlots keeps one record per host per 15 minute slot and returns them in a
// stable order. The winner is the greatest record under recordLess, so input order
// does not matter.
func dedupeSlots(records []MeasurementRecord) []MeasurementRecord {
	type slotKey struct {
		host string
		slot int64
	}
	best := make(map[slotKey]MeasurementRecord, len(records))
	for _, r := range records {
		k := slotKey{host: r.HostID, slot: r.Timestamp.Truncate(slotSize).Unix()}
		if cur, ok := best[k]; !ok || recordLess(cur, r) {
			best[k] = r
		}
	}

	out := make([]MeasurementRecord, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return recordLess(out[i], out[j]) })
	return out
}

func recordLess(a, b MeasurementRecord) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.HostID != b.HostID {
		return a.HostID < b.HostID
	}
	if a.DownloadMbps != b.DownloadMbps {
		return a.DownloadMbps < b.DownloadMbps
	}
	if a.UploadMbps != b.UploadMbps {
		return a.UploadMbps < b.UploadMbps
	}
	if a.PingMs != b.PingMs {
		return a.PingMs < b.PingMs
	}
	if a.ServerID != b.ServerID {
		return a.ServerID < b.ServerID
	}
	return a.ResultURL < b.ResultURL
}

// latestPerPeriod drops empty children and keeps one child per period id, ordered by id.
func latestPerPeriod(children []BucketSummary) []BucketSummary {
	byID := make(map[string]BucketSummary, len(children))
	for _, child := range children {
		if child.RecordCount <= 0 {
			continue
		}
		id := child.BucketKey.PeriodID
		if cur, ok := byID[id]; !ok || cur.GeneratedAt.Before(child.GeneratedAt) ||
			(cur.GeneratedAt.Equal(child.GeneratedAt) && cur.SampleCount < child.SampleCount) {
			byID[id] = child
		}
	}

	out := make([]BucketSummary, 0, len(byID))
	for _, child := range byID {
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketKey.PeriodID < out[j].BucketKey.PeriodID })
	return out
}

func serverLabel(r MeasurementRecord) string {
	switch {
	case r.ServerName != "" && r.ServerID != "":
		return fmt.Sprintf("%s (%s)", r.ServerName, r.ServerID)
	case r.ServerName != "":
		return r.ServerName
	default:
		return r.ServerID
	}
}

func recordRef(r MeasurementRecord, loc *time.Location) string {
	ts := r.Timestamp.In(loc).Format(time.RFC3339)
	if r.HostID == "" {
		return ts
	}
	return r.HostID + "@" + ts
}

// topServers keeps the three most frequent servers, ties broken by name.
func topServers(counts map[string]int) []ServerCount {
	out := make([]ServerCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, ServerCount{Server: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Server < out[j].Server
	})
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
