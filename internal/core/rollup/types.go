package rollup

import (
	"fmt"
	"time"

	"github.com/vd-speed-test/speedroll/internal/core/period"
)

// HostScopeAll is the host scope that covers every collector.
const HostScopeAll = "all"

// Anomaly kinds.
const (
	AnomalyBelowThreshold  = "below_threshold"
	AnomalyHighLatency     = "high_latency"
	AnomalyPerformanceDrop = "performance_drop"
)

// MeasurementRecord is one probe result written by a collector. Records are never mutated.
type MeasurementRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	DownloadMbps   float64   `json:"download_mbps"`
	UploadMbps     float64   `json:"upload_mbps"`
	PingMs         float64   `json:"ping_ms"`
	ServerID       string    `json:"server_id"`
	ServerName     string    `json:"server_name"`
	PublicIP       string    `json:"public_ip"`
	ResultURL      string    `json:"result_url,omitempty"`
	ConnectionType string    `json:"connection_type"`
	HostID         string    `json:"host_id"`
}

// BucketKey identifies one rollup. Equal keys map to the same storage path.
type BucketKey struct {
	Level     period.Level `json:"level"`
	HostScope string       `json:"host_scope"`
	PeriodID  string       `json:"period_id"`
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Level, k.HostScope, k.PeriodID)
}

// MetricStats holds descriptive statistics for one metric, rounded to two decimals.
type MetricStats struct {
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

type MetricSet struct {
	Download MetricStats `json:"download_mbps"`
	Upload   MetricStats `json:"upload_mbps"`
	Ping     MetricStats `json:"ping_ms"`
}

type Anomaly struct {
	RecordRef string `json:"record_ref"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
}

type ServerCount struct {
	Server string `json:"server"`
	Count  int    `json:"count"`
}

// Threshold records the limits a summary was classified against.
type Threshold struct {
	ExpectedSpeedMbps float64 `json:"expected_speed_mbps"`
	TolerancePercent  float64 `json:"tolerance_percent"`
	FloorMbps         float64 `json:"floor_mbps"`
	PingCeilingMs     float64 `json:"ping_ceiling_ms"`
}

// BucketSummary is the persisted rollup artifact for one BucketKey.
type BucketSummary struct {
	BucketKey      BucketKey `json:"bucket_key"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	RecordCount    int       `json:"record_count"`
	SampleCount    int       `json:"sample_count"`
	ExpectedCount  int       `json:"expected_count"`
	CompletionRate float64   `json:"completion_rate"`
	Errors         int       `json:"errors"`

	Overall   MetricSet `json:"overall"`
	Anomalies []Anomaly `json:"anomalies"`

	TopServers      []ServerCount `json:"top_servers"`
	PublicIPs       []string      `json:"public_ips"`
	ConnectionTypes []string      `json:"connection_types"`

	// Sources lists contributing child period ids; empty for raw-sourced levels.
	Sources []string `json:"sources,omitempty"`

	Threshold   Threshold `json:"threshold"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Inputs is whatever a run managed to fetch for one period.
// Raw-sourced levels read Records, rollup levels read Summaries.
type Inputs struct {
	Records   []MeasurementRecord
	Summaries []BucketSummary

	// Errors counts inputs that were skipped as malformed before reaching the calculator.
	Errors int
}

// Len reports the number of usable inputs.
func (in Inputs) Len() int {
	return len(in.Records) + len(in.Summaries)
}
