package v1

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/vd-speed-test/speedroll/internal/core/rollup"
)

// maxClockSkew is how far ahead of the server clock a probe timestamp may be.
const maxClockSkew = 5 * time.Minute

// Measurement is one speed test result as posted by a collector.
type Measurement struct {
	// Timestamp is when the probe ran (collector clock).
	Timestamp time.Time `json:"timestamp"`

	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
	PingMs       float64 `json:"ping_ms"`

	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
	PublicIP   string `json:"public_ip"`
	ResultURL  string `json:"result_url,omitempty"`

	// ConnectionType selects the threshold profile, e.g. "fiber" or "dsl".
	ConnectionType string `json:"connection_type"`

	// HostID names the collector. Empty writes to the unscoped legacy partition.
	HostID string `json:"host_id"`
}

// Validate checks the fields a rollup relies on. now bounds the timestamp.
func (m *Measurement) Validate(now time.Time) error {
	if m.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if m.Timestamp.After(now.Add(maxClockSkew)) {
		return fmt.Errorf("timestamp %s is in the future", m.Timestamp.Format(time.RFC3339))
	}

	for name, v := range map[string]float64{
		"download_mbps": m.DownloadMbps,
		"upload_mbps":   m.UploadMbps,
		"ping_ms":       m.PingMs,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%s must be a non-negative number", name)
		}
	}

	m.HostID = strings.TrimSpace(m.HostID)
	if m.HostID == rollup.HostScopeAll {
		return fmt.Errorf("host_id %q is reserved", rollup.HostScopeAll)
	}
	if err := rollup.ValidHostScope(m.HostID); err != nil {
		return fmt.Errorf("host_id: %w", err)
	}

	return nil
}

// ToRecord converts the request into the stored raw record.
func (m *Measurement) ToRecord() rollup.MeasurementRecord {
	return rollup.MeasurementRecord{
		Timestamp:      m.Timestamp.UTC(),
		DownloadMbps:   m.DownloadMbps,
		UploadMbps:     m.UploadMbps,
		PingMs:         m.PingMs,
		ServerID:       m.ServerID,
		ServerName:     m.ServerName,
		PublicIP:       m.PublicIP,
		ResultURL:      m.ResultURL,
		ConnectionType: m.ConnectionType,
		HostID:         m.HostID,
	}
}
