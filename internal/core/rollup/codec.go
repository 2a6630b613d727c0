package rollup

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// EncodeSummary renders a summary the way it is stored: indented JSON.
func EncodeSummary(s *BucketSummary) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// DecodeSummary parses a stored summary. Unreadable content is a MalformedRecordError.
func DecodeSummary(data []byte) (*BucketSummary, error) {
	var s BucketSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, malformedf(err, "decode summary: %v", err)
	}
	if s.BucketKey.PeriodID == "" {
		return nil, malformedf(nil, "summary has no bucket_key.period_id")
	}
	return &s, nil
}

// EncodeRecord renders a raw record in its canonical stored form.
func EncodeRecord(r MeasurementRecord) ([]byte, error) {
	return json.Marshal(r)
}

// recordWire is the on-disk shape of a raw record. Collectors have written numeric
// fields both as numbers and as strings with units ("184.52 Mbps").
type recordWire struct {
	Timestamp      string    `json:"timestamp"`
	DownloadMbps   flexFloat `json:"download_mbps"`
	UploadMbps     flexFloat `json:"upload_mbps"`
	PingMs         flexFloat `json:"ping_ms"`
	ServerID       string    `json:"server_id"`
	ServerName     string    `json:"server_name"`
	PublicIP       string    `json:"public_ip"`
	ResultURL      string    `json:"result_url"`
	ConnectionType string    `json:"connection_type"`
	HostID         string    `json:"host_id"`
}

type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		fields := strings.Fields(s)
		if len(fields) == 0 {
			return nil
		}
		raw = fields[0]
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	f.value, f.set = v, true
	return nil
}

// DecodeRecord parses and validates one raw record.
func DecodeRecord(data []byte) (MeasurementRecord, error) {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return MeasurementRecord{}, malformedf(err, "decode record: %v", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(w.Timestamp))
	if err != nil {
		return MeasurementRecord{}, malformedf(err, "invalid timestamp %q", w.Timestamp)
	}

	for name, f := range map[string]flexFloat{
		"download_mbps": w.DownloadMbps,
		"upload_mbps":   w.UploadMbps,
		"ping_ms":       w.PingMs,
	} {
		if !f.set {
			return MeasurementRecord{}, malformedf(nil, "missing %s", name)
		}
		if f.value < 0 {
			return MeasurementRecord{}, malformedf(nil, "negative %s %v", name, f.value)
		}
	}

	return MeasurementRecord{
		Timestamp:      ts,
		DownloadMbps:   w.DownloadMbps.value,
		UploadMbps:     w.UploadMbps.value,
		PingMs:         w.PingMs.value,
		ServerID:       w.ServerID,
		ServerName:     w.ServerName,
		PublicIP:       w.PublicIP,
		ResultURL:      w.ResultURL,
		ConnectionType: w.ConnectionType,
		HostID:         w.HostID,
	}, nil
}
