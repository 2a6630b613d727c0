package rollup

import (
	"sort"
	"strings"
)

// ThresholdConfig is the immutable classification policy handed to the calculator.
type ThresholdConfig struct {
	ExpectedSpeedMbps float64
	TolerancePercent  float64
	PingCeilingMs     float64

	// MaxValidPingMs rejects probe results with absurd latency as malformed. Zero disables the check.
	MaxValidPingMs float64

	// Profiles override the limits for matching connection types.
	Profiles []ConnectionProfile
}

// Floor is the download speed below which a measurement is flagged below_threshold.
func Floor(expected, tolerancePercent float64) float64 {
	return expected * (1 - tolerancePercent/100)
}

// forConnection resolves the limits for a connection type. The longest matching
// profile wins; fields a profile leaves at zero fall back to the base config.
func (c ThresholdConfig) forConnection(connectionType string) Threshold {
	t := Threshold{
		ExpectedSpeedMbps: c.ExpectedSpeedMbps,
		TolerancePercent:  c.TolerancePercent,
		PingCeilingMs:     c.PingCeilingMs,
	}

	if p, ok := c.match(connectionType); ok {
		if p.ExpectedSpeedMbps > 0 {
			t.ExpectedSpeedMbps = p.ExpectedSpeedMbps
		}
		if p.TolerancePercent > 0 {
			t.TolerancePercent = p.TolerancePercent
		}
		if p.PingCeilingMs > 0 {
			t.PingCeilingMs = p.PingCeilingMs
		}
	}

	t.FloorMbps = round2(Floor(t.ExpectedSpeedMbps, t.TolerancePercent))
	return t
}

func (c ThresholdConfig) match(connectionType string) (ConnectionProfile, bool) {
	ct := strings.ToLower(strings.TrimSpace(connectionType))
	if ct == "" || len(c.Profiles) == 0 {
		return ConnectionProfile{}, false
	}

	candidates := make([]ConnectionProfile, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		m := strings.ToLower(strings.TrimSpace(p.Match))
		if m != "" && strings.Contains(ct, m) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return ConnectionProfile{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].Match) != len(candidates[j].Match) {
			return len(candidates[i].Match) > len(candidates[j].Match)
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0], true
}
