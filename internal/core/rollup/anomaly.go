package rollup

import "fmt"

// candidate is one input as seen by anomaly classification.
type candidate struct {
	ref            string
	download       float64
	ping           float64
	connectionType string
}

// detect runs the three independent checks over cands, which must already be in a
// stable order. One input may collect several flags.
func (c *Calculator) detect(cands []candidate) []Anomaly {
	downloads := make([]float64, len(cands))
	for i, cand := range cands {
		downloads[i] = cand.download
	}
	mean, stddev := meanStdDev(downloads)

	anomalies := make([]Anomaly, 0)
	for _, cand := range cands {
		t := c.thresholds.forConnection(cand.connectionType)

		if t.ExpectedSpeedMbps > 0 {
			floor := Floor(t.ExpectedSpeedMbps, t.TolerancePercent)
			if cand.download < floor {
				anomalies = append(anomalies, Anomaly{
					RecordRef: cand.ref,
					Kind:      AnomalyBelowThreshold,
					Detail:    fmt.Sprintf("download %.2f Mbps below floor %.2f Mbps", cand.download, floor),
				})
			}
		}

		if t.PingCeilingMs > 0 && cand.ping > t.PingCeilingMs {
			anomalies = append(anomalies, Anomaly{
				RecordRef: cand.ref,
				Kind:      AnomalyHighLatency,
				Detail:    fmt.Sprintf("ping %.2f ms above ceiling %.2f ms", cand.ping, t.PingCeilingMs),
			})
		}

		if len(cands) > 1 && stddev > 0 && cand.download < mean-stddev {
			anomalies = append(anomalies, Anomaly{
				RecordRef: cand.ref,
				Kind:      AnomalyPerformanceDrop,
				Detail: fmt.Sprintf("download %.2f Mbps is more than one standard deviation (%.2f) below mean %.2f",
					cand.download, stddev, mean),
			})
		}
	}
	return anomalies
}
