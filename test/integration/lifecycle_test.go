//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vd-speed-test/speedroll/internal/aggregation"
)

func TestCoreAPI_BackfillAndCacheLifecycle(t *testing.T) {
	h := startHarness(t)
	defer h.close(t)

	require.NoError(t, resetDatabase(t, h.db))

	end := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -2)

	t.Run("ingest one measurement per day", func(t *testing.T) {
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			status, body := postJSON(t, h.client, h.baseURL+"/v1/measurements", map[string]interface{}{
				"timestamp":     d.Add(6 * time.Hour).Format(time.RFC3339),
				"download_mbps": 150,
				"upload_mbps":   30,
				"ping_ms":       20,
				"host_id":       "pi-lab",
			})
			require.Equal(t, http.StatusAccepted, status, string(body))
		}
	})

	t.Run("empty dashboard before any rollup", func(t *testing.T) {
		summaries := getSummaries(t, h, "mode=daily&days=7", "MISS")
		require.Empty(t, summaries)
		summaries = getSummaries(t, h, "mode=daily&days=7", "HIT")
		require.Empty(t, summaries)
	})

	t.Run("backfill daily and monthly", func(t *testing.T) {
		status, body := postJSON(t, h.client, h.baseURL+"/v1/aggregations/backfill", aggregation.BackfillTriggerRequest{
			Modes: []string{"daily", "monthly"},
			From:  start.Format("2006-01-02"),
			To:    end.Format("2006-01-02"),
		})
		require.Equal(t, http.StatusOK, status, string(body))

		var report aggregation.BackfillReport
		require.NoError(t, json.Unmarshal(body, &report))
		// Daily periods are all written; the month is skipped while it is still current.
		require.GreaterOrEqual(t, report.Written, 3)
		require.Zero(t, report.Failed)
	})

	t.Run("second backfill skips existing summaries", func(t *testing.T) {
		status, body := postJSON(t, h.client, h.baseURL+"/v1/aggregations/backfill", aggregation.BackfillTriggerRequest{
			Modes: []string{"daily"},
			From:  start.Format("2006-01-02"),
			To:    end.Format("2006-01-02"),
		})
		require.Equal(t, http.StatusOK, status, string(body))

		var report aggregation.BackfillReport
		require.NoError(t, json.Unmarshal(body, &report))
		require.Zero(t, report.Written)
		require.Equal(t, 3, report.Skipped)
	})

	t.Run("cached result stays stale until forced", func(t *testing.T) {
		summaries := getSummaries(t, h, "mode=daily&days=7", "HIT")
		require.Empty(t, summaries)

		summaries = getSummaries(t, h, "mode=daily&days=7&force_refresh=true", "REFRESH")
		require.Len(t, summaries, 3)
		for i := 1; i < len(summaries); i++ {
			require.Less(t, summaries[i-1].BucketKey.PeriodID, summaries[i].BucketKey.PeriodID)
		}
	})

	t.Run("invalidate drops every entry", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, h.baseURL+"/v1/summaries/cache", nil)
		require.NoError(t, err)
		resp, err := h.client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		summaries := getSummaries(t, h, "mode=daily&days=7", "MISS")
		require.Len(t, summaries, 3)
	})
}
