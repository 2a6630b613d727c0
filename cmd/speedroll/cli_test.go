package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vd-speed-test/speedroll/internal/aggregation"
	"github.com/vd-speed-test/speedroll/internal/core/period"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
	aggregationmocks "github.com/vd-speed-test/speedroll/internal/mocks/aggregation"
)

func TestRunOnce_SingleRollup(t *testing.T) {
	runner := aggregationmocks.NewRunner(t)
	runner.EXPECT().
		Execute(mock.Anything, aggregation.Request{Level: period.Day, HostScope: "all", PeriodID: "2025-11-03"}).
		Return(aggregation.Result{
			RunID:  "run-1",
			Key:    rollup.BucketKey{Level: period.Day, HostScope: "all", PeriodID: "2025-11-03"},
			Status: aggregation.StatusWritten,
			Path:   "vd-speed-test/aggregated/year=2025/month=202511/day=20251103/speed_test_summary.json",
		}, nil).
		Once()

	var out bytes.Buffer
	err := runOnce(context.Background(), runner, time.UTC, cliFlags{mode: "daily", date: "2025-11-03", host: "all"}, &out)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	require.Equal(t, "written", body["status"])
	require.Equal(t, "run-1", body["run_id"])
}

func TestRunOnce_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		flags cliFlags
	}{
		{name: "unknown mode", flags: cliFlags{mode: "minute"}},
		{name: "raw mode", flags: cliFlags{mode: "raw"}},
		{name: "date not valid for mode", flags: cliFlags{mode: "weekly", date: "last tuesday"}},
		{name: "backfill without end", flags: cliFlags{mode: "all", from: "2025-10-01"}},
		{name: "backfill with bad start", flags: cliFlags{mode: "all", from: "October", to: "2025-11-01"}},
		{name: "host with a path separator", flags: cliFlags{mode: "daily", host: "x/evil=1"}},
		{name: "backfill host with a path separator", flags: cliFlags{mode: "all", host: "../y", from: "2025-10-01", to: "2025-11-01"}},
		{name: "backfill with raw level", flags: cliFlags{mode: "daily,raw", from: "2025-10-01", to: "2025-11-01"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := aggregationmocks.NewRunner(t)

			var out bytes.Buffer
			err := runOnce(context.Background(), runner, time.UTC, tc.flags, &out)
			require.Error(t, err)
			require.Zero(t, out.Len())
		})
	}
}

func TestRunOnce_Backfill(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	runner := aggregationmocks.NewRunner(t)
	runner.EXPECT().
		Backfill(mock.Anything, aggregation.BackfillRequest{
			Levels:     []period.Level{period.Day, period.Month},
			HostScopes: []string{"pi-lab"},
			From:       time.Date(2025, 10, 1, 0, 0, 0, 0, loc),
			To:         time.Date(2025, 11, 1, 0, 0, 0, 0, loc),
			Force:      true,
		}).
		Return(aggregation.BackfillReport{RunID: "bf-1", Written: 33}, nil).
		Once()

	var out bytes.Buffer
	err := runOnce(context.Background(), runner, loc, cliFlags{
		mode:  "daily, monthly",
		host:  "pi-lab",
		from:  "2025-10-01",
		to:    "2025-11-01",
		force: true,
	}, &out)
	require.NoError(t, err)

	var report aggregation.BackfillReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Equal(t, 33, report.Written)
}

func TestRunOnce_BackfillWithFailuresExitsNonZero(t *testing.T) {
	runner := aggregationmocks.NewRunner(t)
	runner.EXPECT().
		Backfill(mock.Anything, mock.MatchedBy(func(req aggregation.BackfillRequest) bool {
			return req.Levels == nil && req.IncludeCurrent
		})).
		Return(aggregation.BackfillReport{Written: 2, Failed: 1}, nil).
		Once()

	var out bytes.Buffer
	err := runOnce(context.Background(), runner, time.UTC, cliFlags{
		mode:           "all",
		from:           "2025-10-01",
		to:             "2025-10-03T00:00:00Z",
		includeCurrent: true,
	}, &out)
	require.Error(t, err)
	require.NotZero(t, out.Len())
}

func TestRunOnce_PropagatesRunnerError(t *testing.T) {
	runner := aggregationmocks.NewRunner(t)
	runner.EXPECT().
		Execute(mock.Anything, mock.Anything).
		Return(aggregation.Result{}, &rollup.TransientStoreError{Path: "p", Err: errors.New("503")}).
		Once()

	err := runOnce(context.Background(), runner, time.UTC, cliFlags{mode: "hourly"}, &bytes.Buffer{})
	var transient *rollup.TransientStoreError
	require.ErrorAs(t, err, &transient)
}
