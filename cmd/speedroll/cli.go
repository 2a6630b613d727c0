package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/vd-speed-test/speedroll/internal/aggregation"
	"github.com/vd-speed-test/speedroll/internal/core/period"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
)

// runOnce executes a single rollup, or a backfill when -from/-to are set, and
// writes the outcome to out as JSON.
func runOnce(ctx context.Context, runner aggregation.Runner, loc *time.Location, f cliFlags, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if f.from != "" || f.to != "" {
		req, err := backfillRequest(f, loc)
		if err != nil {
			return err
		}
		report, err := runner.Backfill(ctx, req)
		if err != nil {
			return err
		}
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode backfill report: %w", err)
		}
		if report.Failed > 0 {
			return fmt.Errorf("backfill finished with %d failed periods", report.Failed)
		}
		return nil
	}

	level, err := period.ParseLevel(f.mode)
	if err != nil {
		return err
	}
	if level == period.Raw {
		return &period.InvalidLevelError{Level: f.mode}
	}

	periodID := ""
	if f.date != "" {
		if periodID, err = period.Resolve(level, f.date, loc); err != nil {
			return err
		}
	}

	host := strings.TrimSpace(f.host)
	if err := rollup.ValidHostScope(host); err != nil {
		return err
	}

	res, err := runner.Execute(ctx, aggregation.Request{
		Level:     level,
		HostScope: host,
		PeriodID:  periodID,
	})
	if err != nil {
		return err
	}
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

func backfillRequest(f cliFlags, loc *time.Location) (aggregation.BackfillRequest, error) {
	if f.from == "" || f.to == "" {
		return aggregation.BackfillRequest{}, errors.New("backfill needs both -from and -to")
	}
	from, err := parseInstant(f.from, loc)
	if err != nil {
		return aggregation.BackfillRequest{}, fmt.Errorf("invalid -from: %w", err)
	}
	to, err := parseInstant(f.to, loc)
	if err != nil {
		return aggregation.BackfillRequest{}, fmt.Errorf("invalid -to: %w", err)
	}

	var levels []period.Level
	for _, m := range splitModes(f.mode) {
		level, err := period.ParseLevel(m)
		if err != nil {
			return aggregation.BackfillRequest{}, err
		}
		if level == period.Raw {
			return aggregation.BackfillRequest{}, &period.InvalidLevelError{Level: m}
		}
		levels = append(levels, level)
	}

	var hosts []string
	if h := strings.TrimSpace(f.host); h != "" {
		if err := rollup.ValidHostScope(h); err != nil {
			return aggregation.BackfillRequest{}, err
		}
		hosts = []string{h}
	}

	return aggregation.BackfillRequest{
		Levels:         levels,
		HostScopes:     hosts,
		From:           from,
		To:             to,
		Force:          f.force,
		IncludeCurrent: f.includeCurrent,
	}, nil
}

// parseInstant accepts YYYY-MM-DD (local midnight) or RFC3339.
func parseInstant(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
