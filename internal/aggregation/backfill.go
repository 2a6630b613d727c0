package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vd-speed-test/speedroll/internal/core/period"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
	"github.com/vd-speed-test/speedroll/internal/metrics"
)

// BackfillRequest recomputes every period of the chosen levels that overlaps [From, To].
type BackfillRequest struct {
	// Levels to run; empty means all of them. They always run in dependency order.
	Levels     []period.Level
	HostScopes []string
	From       time.Time
	To         time.Time

	// Force recomputes periods whose summary already exists.
	Force bool
	// IncludeCurrent also runs the period that has not finished yet.
	IncludeCurrent bool
}

// BackfillReport tallies a backfill by outcome.
type BackfillReport struct {
	RunID           string   `json:"run_id"`
	Written         int      `json:"written"`
	Skipped         int      `json:"skipped"`
	NoData          int      `json:"no_data"`
	BelowCompletion int      `json:"below_completion"`
	Failed          int      `json:"failed"`
	Truncated       bool     `json:"truncated"`
	Results         []Result `json:"results"`
}

type backfillItem struct {
	level period.Level
	scope string
	id    string
}

// Backfill walks levels in dependency order so each level reads the children written
// just before it. Write failures are counted and the walk continues; the run stops
// at the configured safety limit.
func (o *Orchestrator) Backfill(ctx context.Context, req BackfillRequest) (BackfillReport, error) {
	report := BackfillReport{RunID: uuid.NewString()}

	if req.To.Before(req.From) {
		return report, fmt.Errorf("backfill: to %s is before from %s", req.To.Format(time.RFC3339), req.From.Format(time.RFC3339))
	}

	items, err := o.planBackfill(req)
	if err != nil {
		return report, err
	}
	if len(items) > o.opts.BackfillLimit {
		slog.Warn("[Backfill] Safety limit reached, truncating",
			"run_id", report.RunID,
			"planned", len(items),
			"limit", o.opts.BackfillLimit)
		items = items[:o.opts.BackfillLimit]
		report.Truncated = true
	}

	slog.Info("[Backfill] Starting",
		"run_id", report.RunID,
		"periods", len(items),
		"force", req.Force,
		"include_current", req.IncludeCurrent)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			slog.Info("[Backfill] Interrupted by context cancellation", "run_id", report.RunID, "done", len(report.Results))
			return report, err
		}

		key := rollup.BucketKey{Level: item.level, HostScope: item.scope, PeriodID: item.id}
		if !req.Force {
			found, err := o.exists(ctx, key)
			if err != nil && ctx.Err() != nil {
				return report, ctx.Err()
			}
			if err != nil {
				slog.Warn("[Backfill] Existence check failed, recomputing", "key", key.String(), "error", err)
			}
			if found {
				report.Skipped++
				report.Results = append(report.Results, Result{Key: key, Status: StatusSkipped})
				metrics.RollupRunsTotal.WithLabelValues(string(item.level), metrics.OutcomeSkipped).Inc()
				continue
			}
		}

		res, err := o.Execute(ctx, Request{Level: item.level, HostScope: item.scope, PeriodID: item.id})
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			var transient *rollup.TransientStoreError
			if !errors.As(err, &transient) {
				return report, err
			}
			slog.Error("[Backfill] Period failed", "key", key.String(), "error", err)
			report.Failed++
			report.Results = append(report.Results, res)
			continue
		}

		switch res.Status {
		case StatusWritten:
			report.Written++
		case StatusNoData:
			report.NoData++
		case StatusBelowCompletion:
			report.BelowCompletion++
		}
		report.Results = append(report.Results, res)
	}

	slog.Info("[Backfill] Complete",
		"run_id", report.RunID,
		"written", report.Written,
		"skipped", report.Skipped,
		"no_data", report.NoData,
		"below_completion", report.BelowCompletion,
		"failed", report.Failed)

	return report, nil
}

func (o *Orchestrator) planBackfill(req BackfillRequest) ([]backfillItem, error) {
	wanted := make(map[period.Level]bool, len(req.Levels))
	for _, l := range req.Levels {
		if _, err := rollup.SourceLevel(l); err != nil {
			return nil, err
		}
		wanted[l] = true
	}
	scopes := make([]string, 0, len(req.HostScopes))
	for _, scope := range req.HostScopes {
		if scope == "" {
			scope = rollup.HostScopeAll
		}
		if err := rollup.ValidHostScope(scope); err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	if len(scopes) == 0 {
		scopes = []string{rollup.HostScopeAll}
	}

	loc := o.resolver.Location()
	now := o.nowFn()

	var items []backfillItem
	for _, level := range rollup.Levels() {
		if len(wanted) > 0 && !wanted[level] {
			continue
		}

		ids, err := period.Range(level, req.From, req.To, loc)
		if err != nil {
			return nil, err
		}
		current, err := period.Derive(level, now, loc)
		if err != nil {
			return nil, err
		}

		for _, id := range ids {
			span, err := period.Parse(level, id, loc)
			if err != nil {
				return nil, err
			}
			if span.Start.After(now) {
				continue
			}
			if id == current && !req.IncludeCurrent {
				continue
			}
			for _, scope := range scopes {
				items = append(items, backfillItem{level: level, scope: scope, id: id})
			}
		}
	}
	return items, nil
}
