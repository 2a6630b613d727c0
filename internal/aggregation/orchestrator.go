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
	"github.com/vd-speed-test/speedroll/internal/core/storage"
	"github.com/vd-speed-test/speedroll/internal/metrics"
)

// Status is how a single run ended.
type Status string

const (
	StatusWritten         Status = metrics.OutcomeWritten
	StatusNoData          Status = metrics.OutcomeNoData
	StatusBelowCompletion Status = metrics.OutcomeBelowCompletion
	StatusSkipped         Status = metrics.OutcomeSkipped
)

// Request identifies one rollup. An empty PeriodID means the most recently elapsed period.
type Request struct {
	Level     period.Level
	HostScope string
	PeriodID  string
}

// Result reports what a run did.
type Result struct {
	RunID   string                `json:"run_id"`
	Key     rollup.BucketKey      `json:"bucket_key"`
	Status  Status                `json:"status"`
	Path    string                `json:"path,omitempty"`
	Summary *rollup.BucketSummary `json:"-"`

	SourceKeys int `json:"source_keys"`
	Fetched    int `json:"fetched"`
	Missing    int `json:"missing"`
	Failed     int `json:"failed"`
	Malformed  int `json:"malformed"`
}

// Orchestrator runs one rollup per trigger: resolve, fetch, compute, write.
// It keeps no state between runs, so concurrent runs of the same key converge.
type Orchestrator struct {
	store      storage.ObjectStore
	resolver   *rollup.Resolver
	layout     rollup.Layout
	calculator *rollup.Calculator
	opts       Options
	nowFn      func() time.Time
}

func NewOrchestrator(
	store storage.ObjectStore,
	resolver *rollup.Resolver,
	layout rollup.Layout,
	calculator *rollup.Calculator,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		resolver:   resolver,
		layout:     layout,
		calculator: calculator,
		opts:       opts.normalized(),
		nowFn:      time.Now,
	}
}

// Run computes and writes the summary for (level, hostScope, periodID).
// It returns nil without error when the period has no usable input.
func (o *Orchestrator) Run(ctx context.Context, level period.Level, hostScope, periodID string) (*rollup.BucketSummary, error) {
	res, err := o.Execute(ctx, Request{Level: level, HostScope: hostScope, PeriodID: periodID})
	if err != nil {
		return nil, err
	}
	if res.Status != StatusWritten {
		return nil, nil
	}
	return res.Summary, nil
}

// RunDefault runs the most recently fully elapsed period of level.
func (o *Orchestrator) RunDefault(ctx context.Context, level period.Level, hostScope string) (*rollup.BucketSummary, error) {
	return o.Run(ctx, level, hostScope, "")
}

// DefaultPeriod is the most recently fully elapsed period of level.
func (o *Orchestrator) DefaultPeriod(level period.Level) (string, error) {
	return period.Previous(level, o.nowFn(), o.resolver.Location())
}

// Execute is Run with the full outcome. Resolver and calculator errors are fatal;
// only a write that fails after retries surfaces as a TransientStoreError.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	runID := uuid.NewString()

	if req.HostScope == "" {
		req.HostScope = rollup.HostScopeAll
	}
	if err := rollup.ValidHostScope(req.HostScope); err != nil {
		return Result{}, err
	}
	if req.PeriodID == "" {
		id, err := o.DefaultPeriod(req.Level)
		if err != nil {
			return Result{}, err
		}
		req.PeriodID = id
	}

	key := rollup.BucketKey{Level: req.Level, HostScope: req.HostScope, PeriodID: req.PeriodID}
	log := slog.With("run_id", runID, "level", key.Level, "host_scope", key.HostScope, "period_id", key.PeriodID)

	result, err := o.execute(ctx, log, key)
	result.RunID = runID
	result.Key = key

	outcome := string(result.Status)
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	metrics.RollupRunsTotal.WithLabelValues(string(key.Level), outcome).Inc()
	metrics.RollupRunDuration.WithLabelValues(string(key.Level)).Observe(time.Since(start).Seconds())

	return result, err
}

func (o *Orchestrator) execute(ctx context.Context, log *slog.Logger, key rollup.BucketKey) (Result, error) {
	var discovered []string
	discoveryFailed := false
	if source, err := rollup.SourceLevel(key.Level); err == nil && source == period.Raw && key.HostScope == rollup.HostScopeAll {
		discovered, err = o.discoverHosts(ctx, key.Level)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			discoveryFailed = true
		}
	}

	res, err := o.resolver.ResolveWithHosts(key.Level, key.HostScope, key.PeriodID, discovered)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", key, err)
	}

	log.Info("[Orchestrator] Starting rollup",
		"source_level", res.SourceLevel,
		"source_keys", len(res.SourceKeys),
		"workers", o.opts.FetchWorkers)

	fetched, err := o.fetchSources(ctx, res)
	if err != nil {
		log.Warn("[Orchestrator] Run aborted during fetch, nothing written", "error", err)
		return Result{}, err
	}

	result := Result{
		SourceKeys: len(res.SourceKeys),
		Fetched:    fetched.fetched,
		Missing:    fetched.missing,
		Failed:     fetched.failed,
		Malformed:  fetched.inputs.Errors,
	}
	if discoveryFailed {
		result.Failed++
	}

	summary, err := o.calculator.Compute(res.Key, fetched.inputs)
	if err != nil {
		return result, fmt.Errorf("compute %s: %w", key, err)
	}
	if summary == nil {
		log.Info("[Orchestrator] No data for period, skipping write",
			"missing", result.Missing,
			"failed", result.Failed,
			"malformed", result.Malformed)
		result.Status = StatusNoData
		return result, nil
	}
	result.Summary = summary

	if minRate := o.opts.MinimumCompletionFraction * 100; summary.CompletionRate < minRate {
		log.Info("[Orchestrator] Completion below minimum, skipping write",
			"completion_rate", summary.CompletionRate,
			"minimum", minRate)
		result.Status = StatusBelowCompletion
		return result, nil
	}

	path, err := o.write(ctx, summary)
	if err != nil {
		log.Error("[Orchestrator] Failed to write summary", "error", err)
		return result, err
	}

	result.Status = StatusWritten
	result.Path = path

	log.Info("[Orchestrator] Rollup written",
		"path", path,
		"record_count", summary.RecordCount,
		"expected_count", summary.ExpectedCount,
		"completion_rate", summary.CompletionRate,
		"anomalies", len(summary.Anomalies))

	return result, nil
}

// write overwrites the summary at its deterministic path.
func (o *Orchestrator) write(ctx context.Context, summary *rollup.BucketSummary) (string, error) {
	path, err := o.layout.SummaryPath(summary.BucketKey)
	if err != nil {
		return "", err
	}
	data, err := rollup.EncodeSummary(summary)
	if err != nil {
		return "", fmt.Errorf("encode summary %s: %w", summary.BucketKey, err)
	}

	err = o.withRetry(ctx, "put", func(opCtx context.Context) error {
		return o.store.Put(opCtx, path, data)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &rollup.TransientStoreError{Op: "put", Path: path, Err: err}
	}
	return path, nil
}

// exists reports whether the summary for key is already stored.
func (o *Orchestrator) exists(ctx context.Context, key rollup.BucketKey) (bool, error) {
	path, err := o.layout.SummaryPath(key)
	if err != nil {
		return false, err
	}
	err = o.withRetry(ctx, "get", func(opCtx context.Context) error {
		_, getErr := o.store.Get(opCtx, path)
		return getErr
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
