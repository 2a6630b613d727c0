package aggregation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vd-speed-test/speedroll/internal/core/period"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
	"github.com/vd-speed-test/speedroll/internal/core/storage"
	"github.com/vd-speed-test/speedroll/internal/metrics"
)

// fetchJob is either a raw partition to list (path empty) or one object to read.
type fetchJob struct {
	key  rollup.BucketKey
	path string
}

// fetchOutcome is a worker-local accumulator, merged once all workers finish.
type fetchOutcome struct {
	inputs  rollup.Inputs
	listed  []fetchJob
	fetched int
	missing int
	failed  int
}

func (o *fetchOutcome) merge(other fetchOutcome) {
	o.inputs.Records = append(o.inputs.Records, other.inputs.Records...)
	o.inputs.Summaries = append(o.inputs.Summaries, other.inputs.Summaries...)
	o.inputs.Errors += other.inputs.Errors
	o.listed = append(o.listed, other.listed...)
	o.fetched += other.fetched
	o.missing += other.missing
	o.failed += other.failed
}

// fetchSources gathers every readable input for res. Missing and failed sources are
// excluded and counted; only cancellation aborts the fetch.
func (o *Orchestrator) fetchSources(ctx context.Context, res rollup.Resolution) (fetchOutcome, error) {
	jobs := make([]fetchJob, 0, len(res.SourceKeys))
	var listFailures int

	if res.SourceLevel == period.Raw {
		listJobs := make([]fetchJob, 0, len(res.SourceKeys))
		for _, key := range res.SourceKeys {
			listJobs = append(listJobs, fetchJob{key: key})
		}
		listed := o.runFetchPool(ctx, res.Key.Level, listJobs)
		if err := ctx.Err(); err != nil {
			return fetchOutcome{}, err
		}
		jobs = listed.listed
		listFailures = listed.failed
	} else {
		for _, key := range res.SourceKeys {
			path, err := o.layout.SummaryPath(key)
			if err != nil {
				return fetchOutcome{}, err
			}
			jobs = append(jobs, fetchJob{key: key, path: path})
		}
	}

	out := o.runFetchPool(ctx, res.Key.Level, jobs)
	if err := ctx.Err(); err != nil {
		return fetchOutcome{}, err
	}
	out.failed += listFailures
	return out, nil
}

// runFetchPool fans jobs out to a bounded set of workers.
func (o *Orchestrator) runFetchPool(ctx context.Context, level period.Level, jobs []fetchJob) fetchOutcome {
	workerCount := min(o.opts.FetchWorkers, len(jobs))
	if workerCount <= 0 {
		return fetchOutcome{}
	}

	queue := make(chan fetchJob, len(jobs))
	results := make(chan fetchOutcome, workerCount)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			var local fetchOutcome
			for job := range queue {
				if ctx.Err() != nil {
					continue
				}
				if job.path == "" {
					o.listPartition(ctx, level, job.key, &local)
					continue
				}
				o.fetchObject(ctx, level, job, &local)
			}
			results <- local
		}()
	}

	for _, job := range jobs {
		queue <- job
	}
	close(queue)

	wg.Wait()
	close(results)

	var merged fetchOutcome
	for local := range results {
		merged.merge(local)
	}
	return merged
}

// discoverHosts lists the raw host=<id>/ partitions so that collectors missing
// from the configured host list still feed the "all" scope.
func (o *Orchestrator) discoverHosts(ctx context.Context, level period.Level) ([]string, error) {
	prefix, err := o.layout.HostsPrefix(period.Raw)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = o.withRetry(ctx, "list", func(opCtx context.Context) error {
		var listErr error
		paths, listErr = o.store.List(opCtx, prefix)
		return listErr
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("[Orchestrator] Host discovery failed, using configured hosts only", "prefix", prefix, "error", err)
			metrics.SourceFetchFailures.WithLabelValues(string(level), "transient").Inc()
		}
		return nil, err
	}
	return rollup.HostsUnder(prefix, paths), nil
}

func (o *Orchestrator) listPartition(ctx context.Context, level period.Level, key rollup.BucketKey, out *fetchOutcome) {
	prefix, err := o.layout.RawPrefix(key)
	if err != nil {
		out.failed++
		return
	}

	var paths []string
	err = o.withRetry(ctx, "list", func(opCtx context.Context) error {
		var listErr error
		paths, listErr = o.store.List(opCtx, prefix)
		return listErr
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("[Orchestrator] Excluding raw partition after retries", "prefix", prefix, "error", err)
			metrics.SourceFetchFailures.WithLabelValues(string(level), "transient").Inc()
			out.failed++
		}
		return
	}

	for _, p := range paths {
		out.listed = append(out.listed, fetchJob{key: key, path: p})
	}
}

func (o *Orchestrator) fetchObject(ctx context.Context, level period.Level, job fetchJob, out *fetchOutcome) {
	var data []byte
	err := o.withRetry(ctx, "get", func(opCtx context.Context) error {
		var getErr error
		data, getErr = o.store.Get(opCtx, job.path)
		return getErr
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		out.missing++
		return
	case err != nil:
		if ctx.Err() == nil {
			slog.Warn("[Orchestrator] Excluding source after retries", "path", job.path, "error", err)
			metrics.SourceFetchFailures.WithLabelValues(string(level), "transient").Inc()
			out.failed++
		}
		return
	}

	if job.key.Level == period.Raw {
		rec, decodeErr := rollup.DecodeRecord(data)
		if decodeErr != nil {
			o.countMalformed(level, job.path, decodeErr, out)
			return
		}
		if rec.HostID == "" && job.key.HostScope != rollup.HostScopeAll {
			rec.HostID = job.key.HostScope
		}
		out.inputs.Records = append(out.inputs.Records, rec)
		out.fetched++
		return
	}

	summary, decodeErr := rollup.DecodeSummary(data)
	if decodeErr != nil {
		o.countMalformed(level, job.path, decodeErr, out)
		return
	}
	out.inputs.Summaries = append(out.inputs.Summaries, *summary)
	out.fetched++
}

func (o *Orchestrator) countMalformed(level period.Level, path string, err error, out *fetchOutcome) {
	var malformed *rollup.MalformedRecordError
	if errors.As(err, &malformed) {
		malformed.Path = path
	}
	slog.Warn("[Orchestrator] Skipping malformed input", "path", path, "error", err)
	metrics.SourceFetchFailures.WithLabelValues(string(level), "malformed").Inc()
	out.inputs.Errors++
}

// withRetry runs fn with a per-call timeout, retrying transient failures with
// exponential backoff. Not-found and cancellation are returned immediately.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.opts.Retry.InitialInterval
	policy.MaxInterval = o.opts.Retry.MaxInterval
	policy.MaxElapsedTime = 0

	retries := uint64(o.opts.Retry.MaxAttempts - 1)
	b := backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)

	attempt := func() error {
		opCtx, cancel := context.WithTimeout(ctx, o.opts.OperationTimeout)
		defer cancel()

		err := fn(opCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		slog.Debug("[Orchestrator] Retrying store call", "op", op, "wait", wait, "error", err)
	}

	return backoff.RetryNotify(attempt, b, notify)
}
