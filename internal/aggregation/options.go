package aggregation

import "time"

const (
	defaultFetchWorkers     = 16
	defaultMaxAttempts      = 3
	defaultInitialInterval  = 200 * time.Millisecond
	defaultMaxInterval      = 5 * time.Second
	defaultOperationTimeout = 30 * time.Second
	defaultBackfillLimit    = 5000
)

// RetryPolicy bounds how often a transient store failure is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first try, so 1 disables retries.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Options controls throughput and partial-data policy for orchestrator runs.
type Options struct {
	FetchWorkers int
	Retry        RetryPolicy

	// MinimumCompletionFraction in [0, 1]. A computed summary whose completion
	// rate falls below it is not written. 0 writes anything with at least one input.
	MinimumCompletionFraction float64

	// OperationTimeout bounds every single store call.
	OperationTimeout time.Duration

	// BackfillLimit caps how many periods one backfill may touch.
	BackfillLimit int
}

// DefaultOptions returns safe defaults for triggered runs.
func DefaultOptions() Options {
	return Options{
		FetchWorkers: defaultFetchWorkers,
		Retry: RetryPolicy{
			MaxAttempts:     defaultMaxAttempts,
			InitialInterval: defaultInitialInterval,
			MaxInterval:     defaultMaxInterval,
		},
		OperationTimeout: defaultOperationTimeout,
		BackfillLimit:    defaultBackfillLimit,
	}
}

func (o Options) normalized() Options {
	n := o
	if n.FetchWorkers <= 0 {
		n.FetchWorkers = defaultFetchWorkers
	}
	if n.Retry.MaxAttempts <= 0 {
		n.Retry.MaxAttempts = defaultMaxAttempts
	}
	if n.Retry.InitialInterval <= 0 {
		n.Retry.InitialInterval = defaultInitialInterval
	}
	if n.Retry.MaxInterval < n.Retry.InitialInterval {
		n.Retry.MaxInterval = n.Retry.InitialInterval
	}
	if n.MinimumCompletionFraction < 0 {
		n.MinimumCompletionFraction = 0
	}
	if n.MinimumCompletionFraction > 1 {
		n.MinimumCompletionFraction = 1
	}
	if n.OperationTimeout <= 0 {
		n.OperationTimeout = defaultOperationTimeout
	}
	if n.BackfillLimit <= 0 {
		n.BackfillLimit = defaultBackfillLimit
	}
	return n
}
