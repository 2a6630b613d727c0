package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/vd-speed-test/speedroll/internal/metrics"
)

// BreakerConfig tunes the circuit breaker in front of the object store.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts reset.
	Interval time.Duration
	// Timeout spent open before probing again.
	Timeout time.Duration
	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32
}

func (c BreakerConfig) normalized() BreakerConfig {
	out := c
	if out.MaxRequests == 0 {
		out.MaxRequests = 1
	}
	if out.Interval <= 0 {
		out.Interval = time.Minute
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.ConsecutiveFailures == 0 {
		out.ConsecutiveFailures = 5
	}
	return out
}

// BreakerStore guards an ObjectStore with a circuit breaker so a failing backend
// is not hammered by every retry of every rollup.
// ErrNotFound and caller cancellation do not count as failures. An expired
// per-call deadline does, so a hung backend trips the breaker.
type BreakerStore struct {
	inner ObjectStore
	cb    *gobreaker.CircuitBreaker[any]
}

func NewBreakerStore(inner ObjectStore, cfg BreakerConfig) *BreakerStore {
	cfg = cfg.normalized()
	metrics.StoreBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "object-store",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("[StoreBreaker] State transition", "breaker", name, "from", from.String(), "to", to.String())
			metrics.StoreBreakerState.Set(stateToFloat(to))
		},
	})

	return &BreakerStore{inner: inner, cb: cb}
}

func (b *BreakerStore) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Get(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	data, ok := out.([]byte)
	if !ok {
		return nil, fmt.Errorf("store breaker: unexpected result type %T", out)
	}
	return data, nil
}

func (b *BreakerStore) Put(ctx context.Context, path string, data []byte) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Put(ctx, path, data)
	})
	return err
}

func (b *BreakerStore) List(ctx context.Context, prefix string) ([]string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.List(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	paths, ok := out.([]string)
	if !ok {
		return nil, fmt.Errorf("store breaker: unexpected result type %T", out)
	}
	return paths, nil
}

// Ping bypasses the breaker so health checks report the backend itself.
func (b *BreakerStore) Ping(ctx context.Context) error {
	if hc, ok := b.inner.(HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// State reports the breaker state as a string: closed, half-open or open.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
