package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/vd-speed-test/speedroll/internal/core/storage"
	"github.com/vd-speed-test/speedroll/internal/core/storage/memory"
)

type flakyStore struct {
	*memory.Store
	failGets int
	calls    int
}

func (f *flakyStore) Get(ctx context.Context, path string) ([]byte, error) {
	f.calls++
	if f.failGets > 0 {
		f.failGets--
		return nil, errors.New("503 slow down")
	}
	return f.Store.Get(ctx, path)
}

func TestBreakerStore_TripsOnConsecutiveFailures(t *testing.T) {
	inner := &flakyStore{Store: memory.New(), failGets: 10}
	b := storage.NewBreakerStore(inner, storage.BreakerConfig{ConsecutiveFailures: 3, Timeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Get(ctx, "x")
		require.ErrorContains(t, err, "slow down")
	}
	require.Equal(t, "open", b.State())

	_, err := b.Get(ctx, "x")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, 3, inner.calls)
}

// hangingStore blocks every read until the caller's context ends.
type hangingStore struct {
	*memory.Store
	calls int
}

func (h *hangingStore) Get(ctx context.Context, _ string) ([]byte, error) {
	h.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBreakerStore_TimeoutsTripTheBreaker(t *testing.T) {
	inner := &hangingStore{Store: memory.New()}
	b := storage.NewBreakerStore(inner, storage.BreakerConfig{ConsecutiveFailures: 3, Timeout: time.Hour})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Millisecond)
		_, err := b.Get(ctx, "x")
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
	require.Equal(t, "open", b.State())

	_, err := b.Get(context.Background(), "x")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, 3, inner.calls)
}

func TestBreakerStore_CallerCancellationIsNotAFailure(t *testing.T) {
	inner := &hangingStore{Store: memory.New()}
	b := storage.NewBreakerStore(inner, storage.BreakerConfig{ConsecutiveFailures: 2})

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := b.Get(ctx, "x")
		require.ErrorIs(t, err, context.Canceled)
	}
	require.Equal(t, "closed", b.State())
}

func TestBreakerStore_NotFoundIsNotAFailure(t *testing.T) {
	inner := &flakyStore{Store: memory.New()}
	b := storage.NewBreakerStore(inner, storage.BreakerConfig{ConsecutiveFailures: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Get(ctx, "missing")
		require.ErrorIs(t, err, storage.ErrNotFound)
	}
	require.Equal(t, "closed", b.State())

	require.NoError(t, b.Put(ctx, "a/b", []byte("v")))
	paths, err := b.List(ctx, "a/")
	require.NoError(t, err)
	require.Equal(t, []string{"a/b"}, paths)

	got, err := b.Get(ctx, "a/b")
	require.NoError(t, err)
	require.Equal(t, "v", string(got))
	require.NoError(t, b.Ping(ctx))
}
