package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vd-speed-test/speedroll/internal/core/storage"
)

func TestStore_RoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)
	ctx := context.Background()

	path := "vd-speed-test-hourly-prod/year=2025/month=11/day=03/hour=2025110314/speed_test_summary.json"
	_, err = s.Get(ctx, path)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Put(ctx, path, []byte(`{"a":1}`)))
	got, err := s.Get(ctx, path)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(got))

	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(path)))
	require.NoError(t, err)
}

func TestStore_List(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, p := range []string{
		"raw/host=a/year=2025/month=11/day=03/hour=2025110314/minute=15/m1.json",
		"raw/host=a/year=2025/month=11/day=03/hour=2025110314/minute=00/m0.json",
		"raw/host=a/year=2025/month=11/day=03/hour=2025110315/minute=00/m2.json",
		"raw/host=b/year=2025/month=11/day=03/hour=2025110314/minute=00/m3.json",
	} {
		require.NoError(t, s.Put(ctx, p, []byte("{}")))
	}

	got, err := s.List(ctx, "raw/host=a/year=2025/month=11/day=03/hour=2025110314/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"raw/host=a/year=2025/month=11/day=03/hour=2025110314/minute=00/m0.json",
		"raw/host=a/year=2025/month=11/day=03/hour=2025110314/minute=15/m1.json",
	}, got)

	got, err = s.List(ctx, "raw/host=a/year=2025/month=11/day=03/hour=20251103")
	require.NoError(t, err)
	require.Len(t, got, 3)

	got, err = s.List(ctx, "missing/")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStore_RejectsEscapingPaths(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	err = s.Put(context.Background(), "../outside.json", []byte("x"))
	require.Error(t, err)
}
