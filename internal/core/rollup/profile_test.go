package rollup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestFileSystemProfileRepository(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "wifi5.yaml", `
name: "wifi-5ghz"
match: "5GHz"
expected_speed_mbps: 200
`)
	writeProfile(t, dir, "wifi24.yml", `
name: "wifi-2.4ghz"
match: "2.4GHz"
expected_speed_mbps: 100
ping_ceiling_ms: 150
`)
	writeProfile(t, dir, "notes.txt", "ignored")
	writeProfile(t, dir, "empty.yaml", "# placeholder\n")

	repo, err := NewFileSystemProfileRepository(dir)
	require.NoError(t, err)

	profiles := repo.Profiles()
	require.Len(t, profiles, 2)
	require.Equal(t, "wifi-2.4ghz", profiles[0].Name)
	require.Equal(t, 150.0, profiles[0].PingCeilingMs)
	require.Len(t, profiles[0].Fingerprint, 64)

	p, err := repo.Get("wifi-5ghz")
	require.NoError(t, err)
	require.Equal(t, 200.0, p.ExpectedSpeedMbps)

	_, err = repo.Get("ethernet")
	require.Error(t, err)
}

func TestFileSystemProfileRepository_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "missing match",
			files:   map[string]string{"a.yaml": "name: a\nexpected_speed_mbps: 10\n"},
			wantErr: "match must not be empty",
		},
		{
			name:    "tolerance out of range",
			files:   map[string]string{"a.yaml": "name: a\nmatch: x\ntolerance_percent: 120\n"},
			wantErr: "tolerance_percent",
		},
		{
			name: "duplicate names",
			files: map[string]string{
				"a.yaml": "name: a\nmatch: x\n",
				"b.yaml": "name: a\nmatch: y\n",
			},
			wantErr: "duplicate profile name",
		},
		{
			name:    "broken yaml",
			files:   map[string]string{"a.yaml": "name: [unterminated\n"},
			wantErr: "parsing profile file",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, body := range tc.files {
				writeProfile(t, dir, name, body)
			}
			_, err := NewFileSystemProfileRepository(dir)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestFileSystemProfileRepository_MissingDirIsEmpty(t *testing.T) {
	repo, err := NewFileSystemProfileRepository(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Empty(t, repo.Profiles())
}
