package rollup

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConnectionProfile overrides thresholds for connection types containing Match,
// e.g. a "5GHz" profile expecting 200 Mbps where 2.4GHz links expect 100.
// Profiles are loaded at startup from YAML files and fingerprinted.
type ConnectionProfile struct {
	Name              string
	Match             string
	ExpectedSpeedMbps float64
	TolerancePercent  float64
	PingCeilingMs     float64
	Fingerprint       string // SHA-256 of the raw YAML file
}

// rawProfile is the on-disk YAML shape.
type rawProfile struct {
	Name              string  `yaml:"name"`
	Match             string  `yaml:"match"`
	ExpectedSpeedMbps float64 `yaml:"expected_speed_mbps"`
	TolerancePercent  float64 `yaml:"tolerance_percent"`
	PingCeilingMs     float64 `yaml:"ping_ceiling_ms"`
}

// FileSystemProfileRepository loads connection profiles from *.yaml files in a directory.
// Each file holds one profile. No hot reload.
type FileSystemProfileRepository struct {
	dir      string
	profiles map[string]ConnectionProfile
}

// NewFileSystemProfileRepository eagerly loads every profile in dir.
// A missing directory means zero profiles.
func NewFileSystemProfileRepository(dir string) (*FileSystemProfileRepository, error) {
	repo := &FileSystemProfileRepository{
		dir:      dir,
		profiles: make(map[string]ConnectionProfile),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemProfileRepository) load() error {
	if strings.TrimSpace(r.dir) == "" {
		return nil
	}
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("profile dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("profile path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading profile dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading profile file %s: %w", path, err)
		}

		var raw rawProfile
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing profile file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // comment-only file
		}
		if strings.TrimSpace(raw.Match) == "" {
			return fmt.Errorf("profile %q: match must not be empty", raw.Name)
		}
		if raw.ExpectedSpeedMbps < 0 || raw.PingCeilingMs < 0 {
			return fmt.Errorf("profile %q: limits must not be negative", raw.Name)
		}
		if raw.TolerancePercent < 0 || raw.TolerancePercent >= 100 {
			return fmt.Errorf("profile %q: tolerance_percent must be in [0, 100)", raw.Name)
		}
		if _, exists := r.profiles[raw.Name]; exists {
			return fmt.Errorf("profile %q: duplicate profile name", raw.Name)
		}

		r.profiles[raw.Name] = ConnectionProfile{
			Name:              raw.Name,
			Match:             raw.Match,
			ExpectedSpeedMbps: raw.ExpectedSpeedMbps,
			TolerancePercent:  raw.TolerancePercent,
			PingCeilingMs:     raw.PingCeilingMs,
			Fingerprint:       fmt.Sprintf("%x", sha256.Sum256(data)),
		}
	}
	return nil
}

// Get returns the profile with the given name.
func (r *FileSystemProfileRepository) Get(name string) (*ConnectionProfile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("connection profile %q not found", name)
	}
	return &p, nil
}

// Profiles returns all profiles sorted by name.
func (r *FileSystemProfileRepository) Profiles() []ConnectionProfile {
	out := make([]ConnectionProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
