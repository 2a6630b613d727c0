package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // aggregation.timezone must resolve on hosts without zoneinfo

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vd-speed-test/speedroll/internal/core/period"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
)

const envPrefix = "SPEEDROLL_"

// Config represents the top-level application config plus resolved threshold profiles.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Store       StoreConfig       `koanf:"store"`
	Buckets     map[string]string `koanf:"buckets"`
	Aggregation AggregationConfig `koanf:"aggregation"`
	Query       QueryConfig       `koanf:"query"`

	// Profiles is populated by Load from aggregation.profiles_dir.
	Profiles []rollup.ConnectionProfile `koanf:"-"`

	location *time.Location
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeKB int    `koanf:"max_body_size_kb"`
	Mode          string `koanf:"mode"`       // debug | release
	LogLevel      string `koanf:"log_level"`  // debug | info | warn | error
	LogFormat     string `koanf:"log_format"` // text | json | console
}

type StoreConfig struct {
	Type             string        `koanf:"type"` // memory | filesystem | badger | postgres
	Path             string        `koanf:"path"`
	DSN              string        `koanf:"dsn"`
	MaxOpenConns     int           `koanf:"max_open_conns"`
	MaxIdleConns     int           `koanf:"max_idle_conns"`
	AutoMigrate      bool          `koanf:"auto_migrate"`
	OperationTimeout time.Duration `koanf:"operation_timeout"`
	CircuitBreaker   BreakerConfig `koanf:"circuit_breaker"`
}

type BreakerConfig struct {
	Enabled             bool          `koanf:"enabled"`
	MaxRequests         uint32        `koanf:"max_requests"`
	Interval            time.Duration `koanf:"interval"`
	Timeout             time.Duration `koanf:"timeout"`
	ConsecutiveFailures uint32        `koanf:"consecutive_failures"`
}

type AggregationConfig struct {
	Timezone                  string      `koanf:"timezone"`
	Hosts                     []string    `koanf:"hosts"`
	ExpectedSpeedMbps         float64     `koanf:"expected_speed_mbps"`
	TolerancePercent          float64     `koanf:"tolerance_percent"`
	PingCeilingMs             float64     `koanf:"ping_ceiling_ms"`
	MaxValidPingMs            float64     `koanf:"max_valid_ping_ms"`
	MinimumCompletionFraction float64     `koanf:"minimum_completion_fraction"`
	FetchWorkers              int         `koanf:"fetch_workers"`
	BackfillLimit             int         `koanf:"backfill_limit"`
	Retry                     RetryConfig `koanf:"retry"`
	ProfilesDir               string      `koanf:"profiles_dir"`
}

type RetryConfig struct {
	MaxAttempts     int           `koanf:"max_attempts"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
}

type QueryConfig struct {
	CacheTTL         time.Duration  `koanf:"cache_ttl"`
	OperationTimeout time.Duration  `koanf:"operation_timeout"`
	Pools            map[string]int `koanf:"pools"`
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeKB <= 0 {
		return fmt.Errorf("server.max_body_size_kb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid server.log_level %q", c.Server.LogLevel)
	}
	switch c.Server.LogFormat {
	case "text", "json", "console":
	default:
		return fmt.Errorf("invalid server.log_format %q (must be text, json or console)", c.Server.LogFormat)
	}

	switch c.Store.Type {
	case "memory":
	case "filesystem", "badger":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for store.type %q", c.Store.Type)
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for store.type postgres")
		}
		if c.Store.MaxOpenConns <= 0 {
			return fmt.Errorf("store.max_open_conns must be > 0")
		}
		if c.Store.MaxIdleConns <= 0 {
			return fmt.Errorf("store.max_idle_conns must be > 0")
		}
	default:
		return fmt.Errorf("unsupported store.type %q", c.Store.Type)
	}
	if c.Store.OperationTimeout <= 0 {
		return fmt.Errorf("store.operation_timeout must be > 0")
	}

	for name := range c.Buckets {
		if level, err := period.ParseLevel(name); err != nil || string(level) != name {
			return fmt.Errorf("unknown buckets key %q (must be raw, hour, day, week, month or year)", name)
		}
	}

	loc, err := time.LoadLocation(c.Aggregation.Timezone)
	if err != nil {
		return fmt.Errorf("invalid aggregation.timezone %q: %w", c.Aggregation.Timezone, err)
	}
	c.location = loc

	for _, h := range c.Aggregation.Hosts {
		if h == "" || h == rollup.HostScopeAll || rollup.ValidHostScope(h) != nil {
			return fmt.Errorf("invalid aggregation.hosts entry %q", h)
		}
	}
	if c.Aggregation.ExpectedSpeedMbps <= 0 {
		return fmt.Errorf("aggregation.expected_speed_mbps must be > 0")
	}
	if c.Aggregation.TolerancePercent < 0 || c.Aggregation.TolerancePercent >= 100 {
		return fmt.Errorf("aggregation.tolerance_percent must be in [0, 100)")
	}
	if c.Aggregation.PingCeilingMs <= 0 {
		return fmt.Errorf("aggregation.ping_ceiling_ms must be > 0")
	}
	if c.Aggregation.MaxValidPingMs < 0 {
		return fmt.Errorf("aggregation.max_valid_ping_ms must be >= 0")
	}
	if f := c.Aggregation.MinimumCompletionFraction; f < 0 || f > 1 {
		return fmt.Errorf("aggregation.minimum_completion_fraction must be in [0, 1]")
	}
	if c.Aggregation.FetchWorkers <= 0 {
		return fmt.Errorf("aggregation.fetch_workers must be > 0")
	}
	if c.Aggregation.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("aggregation.retry.max_attempts must be > 0")
	}

	if c.Query.CacheTTL <= 0 {
		return fmt.Errorf("query.cache_ttl must be > 0")
	}
	for name, size := range c.Query.Pools {
		level, err := period.ParseLevel(name)
		if err != nil || level == period.Raw || string(level) != name {
			return fmt.Errorf("unknown query.pools key %q", name)
		}
		if size <= 0 {
			return fmt.Errorf("query.pools.%s must be > 0", name)
		}
	}

	return nil
}

// Location is the timezone periods are derived in. Valid after Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// BucketMap returns the configured bucket overrides keyed by level.
func (c *Config) BucketMap() map[period.Level]string {
	out := make(map[period.Level]string, len(c.Buckets))
	for name, bucket := range c.Buckets {
		out[period.Level(name)] = bucket
	}
	return out
}

// PoolMap returns the query fan-out sizes keyed by level.
func (c *Config) PoolMap() map[period.Level]int {
	out := make(map[period.Level]int, len(c.Query.Pools))
	for name, size := range c.Query.Pools {
		out[period.Level(name)] = size
	}
	return out
}

// Thresholds assembles the immutable classification policy for the calculator.
func (c *Config) Thresholds() rollup.ThresholdConfig {
	return rollup.ThresholdConfig{
		ExpectedSpeedMbps: c.Aggregation.ExpectedSpeedMbps,
		TolerancePercent:  c.Aggregation.TolerancePercent,
		PingCeilingMs:     c.Aggregation.PingCeilingMs,
		MaxValidPingMs:    c.Aggregation.MaxValidPingMs,
		Profiles:          append([]rollup.ConnectionProfile(nil), c.Profiles...),
	}
}

// Load parses config from defaults, file and env, validates it, then loads threshold profiles.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                                8080,
		"server.host":                                "0.0.0.0",
		"server.max_body_size_kb":                    64,
		"server.mode":                                "release",
		"server.log_level":                           "info",
		"server.log_format":                          "text",
		"store.type":                                 "filesystem",
		"store.path":                                 "./data",
		"store.max_open_conns":                       10,
		"store.max_idle_conns":                       10,
		"store.auto_migrate":                         true,
		"store.operation_timeout":                    "30s",
		"store.circuit_breaker.enabled":              false,
		"store.circuit_breaker.max_requests":         1,
		"store.circuit_breaker.interval":             "1m",
		"store.circuit_breaker.timeout":              "30s",
		"store.circuit_breaker.consecutive_failures": 5,
		"aggregation.timezone":                       "Asia/Kolkata",
		"aggregation.hosts":                          []string{},
		"aggregation.expected_speed_mbps":            200.0,
		"aggregation.tolerance_percent":              10.0,
		"aggregation.ping_ceiling_ms":                100.0,
		"aggregation.max_valid_ping_ms":              5000.0,
		"aggregation.minimum_completion_fraction":    0.0,
		"aggregation.fetch_workers":                  16,
		"aggregation.backfill_limit":                 5000,
		"aggregation.retry.max_attempts":             3,
		"aggregation.retry.initial_interval":         "200ms",
		"aggregation.retry.max_interval":             "5s",
		"aggregation.profiles_dir":                   "./config/profiles",
		"query.cache_ttl":                            "120s",
		"query.operation_timeout":                    "10s",
		"query.pools.hour":                           50,
		"query.pools.day":                            20,
		"query.pools.week":                           20,
		"query.pools.month":                          20,
		"query.pools.year":                           10,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := rollup.NewFileSystemProfileRepository(cfg.Aggregation.ProfilesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load threshold profiles: %w", err)
	}
	cfg.Profiles = repo.Profiles()

	return &cfg, nil
}

// envValue maps SPEEDROLL_AGGREGATION__HOSTS=a,b to aggregation.hosts = [a b].
func envValue(key, value string) (string, interface{}) {
	key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "__", ".", -1)
	if key == "aggregation.hosts" {
		var hosts []string
		for _, h := range strings.Split(value, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		return key, hosts
	}
	return key, value
}
