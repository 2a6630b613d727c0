package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/vd-speed-test/speedroll/internal/aggregation"
	"github.com/vd-speed-test/speedroll/internal/core/config"
	"github.com/vd-speed-test/speedroll/internal/core/rollup"
	"github.com/vd-speed-test/speedroll/internal/ingestion"
	"github.com/vd-speed-test/speedroll/internal/projection"
	"github.com/vd-speed-test/speedroll/internal/server"
)

type cliFlags struct {
	configPath     string
	mode           string
	date           string
	host           string
	from           string
	to             string
	force          bool
	includeCurrent bool
}

func main() {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "speedroll.yaml", "Path to configuration file")
	flag.StringVar(&f.mode, "mode", "", "Run one rollup and exit: hourly, daily, weekly, monthly, yearly (or all / a comma list with -from/-to)")
	flag.StringVar(&f.date, "date", "", "Period to roll up: canonical id, YYYY-MM-DD or RFC3339 (default: last elapsed period)")
	flag.StringVar(&f.host, "host", rollup.HostScopeAll, "Host scope")
	flag.StringVar(&f.from, "from", "", "Backfill start, YYYY-MM-DD or RFC3339")
	flag.StringVar(&f.to, "to", "", "Backfill end, YYYY-MM-DD or RFC3339")
	flag.BoolVar(&f.force, "force", false, "Backfill: recompute periods that already have a summary")
	flag.BoolVar(&f.includeCurrent, "include-current", false, "Backfill: also run the period still in progress")
	flag.Parse()

	// 0. Bootstrap logger until config says otherwise
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := config.Load(f.configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Server))
	slog.Info("Loaded config",
		"store", cfg.Store.Type,
		"timezone", cfg.Aggregation.Timezone,
		"hosts", cfg.Aggregation.Hosts,
		"profiles", len(cfg.Profiles))

	// 2. Initialize Storage
	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize store", "type", cfg.Store.Type, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// 3. Initialize Aggregation
	loc := cfg.Location()
	layout := rollup.NewLayout(cfg.BucketMap())
	resolver := rollup.NewResolver(loc, cfg.Aggregation.Hosts)
	calculator := rollup.NewCalculator(cfg.Thresholds(), loc)
	orchestrator := aggregation.NewOrchestrator(store, resolver, layout, calculator, aggregation.Options{
		FetchWorkers: cfg.Aggregation.FetchWorkers,
		Retry: aggregation.RetryPolicy{
			MaxAttempts:     cfg.Aggregation.Retry.MaxAttempts,
			InitialInterval: cfg.Aggregation.Retry.InitialInterval,
			MaxInterval:     cfg.Aggregation.Retry.MaxInterval,
		},
		MinimumCompletionFraction: cfg.Aggregation.MinimumCompletionFraction,
		OperationTimeout:          cfg.Store.OperationTimeout,
		BackfillLimit:             cfg.Aggregation.BackfillLimit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// A mode or a backfill range makes this a one-shot invocation.
	if f.mode != "" || f.from != "" || f.to != "" {
		if err := runOnce(ctx, orchestrator, loc, f, os.Stdout); err != nil {
			slog.Error("Rollup failed", "mode", f.mode, "error", err)
			closeStore()
			os.Exit(1)
		}
		return
	}

	// 4. Initialize Projection (dashboard read path)
	cache := projection.NewQueryCache(store, layout, loc, projection.CacheOptions{
		TTL:              cfg.Query.CacheTTL,
		Pools:            cfg.PoolMap(),
		OperationTimeout: cfg.Query.OperationTimeout,
	})
	projectionSvc := projection.NewService(cache, store, layout, cfg.Aggregation.Hosts)

	// 5. Initialize Ingestion
	ingestionSvc := ingestion.NewService(store, layout, loc, cfg.Server.MaxBodySizeKB)

	// 6. Initialize Server
	srv := server.New(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), store, cfg.Store.Type, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	projectionSvc.RegisterRoutes(srv.Engine)
	aggregation.NewHandler(orchestrator, loc).RegisterRoutes(srv.Engine)

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// newLogger builds the process logger from server.log_format and server.log_level.
func newLogger(cfg config.ServerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	switch cfg.LogFormat {
	case "console":
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
}

func splitModes(mode string) []string {
	if strings.EqualFold(strings.TrimSpace(mode), "all") {
		return nil
	}
	var modes []string
	for _, m := range strings.Split(mode, ",") {
		if m = strings.TrimSpace(m); m != "" {
			modes = append(modes, m)
		}
	}
	return modes
}
