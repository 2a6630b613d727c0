package main

import (
	"fmt"
	"log/slog"

	"github.com/vd-speed-test/speedroll/internal/core/config"
	"github.com/vd-speed-test/speedroll/internal/core/storage"
	"github.com/vd-speed-test/speedroll/internal/core/storage/badger"
	"github.com/vd-speed-test/speedroll/internal/core/storage/filesystem"
	"github.com/vd-speed-test/speedroll/internal/core/storage/memory"
	"github.com/vd-speed-test/speedroll/internal/core/storage/postgres"
	"github.com/vd-speed-test/speedroll/internal/migrations"
)

// objectStore is what the process needs from a backend: the gateway plus a health ping.
type objectStore interface {
	storage.ObjectStore
	storage.HealthChecker
}

// openStore builds the configured backend, runs migrations for postgres and
// wraps remote or disk backends in the circuit breaker when enabled.
func openStore(cfg config.StoreConfig) (objectStore, func(), error) {
	var (
		store   objectStore
		closeFn = func() {}
	)

	switch cfg.Type {
	case "memory":
		store = memory.New()

	case "filesystem":
		fs, err := filesystem.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		store = fs

	case "badger":
		db, err := badger.New(badger.Config{Path: cfg.Path})
		if err != nil {
			return nil, nil, err
		}
		store = db
		closeFn = func() {
			if err := db.Close(); err != nil {
				slog.Error("[Store] Failed to close badger", "error", err)
			}
		}

	case "postgres":
		db, err := postgres.OpenDB(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunMigrations(db, cfg.AutoMigrate); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		adapter, err := postgres.NewAdapterFromDB(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		store = adapter
		closeFn = func() {
			if err := adapter.Close(); err != nil {
				slog.Error("[Store] Failed to close postgres", "error", err)
			}
		}

	default:
		return nil, nil, fmt.Errorf("unsupported store type %q", cfg.Type)
	}

	if cfg.CircuitBreaker.Enabled {
		store = storage.NewBreakerStore(store, storage.BreakerConfig{
			MaxRequests:         cfg.CircuitBreaker.MaxRequests,
			Interval:            cfg.CircuitBreaker.Interval,
			Timeout:             cfg.CircuitBreaker.Timeout,
			ConsecutiveFailures: cfg.CircuitBreaker.ConsecutiveFailures,
		})
	}

	slog.Info("[Store] Ready", "type", cfg.Type, "circuit_breaker", cfg.CircuitBreaker.Enabled)
	return store, closeFn, nil
}
