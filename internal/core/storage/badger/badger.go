package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/vd-speed-test/speedroll/internal/core/storage"
)

// Config configures the embedded store.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM, for tests and throwaway runs.
	InMemory bool
}

// Store implements storage.ObjectStore on an embedded BadgerDB.
// Object paths are used directly as keys, so prefix listing is a key range scan.
type Store struct {
	db *badger.DB
}

func New(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger store: path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open: %w", err)
	}

	slog.Info("[BadgerStore] Opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", path, err)
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(path), data)
	})
	if err != nil {
		return fmt.Errorf("badger put %s: %w", path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			out = append(out, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list %s: %w", prefix, err)
	}
	// Badger iterates keys in byte order already.
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
