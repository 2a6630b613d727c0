package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/vd-speed-test/speedroll/internal/core/storage"
)

// Store is an in-process ObjectStore for local runs and tests.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[path] = append([]byte(nil), data...)
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for path := range s.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len reports how many objects are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
