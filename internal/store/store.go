package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Kinds of backend accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// Store layers JSON records, per-key single-writer locks and read-modify-write
// helpers over a Backend.
type Store struct {
	backend Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wraps a backend.
func New(b Backend) *Store {
	return &Store{backend: b, locks: make(map[string]*sync.Mutex)}
}

// Open builds a store of the given kind. dataDir is used by the file backend,
// dbPath by the SQLite backend.
func Open(kind, dataDir, dbPath string) (*Store, error) {
	switch kind {
	case "", KindFile:
		b, err := NewFileBackend(dataDir)
		if err != nil {
			return nil, err
		}
		return New(b), nil
	case KindSQLite:
		b, err := NewSQLiteBackend(dbPath)
		if err != nil {
			return nil, err
		}
		return New(b), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Get decodes the record at key into v and returns its revision. A record that
// exists but cannot be decoded yields its revision and ErrMalformed.
func (s *Store) Get(ctx context.Context, key string, v any) (string, error) {
	data, rev, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !json.Valid(data) {
		return rev, fmt.Errorf("%s: %w", key, ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return rev, fmt.Errorf("%s: %w: %v", key, ErrMalformed, err)
	}
	return rev, nil
}

// CompareAndSwap encodes v and stores it if the record is still at rev.
func (s *Store) CompareAndSwap(ctx context.Context, key, rev string, v any) (string, error) {
	unlock := s.lock(key)
	defer unlock()
	return s.put(ctx, key, rev, v)
}

func (s *Store) put(ctx context.Context, key, rev string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	return s.backend.CompareAndSwap(ctx, key, rev, data)
}

// getOrDefault reads key into v. Missing and malformed records leave v at its
// zero value; malformed ones are logged and their revision is kept so the next
// write replaces them.
func (s *Store) getOrDefault(ctx context.Context, key string, v any) (rev string, found bool, err error) {
	rev, err = s.Get(ctx, key, v)
	switch {
	case err == nil:
		return rev, true, nil
	case errors.Is(err, ErrNotFound):
		return "", false, nil
	case errors.Is(err, ErrMalformed):
		slog.Warn("unreadable record, using empty default", "key", key, "error", err)
		return rev, false, nil
	default:
		return "", false, err
	}
}

// Update runs a read-modify-write cycle on key while holding its writer lock.
// v must point at a zero value; fn receives whether a readable record existed
// and mutates v. Returning an error from fn aborts the write.
func (s *Store) Update(ctx context.Context, key string, v any, fn func(found bool) error) error {
	unlock := s.lock(key)
	defer unlock()

	rev, found, err := s.getOrDefault(ctx, key, v)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := fn(found); err != nil {
		return err
	}
	if _, err := s.put(ctx, key, rev, v); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Append adds item to the JSON array stored at key. Entries are never
// rewritten in place.
func (s *Store) Append(ctx context.Context, key string, item any) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s item: %w", key, err)
	}

	unlock := s.lock(key)
	defer unlock()

	var entries []json.RawMessage
	rev, _, err := s.getOrDefault(ctx, key, &entries)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	entries = append(entries, raw)
	if _, err := s.put(ctx, key, rev, entries); err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	return nil
}

// Delete removes a single record.
func (s *Store) Delete(ctx context.Context, key string) error {
	unlock := s.lock(key)
	defer unlock()
	return s.backend.Delete(ctx, key)
}

// Reset deletes the named records and returns how many existed. Anything
// else the backend holds is left alone.
func (s *Store) Reset(ctx context.Context, keys ...string) (int, error) {
	stored, err := s.backend.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	deleted := 0
	for _, k := range stored {
		if !slices.Contains(keys, k) {
			continue
		}
		if err := s.Delete(ctx, k); err != nil {
			slog.Error("failed to delete record", "key", k, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}
