package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/tbourn/go-ledger-sync/internal/domain"
)

// PebbleKV stores snapshot blobs in an embedded Pebble database.
type PebbleKV struct {
	db *pebble.DB
}

// OpenPebbleKV opens (or creates) a Pebble database in dir.
func OpenPebbleKV(dir string) (*PebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleKV{db: db}, nil
}

// Get returns the value for key or domain.ErrKeyNotFound.
func (s *PebbleKV) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", domain.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("pebble get: %w", err)
	}
	out := string(v)
	if cerr := closer.Close(); cerr != nil {
		return "", fmt.Errorf("pebble get: %w", cerr)
	}
	return out, nil
}

// Set writes key synchronously.
func (s *PebbleKV) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Set([]byte(key), []byte(value), pebble.Sync)
}

// Remove deletes key.
func (s *PebbleKV) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Delete([]byte(key), pebble.Sync)
}

// Close flushes and closes the database.
func (s *PebbleKV) Close() error { return s.db.Close() }
