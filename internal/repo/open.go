package repo

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendPebble = "pebble"
)

// KV is the contract shared by all backends in this package.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// OpenOptions selects and configures a backend.
type OpenOptions struct {
	Backend   string
	DBPath    string
	RedisURL  string
	PebbleDir string
}

// migrateSQLite is replaced in tests.
var migrateSQLite = AutoMigrate

// Open builds the backend named by opts.Backend.
func Open(opts OpenOptions) (KV, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendMemory:
		return NewMemoryKV(), nil
	case BackendSQLite, "":
		db, err := OpenSQLite(opts.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := migrateSQLite(db); err != nil {
			_ = closeDB(db)
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return NewSQLiteKV(db), nil
	case BackendRedis:
		return NewRedisKV(opts.RedisURL)
	case BackendPebble:
		return OpenPebbleKV(opts.PebbleDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
