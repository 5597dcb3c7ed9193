package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-ledger-sync/internal/domain"
)

// SQLiteKV stores snapshot blobs in the kv_entries table.
type SQLiteKV struct {
	db *gorm.DB
}

// NewSQLiteKV wraps an open, migrated database handle.
func NewSQLiteKV(db *gorm.DB) *SQLiteKV { return &SQLiteKV{db: db} }

// Get returns the value for key or domain.ErrKeyNotFound.
func (s *SQLiteKV) Get(ctx context.Context, key string) (string, error) {
	var e domain.KVEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

// Set upserts key.
func (s *SQLiteKV) Set(ctx context.Context, key, value string) error {
	e := domain.KVEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&e).Error
}

// Remove deletes key. Removing a missing key is not an error.
func (s *SQLiteKV) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&domain.KVEntry{}).Error
}

// Close releases the underlying connection pool.
func (s *SQLiteKV) Close() error {
	return closeDB(s.db)
}
