package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acorn-io/acorn-registry/pkg/kv"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type database struct {
	db *gorm.DB
}

// New creates a new database connection
func New(ctx context.Context, dialect string, dsn string, config *gorm.Config) (Database, error) {
	if config == nil {
		config = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	}

	var db *gorm.DB
	var err error

	switch dialect {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), config)
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), config)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if err != nil {
		return nil, err
	}

	db = db.WithContext(ctx)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}

	return &database{
		db: db,
	}, nil
}

func (d *database) Get(ctx context.Context, key string) ([]byte, error) {
	var entry Entry
	sql := d.db.WithContext(ctx).Where("entry_key = ?", key).Take(&entry)
	if errors.Is(sql.Error, gorm.ErrRecordNotFound) {
		return nil, kv.ErrNotFound
	} else if sql.Error != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, sql.Error)
	}
	return entry.Value, nil
}

func (d *database) Put(ctx context.Context, key string, value []byte) error {
	now := time.Now()
	entry := Entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sql := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry)
	if sql.Error != nil {
		return fmt.Errorf("failed to put %s: %w", key, sql.Error)
	}
	return nil
}

func (d *database) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	now := time.Now()
	entry := Entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sql := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if sql.Error != nil {
		return false, fmt.Errorf("failed to create %s: %w", key, sql.Error)
	}
	return sql.RowsAffected == 1, nil
}

func (d *database) Delete(ctx context.Context, key string) error {
	sql := d.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&Entry{})
	if sql.Error != nil {
		return fmt.Errorf("failed to delete %s: %w", key, sql.Error)
	}
	return nil
}

// List pages by key order. The cursor is the last key of the previous page.
func (d *database) List(ctx context.Context, prefix, cursor string, limit int) (kv.Page, error) {
	if limit <= 0 {
		limit = kv.DefaultPageSize
	}

	// the prefix is matched as a key range so no LIKE escaping is needed
	q := d.db.WithContext(ctx).Model(&Entry{}).Where("entry_key >= ?", prefix)
	if end, ok := prefixEnd(prefix); ok {
		q = q.Where("entry_key < ?", end)
	}
	if cursor != "" {
		q = q.Where("entry_key > ?", cursor)
	}

	var keys []string
	sql := q.Order("entry_key").Limit(limit + 1).Pluck("entry_key", &keys)
	if sql.Error != nil {
		return kv.Page{}, fmt.Errorf("failed to list %s*: %w", prefix, sql.Error)
	}

	if len(keys) <= limit {
		return kv.Page{Keys: keys, Complete: true}, nil
	}

	keys = keys[:limit]
	return kv.Page{
		Keys:   keys,
		Cursor: keys[len(keys)-1],
	}, nil
}

func (d *database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// prefixEnd returns the smallest string greater than every string starting
// with prefix.
func prefixEnd(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
