package db

import (
	"time"
)

// Entry is one key-value pair. Values are JSON documents written whole.
type Entry struct {
	Key       string `gorm:"column:entry_key;primaryKey;size:255"`
	Value     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Entry) TableName() string {
	return "kv_entries"
}
