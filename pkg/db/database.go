package db

import (
	"github.com/acorn-io/acorn-registry/pkg/kv"
)

// Database is a SQL-backed kv.Store. Claims on it are conditional writes.
type Database interface {
	kv.Store
	kv.Creator
	Close() error
}
