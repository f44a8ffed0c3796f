// Package kv defines the durable key-value contract the registry is stored in
// and the Redis and DynamoDB implementations of it. The SQL implementation
// lives in pkg/db.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DefaultPageSize is used by List when limit is not positive.
const DefaultPageSize = 100

// Page is one step of a prefix listing. Cursor is opaque and is passed back to
// List to fetch the next page. Complete is set on the last page.
type Page struct {
	Keys     []string
	Cursor   string
	Complete bool
}

// Store is a whole-value key-value store without transactions.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix, cursor string, limit int) (Page, error)
}

// Creator is implemented by stores that can write a key only if it is absent.
// Claims use it when available so concurrent claims cannot overwrite each
// other.
type Creator interface {
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
}

// ListAll pages through every key with the given prefix.
func ListAll(ctx context.Context, s Store, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor string
		seen   = map[string]bool{}
	)
	for {
		page, err := s.List(ctx, prefix, cursor, DefaultPageSize)
		if err != nil {
			return nil, err
		}
		for _, k := range page.Keys {
			// some backends may repeat keys across pages
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		if page.Complete {
			return keys, nil
		}
		cursor = page.Cursor
	}
}
