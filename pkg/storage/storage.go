// Package storage maps the registry data model onto a kv.Store.
//
// Keys:
//
//	subdomain:<name>      registry.SubdomainRecord
//	user:<id>             registry.UserRecord
//	config:reserved       []string
//	config:preallocated   map[name]userID
//	registry              legacy flat blob, removed by MigrateFromBlob
//
// Every write replaces the whole value. There are no transactions, so callers
// doing read-modify-write accept last-write-wins unless the store implements
// kv.Creator.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/acorn-io/acorn-registry/pkg/kv"
	"github.com/acorn-io/acorn-registry/pkg/registry"
	"github.com/sirupsen/logrus"
)

const (
	SubdomainPrefix = "subdomain:"
	UserPrefix      = "user:"
	ReservedKey     = "config:reserved"
	PreallocatedKey = "config:preallocated"
	LegacyKey       = "registry"
)

// Config is the read-mostly registry configuration.
type Config struct {
	Reserved     []string
	Preallocated map[string]string
}

type Storage struct {
	store kv.Store
}

func New(store kv.Store) *Storage {
	return &Storage{
		store: store,
	}
}

func SubdomainKey(name string) string {
	return SubdomainPrefix + name
}

func UserKey(id string) string {
	return UserPrefix + id
}

// getJSON decodes key into v and reports whether the key existed.
func (s *Storage) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Storage) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.store.Put(ctx, key, data)
}

// GetSubdomain returns nil when the subdomain has no record.
func (s *Storage) GetSubdomain(ctx context.Context, name string) (*registry.SubdomainRecord, error) {
	var rec registry.SubdomainRecord
	found, err := s.getJSON(ctx, SubdomainKey(name), &rec)
	if err != nil || !found {
		return nil, err
	}
	rec = registry.Normalize(rec)
	return &rec, nil
}

func (s *Storage) PutSubdomain(ctx context.Context, name string, rec registry.SubdomainRecord) error {
	return s.putJSON(ctx, SubdomainKey(name), rec)
}

// CreateSubdomain writes rec only if name has no record yet, when the store
// supports it. Otherwise it falls back to a plain write and always reports
// success.
func (s *Storage) CreateSubdomain(ctx context.Context, name string, rec registry.SubdomainRecord) (bool, error) {
	creator, ok := s.store.(kv.Creator)
	if !ok {
		return true, s.PutSubdomain(ctx, name, rec)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to encode subdomain %s: %w", name, err)
	}
	return creator.PutIfAbsent(ctx, SubdomainKey(name), data)
}

func (s *Storage) DeleteSubdomain(ctx context.Context, name string) error {
	return s.store.Delete(ctx, SubdomainKey(name))
}

// GetUser returns an empty record for unknown users.
func (s *Storage) GetUser(ctx context.Context, id string) (registry.UserRecord, error) {
	var u registry.UserRecord
	if _, err := s.getJSON(ctx, UserKey(id), &u); err != nil {
		return registry.UserRecord{}, err
	}
	if u.Subdomains == nil {
		u.Subdomains = []string{}
	}
	return u, nil
}

func (s *Storage) PutUser(ctx context.Context, id string, u registry.UserRecord) error {
	if u.Subdomains == nil {
		u.Subdomains = []string{}
	}
	return s.putJSON(ctx, UserKey(id), u)
}

func (s *Storage) GetReserved(ctx context.Context) ([]string, error) {
	reserved := []string{}
	if _, err := s.getJSON(ctx, ReservedKey, &reserved); err != nil {
		return nil, err
	}
	return reserved, nil
}

func (s *Storage) PutReserved(ctx context.Context, reserved []string) error {
	return s.putJSON(ctx, ReservedKey, reserved)
}

func (s *Storage) GetPreallocated(ctx context.Context) (map[string]string, error) {
	preallocated := map[string]string{}
	if _, err := s.getJSON(ctx, PreallocatedKey, &preallocated); err != nil {
		return nil, err
	}
	if preallocated == nil {
		preallocated = map[string]string{}
	}
	return preallocated, nil
}

func (s *Storage) PutPreallocated(ctx context.Context, preallocated map[string]string) error {
	return s.putJSON(ctx, PreallocatedKey, preallocated)
}

// LoadConfig reads both configuration sets. Callers cache the result for the
// duration of a request.
func (s *Storage) LoadConfig(ctx context.Context) (Config, error) {
	reserved, err := s.GetReserved(ctx)
	if err != nil {
		return Config{}, err
	}
	preallocated, err := s.GetPreallocated(ctx)
	if err != nil {
		return Config{}, err
	}
	normalized := make(map[string]string, len(preallocated))
	for name, owner := range preallocated {
		if name = registry.NormalizeName(name); name != "" {
			normalized[name] = owner
		}
	}
	return Config{
		Reserved:     MergeNames(reserved),
		Preallocated: normalized,
	}, nil
}

// MergeNames unions name lists in order, normalizing each name and dropping
// blanks and duplicates.
func MergeNames(lists ...[]string) []string {
	seen := map[string]bool{}
	merged := []string{}
	for _, list := range lists {
		for _, name := range list {
			name = registry.NormalizeName(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			merged = append(merged, name)
		}
	}
	return merged
}

// ListSubdomains materializes every subdomain record. It pages through the
// whole keyspace and is meant for administrative paths only.
func (s *Storage) ListSubdomains(ctx context.Context) (map[string]registry.SubdomainRecord, error) {
	keys, err := kv.ListAll(ctx, s.store, SubdomainPrefix)
	if err != nil {
		return nil, err
	}

	records := make(map[string]registry.SubdomainRecord, len(keys))
	for _, key := range keys {
		name := strings.TrimPrefix(key, SubdomainPrefix)
		rec, err := s.GetSubdomain(ctx, name)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// deleted between listing and reading
			logrus.Debugf("subdomain %s disappeared during listing", name)
			continue
		}
		records[name] = *rec
	}
	return records, nil
}

// ListUserIDs returns the id of every stored user record.
func (s *Storage) ListUserIDs(ctx context.Context) ([]string, error) {
	keys, err := kv.ListAll(ctx, s.store, UserPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, UserPrefix))
	}
	return ids, nil
}
