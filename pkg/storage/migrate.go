package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/acorn-io/acorn-registry/pkg/registry"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

// LegacyRegistry is the flat blob the registry used to be stored as. It is
// also the public shape of /registry.json.
type LegacyRegistry struct {
	Claims       map[string]LegacyClaim `json:"claims"`
	Reserved     []string               `json:"reserved"`
	Preallocated map[string]string      `json:"preallocated"`
	Quotas       map[string]int         `json:"quotas,omitempty"`
}

type LegacyClaim struct {
	UserID    string    `json:"userId"`
	ClaimedAt time.Time `json:"claimedAt"`
}

type MigrationResult struct {
	Migrated   bool `json:"migrated"`
	Subdomains int  `json:"subdomains"`
	Users      int  `json:"users"`
}

// MigrateFromBlob converts the legacy blob into keyed records. It is a no-op
// when the blob is absent. The blob is deleted only after every write has
// succeeded, so a failed run can simply be retried. Records that already
// exist under the new scheme are left as they are.
func (s *Storage) MigrateFromBlob(ctx context.Context) (MigrationResult, error) {
	var blob LegacyRegistry
	found, err := s.getJSON(ctx, LegacyKey, &blob)
	if err != nil {
		return MigrationResult{}, err
	}
	if !found {
		return MigrationResult{}, nil
	}

	log := logrus.WithField("migration", "registry-blob")
	result := MigrationResult{Migrated: true}

	names := maps.Keys(blob.Claims)
	sort.Strings(names)

	owned := map[string][]string{}
	for _, name := range names {
		claim := blob.Claims[name]
		owned[claim.UserID] = append(owned[claim.UserID], name)

		existing, err := s.GetSubdomain(ctx, name)
		if err != nil {
			return MigrationResult{}, fmt.Errorf("migrating subdomain %s: %w", name, err)
		}
		if existing != nil {
			log.Debugf("subdomain %s already migrated", name)
			continue
		}

		claimedAt := claim.ClaimedAt
		if claimedAt.IsZero() {
			claimedAt = registry.Now().UTC()
		}
		rec := registry.SubdomainRecord{
			OwnerID:       claim.UserID,
			ClaimedAt:     claimedAt,
			Status:        registry.StatusActive,
			Collaborators: []registry.Collaborator{},
		}
		if err := s.PutSubdomain(ctx, name, rec); err != nil {
			return MigrationResult{}, fmt.Errorf("migrating subdomain %s: %w", name, err)
		}
		result.Subdomains++
	}

	userIDs := maps.Keys(owned)
	for id := range blob.Quotas {
		if _, ok := owned[id]; !ok {
			userIDs = append(userIDs, id)
		}
	}
	sort.Strings(userIDs)

	for _, id := range userIDs {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return MigrationResult{}, fmt.Errorf("migrating user %s: %w", id, err)
		}
		for _, name := range owned[id] {
			u = u.WithSubdomain(name)
		}
		if q, ok := blob.Quotas[id]; ok && u.Quota == nil {
			q := q
			u.Quota = &q
		}
		if err := s.PutUser(ctx, id, u); err != nil {
			return MigrationResult{}, fmt.Errorf("migrating user %s: %w", id, err)
		}
		result.Users++
	}

	if err := s.mergeConfig(ctx, blob); err != nil {
		return MigrationResult{}, err
	}

	if err := s.store.Delete(ctx, LegacyKey); err != nil {
		return MigrationResult{}, fmt.Errorf("deleting legacy registry: %w", err)
	}

	log.Infof("migrated %d subdomains and %d users", result.Subdomains, result.Users)
	return result, nil
}

func (s *Storage) mergeConfig(ctx context.Context, blob LegacyRegistry) error {
	reserved, err := s.GetReserved(ctx)
	if err != nil {
		return fmt.Errorf("migrating reserved names: %w", err)
	}
	if err := s.PutReserved(ctx, MergeNames(reserved, blob.Reserved)); err != nil {
		return fmt.Errorf("migrating reserved names: %w", err)
	}

	preallocated, err := s.GetPreallocated(ctx)
	if err != nil {
		return fmt.Errorf("migrating preallocated names: %w", err)
	}
	for name, owner := range blob.Preallocated {
		name = registry.NormalizeName(name)
		if _, ok := preallocated[name]; name != "" && !ok {
			preallocated[name] = owner
		}
	}
	if err := s.PutPreallocated(ctx, preallocated); err != nil {
		return fmt.Errorf("migrating preallocated names: %w", err)
	}
	return nil
}
