package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/acorn-io/acorn-registry/pkg/kv"
	"github.com/acorn-io/acorn-registry/pkg/registry"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) kv.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return kv.NewRedisFromClient(client)
}

// plainStore hides the Creator implementation of the wrapped store.
type plainStore struct {
	kv.Store
}

// failingStore fails every Put whose key contains failOn.
type failingStore struct {
	kv.Store
	failOn string
}

func (f *failingStore) Put(ctx context.Context, key string, value []byte) error {
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return errors.New("backend unavailable")
	}
	return f.Store.Put(ctx, key, value)
}

func TestSubdomainRoundTrip(t *testing.T) {
	s := New(newTestStore(t))
	ctx := context.Background()

	rec, err := s.GetSubdomain(ctx, "studio")
	require.NoError(t, err)
	assert.Nil(t, rec)

	want := registry.CreateSubdomainRecord("user_a")
	require.NoError(t, s.PutSubdomain(ctx, "studio", want))

	rec, err = s.GetSubdomain(ctx, "studio")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "user_a", rec.OwnerID)
	assert.True(t, want.ClaimedAt.Equal(rec.ClaimedAt))

	require.NoError(t, s.DeleteSubdomain(ctx, "studio"))
	rec, err = s.GetSubdomain(ctx, "studio")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetSubdomainNormalizesOldRecords(t *testing.T) {
	store := newTestStore(t)
	s := New(store)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "subdomain:old", []byte(`{"ownerId":"user_a","claimedAt":"2024-01-01T00:00:00Z"}`)))

	rec, err := s.GetSubdomain(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, registry.StatusActive, rec.Status)
	assert.NotNil(t, rec.Collaborators)
	assert.Empty(t, rec.Collaborators)

	all, err := s.ListSubdomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusActive, all["old"].Status)
	assert.NotNil(t, all["old"].Collaborators)
}

func TestCreateSubdomain(t *testing.T) {
	ctx := context.Background()

	s := New(newTestStore(t))
	ok, err := s.CreateSubdomain(ctx, "studio", registry.CreateSubdomainRecord("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CreateSubdomain(ctx, "studio", registry.CreateSubdomainRecord("b"))
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := s.GetSubdomain(ctx, "studio")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.OwnerID)

	// without conditional writes the last writer wins
	lww := New(plainStore{newTestStore(t)})
	_, err = lww.CreateSubdomain(ctx, "studio", registry.CreateSubdomainRecord("a"))
	require.NoError(t, err)
	ok, err = lww.CreateSubdomain(ctx, "studio", registry.CreateSubdomainRecord("b"))
	require.NoError(t, err)
	assert.True(t, ok)
	rec, err = lww.GetSubdomain(ctx, "studio")
	require.NoError(t, err)
	assert.Equal(t, "b", rec.OwnerID)
}

func TestUserAndConfigDefaults(t *testing.T) {
	s := New(newTestStore(t))
	ctx := context.Background()

	u, err := s.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, u.Quota)
	assert.Equal(t, []string{}, u.Subdomains)

	cfg, err := s.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Empty(t, cfg.Reserved)
	assert.NotNil(t, cfg.Preallocated)

	q := 2
	require.NoError(t, s.PutUser(ctx, "u1", registry.UserRecord{Subdomains: []string{"a"}, Quota: &q}))
	require.NoError(t, s.PutReserved(ctx, []string{"admin"}))
	require.NoError(t, s.PutPreallocated(ctx, map[string]string{"acme": "u9"}))

	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u.Quota)
	assert.Equal(t, 2, *u.Quota)

	cfg, err = s.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, cfg.Reserved)
	assert.Equal(t, map[string]string{"acme": "u9"}, cfg.Preallocated)

	ids, err := s.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)
}

const legacyBlob = `{
  "claims": {
    "studio": {"userId": "user_a", "claimedAt": "2024-02-01T00:00:00Z"},
    "gallery": {"userId": "user_a", "claimedAt": "2024-03-01T00:00:00Z"},
    "shop": {"userId": "user_b", "claimedAt": "2024-01-01T00:00:00Z"}
  },
  "reserved": ["admin", "www"],
  "preallocated": {"acme": "user_acme"},
  "quotas": {"user_a": 5, "user_c": 1}
}`

func TestMigrateFromBlobNoop(t *testing.T) {
	s := New(newTestStore(t))

	res, err := s.MigrateFromBlob(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Migrated)
}

func TestMigrateFromBlob(t *testing.T) {
	store := newTestStore(t)
	s := New(store)
	ctx := context.Background()

	require.NoError(t, s.PutReserved(ctx, []string{"api"}))
	require.NoError(t, store.Put(ctx, LegacyKey, []byte(legacyBlob)))

	res, err := s.MigrateFromBlob(ctx)
	require.NoError(t, err)
	assert.Equal(t, MigrationResult{Migrated: true, Subdomains: 3, Users: 3}, res)

	_, err = store.Get(ctx, LegacyKey)
	assert.ErrorIs(t, err, kv.ErrNotFound)

	studio, err := s.GetSubdomain(ctx, "studio")
	require.NoError(t, err)
	require.NotNil(t, studio)
	assert.Equal(t, "user_a", studio.OwnerID)
	assert.Equal(t, registry.StatusActive, studio.Status)
	assert.Empty(t, studio.Collaborators)
	assert.True(t, studio.ClaimedAt.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))

	a, err := s.GetUser(ctx, "user_a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"studio", "gallery"}, a.Subdomains)
	require.NotNil(t, a.Quota)
	assert.Equal(t, 5, *a.Quota)

	b, err := s.GetUser(ctx, "user_b")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, b.Subdomains)
	assert.Nil(t, b.Quota)

	c, err := s.GetUser(ctx, "user_c")
	require.NoError(t, err)
	assert.Empty(t, c.Subdomains)
	require.NotNil(t, c.Quota)

	cfg, err := s.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "admin", "www"}, cfg.Reserved)
	assert.Equal(t, map[string]string{"acme": "user_acme"}, cfg.Preallocated)

	// second run finds no blob
	res, err = s.MigrateFromBlob(ctx)
	require.NoError(t, err)
	assert.False(t, res.Migrated)
}

func TestMigrateNormalizesConfigNames(t *testing.T) {
	store := newTestStore(t)
	s := New(store)
	ctx := context.Background()

	require.NoError(t, s.PutReserved(ctx, []string{"API"}))
	blob := `{"claims": {}, "reserved": ["Admin", " api ", "admin", ""], "preallocated": {"ACME": "user_acme", "": "nobody"}}`
	require.NoError(t, store.Put(ctx, LegacyKey, []byte(blob)))

	_, err := s.MigrateFromBlob(ctx)
	require.NoError(t, err)

	reserved, err := s.GetReserved(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "admin"}, reserved)

	preallocated, err := s.GetPreallocated(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"acme": "user_acme"}, preallocated)
}

func TestMergeNames(t *testing.T) {
	assert.Equal(t, []string{}, MergeNames())
	assert.Equal(t, []string{"admin", "www", "api"},
		MergeNames([]string{"Admin", " www"}, []string{"WWW", "", "api", "admin"}))
}

func TestMigrateFromBlobPartialFailureKeepsBlob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, LegacyKey, []byte(legacyBlob)))

	broken := New(&failingStore{Store: store, failOn: "user:user_b"})
	_, err := broken.MigrateFromBlob(ctx)
	require.Error(t, err)

	_, err = store.Get(ctx, LegacyKey)
	require.NoError(t, err, "legacy blob must survive a failed migration")

	// retry against a healthy backend completes
	res, err := New(store).MigrateFromBlob(ctx)
	require.NoError(t, err)
	assert.True(t, res.Migrated)

	b, err := New(store).GetUser(ctx, "user_b")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, b.Subdomains)

	// user_a was written twice but indexes each subdomain once
	a, err := New(store).GetUser(ctx, "user_a")
	require.NoError(t, err)
	assert.Len(t, a.Subdomains, 2)
}

func TestMigrateKeepsExistingRecords(t *testing.T) {
	store := newTestStore(t)
	s := New(store)
	ctx := context.Background()

	newer := registry.AddCollaborator(registry.CreateSubdomainRecord("user_a"), "x@example.com", registry.RightRead)
	require.NoError(t, s.PutSubdomain(ctx, "studio", newer))
	require.NoError(t, store.Put(ctx, LegacyKey, []byte(legacyBlob)))

	res, err := s.MigrateFromBlob(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Subdomains)

	studio, err := s.GetSubdomain(ctx, "studio")
	require.NoError(t, err)
	assert.Len(t, studio.Collaborators, 1)
}
