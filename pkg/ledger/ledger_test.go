package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu         sync.Mutex
	ledgers    []Ledger
	requests   []CredentialRequest
	listCalls  int
	redeemed   []string
	redeemErr  error
	listErr    error
	credential Credential
}

func (f *fakeClient) EnsureCredential(_ context.Context, req CredentialRequest) (Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	cred := f.credential
	cred.LedgerID = req.LedgerID
	return cred, nil
}

func (f *fakeClient) ListLedgersByUser(context.Context) ([]Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Ledger(nil), f.ledgers...), nil
}

func (f *fakeClient) RedeemInvite(_ context.Context, inviteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redeemErr != nil {
		return f.redeemErr
	}
	f.redeemed = append(f.redeemed, inviteID)
	return nil
}

func (f *fakeClient) setLedgers(ledgers ...Ledger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledgers = ledgers
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// recordingSleep returns immediately, recording each delay and running hook
// with the attempt number first.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(attempt int)
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	attempt := len(s.delays)
	s.mu.Unlock()
	if s.hook != nil {
		s.hook(attempt)
	}
	return ctx.Err()
}

func newTestRouter(client *fakeClient, cache Cache, sleep *recordingSleep) *Router {
	return NewRouter(client, cache, WithHostname("host-7"), WithSleep(sleep.sleep))
}

func TestMatch(t *testing.T) {
	ledgers := []Ledger{
		{ID: "l1", Name: "host-7 scratch"},
		{ID: "l2", Name: "notes-prod"},
		{ID: "l3", Name: "notes-staging"},
	}

	tests := []struct {
		name     string
		database string
		hostname string
		want     string
		found    bool
	}{
		{"database name wins over host", "notes", "host-7", "l2", true},
		{"host name fallback", "billing", "host-7", "l1", true},
		{"no match", "billing", "host-9", "", false},
		{"empty database name", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Match(ledgers, tt.database, tt.hostname)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := Match(nil, "notes", "host-7")
	assert.False(t, ok)
}

func TestDiscoveryBackOffSchedule(t *testing.T) {
	b := NewDiscoveryBackOff()
	var got []time.Duration
	for d := b.NextBackOff(); d >= 0; d = b.NextBackOff() {
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}, got)
}

func TestEnsureCredentialExplicit(t *testing.T) {
	client := &fakeClient{}
	r := newTestRouter(client, NewMemoryCache(), &recordingSleep{})
	defer r.Close()

	cred, err := r.EnsureCredential(context.Background(), CredentialRequest{DatabaseName: "notes", LedgerID: "given"})
	require.NoError(t, err)
	assert.Equal(t, "given", cred.LedgerID)
	assert.Equal(t, 0, client.calls())
}

func TestEnsureCredentialCacheHit(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{ledgers: []Ledger{{ID: "other", Name: "notes"}}}
	cache := NewMemoryCache()
	require.NoError(t, cache.Set(ctx, "notes", "cached"))

	r := newTestRouter(client, cache, &recordingSleep{})
	defer r.Close()

	cred, err := r.EnsureCredential(ctx, CredentialRequest{DatabaseName: "notes"})
	require.NoError(t, err)
	assert.Equal(t, "cached", cred.LedgerID)
	assert.Equal(t, 0, client.calls())
}

func TestEnsureCredentialDiscovery(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{ledgers: []Ledger{
		{ID: "l1", Name: "unrelated"},
		{ID: "l2", Name: "notes-db"},
	}}
	cache := NewMemoryCache()
	sleep := &recordingSleep{}
	r := newTestRouter(client, cache, sleep)
	defer r.Close()

	cred, err := r.EnsureCredential(ctx, CredentialRequest{DatabaseName: "notes"})
	require.NoError(t, err)
	assert.Equal(t, "l2", cred.LedgerID)

	id, ok, err := cache.Get(ctx, "notes")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "l2", id)

	r.Wait()
	assert.Empty(t, sleep.delays)
}

func TestEnsureCredentialLearnsCreatedLedger(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{ledgers: []Ledger{{ID: "l1", Name: "unrelated"}}}
	cache := NewMemoryCache()
	sleep := &recordingSleep{}
	sleep.hook = func(attempt int) {
		if attempt == 3 {
			client.setLedgers(Ledger{ID: "l1", Name: "unrelated"}, Ledger{ID: "new", Name: "notes"})
		}
	}
	r := newTestRouter(client, cache, sleep)
	defer r.Close()

	cred, err := r.EnsureCredential(ctx, CredentialRequest{DatabaseName: "notes"})
	require.NoError(t, err)
	assert.Empty(t, cred.LedgerID)

	r.Wait()

	id, ok, err := cache.Get(ctx, "notes")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", id)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, sleep.delays)
	assert.Equal(t, 4, client.calls())

	// The next request resolves from the cache.
	cred, err = r.EnsureCredential(ctx, CredentialRequest{DatabaseName: "notes"})
	require.NoError(t, err)
	assert.Equal(t, "new", cred.LedgerID)
}

func TestDiscoveryGivesUp(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	cache := NewMemoryCache()
	sleep := &recordingSleep{}
	r := newTestRouter(client, cache, sleep)
	defer r.Close()

	_, err := r.EnsureCredential(ctx, CredentialRequest{DatabaseName: "notes"})
	require.NoError(t, err)
	r.Wait()

	assert.Len(t, sleep.delays, discoveryAttempts)
	assert.Equal(t, 1+discoveryAttempts, client.calls())

	_, ok, err := cache.Get(ctx, "notes")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiscoveryStopsOnCacheHit(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	cache := NewMemoryCache()
	sleep := &recordingSleep{}
	sleep.hook = func(int) {
		_ = cache.Set(ctx, "notes", "from-invite")
	}
	r := newTestRouter(client, cache, sleep)
	defer r.Close()

	_, err := r.EnsureCredential(ctx, CredentialRequest{DatabaseName: "notes"})
	require.NoError(t, err)
	r.Wait()

	assert.Len(t, sleep.delays, 1)
	assert.Equal(t, 1, client.calls())

	id, _, err := cache.Get(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "from-invite", id)
}

func TestCloseCancelsDiscovery(t *testing.T) {
	client := &fakeClient{}
	started := make(chan struct{})
	r := NewRouter(client, NewMemoryCache(), WithSleep(func(ctx context.Context, d time.Duration) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	_, err := r.EnsureCredential(context.Background(), CredentialRequest{DatabaseName: "notes"})
	require.NoError(t, err)

	<-started
	r.Close()
	assert.Equal(t, 1, client.calls())
}

func TestEnsureCredentialAfterCloseSchedulesNothing(t *testing.T) {
	client := &fakeClient{}
	sleep := &recordingSleep{}
	r := newTestRouter(client, NewMemoryCache(), sleep)
	r.Close()

	cred, err := r.EnsureCredential(context.Background(), CredentialRequest{DatabaseName: "notes"})
	require.NoError(t, err)
	assert.Empty(t, cred.LedgerID)
	r.Wait()

	assert.Empty(t, sleep.delays)
	assert.Equal(t, 1, client.calls())
}

func TestConcurrentCloseAndEnsureCredential(t *testing.T) {
	client := &fakeClient{}
	r := newTestRouter(client, NewMemoryCache(), &recordingSleep{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.EnsureCredential(context.Background(), CredentialRequest{DatabaseName: fmt.Sprintf("db-%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	r.Close()
	wg.Wait()
	r.Close()
}

func TestDiscoveryErrorStillForwards(t *testing.T) {
	client := &fakeClient{listErr: errors.New("service unavailable")}
	r := newTestRouter(client, NewMemoryCache(), &recordingSleep{})
	defer r.Close()

	cred, err := r.EnsureCredential(context.Background(), CredentialRequest{DatabaseName: "notes"})
	require.NoError(t, err)
	assert.Empty(t, cred.LedgerID)
	r.Wait()
}

func TestRedeemInviteSeedsCache(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{ledgers: []Ledger{{ID: "shared", Name: "team-notes"}}}
	cache := NewMemoryCache()
	r := newTestRouter(client, cache, &recordingSleep{})
	defer r.Close()

	require.NoError(t, r.RedeemInvite(ctx, "inv_1", "team-notes"))
	assert.Equal(t, []string{"inv_1"}, client.redeemed)

	id, ok, err := cache.Get(ctx, "team-notes")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "shared", id)

	client.redeemErr = errors.New("expired")
	assert.Error(t, r.RedeemInvite(ctx, "inv_2", "team-notes"))
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	cache := NewRedisCache(client, time.Hour)

	_, ok, err := cache.Get(ctx, "notes")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "notes", "l2"))
	id, ok, err := cache.Get(ctx, "notes")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "l2", id)
	assert.Equal(t, time.Hour, mr.TTL("ledger:notes"))

	mr.FastForward(2 * time.Hour)
	_, ok, err = cache.Get(ctx, "notes")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusBridgeNotifiesOnChange(t *testing.T) {
	b := NewStatusBridge(nil)
	defer b.Close()

	var seen []SyncState
	cancel := b.Subscribe(func(s SyncState) { seen = append(seen, s) })

	b.Update(StateConnecting)
	b.Update(StateConnecting)
	b.Update(StateSyncing)
	assert.Equal(t, StateSyncing, b.State())

	cancel()
	b.Update(StateError)
	assert.Equal(t, []SyncState{StateConnecting, StateSyncing}, seen)
}

func TestStatusBridgeRefreshesAfterSync(t *testing.T) {
	var calls int32
	b := NewStatusBridge(func(context.Context) (bool, error) {
		return atomic.AddInt32(&calls, 1) >= 3, nil
	}).WithPolling(5*time.Millisecond, 5*time.Second)

	b.Update(StateSyncing)
	b.Update(StateSynced)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, time.Millisecond)
	b.Close()
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestStatusBridgeRefreshIsBounded(t *testing.T) {
	var calls int32
	b := NewStatusBridge(func(context.Context) (bool, error) {
		atomic.AddInt32(&calls, 1)
		return false, errors.New("not yet")
	}).WithPolling(5*time.Millisecond, 30*time.Millisecond)

	b.Update(StateSynced)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh poll did not stop at its timeout")
	}

	n := atomic.LoadInt32(&calls)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&calls))
}
