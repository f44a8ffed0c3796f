package ledger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/acorn-io/acorn-registry/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	TierExplicit  = "explicit"
	TierCache     = "cache"
	TierDiscovery = "discovery"
	TierCreated   = "created"

	discoveryAttempts = 5
)

// NewDiscoveryBackOff is the schedule used to learn the id of a ledger the
// credential service has just created: 2s, 4s, 8s, 8s, 8s.
func NewDiscoveryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 8 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, discoveryAttempts)
}

type Option func(*Router)

func WithHostname(hostname string) Option {
	return func(r *Router) { r.hostname = hostname }
}

func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(r *Router) { r.newBackOff = newBackOff }
}

// WithSleep replaces the delay between discovery attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Router) { r.sleep = sleep }
}

type Router struct {
	client     Client
	cache      Cache
	hostname   string
	newBackOff func() backoff.BackOff
	sleep      func(ctx context.Context, d time.Duration) error
	log        *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]bool
}

func NewRouter(client Client, cache Cache, opts ...Option) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	hostname, _ := os.Hostname()

	r := &Router{
		client:     client,
		cache:      cache,
		hostname:   hostname,
		newBackOff: NewDiscoveryBackOff,
		sleep:      sleepContext,
		log:        logrus.WithField("component", "ledger-router"),
		ctx:        ctx,
		cancel:     cancel,
		pending:    map[string]bool{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Match returns the first ledger whose name contains the database name, then
// the first whose name contains the host name. Empty needles never match.
func Match(ledgers []Ledger, databaseName, hostname string) (string, bool) {
	for _, needle := range []string{databaseName, hostname} {
		if needle == "" {
			continue
		}
		for _, l := range ledgers {
			if strings.Contains(l.Name, needle) {
				return l.ID, true
			}
		}
	}
	return "", false
}

func (r *Router) discover(ctx context.Context, databaseName string) (string, bool, error) {
	ledgers, err := r.client.ListLedgersByUser(ctx)
	if err != nil {
		return "", false, fmt.Errorf("listing ledgers: %w", err)
	}
	id, ok := Match(ledgers, databaseName, r.hostname)
	return id, ok, nil
}

// EnsureCredential resolves the ledger for req and forwards it. Resolution
// tries the explicit id, then the cache, then discovery. When nothing
// matches the request goes out with no ledger and a background task learns
// the id of the ledger the service creates.
func (r *Router) EnsureCredential(ctx context.Context, req CredentialRequest) (Credential, error) {
	log := r.log.WithField("databaseName", req.DatabaseName)

	if req.LedgerID != "" {
		metrics.LedgerDiscoveryTotal.WithLabelValues(TierExplicit).Inc()
		return r.client.EnsureCredential(ctx, req)
	}

	id, ok, err := r.cache.Get(ctx, req.DatabaseName)
	if err != nil {
		log.Warnf("ledger cache lookup failed: %v", err)
	} else if ok {
		metrics.LedgerDiscoveryTotal.WithLabelValues(TierCache).Inc()
		req.LedgerID = id
		return r.client.EnsureCredential(ctx, req)
	}

	id, ok, err = r.discover(ctx, req.DatabaseName)
	if err != nil {
		log.Warnf("ledger discovery failed: %v", err)
	} else if ok {
		metrics.LedgerDiscoveryTotal.WithLabelValues(TierDiscovery).Inc()
		r.store(ctx, req.DatabaseName, id)
		req.LedgerID = id
		return r.client.EnsureCredential(ctx, req)
	}

	metrics.LedgerDiscoveryTotal.WithLabelValues(TierCreated).Inc()
	req.LedgerID = ""
	cred, err := r.client.EnsureCredential(ctx, req)
	if err != nil {
		return cred, err
	}
	r.scheduleDiscovery(req.DatabaseName)
	return cred, nil
}

func (r *Router) store(ctx context.Context, databaseName, ledgerID string) {
	if err := r.cache.Set(ctx, databaseName, ledgerID); err != nil {
		r.log.WithField("databaseName", databaseName).Warnf("unable to cache ledger %s: %v", ledgerID, err)
	}
}

// scheduleDiscovery starts at most one background task per database name.
func (r *Router) scheduleDiscovery(databaseName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[databaseName] || r.ctx.Err() != nil {
		return
	}
	r.pending[databaseName] = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.pending, databaseName)
			r.mu.Unlock()
		}()
		r.pollDiscovery(databaseName)
	}()
}

func (r *Router) pollDiscovery(databaseName string) {
	log := r.log.WithField("databaseName", databaseName)
	b := backoff.WithContext(r.newBackOff(), r.ctx)

	for attempt := 1; ; attempt++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			log.Infof("gave up discovering created ledger after %d attempts", attempt-1)
			return
		}
		if err := r.sleep(r.ctx, d); err != nil {
			return
		}

		// Someone else resolved it in the meantime.
		if _, ok, err := r.cache.Get(r.ctx, databaseName); err == nil && ok {
			return
		}

		id, ok, err := r.discover(r.ctx, databaseName)
		if err != nil {
			log.Debugf("discovery attempt %d failed: %v", attempt, err)
			continue
		}
		if ok {
			log.Infof("discovered ledger %s on attempt %d", id, attempt)
			r.store(r.ctx, databaseName, id)
			return
		}
	}
}

// RedeemInvite redeems the invite and runs one discovery pass so the
// invited database resolves from the cache on its next credential request.
func (r *Router) RedeemInvite(ctx context.Context, inviteID, databaseName string) error {
	if err := r.client.RedeemInvite(ctx, inviteID); err != nil {
		return fmt.Errorf("redeeming invite %s: %w", inviteID, err)
	}

	id, ok, err := r.discover(ctx, databaseName)
	if err != nil {
		r.log.WithField("databaseName", databaseName).Warnf("discovery after invite failed: %v", err)
		return nil
	}
	if ok {
		r.store(ctx, databaseName, id)
	}
	return nil
}

// Wait blocks until every scheduled discovery task has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Close cancels scheduled discovery tasks and waits for them to exit.
func (r *Router) Close() {
	// cancel under mu so scheduleDiscovery cannot Add to wg once Wait starts
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}
