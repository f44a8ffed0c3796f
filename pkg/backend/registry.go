package backend

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/acorn-io/acorn-registry/pkg/billing"
	"github.com/acorn-io/acorn-registry/pkg/metrics"
	"github.com/acorn-io/acorn-registry/pkg/registry"
	"github.com/acorn-io/acorn-registry/pkg/storage"
	"github.com/acorn-io/acorn-registry/pkg/token"
	"github.com/sirupsen/logrus"
)

type backend struct {
	storage    *storage.Storage
	reserved   []string
	rules      registry.Rules
	planQuotas billing.PlanQuotas

	reconcileIntervalSeconds int64
}

func NewBackend(s *storage.Storage, opts Options) Backend {
	rules := opts.Rules
	if rules.MaxLength == 0 {
		rules = registry.DefaultRules
	}
	plans := opts.PlanQuotas
	if plans == nil {
		plans = billing.PlanQuotas{}
	}
	interval := opts.ReconcileIntervalSeconds
	if interval <= 0 {
		interval = 3600
	}

	return &backend{
		storage:                  s,
		reserved:                 opts.Reserved,
		rules:                    rules,
		planQuotas:               plans,
		reconcileIntervalSeconds: interval,
	}
}

// config merges the stored configuration with the reserved names given at
// startup. It is read once per operation.
func (b *backend) config(ctx context.Context) (storage.Config, error) {
	cfg, err := b.storage.LoadConfig(ctx)
	if err != nil {
		return storage.Config{}, fmt.Errorf("loading registry config: %w", err)
	}

	cfg.Reserved = storage.MergeNames(cfg.Reserved, b.reserved)
	return cfg, nil
}

func (b *backend) CheckAvailability(ctx context.Context, name string) (registry.Availability, error) {
	name = registry.NormalizeName(name)

	cfg, err := b.config(ctx)
	if err != nil {
		return registry.Availability{}, err
	}
	existing, err := b.storage.GetSubdomain(ctx, name)
	if err != nil {
		return registry.Availability{}, err
	}
	return b.rules.IsSubdomainAvailable(name, existing, cfg.Reserved, cfg.Preallocated), nil
}

// Claim is check-then-act. When the store supports conditional writes the
// final write only succeeds for the first claimant; otherwise concurrent
// claims of the same name end up last-write-wins.
func (b *backend) Claim(ctx context.Context, id token.Identity, name string) (ClaimResult, error) {
	name = registry.NormalizeName(name)
	log := logrus.WithFields(logrus.Fields{"subdomain": name, "userId": id.UserID})

	cfg, err := b.config(ctx)
	if err != nil {
		return ClaimResult{}, err
	}
	existing, err := b.storage.GetSubdomain(ctx, name)
	if err != nil {
		return ClaimResult{}, err
	}

	avail := b.rules.IsSubdomainAvailable(name, existing, cfg.Reserved, cfg.Preallocated)
	if !avail.Available {
		if avail.Reason == registry.ReasonPreallocated && avail.OwnerID == id.UserID {
			rec, err := b.materialize(ctx, name, id.UserID, existing)
			if err != nil {
				return ClaimResult{}, err
			}
			metrics.ClaimsTotal.WithLabelValues("preallocated").Inc()
			return ClaimResult{Name: name, Record: rec}, nil
		}
		metrics.ClaimsTotal.WithLabelValues("unavailable").Inc()
		return ClaimResult{}, &UnavailableError{Availability: avail}
	}

	user, err := b.storage.GetUser(ctx, id.UserID)
	if err != nil {
		return ClaimResult{}, err
	}
	owned, err := b.ownedNewestFirst(ctx, id.UserID, user)
	if err != nil {
		return ClaimResult{}, err
	}

	quota := b.quotaFor(user, id.Plan)
	if registry.OverQuota(len(owned), quota) {
		metrics.ClaimsTotal.WithLabelValues("quota_exceeded").Inc()
		return ClaimResult{}, &QuotaExceededError{Current: len(owned), Quota: registry.EffectiveQuota(quota)}
	}

	rec := registry.CreateSubdomainRecord(id.UserID)
	created, err := b.storage.CreateSubdomain(ctx, name, rec)
	if err != nil {
		return ClaimResult{}, err
	}
	if !created {
		log.Info("lost claim race")
		metrics.ClaimsTotal.WithLabelValues("unavailable").Inc()
		winner, err := b.storage.GetSubdomain(ctx, name)
		if err != nil {
			return ClaimResult{}, err
		}
		avail := registry.Availability{Reason: registry.ReasonClaimed}
		if winner != nil {
			avail.OwnerID = winner.OwnerID
		}
		return ClaimResult{}, &UnavailableError{Availability: avail}
	}

	if err := b.storage.PutUser(ctx, id.UserID, user.WithSubdomain(name)); err != nil {
		return ClaimResult{}, err
	}

	log.Info("subdomain claimed")
	metrics.ClaimsTotal.WithLabelValues("created").Inc()
	return ClaimResult{Name: name, Record: rec}, nil
}

// quotaFor prefers the stored quota and falls back to the plan carried by
// the token. nil means unlimited.
func (b *backend) quotaFor(user registry.UserRecord, plan string) *int {
	if user.Quota != nil {
		return user.Quota
	}
	return b.planQuotas.QuotaForPlan(plan)
}

// ownedNewestFirst resolves the user's index to the subdomains they own.
func (b *backend) ownedNewestFirst(ctx context.Context, userID string, user registry.UserRecord) ([]string, error) {
	records := make(map[string]registry.SubdomainRecord, len(user.Subdomains))
	for _, name := range user.Subdomains {
		rec, err := b.storage.GetSubdomain(ctx, name)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records[name] = *rec
		}
	}
	return registry.OwnedNewestFirst(userID, records), nil
}

// materialize turns a preallocated name into a real record on first access.
func (b *backend) materialize(ctx context.Context, name, ownerID string, existing *registry.SubdomainRecord) (registry.SubdomainRecord, error) {
	if existing != nil {
		return *existing, nil
	}

	rec := registry.CreateSubdomainRecord(ownerID)
	created, err := b.storage.CreateSubdomain(ctx, name, rec)
	if err != nil {
		return registry.SubdomainRecord{}, err
	}
	if !created {
		current, err := b.storage.GetSubdomain(ctx, name)
		if err != nil {
			return registry.SubdomainRecord{}, err
		}
		if current != nil {
			rec = *current
		}
	}

	user, err := b.storage.GetUser(ctx, ownerID)
	if err != nil {
		return registry.SubdomainRecord{}, err
	}
	if err := b.storage.PutUser(ctx, ownerID, user.WithSubdomain(name)); err != nil {
		return registry.SubdomainRecord{}, err
	}

	logrus.WithFields(logrus.Fields{"subdomain": name, "userId": ownerID}).Info("materialized preallocated subdomain")
	return rec, nil
}

// lookup returns the record for name, materializing preallocated names.
func (b *backend) lookup(ctx context.Context, name string) (registry.SubdomainRecord, error) {
	rec, err := b.storage.GetSubdomain(ctx, name)
	if err != nil {
		return registry.SubdomainRecord{}, err
	}
	if rec != nil {
		return *rec, nil
	}

	cfg, err := b.config(ctx)
	if err != nil {
		return registry.SubdomainRecord{}, err
	}
	if owner, ok := cfg.Preallocated[name]; ok {
		return b.materialize(ctx, name, owner, nil)
	}
	return registry.SubdomainRecord{}, ErrNotFound
}

func (b *backend) Release(ctx context.Context, userID, name string) error {
	name = registry.NormalizeName(name)

	rec, err := b.storage.GetSubdomain(ctx, name)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	if rec.OwnerID != userID {
		return ErrForbidden
	}
	return b.release(ctx, name, *rec, "explicit")
}

// release deletes the record and drops the name from the owner's and every
// active collaborator's index.
func (b *backend) release(ctx context.Context, name string, rec registry.SubdomainRecord, cause string) error {
	if err := b.storage.DeleteSubdomain(ctx, name); err != nil {
		return fmt.Errorf("releasing %s: %w", name, err)
	}

	userIDs := []string{rec.OwnerID}
	for _, c := range rec.Collaborators {
		if c.UserID != "" && c.UserID != rec.OwnerID {
			userIDs = append(userIDs, c.UserID)
		}
	}
	for _, id := range userIDs {
		if err := b.unindex(ctx, id, name); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{"subdomain": name, "userId": rec.OwnerID, "cause": cause}).Info("subdomain released")
	metrics.ReleasedSubdomainsTotal.WithLabelValues(cause).Inc()
	return nil
}

func (b *backend) unindex(ctx context.Context, userID, name string) error {
	user, err := b.storage.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasSubdomain(name) {
		return nil
	}
	return b.storage.PutUser(ctx, userID, user.WithoutSubdomain(name))
}

func (b *backend) ApplySubscriptionEvent(ctx context.Context, event billing.Event) (QuotaChange, error) {
	quota, err := event.Quota(b.planQuotas)
	if err != nil {
		return QuotaChange{}, err
	}
	userID := event.Data.UserID

	user, err := b.storage.GetUser(ctx, userID)
	if err != nil {
		return QuotaChange{}, err
	}
	user.Quota = &quota
	if err := b.storage.PutUser(ctx, userID, user); err != nil {
		return QuotaChange{}, err
	}

	released, err := b.Reconcile(ctx, userID)
	if err != nil {
		return QuotaChange{}, err
	}

	logrus.WithFields(logrus.Fields{"userId": userID, "event": event.Type, "quota": quota}).Infof("quota updated, released %d", len(released))
	return QuotaChange{UserID: userID, Quota: quota, Released: released}, nil
}

// Reconcile releases the oldest owned subdomains beyond the user's stored
// quota. It releases nothing when the user is within quota.
func (b *backend) Reconcile(ctx context.Context, userID string) ([]string, error) {
	user, err := b.storage.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Quota == nil {
		return []string{}, nil
	}

	owned, err := b.ownedNewestFirst(ctx, userID, user)
	if err != nil {
		return nil, err
	}

	released := []string{}
	for _, name := range registry.SubdomainsToRelease(owned, user.Quota) {
		rec, err := b.storage.GetSubdomain(ctx, name)
		if err != nil {
			return released, err
		}
		if rec == nil {
			continue
		}
		if err := b.release(ctx, name, *rec, "quota"); err != nil {
			return released, err
		}
		released = append(released, name)
	}
	return released, nil
}

func (b *backend) Access(ctx context.Context, userID, name string) (registry.Access, error) {
	rec, err := b.lookup(ctx, registry.NormalizeName(name))
	if err != nil {
		return registry.Access{}, err
	}
	return registry.HasAccess(rec, userID), nil
}

// ownedForChange loads a subdomain the caller owns and that is not frozen.
func (b *backend) ownedForChange(ctx context.Context, ownerID, name string) (registry.SubdomainRecord, error) {
	rec, err := b.lookup(ctx, name)
	if err != nil {
		return registry.SubdomainRecord{}, err
	}
	if rec.OwnerID != ownerID {
		return registry.SubdomainRecord{}, ErrForbidden
	}
	if rec.IsFrozen() {
		return registry.SubdomainRecord{}, ErrFrozen
	}
	return rec, nil
}

func (b *backend) InviteCollaborator(ctx context.Context, ownerID, name, email string, right registry.Right) (registry.Collaborator, error) {
	name = registry.NormalizeName(name)
	rec, err := b.ownedForChange(ctx, ownerID, name)
	if err != nil {
		return registry.Collaborator{}, err
	}

	rec = registry.AddCollaborator(rec, email, right)
	if err := b.storage.PutSubdomain(ctx, name, rec); err != nil {
		return registry.Collaborator{}, err
	}

	c, _ := rec.FindCollaborator(email)
	return c, nil
}

func (b *backend) RedeemInvite(ctx context.Context, userID, name, email, code string) (registry.Access, error) {
	name = registry.NormalizeName(name)
	rec, err := b.lookup(ctx, name)
	if err != nil {
		return registry.Access{}, err
	}
	if rec.IsFrozen() {
		return registry.Access{}, ErrFrozen
	}

	c, ok := rec.FindCollaborator(email)
	if !ok || c.Status != registry.CollaboratorInvited ||
		subtle.ConstantTimeCompare([]byte(c.InviteCode), []byte(code)) != 1 {
		return registry.Access{}, ErrInvalidInvite
	}

	rec = registry.ActivateCollaborator(rec, email, userID)
	if err := b.storage.PutSubdomain(ctx, name, rec); err != nil {
		return registry.Access{}, err
	}

	user, err := b.storage.GetUser(ctx, userID)
	if err != nil {
		return registry.Access{}, err
	}
	if err := b.storage.PutUser(ctx, userID, user.WithSubdomain(name)); err != nil {
		return registry.Access{}, err
	}

	return registry.HasAccess(rec, userID), nil
}

func (b *backend) RemoveCollaborator(ctx context.Context, ownerID, name, email string) error {
	name = registry.NormalizeName(name)
	rec, err := b.ownedForChange(ctx, ownerID, name)
	if err != nil {
		return err
	}

	c, ok := rec.FindCollaborator(email)
	if !ok {
		return nil
	}
	if err := b.storage.PutSubdomain(ctx, name, registry.RemoveCollaborator(rec, email)); err != nil {
		return err
	}
	if c.UserID != "" && c.UserID != rec.OwnerID {
		return b.unindex(ctx, c.UserID, name)
	}
	return nil
}

func (b *backend) setFrozen(ctx context.Context, name string, frozen bool) (registry.SubdomainRecord, error) {
	name = registry.NormalizeName(name)
	rec, err := b.lookup(ctx, name)
	if err != nil {
		return registry.SubdomainRecord{}, err
	}
	if frozen {
		rec = registry.FreezeSubdomain(rec)
	} else {
		rec = registry.UnfreezeSubdomain(rec)
	}
	return rec, b.storage.PutSubdomain(ctx, name, rec)
}

func (b *backend) Freeze(ctx context.Context, name string) (registry.SubdomainRecord, error) {
	return b.setFrozen(ctx, name, true)
}

func (b *backend) Unfreeze(ctx context.Context, name string) (registry.SubdomainRecord, error) {
	return b.setFrozen(ctx, name, false)
}

func (b *backend) GetUser(ctx context.Context, id token.Identity) (UserSummary, error) {
	user, err := b.storage.GetUser(ctx, id.UserID)
	if err != nil {
		return UserSummary{}, err
	}
	owned, err := b.ownedNewestFirst(ctx, id.UserID, user)
	if err != nil {
		return UserSummary{}, err
	}
	if owned == nil {
		owned = []string{}
	}
	return UserSummary{
		UserID:     id.UserID,
		Subdomains: user.Subdomains,
		Owned:      owned,
		Quota:      registry.EffectiveQuota(b.quotaFor(user, id.Plan)),
	}, nil
}

func (b *backend) LegacyRegistry(ctx context.Context) (storage.LegacyRegistry, error) {
	records, err := b.storage.ListSubdomains(ctx)
	if err != nil {
		return storage.LegacyRegistry{}, err
	}
	cfg, err := b.config(ctx)
	if err != nil {
		return storage.LegacyRegistry{}, err
	}

	claims := make(map[string]storage.LegacyClaim, len(records))
	for name, rec := range records {
		claims[name] = storage.LegacyClaim{
			UserID:    rec.OwnerID,
			ClaimedAt: rec.ClaimedAt,
		}
	}

	ids, err := b.storage.ListUserIDs(ctx)
	if err != nil {
		return storage.LegacyRegistry{}, err
	}
	quotas := map[string]int{}
	for _, id := range ids {
		u, err := b.storage.GetUser(ctx, id)
		if err != nil {
			return storage.LegacyRegistry{}, err
		}
		if u.Quota != nil {
			quotas[id] = *u.Quota
		}
	}

	return storage.LegacyRegistry{
		Claims:       claims,
		Reserved:     cfg.Reserved,
		Preallocated: cfg.Preallocated,
		Quotas:       quotas,
	}, nil
}

func (b *backend) ListSubdomains(ctx context.Context) (map[string]registry.SubdomainRecord, error) {
	return b.storage.ListSubdomains(ctx)
}

func (b *backend) Migrate(ctx context.Context) (storage.MigrationResult, error) {
	start := time.Now()
	res, err := b.storage.MigrateFromBlob(ctx)
	if err != nil {
		return res, err
	}
	logrus.WithField("duration", time.Since(start)).Debugf("migration finished, migrated=%v", res.Migrated)
	return res, nil
}
