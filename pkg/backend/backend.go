package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/acorn-io/acorn-registry/pkg/billing"
	"github.com/acorn-io/acorn-registry/pkg/registry"
	"github.com/acorn-io/acorn-registry/pkg/storage"
	"github.com/acorn-io/acorn-registry/pkg/token"
)

var (
	ErrNotFound      = errors.New("subdomain not found")
	ErrForbidden     = errors.New("forbidden")
	ErrFrozen        = errors.New("subdomain is frozen")
	ErrInvalidInvite = errors.New("invalid or already redeemed invite")
)

// UnavailableError is returned by Claim when the name cannot be taken.
type UnavailableError struct {
	Availability registry.Availability
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("subdomain unavailable: %s", e.Availability.Reason)
}

// QuotaExceededError is returned by Claim when the caller already owns as many
// subdomains as their quota allows.
type QuotaExceededError struct {
	Current int
	Quota   int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d subdomains in use", e.Current, e.Quota)
}

type ClaimResult struct {
	Name   string
	Record registry.SubdomainRecord
}

type QuotaChange struct {
	UserID   string   `json:"userId"`
	Quota    int      `json:"quota"`
	Released []string `json:"released"`
}

type UserSummary struct {
	UserID     string   `json:"userId"`
	Subdomains []string `json:"subdomains"`
	Owned      []string `json:"owned"`
	Quota      int      `json:"quota"`
}

type Backend interface {
	CheckAvailability(ctx context.Context, name string) (registry.Availability, error)
	Claim(ctx context.Context, id token.Identity, name string) (ClaimResult, error)
	Release(ctx context.Context, userID, name string) error
	ApplySubscriptionEvent(ctx context.Context, event billing.Event) (QuotaChange, error)
	Reconcile(ctx context.Context, userID string) ([]string, error)
	ReconcileAll(ctx context.Context) (int, error)
	Access(ctx context.Context, userID, name string) (registry.Access, error)
	InviteCollaborator(ctx context.Context, ownerID, name, email string, right registry.Right) (registry.Collaborator, error)
	RedeemInvite(ctx context.Context, userID, name, email, code string) (registry.Access, error)
	RemoveCollaborator(ctx context.Context, ownerID, name, email string) error
	Freeze(ctx context.Context, name string) (registry.SubdomainRecord, error)
	Unfreeze(ctx context.Context, name string) (registry.SubdomainRecord, error)
	GetUser(ctx context.Context, id token.Identity) (UserSummary, error)
	LegacyRegistry(ctx context.Context) (storage.LegacyRegistry, error)
	ListSubdomains(ctx context.Context) (map[string]registry.SubdomainRecord, error)
	Migrate(ctx context.Context) (storage.MigrationResult, error)
	StartReconcileDaemon(done <-chan struct{})
}

type Options struct {
	// Reserved names from process configuration, merged with config:reserved.
	Reserved   []string
	Rules      registry.Rules
	PlanQuotas billing.PlanQuotas

	ReconcileIntervalSeconds int64
}
