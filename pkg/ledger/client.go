// Package ledger scopes sync credentials to the per-tenant ledger that backs a
// local database. The credential service has no notion of "one ledger per
// database name", so the Router resolves the ledger before asking for a
// credential and learns the id of ledgers the service creates on its behalf.
package ledger

import (
	"context"
	"time"
)

type Ledger struct {
	ID   string `json:"ledgerId"`
	Name string `json:"name"`
}

type CredentialRequest struct {
	DatabaseName string `json:"databaseName"`
	// LedgerID empty asks the credential service to create a new ledger.
	LedgerID string `json:"ledgerId,omitempty"`
}

type Credential struct {
	Token     string    `json:"token"`
	LedgerID  string    `json:"ledgerId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Client is the credential service the Router wraps.
type Client interface {
	EnsureCredential(ctx context.Context, req CredentialRequest) (Credential, error)
	ListLedgersByUser(ctx context.Context) ([]Ledger, error)
	RedeemInvite(ctx context.Context, inviteID string) error
}
