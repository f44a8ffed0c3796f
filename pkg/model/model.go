package model

import (
	"time"

	"github.com/acorn-io/acorn-registry/pkg/registry"
)

const (
	ErrorUnauthorized          = "unauthorized"
	ErrorUnavailable           = "unavailable"
	ErrorQuotaExceeded         = "quota_exceeded"
	ErrorNotFound              = "not_found"
	ErrorForbidden             = "forbidden"
	ErrorFrozen                = "frozen"
	ErrorInvalidRequest        = "invalid_request"
	ErrorInvalidSignature      = "invalid_signature"
	ErrorMissingHeaders        = "missing_signature_headers"
	ErrorInvalidInvite         = "invalid_invite"
	ErrorInternal              = "internal_error"
	ErrorAIProxyNotConfigured  = "ai_proxy_not_configured"
	ErrorAIProxyUpstreamFailed = "ai_upstream_failed"
)

type ErrorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	FailReason string `json:"failReason,omitempty"`
	Message    string `json:"msg,omitempty"`
}

type QuotaExceededResponse struct {
	Error   string `json:"error"`
	Current int    `json:"current"`
	Quota   int    `json:"quota"`
}

type ClaimRequest struct {
	Subdomain string `json:"subdomain" validate:"required,max=253"`
}

type ClaimResponse struct {
	Subdomain string    `json:"subdomain"`
	OwnerID   string    `json:"ownerId"`
	ClaimedAt time.Time `json:"claimedAt"`
}

type ReleaseResponse struct {
	Subdomain string `json:"subdomain"`
	Released  bool   `json:"released"`
}

type CollaboratorRequest struct {
	Email string         `json:"email" validate:"required,email"`
	Right registry.Right `json:"right" validate:"required,oneof=read write"`
}

type InviteResponse struct {
	Subdomain  string                      `json:"subdomain"`
	Email      string                      `json:"email"`
	Right      registry.Right              `json:"right"`
	Status     registry.CollaboratorStatus `json:"status"`
	InviteCode string                      `json:"inviteCode,omitempty"`
}

type RedeemRequest struct {
	Email      string `json:"email" validate:"required,email"`
	InviteCode string `json:"inviteCode" validate:"required"`
}

type WebhookResponse struct {
	Received bool     `json:"received"`
	Type     string   `json:"type"`
	UserID   string   `json:"userId,omitempty"`
	Quota    *int     `json:"quota,omitempty"`
	Released []string `json:"released,omitempty"`
}

type FreezeResponse struct {
	Subdomain string                   `json:"subdomain"`
	Record    registry.SubdomainRecord `json:"record"`
}
