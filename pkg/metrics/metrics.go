// Package metrics holds the Prometheus collectors used across the registry.
// They are registered with the default registry and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_claims_total",
			Help: "Subdomain claim attempts by outcome.",
		}, []string{"outcome"})

	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_auth_failures_total",
			Help: "Bearer token verification failures by reason.",
		}, []string{"reason"})

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_webhook_events_total",
			Help: "Billing webhook events by type and outcome.",
		}, []string{"type", "outcome"})

	ReleasedSubdomainsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_released_subdomains_total",
			Help: "Subdomains released, by cause.",
		}, []string{"cause"})

	LedgerDiscoveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_discovery_total",
			Help: "Ledger resolutions by tier.",
		}, []string{"tier"})
)

func init() {
	prometheus.MustRegister(
		ClaimsTotal,
		AuthFailuresTotal,
		WebhookEventsTotal,
		ReleasedSubdomainsTotal,
		LedgerDiscoveryTotal,
	)
}
