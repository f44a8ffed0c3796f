package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	EventSubscriptionCreated = "subscription.created"
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	UserID   string `json:"user_id"`
	Quantity *int   `json:"quantity,omitempty"`
	Plan     string `json:"plan,omitempty"`
}

func ParseEvent(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrInvalidPayload)
	}
	return e, nil
}

// IsSubscription reports whether the event affects quotas at all.
func (e Event) IsSubscription() bool {
	switch e.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

// Quota returns the quota the event sets for its user. A deleted subscription
// means zero. Otherwise the quantity wins, then the plan mapping.
func (e Event) Quota(plans PlanQuotas) (int, error) {
	if e.Data.UserID == "" {
		return 0, fmt.Errorf("%w: missing user_id", ErrInvalidPayload)
	}

	switch e.Type {
	case EventSubscriptionDeleted:
		return 0, nil
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if e.Data.Quantity != nil {
			if *e.Data.Quantity < 0 {
				return 0, fmt.Errorf("%w: negative quantity", ErrInvalidPayload)
			}
			return *e.Data.Quantity, nil
		}
		if q, ok := plans.Lookup(e.Data.Plan); ok {
			return q, nil
		}
		return 0, fmt.Errorf("%w: no quantity and unknown plan %q", ErrInvalidPayload, e.Data.Plan)
	}
	return 0, fmt.Errorf("%w: unsupported event type %s", ErrInvalidPayload, e.Type)
}

// PlanQuotas maps a subscription plan name to the number of subdomains it
// allows.
type PlanQuotas map[string]int

// ParsePlanQuotas reads the JSON object given in configuration. An empty
// string yields an empty mapping.
func ParsePlanQuotas(raw string) (PlanQuotas, error) {
	plans := PlanQuotas{}
	if strings.TrimSpace(raw) == "" {
		return plans, nil
	}
	if err := json.Unmarshal([]byte(raw), &plans); err != nil {
		return nil, fmt.Errorf("invalid plan quota map: %w", err)
	}
	return plans, nil
}

func (p PlanQuotas) Lookup(plan string) (int, bool) {
	if plan == "" {
		return 0, false
	}
	q, ok := p[plan]
	return q, ok
}

// QuotaForPlan is Lookup returning a pointer, nil when the plan is unknown.
func (p PlanQuotas) QuotaForPlan(plan string) *int {
	q, ok := p.Lookup(plan)
	if !ok {
		return nil
	}
	return &q
}
