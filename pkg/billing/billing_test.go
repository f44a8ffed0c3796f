package billing

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	svix "github.com/svix/svix-webhooks/go"
)

var testSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("registry-webhook-test-secret-0001"))

func signedHeaders(t *testing.T, secret string, payload []byte) http.Header {
	t.Helper()
	wh, err := svix.NewWebhook(secret)
	require.NoError(t, err)

	now := time.Now()
	sig, err := wh.Sign("msg_1", now, payload)
	require.NoError(t, err)

	h := http.Header{}
	h.Set("svix-id", "msg_1")
	h.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	h.Set("svix-signature", sig)
	return h
}

func TestVerifierAcceptsSignedPayload(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	payload := []byte(`{"type":"subscription.updated","data":{"user_id":"u1","quantity":3}}`)
	assert.NoError(t, v.Verify(payload, signedHeaders(t, testSecret, payload)))
}

func TestVerifierAcceptsStandardHeaderNames(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	payload := []byte(`{"type":"subscription.deleted","data":{"user_id":"u1"}}`)
	signed := signedHeaders(t, testSecret, payload)

	h := http.Header{}
	h.Set("webhook-id", signed.Get("svix-id"))
	h.Set("webhook-timestamp", signed.Get("svix-timestamp"))
	h.Set("webhook-signature", signed.Get("svix-signature"))
	assert.NoError(t, v.Verify(payload, h))
}

func TestVerifierRejects(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	payload := []byte(`{"type":"subscription.updated","data":{"user_id":"u1","quantity":3}}`)

	h := signedHeaders(t, testSecret, payload)
	h.Del("svix-signature")
	assert.ErrorIs(t, v.Verify(payload, h), ErrMissingHeaders)

	h = signedHeaders(t, testSecret, payload)
	tampered := []byte(`{"type":"subscription.updated","data":{"user_id":"u1","quantity":99}}`)
	assert.ErrorIs(t, v.Verify(tampered, h), ErrInvalidSignature)

	other := "whsec_" + base64.StdEncoding.EncodeToString([]byte("some-other-secret-for-signing-01"))
	assert.ErrorIs(t, v.Verify(payload, signedHeaders(t, other, payload)), ErrInvalidSignature)
}

func TestNewVerifierEmptySecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.Error(t, err)
}

func TestParseEvent(t *testing.T) {
	e, err := ParseEvent([]byte(`{"type":"subscription.created","data":{"user_id":"u1","quantity":2,"plan":"pro"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionCreated, e.Type)
	assert.Equal(t, "u1", e.Data.UserID)
	require.NotNil(t, e.Data.Quantity)
	assert.Equal(t, 2, *e.Data.Quantity)
	assert.True(t, e.IsSubscription())

	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseEvent([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	e, err = ParseEvent([]byte(`{"type":"user.created","data":{}}`))
	require.NoError(t, err)
	assert.False(t, e.IsSubscription())
}

func TestEventQuota(t *testing.T) {
	plans := PlanQuotas{"pro": 10, "starter": 1}
	three := 3
	negative := -1

	tests := []struct {
		name    string
		event   Event
		want    int
		wantErr bool
	}{
		{name: "quantity", event: Event{Type: EventSubscriptionUpdated, Data: EventData{UserID: "u", Quantity: &three, Plan: "pro"}}, want: 3},
		{name: "plan fallback", event: Event{Type: EventSubscriptionCreated, Data: EventData{UserID: "u", Plan: "starter"}}, want: 1},
		{name: "deleted", event: Event{Type: EventSubscriptionDeleted, Data: EventData{UserID: "u", Quantity: &three}}, want: 0},
		{name: "unknown plan", event: Event{Type: EventSubscriptionCreated, Data: EventData{UserID: "u", Plan: "gold"}}, wantErr: true},
		{name: "negative", event: Event{Type: EventSubscriptionUpdated, Data: EventData{UserID: "u", Quantity: &negative}}, wantErr: true},
		{name: "no user", event: Event{Type: EventSubscriptionDeleted}, wantErr: true},
		{name: "other type", event: Event{Type: "invoice.paid", Data: EventData{UserID: "u"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.event.Quota(plans)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePlanQuotas(t *testing.T) {
	plans, err := ParsePlanQuotas("")
	require.NoError(t, err)
	assert.Empty(t, plans)

	plans, err = ParsePlanQuotas(`{"free":1,"pro":10}`)
	require.NoError(t, err)
	assert.Equal(t, PlanQuotas{"free": 1, "pro": 10}, plans)

	q := plans.QuotaForPlan("pro")
	require.NotNil(t, q)
	assert.Equal(t, 10, *q)
	assert.Nil(t, plans.QuotaForPlan("gold"))
	assert.Nil(t, plans.QuotaForPlan(""))

	_, err = ParsePlanQuotas(`{"free":"one"}`)
	assert.Error(t, err)
}
