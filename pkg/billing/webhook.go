package billing

import (
	"errors"
	"fmt"
	"net/http"

	svix "github.com/svix/svix-webhooks/go"
)

var (
	ErrMissingHeaders   = errors.New("missing webhook signature headers")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

// Both the svix-* and the standard webhook-* header names are accepted.
var signatureHeaders = [][2]string{
	{"svix-id", "webhook-id"},
	{"svix-timestamp", "webhook-timestamp"},
	{"svix-signature", "webhook-signature"},
}

// Verifier checks Standard Webhooks signatures made with a shared secret.
type Verifier struct {
	wh *svix.Webhook
}

// NewVerifier accepts the secret with or without its "whsec_" prefix.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is empty")
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook secret: %w", err)
	}
	return &Verifier{wh: wh}, nil
}

func (v *Verifier) Verify(payload []byte, headers http.Header) error {
	for _, names := range signatureHeaders {
		if headers.Get(names[0]) == "" && headers.Get(names[1]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingHeaders, names[0])
		}
	}
	if err := v.wh.Verify(payload, headers); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
