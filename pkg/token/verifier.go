package token

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ReasonNoAuthHeader     = "no_auth_header"
	ReasonParseFailed      = "parse_jwt_failed"
	ReasonBadAlgorithm     = "bad_algorithm"
	ReasonSignatureInvalid = "signature_invalid"
	ReasonExpired          = "timing:expired"
	ReasonNotYetValid      = "timing:not_yet_valid"
	ReasonAzpMismatch      = "azp_mismatch"
	ReasonNoSubject        = "no_sub_claim"
)

// Identity is the verified caller of a request.
type Identity struct {
	UserID string `json:"userId"`
	Plan   string `json:"plan,omitempty"`
}

// Failure carries the short reason code surfaced to clients on a 401.
type Failure struct {
	Reason string
}

func (f *Failure) Error() string {
	return "token verification failed: " + f.Reason
}

func fail(reason string) error {
	return &Failure{Reason: reason}
}

type header struct {
	Algorithm string `json:"alg"`
}

type claims struct {
	Subject         string           `json:"sub"`
	ExpiresAt       *jwt.NumericDate `json:"exp,omitempty"`
	NotBefore       *jwt.NumericDate `json:"nbf,omitempty"`
	AuthorizedParty string           `json:"azp,omitempty"`
	Plan            string           `json:"plan,omitempty"`
}

// Verifier checks RS256 bearer tokens against a single trust-anchor key. It
// holds no mutable state and is safe for concurrent use.
type Verifier struct {
	key     *rsa.PublicKey
	origins []string
	now     func() time.Time
}

// NewVerifier parses the PEM encoded public key. Escaped newlines, as they
// usually arrive through environment variables, are accepted.
func NewVerifier(publicKeyPEM string, allowedOrigins []string) (*Verifier, error) {
	publicKeyPEM = strings.ReplaceAll(publicKeyPEM, `\n`, "\n")
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token public key: %w", err)
	}

	var origins []string
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Verifier{
		key:     key,
		origins: origins,
		now:     time.Now,
	}, nil
}

// WithClock returns a copy of the verifier that reads the current time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	c := *v
	c.now = now
	return &c
}

// Verify validates the Authorization header value. Every error it returns is
// a *Failure.
func (v *Verifier) Verify(authorization string) (Identity, error) {
	raw, ok := bearer(authorization)
	if !ok {
		return Identity{}, fail(ReasonNoAuthHeader)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return Identity{}, fail(ReasonParseFailed)
	}

	var segments [3][]byte
	for i, p := range parts {
		b, err := base64.RawURLEncoding.DecodeString(p)
		if err != nil {
			return Identity{}, fail(ReasonParseFailed)
		}
		segments[i] = b
	}

	var h header
	if err := json.Unmarshal(segments[0], &h); err != nil {
		return Identity{}, fail(ReasonParseFailed)
	}
	if h.Algorithm != jwt.SigningMethodRS256.Alg() {
		return Identity{}, fail(ReasonBadAlgorithm + ":" + h.Algorithm)
	}

	// The signature covers the encoded segments exactly as received.
	if err := jwt.SigningMethodRS256.Verify(parts[0]+"."+parts[1], segments[2], v.key); err != nil {
		return Identity{}, fail(ReasonSignatureInvalid)
	}

	var c claims
	if err := json.Unmarshal(segments[1], &c); err != nil {
		return Identity{}, fail(ReasonParseFailed)
	}

	now := v.now()
	if c.ExpiresAt != nil && !c.ExpiresAt.Time.After(now) {
		return Identity{}, fail(ReasonExpired)
	}
	if c.NotBefore != nil && c.NotBefore.Time.After(now) {
		return Identity{}, fail(ReasonNotYetValid)
	}

	if c.AuthorizedParty != "" && !v.originAllowed(c.AuthorizedParty) {
		return Identity{}, fail(ReasonAzpMismatch + ":" + c.AuthorizedParty)
	}

	if c.Subject == "" {
		return Identity{}, fail(ReasonNoSubject)
	}

	return Identity{
		UserID: c.Subject,
		Plan:   c.Plan,
	}, nil
}

func bearer(authorization string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	t := strings.TrimSpace(parts[1])
	return t, t != ""
}

func (v *Verifier) originAllowed(azp string) bool {
	for _, pattern := range v.origins {
		if MatchOrigin(pattern, azp) {
			return true
		}
	}
	return false
}
