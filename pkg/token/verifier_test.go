package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	return priv, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func newTestVerifier(t *testing.T, pub string) *Verifier {
	t.Helper()
	v, err := NewVerifier(pub, []string{"https://app.example.com", "*.example.dev"})
	require.NoError(t, err)
	return v.WithClock(func() time.Time { return fixedNow })
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user_123",
		"exp": fixedNow.Add(time.Hour).Unix(),
		"nbf": fixedNow.Add(-time.Minute).Unix(),
	}
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	f, ok := err.(*Failure)
	require.True(t, ok, "expected *Failure, got %T", err)
	return f.Reason
}

func TestVerifyValidToken(t *testing.T) {
	priv, pub := newKeyPair(t)
	v := newTestVerifier(t, pub)

	c := validClaims()
	c["plan"] = "pro"
	c["azp"] = "https://app.example.com"

	id, err := v.Verify("Bearer " + sign(t, priv, c))
	require.NoError(t, err)
	assert.Equal(t, "user_123", id.UserID)
	assert.Equal(t, "pro", id.Plan)
}

func TestVerifyFailures(t *testing.T) {
	priv, pub := newKeyPair(t)
	other, _ := newKeyPair(t)
	v := newTestVerifier(t, pub)

	expired := validClaims()
	expired["exp"] = fixedNow.Add(-time.Second).Unix()

	expiresNow := validClaims()
	expiresNow["exp"] = fixedNow.Unix()

	early := validClaims()
	early["nbf"] = fixedNow.Add(time.Minute).Unix()

	noSub := validClaims()
	delete(noSub, "sub")

	badAzp := validClaims()
	badAzp["azp"] = "https://evil.com"

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		reason string
	}{
		{name: "empty header", header: "", reason: ReasonNoAuthHeader},
		{name: "basic scheme", header: "Basic Zm9vOmJhcg==", reason: ReasonNoAuthHeader},
		{name: "bearer without token", header: "Bearer ", reason: ReasonNoAuthHeader},
		{name: "two segments", header: "Bearer abc.def", reason: ReasonParseFailed},
		{name: "not base64", header: "Bearer a$b.c$d.e$f", reason: ReasonParseFailed},
		{name: "hmac algorithm", header: "Bearer " + hs, reason: "bad_algorithm:HS256"},
		{name: "wrong key", header: "Bearer " + sign(t, other, validClaims()), reason: ReasonSignatureInvalid},
		{name: "expired", header: "Bearer " + sign(t, priv, expired), reason: ReasonExpired},
		{name: "expires exactly now", header: "Bearer " + sign(t, priv, expiresNow), reason: ReasonExpired},
		{name: "not yet valid", header: "Bearer " + sign(t, priv, early), reason: ReasonNotYetValid},
		{name: "azp mismatch", header: "Bearer " + sign(t, priv, badAzp), reason: "azp_mismatch:https://evil.com"},
		{name: "missing subject", header: "Bearer " + sign(t, priv, noSub), reason: ReasonNoSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.header)
			assert.Equal(t, tt.reason, reasonOf(t, err))
		})
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	priv, pub := newKeyPair(t)
	v := newTestVerifier(t, pub)

	raw := sign(t, priv, validClaims())
	parts := strings.Split(raw, ".")

	// flip the first payload character to another valid base64url character
	b := []byte(parts[1])
	if b[0] == 'e' {
		b[0] = 'f'
	} else {
		b[0] = 'e'
	}
	parts[1] = string(b)

	_, err := v.Verify("Bearer " + strings.Join(parts, "."))
	assert.Equal(t, ReasonSignatureInvalid, reasonOf(t, err))
}

func TestVerifyNoneAlgorithm(t *testing.T) {
	_, pub := newKeyPair(t)
	v := newTestVerifier(t, pub)

	s, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	// an unsigned token has an empty third segment
	_, err = v.Verify("Bearer " + s)
	assert.Equal(t, "bad_algorithm:none", reasonOf(t, err))
}

func TestNewVerifierEscapedNewlines(t *testing.T) {
	priv, pub := newKeyPair(t)

	v, err := NewVerifier(strings.ReplaceAll(pub, "\n", `\n`), nil)
	require.NoError(t, err)
	v = v.WithClock(func() time.Time { return fixedNow })

	id, err := v.Verify("Bearer " + sign(t, priv, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user_123", id.UserID)
}

func TestNewVerifierRejectsGarbage(t *testing.T) {
	_, err := NewVerifier("not a key", nil)
	assert.Error(t, err)
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"https://app.example.com", "https://app.example.com", true},
		{"https://app.example.com", "http://app.example.com", false},
		{"*.example.dev", "https://studio.example.dev", true},
		{"*.example.dev", "studio.example.dev", true},
		{"*.example.dev", "https://a.b.example.dev", false},
		{"*.example.dev", "https://example.dev", false},
		{"https://*.example.dev", "http://studio.example.dev", false},
		{"https://*.example.dev", "https://studio.example.dev/", true},
		{"example.com", "https://example.com", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchOrigin(tt.pattern, tt.value), "%s vs %s", tt.pattern, tt.value)
	}
}
