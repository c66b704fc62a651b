package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"maps"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testKeyID = "test-key-1"

// TestClaims describes the caller a test token represents.
type TestClaims struct {
	SubjectID string
	Email     string
	Roles     []string
	Extra     map[string]any
}

func (c TestClaims) mapClaims() jwt.MapClaims {
	out := jwt.MapClaims{"sub": c.SubjectID}
	if c.Email != "" {
		out["email"] = c.Email
	}
	if len(c.Roles) > 0 {
		// Decoded tokens carry arrays as []any.
		roles := make([]any, 0, len(c.Roles))
		for _, r := range c.Roles {
			roles = append(roles, r)
		}
		out["roles"] = roles
	}
	maps.Copy(out, c.Extra)
	return out
}

// tokenIssuer is a stand-in identity provider: one RS256 key, published on
// an httptest JWKS endpoint.
type tokenIssuer struct {
	t          *testing.T
	privateKey *rsa.PrivateKey
	jwks       *httptest.Server
	issuer     string
	audience   string
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	doc, err := json.Marshal(map[string]any{"keys": []map[string]string{{
		"kid": testKeyID,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}})
	if err != nil {
		t.Fatalf("encode key set: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)

	return &tokenIssuer{
		t:          t,
		privateKey: key,
		jwks:       srv,
		issuer:     "https://auth.test.triage.dev",
		audience:   "bug-triage-test",
	}
}

// mint signs claims valid from issuedAt for lifetime.
func (ti *tokenIssuer) mint(c TestClaims, issuedAt time.Time, lifetime time.Duration) string {
	ti.t.Helper()
	claims := c.mapClaims()
	claims["iss"] = ti.issuer
	claims["aud"] = ti.audience
	claims["iat"] = jwt.NewNumericDate(issuedAt)
	claims["exp"] = jwt.NewNumericDate(issuedAt.Add(lifetime))

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(ti.privateKey)
	if err != nil {
		ti.t.Fatalf("sign token: %v", err)
	}
	return signed
}

// GenerateToken returns a token valid for the next hour.
func (ti *tokenIssuer) GenerateToken(c TestClaims) string {
	return ti.mint(c, time.Now(), time.Hour)
}

// GenerateExpiredToken returns a token that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(c TestClaims) string {
	return ti.mint(c, time.Now().Add(-2*time.Hour), time.Hour)
}

func (ti *tokenIssuer) JWKSURL() string  { return ti.jwks.URL }
func (ti *tokenIssuer) Issuer() string   { return ti.issuer }
func (ti *tokenIssuer) Audience() string { return ti.audience }
