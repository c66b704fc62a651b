package transport

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/bugtriage/internal/config"
	"github.com/pitabwire/bugtriage/model"
)

const clockSkew = 30 * time.Second

var errMissingKid = errors.New("token header has no kid")

// JWTAuthenticator verifies the bearer token on each request against keys
// and cfg, then stores the verified claims in the request context. Every
// failure is a 401 with a short reason and no token details.
func JWTAuthenticator(cfg config.IdentityConfig, keys *JWKSClient) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, problem := bearerToken(r.Header.Get("Authorization"))
			if problem != "" {
				WriteError(w, model.NewUnauthorizedError(problem))
				return
			}

			claims := jwt.MapClaims{}
			_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				kid, _ := t.Header["kid"].(string)
				if kid == "" {
					return nil, errMissingKid
				}
				return keys.Key(r.Context(), kid)
			})
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(rejectionReason(err)))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(header string) (token, problem string) {
	if header == "" {
		return "", "Missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", "Invalid authorization header format"
	}
	return strings.TrimSpace(token), ""
}

// rejectionReason maps a parse or validation failure to the client message.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token missing required claim"
	case errors.Is(err, errMissingKid), errors.Is(err, errUnknownKey):
		return "Unknown signing key"
	case errors.Is(err, errKeysUnavailable):
		return "Signing keys unavailable"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	default:
		return "Invalid token"
	}
}

// Anonymous stands in for JWTAuthenticator when identity verification is
// disabled: every request carries a subject claim naming actor.
func Anonymous(actor string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), map[string]any{"sub": actor})))
		})
	}
}

// claimAt resolves a dot path such as "realm_access.roles" through nested
// claim objects.
func claimAt(claims map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var cur any = claims
	for seg := range strings.SplitSeq(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = obj[seg]; !ok {
			return nil
		}
	}
	return cur
}

func claimString(claims map[string]any, path string) string {
	s, _ := claimAt(claims, path).(string)
	return s
}

// claimStrings accepts a JSON array of strings or a space-delimited string
// (the OAuth "scope" shape).
func claimStrings(claims map[string]any, path string) []string {
	switch v := claimAt(claims, path).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(v)
	}
	return nil
}
