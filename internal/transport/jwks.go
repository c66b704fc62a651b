package transport

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	maxJWKSBytes      = 1 << 20
	minJWKSRefresh    = 5 * time.Minute
	jwksClientTimeout = 10 * time.Second
)

var (
	errUnknownKey      = errors.New("unknown signing key")
	errKeysUnavailable = errors.New("signing keys unavailable")
)

// JWKSClient resolves token signing keys from an identity provider's key
// set. Keys are cached for ttl; a failed refresh falls back to the cached
// set, and refreshes are never issued more than once per minJWKSRefresh.
type JWKSClient struct {
	url    string
	ttl    time.Duration
	http   *http.Client
	logger *zap.Logger
	flight singleflight.Group

	mu      sync.RWMutex
	keys    map[string]crypto.PublicKey
	fetched time.Time
}

// NewJWKSClient returns a client for the key set at url.
func NewJWKSClient(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSClient{
		url:    url,
		ttl:    ttl,
		http:   &http.Client{Timeout: jwksClientTimeout},
		logger: logger.Named("jwks"),
	}
}

// Key returns the public key with the given kid.
func (c *JWKSClient) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if key, fresh := c.cached(kid); key != nil && fresh {
		return key, nil
	}

	err := c.refresh(ctx)
	if key, _ := c.cached(kid); key != nil {
		if err != nil {
			c.logger.Warn("key set refresh failed, serving cached key", zap.String("kid", kid), zap.Error(err))
		}
		return key, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errKeysUnavailable, err)
	}
	return nil, fmt.Errorf("%w %q", errUnknownKey, kid)
}

// HealthCheck fetches the key set without touching the cache.
func (c *JWKSClient) HealthCheck(ctx context.Context) error {
	resp, err := c.get(ctx)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *JWKSClient) cached(kid string) (crypto.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[kid], time.Since(c.fetched) <= c.ttl
}

func (c *JWKSClient) refresh(ctx context.Context) error {
	c.mu.RLock()
	recent := len(c.keys) > 0 && time.Since(c.fetched) < minJWKSRefresh
	c.mu.RUnlock()
	if recent {
		return nil
	}

	_, err, shared := c.flight.Do(c.url, func() (any, error) {
		keys, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.keys, c.fetched = keys, time.Now()
		c.mu.Unlock()
		c.logger.Debug("key set refreshed", zap.Int("keys", len(keys)))
		return nil, nil
	})
	if shared {
		c.logger.Debug("joined in-flight key set refresh")
	}
	return err
}

func (c *JWKSClient) get(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("jwks: %s returned %d", c.url, resp.StatusCode)
	}
	return resp, nil
}

func (c *JWKSClient) fetch(ctx context.Context) (map[string]crypto.PublicKey, error) {
	resp, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&set); err != nil {
		return nil, fmt.Errorf("jwks: decode: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			c.logger.Warn("skipping key", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

// jsonWebKey holds the RFC 7517 members needed for RSA and EC signing keys.
type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

func (k jsonWebKey) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := decodeBigInt("n", k.N)
		if err != nil {
			return nil, err
		}
		e, err := decodeBigInt("e", k.E)
		if err != nil {
			return nil, err
		}
		if !e.IsInt64() || e.Int64() < 3 {
			return nil, fmt.Errorf("invalid exponent")
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil

	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := decodeBigInt("x", k.X)
		if err != nil {
			return nil, err
		}
		y, err := decodeBigInt("y", k.Y)
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	}
	return nil, fmt.Errorf("unsupported key type %q", k.Kty)
}

func decodeBigInt(member, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %q", member)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", member, err)
	}
	return new(big.Int).SetBytes(b), nil
}
