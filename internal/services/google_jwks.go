package services

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksCache struct {
	keys        map[string]*rsa.PublicKey
	expiresAt   time.Time
	lastAttempt time.Time
	mu          sync.RWMutex
}

// JWKSClient fetches and caches a provider's RSA signing keys by kid. Fetches
// are at least minRefetch apart, so unknown kids cannot drive outbound traffic.
type JWKSClient struct {
	cache      *jwksCache
	httpClient *http.Client
	jwksURL    string
	cacheTTL   time.Duration
	minRefetch time.Duration
	now        func() time.Time
}

func NewJWKSClient(jwksURL string, httpClient *http.Client) *JWKSClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSClient{
		cache:      &jwksCache{keys: make(map[string]*rsa.PublicKey)},
		httpClient: httpClient,
		jwksURL:    jwksURL,
		cacheTTL:   6 * time.Hour,
		minRefetch: time.Minute,
		now:        time.Now,
	}
}

func (c *JWKSClient) fetchKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		if jwk.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(jwk.N, jwk.E)
		if err != nil {
			continue
		}
		keys[jwk.Kid] = pubKey
	}

	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	c.cache.keys = keys
	c.cache.expiresAt = c.now().Add(c.cacheTTL)
	return nil
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// PublicKey returns the key for kid, refetching on a miss or stale cache so
// that provider key rotation is picked up. A stale key is still served while
// a refetch is not yet allowed.
func (c *JWKSClient) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := c.now()
	c.cache.mu.RLock()
	key, ok := c.cache.keys[kid]
	fresh := now.Before(c.cache.expiresAt)
	c.cache.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if !c.tryFetch(now) {
		if ok {
			return key, nil
		}
		return nil, fmt.Errorf("public key with kid %s not found", kid)
	}
	if err := c.fetchKeys(ctx); err != nil {
		if ok {
			slog.Warn("JWKS refresh failed, serving cached key", "kid", kid, "error", err)
			return key, nil
		}
		return nil, err
	}

	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()
	if key, ok := c.cache.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("public key with kid %s not found", kid)
}

// tryFetch reserves the next fetch slot, failed attempts included.
func (c *JWKSClient) tryFetch(now time.Time) bool {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	if !c.cache.lastAttempt.IsZero() && now.Sub(c.cache.lastAttempt) < c.minRefetch {
		return false
	}
	c.cache.lastAttempt = now
	return true
}

// FederatedIdentity is the verified subset of a provider ID token.
type FederatedIdentity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// FederatedVerifier verifies a provider-issued credential. Implementations
// must fail closed.
type FederatedVerifier interface {
	Verify(ctx context.Context, credential string) (*FederatedIdentity, error)
}

type GoogleClaims struct {
	jwt.RegisteredClaims
	Email         string      `json:"email"`
	EmailVerified interface{} `json:"email_verified"`
	Name          string      `json:"name"`
	Picture       string      `json:"picture"`
}

// GoogleVerifier checks Google ID tokens: RS256 signature against Google's
// published keys, audience equal to the configured client id, a Google issuer,
// an unexpired token and a verified email.
type GoogleVerifier struct {
	jwks     *JWKSClient
	clientID string
}

func NewGoogleVerifier(jwks *JWKSClient, clientID string) *GoogleVerifier {
	return &GoogleVerifier{jwks: jwks, clientID: clientID}
}

func (v *GoogleVerifier) Verify(ctx context.Context, credential string) (*FederatedIdentity, error) {
	if v.clientID == "" {
		return nil, errors.New("federated sign-in is not configured")
	}

	claims := &GoogleClaims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid")
		}
		return v.jwks.PublicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	if !validIssuer(claims.Issuer) {
		return nil, fmt.Errorf("invalid issuer: %s", claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	if claims.Email == "" || !truthy(claims.EmailVerified) {
		return nil, errors.New("token email is missing or unverified")
	}

	return &FederatedIdentity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

func validIssuer(iss string) bool {
	for _, want := range googleIssuers {
		if iss == want {
			return true
		}
	}
	return false
}

// truthy accepts both the boolean and the string form of email_verified.
func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return false
	}
}
