package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testClientID = "client-123.apps.googleusercontent.com"

type fakeProvider struct {
	key     *rsa.PrivateKey
	kid     string
	server  *httptest.Server
	fetches atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &fakeProvider{key: key, kid: "kid-1"}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(JWKS{Keys: []JWK{{
			Kty: "RSA",
			Kid: p.kid,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) verifier() *GoogleVerifier {
	return NewGoogleVerifier(NewJWKSClient(p.server.URL, p.server.Client()), testClientID)
}

func (p *fakeProvider) sign(t *testing.T, mutate func(*GoogleClaims)) string {
	t.Helper()
	claims := GoogleClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://accounts.google.com",
			Subject:   "google-sub-1",
			Audience:  jwt.ClaimStrings{testClientID},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email:         "alice@example.com",
		EmailVerified: true,
		Name:          "Alice",
		Picture:       "https://example.com/alice.png",
	}
	if mutate != nil {
		mutate(&claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = p.kid
	signed, err := token.SignedString(p.key)
	require.NoError(t, err)
	return signed
}

func TestGoogleVerifierAcceptsValidToken(t *testing.T) {
	p := newFakeProvider(t)
	v := p.verifier()

	identity, err := v.Verify(context.Background(), p.sign(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "google-sub-1", identity.Subject)
	assert.Equal(t, "alice@example.com", identity.Email)
	assert.Equal(t, "Alice", identity.Name)
	assert.Equal(t, "https://example.com/alice.png", identity.Picture)

	_, err = v.Verify(context.Background(), p.sign(t, nil))
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.fetches.Load(), "keys should be cached")
}

func TestGoogleVerifierFailsClosed(t *testing.T) {
	p := newFakeProvider(t)
	v := p.verifier()
	ctx := context.Background()

	cases := map[string]func(*GoogleClaims){
		"wrong audience": func(c *GoogleClaims) { c.Audience = jwt.ClaimStrings{"someone-else"} },
		"wrong issuer":   func(c *GoogleClaims) { c.Issuer = "https://evil.example.com" },
		"expired":        func(c *GoogleClaims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute)) },
		"no expiry":      func(c *GoogleClaims) { c.ExpiresAt = nil },
		"unverified":     func(c *GoogleClaims) { c.EmailVerified = "false" },
		"no email":       func(c *GoogleClaims) { c.Email = "" },
		"no subject":     func(c *GoogleClaims) { c.Subject = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(ctx, p.sign(t, mutate))
			assert.Error(t, err)
		})
	}

	t.Run("foreign key", func(t *testing.T) {
		other := newFakeProvider(t)
		other.kid = p.kid
		_, err := v.Verify(ctx, other.sign(t, nil))
		assert.Error(t, err)
	})

	t.Run("self asserted", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"iss": "https://accounts.google.com", "aud": testClientID, "sub": "x",
			"email": "mallory@example.com", "email_verified": true,
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = v.Verify(ctx, unsigned)
		assert.Error(t, err)
	})

	t.Run("not configured", func(t *testing.T) {
		_, err := NewGoogleVerifier(NewJWKSClient(p.server.URL, nil), "").Verify(ctx, p.sign(t, nil))
		assert.Error(t, err)
	})
}

func TestGoogleVerifierJWKSUnavailable(t *testing.T) {
	p := newFakeProvider(t)
	token := p.sign(t, nil)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	v := NewGoogleVerifier(NewJWKSClient(down.URL, down.Client()), testClientID)
	_, err := v.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestJWKSClientThrottlesRefetchOnUnknownKid(t *testing.T) {
	p := newFakeProvider(t)
	client := NewJWKSClient(p.server.URL, p.server.Client())
	now := time.Now()
	client.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := client.PublicKey(ctx, "kid-1")
	require.NoError(t, err)
	require.Equal(t, int32(1), p.fetches.Load())

	for range 5 {
		_, err = client.PublicKey(ctx, "unknown")
		require.Error(t, err)
	}
	assert.Equal(t, int32(1), p.fetches.Load(), "misses inside the refetch interval must not hit the provider")

	now = now.Add(client.minRefetch)
	_, err = client.PublicKey(ctx, "unknown")
	require.Error(t, err)
	assert.Equal(t, int32(2), p.fetches.Load())

	// Once the cache is stale and the provider is down, the known key is
	// served and the failing endpoint is hit at most once per interval.
	var downHits atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	client.jwksURL = down.URL

	now = now.Add(client.cacheTTL)
	for range 3 {
		_, err = client.PublicKey(ctx, "kid-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), downHits.Load())
	assert.Equal(t, int32(2), p.fetches.Load())
}
