package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/models"
)

// Claims is the session token payload. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Identity is what a verified token proves.
type Identity struct {
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// TokenService issues and verifies HS256 session tokens. Verification is pure:
// it never consults the user store.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret []byte, issuer string, ttl time.Duration) *TokenService {
	return &TokenService{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
}

func (s *TokenService) Issue(user *models.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, algorithm, issuer and expiry.
func (s *TokenService) Verify(tokenString string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, TokenError(err)
	}
	return s.IdentityFromToken(token)
}

// Keyfunc resolves the verification key and pins the algorithm to HS256.
func (s *TokenService) Keyfunc(t *jwt.Token) (interface{}, error) {
	if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return s.secret, nil
}

// IdentityFromToken converts an already signature-checked token into an
// Identity, enforcing the claims a parser may not have checked.
func (s *TokenService) IdentityFromToken(token *jwt.Token) (*Identity, error) {
	if token == nil || !token.Valid {
		return nil, apperr.Auth(apperr.CodeTokenInvalid, "Invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, apperr.Auth(apperr.CodeTokenInvalid, "Invalid token claims")
	}
	if claims.Issuer != s.issuer {
		return nil, apperr.Auth(apperr.CodeTokenInvalid, "Invalid token issuer")
	}
	if claims.ExpiresAt == nil {
		return nil, apperr.Auth(apperr.CodeTokenInvalid, "Token has no expiry")
	}
	if !s.now().Before(claims.ExpiresAt.Time) {
		return nil, apperr.Auth(apperr.CodeTokenExpired, "Token has expired")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, apperr.Auth(apperr.CodeTokenInvalid, "Invalid token subject")
	}
	return &Identity{UserID: userID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// TokenError maps a jwt parse failure onto the auth taxonomy.
func TokenError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperr.Wrap(apperr.KindAuth, apperr.CodeTokenExpired, "Token has expired", err)
	}
	return apperr.Wrap(apperr.KindAuth, apperr.CodeTokenInvalid, "Invalid token", err)
}
