package middleware

import (
	"errors"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/dto"
	"github.com/medilens/backend/internal/services"
)

const (
	tokenLocalsKey    = "user"
	identityLocalsKey = "identity"
)

// JWTProtected is the access guard. It admits a request only when the bearer
// token verifies, and exposes the resulting identity to downstream handlers.
func JWTProtected(tokens *services.TokenService) fiber.Handler {
	return jwtware.New(jwtware.Config{
		KeyFunc:    tokens.Keyfunc,
		Claims:     &services.Claims{},
		ContextKey: tokenLocalsKey,
		AuthScheme: "Bearer",
		SuccessHandler: func(c *fiber.Ctx) error {
			token, _ := c.Locals(tokenLocalsKey).(*jwt.Token)
			identity, err := tokens.IdentityFromToken(token)
			if err != nil {
				return unauthorized(c, err)
			}
			c.Locals(identityLocalsKey, identity)
			return c.Next()
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				return unauthorized(c, apperr.Auth(apperr.CodeTokenMissing, "Not authorized, no token"))
			}
			return unauthorized(c, services.TokenError(err))
		},
	})
}

func unauthorized(c *fiber.Ctx, err error) error {
	e := apperr.As(err)
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error:   true,
		Code:    e.Code,
		Message: e.Message,
	})
}

// CurrentIdentity returns the identity the guard attached to the request.
func CurrentIdentity(c *fiber.Ctx) (*services.Identity, error) {
	identity, ok := c.Locals(identityLocalsKey).(*services.Identity)
	if !ok || identity == nil || identity.UserID == uuid.Nil {
		return nil, apperr.Auth(apperr.CodeTokenMissing, "Not authorized")
	}
	return identity, nil
}

// CurrentUserID is CurrentIdentity narrowed to the user id.
func CurrentUserID(c *fiber.Ctx) (uuid.UUID, error) {
	identity, err := CurrentIdentity(c)
	if err != nil {
		return uuid.Nil, err
	}
	return identity.UserID, nil
}
