package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/apps"
	"github.com/medilens/backend/internal/config"
	"github.com/medilens/backend/internal/dto"
	"github.com/medilens/backend/internal/handlers"
	"github.com/medilens/backend/internal/middleware"
	"github.com/medilens/backend/internal/services"
)

// authRateLimit is the per-IP ceiling on /api/auth per minute.
const authRateLimit = 10

// Setup mounts every route. limiterStorage may be nil, in which case limiter
// counters stay in process.
func Setup(
	app *fiber.App,
	cfg *config.Config,
	tokens *services.TokenService,
	limiterStorage fiber.Storage,
	gatherer prometheus.Gatherer,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	plugins []apps.Plugin,
) {
	app.Get("/", healthHandler.Root)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api")

	// General API rate limiter, per IP
	api.Use(newLimiter("api:", cfg.RateLimitMax, limiterStorage))

	api.Get("/health", healthHandler.Check)

	// Auth: public, with a stricter limit
	auth := api.Group("/auth")
	auth.Use(newLimiter("auth:", authRateLimit, limiterStorage))
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/federated", authHandler.FederatedLogin)
	auth.Post("/google", authHandler.FederatedLogin)

	// Protected auth routes; the guard is applied per route so it never
	// shadows the public ones above.
	guard := middleware.JWTProtected(tokens)
	auth.Put("/profile", guard, authHandler.UpdateProfile)
	auth.Put("/update-profile", guard, authHandler.UpdateProfile)
	auth.Get("/me", guard, authHandler.Me)

	// Feature plugins, each under /api/<id> behind the guard
	for _, p := range plugins {
		p.RegisterRoutes(api.Group("/"+p.ID(), guard))
	}
}

func newLimiter(prefix string, max int, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               max,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           storage,
		KeyGenerator:      func(c *fiber.Ctx) string { return prefix + c.IP() },
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error:   true,
				Code:    apperr.CodeRateLimited,
				Message: "Too many requests, please try again later",
			})
		},
	})
}
