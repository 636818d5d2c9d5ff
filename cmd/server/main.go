package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/medilens/backend/internal/apps"
	"github.com/medilens/backend/internal/apps/history"
	"github.com/medilens/backend/internal/config"
	"github.com/medilens/backend/internal/database"
	"github.com/medilens/backend/internal/handlers"
	"github.com/medilens/backend/internal/logging"
	"github.com/medilens/backend/internal/metrics"
	"github.com/medilens/backend/internal/middleware"
	"github.com/medilens/backend/internal/routes"
	"github.com/medilens/backend/internal/services"
	"github.com/medilens/backend/internal/storage"
)

func main() {
	cfg := config.Load()

	// Structured logging (JSON to stdout)
	baseHandler := logging.Setup(cfg.AppEnv)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err.Error())
		os.Exit(1)
	}

	ctx := context.Background()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Database
	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err.Error())
		os.Exit(1)
	}

	// Migrate shared models
	if err := database.MigrateShared(db); err != nil {
		slog.Error("shared migration failed", "error", err.Error())
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.AttachDB(baseHandler, db)

	// Log cleanup
	cleanupDone := make(chan struct{})
	logging.StartCleanup(db, cfg.LogRetention, cleanupDone)

	// Object storage
	gateway, err := storage.New(ctx, cfg, m)
	if err != nil {
		slog.Error("object storage setup failed", "driver", cfg.StorageDriver, "error", err.Error())
		os.Exit(1)
	}
	slog.Info("object storage ready", "driver", gateway.Kind())

	// Redis (optional, shared rate limit counters)
	var limiterStorage fiber.Storage
	redisClient, err := database.ConnectRedis(ctx, cfg)
	if err != nil {
		slog.Warn("redis unavailable, rate limits stay per instance", "error", err.Error())
	} else if redisClient != nil {
		limiterStorage = database.NewRedisStorage(redisClient, "medilens:limiter:")
	}

	// Services
	tokens := services.NewTokenService([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTExpiry)
	var federated services.FederatedVerifier
	if cfg.GoogleClientID != "" {
		jwks := services.NewJWKSClient(cfg.GoogleJWKSURL, &http.Client{Timeout: 10 * time.Second})
		federated = services.NewGoogleVerifier(jwks, cfg.GoogleClientID)
	} else {
		slog.Warn("GOOGLE_CLIENT_ID not set, federated sign-in disabled")
	}
	authService := services.NewAuthService(services.NewGormUserStore(db), tokens, federated, cfg.BcryptCost, m)
	historyService := history.NewService(history.NewGormStore(db), gateway, history.Options{
		MaxImageBytes: cfg.MaxUploadBytes,
		URLTTL:        cfg.SignedURLTTL,
	}, m)

	plugins := []apps.Plugin{
		history.New(historyService),
	}

	// Migrate plugin models
	for _, p := range plugins {
		if models := p.Models(); len(models) > 0 {
			if err := database.MigrateModels(db, models); err != nil {
				slog.Error("plugin migration failed", "plugin", p.ID(), "error", err.Error())
				os.Exit(1)
			}
			slog.Info("plugin migrated", "plugin", p.ID(), "models", len(models))
		}
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	healthHandler := handlers.NewHealthHandler(database.Pinger{DB: db}, gateway)

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err.Error())
		}
	}

	// Fiber app. Base64 inflates images by a third, so the body limit sits
	// above the image ceiling.
	app := fiber.New(fiber.Config{
		BodyLimit:    int(cfg.MaxUploadBytes*4/3) + 64*1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${locals:requestid}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(middleware.SecurityHeaders())

	// Routes
	routes.Setup(app, cfg, tokens, limiterStorage, registry, authHandler, healthHandler, plugins)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err.Error())
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("server shutdown error", "error", err.Error())
	}

	close(cleanupDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if limiterStorage != nil {
		if err := limiterStorage.Close(); err != nil {
			slog.Error("redis close error", "error", err.Error())
		}
	}

	if err := database.Close(db); err != nil {
		slog.Error("database close error", "error", err.Error())
	}

	slog.Info("server stopped")
}
