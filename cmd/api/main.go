package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iamgideonidoko/pulse/internal/anomaly"
	"github.com/iamgideonidoko/pulse/internal/archive"
	"github.com/iamgideonidoko/pulse/internal/config"
	"github.com/iamgideonidoko/pulse/internal/geo"
	"github.com/iamgideonidoko/pulse/internal/handlers"
	"github.com/iamgideonidoko/pulse/internal/metrics"
	"github.com/iamgideonidoko/pulse/internal/middleware"
	"github.com/iamgideonidoko/pulse/internal/repository"
	"github.com/iamgideonidoko/pulse/internal/services"
	"github.com/iamgideonidoko/pulse/internal/trend"
	"github.com/iamgideonidoko/pulse/pkg/cache"
	"github.com/iamgideonidoko/pulse/pkg/logger"
)

func main() {
	// Load environment variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", map[string]any{"error": err.Error()})
	}

	logger.Init("pulse-api", logger.ParseLevel(cfg.Monitoring.LogLevel), cfg.Monitoring.LogPretty)
	logger.Info("Starting Pulse API", map[string]any{
		"version":     "1.0.0",
		"environment": cfg.API.Environment,
	})

	thresholds, err := anomaly.LoadThresholds(cfg.Detector.RulesPath)
	if err != nil {
		logger.Fatal("Failed to load detector thresholds", map[string]any{
			"path":  cfg.Detector.RulesPath,
			"error": err.Error(),
		})
	}

	// Initialize database with retry logic
	var repo *repository.Repository
	err = repository.WithRetry(context.Background(), repository.DefaultRetryConfig, func() error {
		var retryErr error
		repo, retryErr = repository.NewRepository(
			cfg.Database.URL,
			cfg.Database.MaxConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.MaxRetries,
		)
		return retryErr
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]any{"error": err.Error()})
	}
	defer repo.Close()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("Failed to prepare schema", map[string]any{"error": err.Error()})
	}
	logger.Info("Connected to PostgreSQL")

	opts := services.Options{
		Store:        repo,
		Detector:     anomaly.NewDetector(thresholds),
		Predictor:    trend.NewPredictor(cfg.Detector.TrendBand),
		AnalyticsTTL: cfg.Redis.AnalyticsTTL,
		MaxEvents:    cfg.Detector.MaxEvents,
	}

	// Redis is optional: without it the service runs uncached and unlimited.
	var limiter fiber.Handler
	redisCache, err := cache.NewCache(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CacheTTL)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without cache", map[string]any{"error": err.Error()})
	} else {
		defer redisCache.Close()
		opts.Cache = redisCache
		limiter = middleware.NewRateLimiter(redisCache, &cfg.RateLimit).LimitByIP()
		logger.Info("Connected to Redis")
	}

	if cfg.Geo.ProviderURL != "" {
		opts.Locator = geo.NewLocator(geo.Config{
			ProviderURL:        cfg.Geo.ProviderURL,
			Timeout:            cfg.Geo.Timeout,
			BreakerMaxFailures: cfg.Geo.BreakerMaxFailures,
			BreakerOpenTimeout: cfg.Geo.BreakerOpenTimeout,
		})
	}

	if cfg.Archive.Enabled {
		uploader, err := archive.NewS3Uploader(context.Background(), archive.S3Config{
			Bucket:       cfg.Archive.Bucket,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.UsePathStyle,
			Retries:      cfg.Archive.Retries,
			Timeout:      cfg.Archive.Timeout,
		})
		if err != nil {
			logger.Fatal("Failed to initialize archive", map[string]any{"error": err.Error()})
		}
		archiver := archive.New(uploader, archive.Options{
			Prefix:        cfg.Archive.Prefix,
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			QueueSize:     cfg.Archive.QueueSize,
			OnUpload:      metrics.ObserveArchive,
		})
		archiver.Start()
		defer archiver.Shutdown()
		opts.Archive = archiver
		logger.Info("Archive enabled", map[string]any{"bucket": cfg.Archive.Bucket})
	}

	service := services.NewTelemetryService(opts)
	handler := handlers.NewHandler(service)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.EnableMetrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			logger.Fatal("Failed to register metrics", map[string]any{"error": err.Error()})
		}
		gatherer = prometheus.DefaultGatherer
	}

	app := fiber.New(fiber.Config{
		ServerHeader:            "Pulse",
		AppName:                 "Pulse API v1.0",
		BodyLimit:               cfg.API.BodyLimit,
		JSONEncoder:             json.Marshal,
		JSONDecoder:             json.Unmarshal,
		EnableTrustedProxyCheck: len(cfg.Security.TrustedProxies) > 0,
		TrustedProxies:          cfg.Security.TrustedProxies,
		ProxyHeader:             proxyHeader(cfg.Security.TrustedProxies),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			logger.Error("Request error", map[string]any{
				"error": err.Error(),
				"path":  c.Path(),
				"code":  code,
			})
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(middleware.Recover())
	app.Use(middleware.Logger(cfg.Security.AnonymizeIP))
	app.Use(middleware.CORS(cfg.Security.CORSOrigins))

	handler.Routes(app, limiter, gatherer)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = app.ShutdownWithContext(ctx)
	}()

	addr := fmt.Sprintf("%s:%s", cfg.API.Host, cfg.API.Port)
	logger.Info("Pulse API started", map[string]any{"address": addr})

	if err := app.Listen(addr); err != nil {
		logger.Error("Server error", map[string]any{"error": err.Error()})
	}
	logger.Info("Server shutdown complete")
}

func proxyHeader(trusted []string) string {
	if len(trusted) == 0 {
		return ""
	}
	return fiber.HeaderXForwardedFor
}
