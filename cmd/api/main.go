package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/visitscribe/backend/internal/adapters/cache"
	"github.com/visitscribe/backend/internal/adapters/database"
	"github.com/visitscribe/backend/internal/adapters/events"
	"github.com/visitscribe/backend/internal/api/handlers"
	"github.com/visitscribe/backend/internal/api/middleware"
	"github.com/visitscribe/backend/internal/api/routes"
	"github.com/visitscribe/backend/internal/application/services"
	"github.com/visitscribe/backend/internal/domain/providers"
	"github.com/visitscribe/backend/internal/infrastructure/clients/openai"
	"github.com/visitscribe/backend/internal/infrastructure/clients/postgres"
	"github.com/visitscribe/backend/internal/infrastructure/clients/redis"
	"github.com/visitscribe/backend/internal/infrastructure/clients/transcription"
	"github.com/visitscribe/backend/internal/infrastructure/notifications"
	"github.com/visitscribe/backend/internal/infrastructure/observability"
	"github.com/visitscribe/backend/pkg/config"
)

func main() {

	observability.InitLogger("visitscribe-api", os.Getenv("APP_ENV"))
	logger := *observability.GetLogger()

	// Load configuration

	cfg, err := config.Load()

	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	var shutdown func(context.Context) error
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err = observability.Setup(
			ctx,
			cfg.OTEL.ServiceName,
			cfg.OTEL.ServiceVersion,
			cfg.OTEL.Endpoint,
		)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			logger.Info().Msg("OpenTelemetry initialized")
		}
	}

	// Initialize metrics
	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	// Initialize database client
	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()
	logger.Info().Msg("PostgreSQL client initialized")

	// Initialize Redis client
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize Redis client")
	}
	defer redisClient.Close()
	logger.Info().Msg("Redis client initialized")

	// Initialize adapters

	visitRepo := database.NewVisitAdapter(pgClient)

	cacheProvider := cache.NewRedisAdapter(redisClient)

	// Event bus carries visit status updates to subscribers and hands
	// completed visits to the post-commit worker.
	eventBus := events.NewRedisEventBus(redisClient)
	logger.Info().Msg("event bus initialized")

	transcriptionClient := transcription.NewClient(&cfg.Transcription)

	var summarizationProvider providers.SummarizationProvider
	if cfg.OpenAI.APIKey == "" {
		logger.Warn().Msg("OPENAI_API_KEY is not set; summarization disabled")
	} else {
		openaiClient, err := openai.NewClient(&cfg.OpenAI)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize OpenAI client")
		}
		summarizationProvider = openaiClient
	}

	// Initialize services

	processingService := services.NewVisitProcessingService(
		visitRepo,
		transcriptionClient,
		summarizationProvider,
		eventBus,
		cfg.Pipeline,
		cfg.Transcription.CallbackURL,
		logger,
	)

	escalationService := services.NewEscalationService(visitRepo, cfg.Pipeline, logger)

	// Evict cached visit reads as pipeline transitions land
	cacheInvalidation := services.NewCacheInvalidationService(cacheProvider, eventBus, logger)
	if err := cacheInvalidation.Start(); err != nil {
		logger.Warn().Err(err).Msg("failed to start cache invalidation service")
	}

	// Delivery history for the visit notifications endpoint
	sqlxDB := sqlx.NewDb(pgClient.DB(), "postgres")
	deliveryLog := notifications.NewDeliveryLog(sqlxDB)

	// Initialize handlers

	visitHandler := handlers.NewVisitHandler(visitRepo, processingService, deliveryLog)

	webhookHandler := handlers.NewWebhookHandler(visitRepo, processingService, logger)

	escalationHandler := handlers.NewEscalationHandler(escalationService)

	// Initialize cache middleware
	cacheMiddleware := middleware.NewCacheMiddleware(cacheProvider)
	logger.Info().Msg("cache middleware initialized")

	// Set up router

	router := routes.NewRouter(
		visitHandler,
		webhookHandler,
		escalationHandler,
		cacheMiddleware,
		metrics,
		logger,
	)

	handler := router.SetupRoutes()

	// Create HTTP server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Str("addr", serverAddr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("server shutting down")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during server shutdown")
	}

	// Close event bus
	if err := eventBus.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing event bus")
	}

	cacheInvalidation.Stop()

	logger.Info().Msg("server stopped")
}
