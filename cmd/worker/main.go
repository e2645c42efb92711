package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/visitscribe/backend/internal/adapters/database"
	"github.com/visitscribe/backend/internal/adapters/events"
	"github.com/visitscribe/backend/internal/adapters/locks"
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

// The worker hosts the two background loops: the stale visit sweeper and the
// post-commit orchestrator. It shares no in-process state with the API; all
// coordination goes through Postgres rows and Redis locks, so any number of
// worker replicas can run safely.
func main() {

	observability.InitLogger("visitscribe-worker", os.Getenv("APP_ENV"))
	logger := *observability.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(
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

	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize Redis client")
	}
	defer redisClient.Close()

	visitRepo := database.NewVisitAdapter(pgClient)
	lockProvider := locks.NewRedisLockAdapter(redisClient)
	eventBus := events.NewRedisEventBus(redisClient)

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

	processingService := services.NewVisitProcessingService(
		visitRepo,
		transcriptionClient,
		summarizationProvider,
		eventBus,
		cfg.Pipeline,
		cfg.Transcription.CallbackURL,
		logger,
	)

	sweeper := services.NewStaleVisitSweeper(
		visitRepo,
		transcriptionClient,
		processingService,
		lockProvider,
		cfg.Pipeline,
		metrics,
		logger,
	)

	// Post-commit operation dependencies
	sqlxDB := sqlx.NewDb(pgClient.DB(), "postgres")
	deliveryLog := notifications.NewDeliveryLog(sqlxDB)

	var pushSender providers.PushSender
	if sender, err := notifications.NewPushSender(&cfg.Push); err != nil {
		logger.Warn().Err(err).Msg("push notifications disabled")
	} else {
		pushSender = sender
	}

	var emailSender providers.EmailSender
	if sender, err := notifications.NewEmailSender(&cfg.Email); err != nil {
		logger.Warn().Err(err).Msg("caregiver email disabled")
	} else {
		emailSender = sender
	}

	operations := []services.PostCommitOperation{
		services.NewMedicationSyncOperation(sqlxDB),
		services.NewDeleteTranscriptOperation(transcriptionClient),
		services.NewRunAnalysisOperation(sqlxDB),
		services.NewSendPushNotificationOperation(pushSender, deliveryLog),
		services.NewSendCaregiverEmailsOperation(emailSender, deliveryLog),
	}

	postCommit := services.NewPostCommitService(
		visitRepo,
		operations,
		lockProvider,
		eventBus,
		cfg.Pipeline,
		metrics,
		logger,
	)

	flags := services.NewFeatureFlags()

	var wg sync.WaitGroup

	if flags.SweeperEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
	} else {
		logger.Warn().Msg("stale visit sweeper disabled by feature flag")
	}

	if flags.PostCommitEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			postCommit.Run(ctx)
		}()
	} else {
		logger.Warn().Msg("post-commit orchestrator disabled by feature flag")
	}

	logger.Info().Msg("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("worker shutting down")
	cancel()
	wg.Wait()

	if err := eventBus.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing event bus")
	}

	logger.Info().Msg("worker stopped")
}
