package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/windfall/prosody_service/internal/acoustic"
	"github.com/windfall/prosody_service/internal/client"
	"github.com/windfall/prosody_service/internal/config"
	grpchandler "github.com/windfall/prosody_service/internal/handler/grpc"
	"github.com/windfall/prosody_service/internal/handler/http"
	"github.com/windfall/prosody_service/internal/logger"
	"github.com/windfall/prosody_service/internal/metrics"
	"github.com/windfall/prosody_service/internal/repository"
	"github.com/windfall/prosody_service/internal/server"
	"github.com/windfall/prosody_service/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("env", cfg.Environment).Msg("Starting prosody_service")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	opts := []service.ProsodyOption{service.WithMetrics(m)}
	var checks []http.ReadinessCheck

	// Initialize Redis client
	var redisClient *client.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = client.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Redis client")
		} else {
			log.Info().Msg("Redis client initialized")
			opts = append(opts, service.WithCache(redisClient))
			checks = append(checks, http.ReadinessCheck{Name: "redis", Check: redisClient.Ping})
		}
	} else {
		log.Warn().Msg("REDIS_URL not set, analysis cache and rate limiting disabled")
	}

	// Initialize Postgres client
	var postgresClient *client.PostgresClient
	if cfg.DatabaseURL != "" {
		postgresClient, err = client.NewPostgresClient(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Postgres client")
		} else {
			log.Info().Msg("Postgres client initialized")
			opts = append(opts, service.WithAttempts(repository.NewPostgresAttemptRepository(postgresClient)))
			checks = append(checks, http.ReadinessCheck{Name: "postgres", Check: postgresClient.Ping})
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, attempt history disabled")
	}

	// Initialize upload archive
	var storageClient *client.StorageClient
	switch cfg.ArchiveBackend {
	case "r2":
		cloudflareClient, err := client.NewCloudflareClient(ctx,
			cfg.CloudflareAccessKeyID,
			cfg.CloudflareSecretKey,
			cfg.CloudflareR2Endpoint,
			cfg.CloudflareBucketName,
			cfg.CloudflarePublicURL,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Cloudflare client")
		} else {
			log.Info().Str("bucket", cfg.CloudflareBucketName).Msg("Cloudflare R2 archive initialized")
			opts = append(opts, service.WithArchiver(cloudflareClient))
		}
	case "gcs":
		storageClient, err = client.NewStorageClient(ctx, cfg.GCSBucketName, cfg.GCPCredentialsFile)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize GCS client")
		} else {
			log.Info().Str("bucket", cfg.GCSBucketName).Msg("GCS archive initialized")
			opts = append(opts, service.WithArchiver(storageClient))
		}
	case "":
	default:
		log.Warn().Str("backend", cfg.ArchiveBackend).Msg("Unknown ARCHIVE_BACKEND, archiving disabled")
	}

	// Initialize Pub/Sub client
	var pubsubClient *client.PubSubClient
	if cfg.GCPProjectID != "" && cfg.PubSubTopicID != "" {
		pubsubClient, err = client.NewPubSubClient(ctx, cfg.GCPProjectID, cfg.PubSubTopicID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Pub/Sub client")
		} else {
			log.Info().Str("topic", cfg.PubSubTopicID).Msg("Pub/Sub client initialized")
			opts = append(opts, service.WithEvents(pubsubClient))
		}
	}

	// Initialize AI coach
	if coach := newCoach(ctx, cfg, log); coach != nil {
		opts = append(opts, service.WithCoach(coach))
	}

	// Initialize services
	analyzer := acoustic.NewAnalyzer(cfg.PitchFloor, cfg.PitchCeiling)
	prosodyService, err := service.NewProsodyService(analyzer, service.ProsodyConfig{
		Calibration: cfg.Calibration(),
		TempDir:     cfg.AudioTempDir,
		CacheTTL:    cfg.CacheTTL,
	}, log, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize prosody service")
	}

	httpOpts := server.HTTPOptions{Metrics: m}
	grpcOpts := server.GRPCOptions{}
	if cfg.JWTSecret != "" {
		authService := service.NewAuthService(cfg.JWTSecret)
		httpOpts.Validator = authService
		grpcOpts.Validator = authService
	} else {
		log.Warn().Msg("JWT_SECRET not set, /api/v1 is unauthenticated")
	}
	if redisClient != nil && cfg.RateLimitRequests > 0 {
		limiter := service.NewRateLimitService(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow)
		httpOpts.Limiter = limiter
		grpcOpts.Limiter = limiter
	}

	// Initialize handlers
	healthHandler := http.NewHealthHandler(prosodyService.Status(), checks...)
	prosodyHandler := http.NewProsodyHandler(log, prosodyService, cfg.MaxUploadBytes)
	grpcHandler := grpchandler.NewHandler(log, prosodyService)

	// Initialize servers
	httpServer := server.NewHTTPServer(cfg, log, healthHandler, prosodyHandler, httpOpts)
	grpcServer := server.NewGRPCServer(cfg, log, grpcHandler, grpcOpts)

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()
	go func() {
		if err := grpcServer.Start(); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
			cancel()
		}
	}()

	log.Info().
		Str("http_addr", cfg.HTTPAddress()).
		Str("grpc_addr", cfg.GRPCAddress()).
		Msg("Servers started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down servers...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	grpcServer.GracefulStop()

	// Close clients
	if redisClient != nil {
		redisClient.Close()
	}
	if postgresClient != nil {
		postgresClient.Close()
	}
	if storageClient != nil {
		storageClient.Close()
	}
	if pubsubClient != nil {
		pubsubClient.Close()
	}

	log.Info().Msg("Server stopped")
}

// newCoach builds the configured coach, or nil when coaching is disabled or
// the provider cannot be initialised.
func newCoach(ctx context.Context, cfg *config.Config, log zerolog.Logger) *service.CoachService {
	switch cfg.CoachProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY not set, coaching disabled")
			return nil
		}
		llm := client.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		log.Info().Str("model", cfg.OpenAIModel).Msg("OpenAI coach initialized")
		return service.NewCoachService(llm, "openai", log)
	case "gemini":
		llm, err := client.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Gemini client")
			return nil
		}
		log.Info().Str("model", cfg.GeminiModel).Msg("Gemini coach initialized")
		return service.NewCoachService(llm, "gemini", log)
	case "":
		return nil
	default:
		log.Warn().Str("provider", cfg.CoachProvider).Msg("Unknown COACH_PROVIDER, coaching disabled")
		return nil
	}
}
