package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/pkg/ai"
	"github.com/noah-isme/gema-grader/pkg/scoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.CreditAccount{},
		&models.CreditTransaction{},
		&models.GradingBatch{},
		&models.GradingResult{},
		&models.ActivityLog{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, batch events go to redis only")
		} else {
			defer natsConn.Drain()
		}
	}

	ledger, err := newLedger(cfg, db, redisClient)
	if err != nil {
		log.Fatalf("failed to configure credit ledger: %v", err)
	}

	completer, err := newCompleter(cfg, logger)
	if err != nil {
		log.Fatalf("failed to configure grading client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	activityService := service.NewActivityService(repository.NewActivityLogRepository(db), logger)
	creditService := service.NewCreditService(ledger, validate, cfg.GradingInitialCredits, activityService, logger)
	gradingService, err := service.NewGradingService(
		ledger,
		completer,
		service.NewRubricPromptBuilder(rubricTemplates(cfg.RubricTemplates)),
		repository.NewGradingBatchRepository(db),
		service.NewGradingEventPublisher(redisClient, natsConn, cfg.EventChannel, logger),
		validate,
		logger,
		service.GradingConfig{
			UnitCost:     cfg.GradingUnitCost,
			WindowSize:   cfg.GradingWindowSize,
			MaxAttempts:  cfg.GradingMaxAttempts,
			RetryBackoff: cfg.GradingRetryBackoff,
			Intervals:    gradingIntervals(cfg.GradingIntervals),
			Model: ai.ModelConfig{
				Model:       cfg.AIModel,
				MaxTokens:   cfg.AIMaxTokens,
				Temperature: cfg.AITemperature,
			},
		},
	)
	if err != nil {
		log.Fatalf("failed to configure grading service: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		// a full batch waits on the grader for every window in turn
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    (cfg.UploadMaxKB*dto.MaxBatchSubmissions + 1024) * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		GradingHandler:       handler.NewGradingHandler(gradingService, validate, logger).WithUploads(service.NewEssayUploadService(cfg.UploadMaxKB, logger)),
		CreditHandler:        handler.NewCreditHandler(creditService, logger),
		AdminActivityHandler: handler.NewAdminActivityHandler(activityService, logger),
		JWTMiddleware:        middleware.JWTProtected(cfg.JWTSecret),
		RateLimiter:          middleware.RateLimit("grading", cfg.RateLimitMax, cfg.RateLimitWindow, middleware.AuthRoleAdmin),
		HealthProbes:         healthProbes(db, redisClient, natsConn),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("address", cfg.HTTPAddress()).Str("ledger", cfg.LedgerBackend).Str("ai_provider", cfg.AIProvider).Msg("grading api started")

	waitForShutdown(app)
}

// openDatabase connects to postgres when configured. Without a DSN, batch history and the
// audit trail live in an in-process SQLite database.
func openDatabase(cfg config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return database.ConnectSQLite("")
	}
	return database.ConnectPostgres(cfg.DatabaseURL)
}

func newLedger(cfg config.Config, db *gorm.DB, redisClient *redis.Client) (service.CreditLedger, error) {
	switch cfg.LedgerBackend {
	case config.LedgerBackendRedis:
		return service.NewRedisCreditLedger(redisClient, cfg.LedgerRedisPrefix), nil
	case config.LedgerBackendMemory:
		return service.NewMemoryCreditLedger(nil), nil
	default:
		return repository.NewCreditRepository(db), nil
	}
}

func newCompleter(cfg config.Config, logger zerolog.Logger) (ai.Completer, error) {
	if cfg.AIProvider == "mock" {
		return ai.MockCompleter{Latency: 200 * time.Millisecond}, nil
	}
	return ai.NewOpenAICompleter(ai.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.AIBaseURL,
		Timeout: cfg.AITimeout,
		Logger:  logger,
	})
}

func gradingIntervals(raw map[string]scoring.Interval) map[service.GradingMode]scoring.Interval {
	intervals := make(map[service.GradingMode]scoring.Interval, len(raw))
	for mode, interval := range raw {
		intervals[service.GradingMode(mode)] = interval
	}
	return intervals
}

func rubricTemplates(raw map[string]map[string]string) service.RubricTemplates {
	templates := make(service.RubricTemplates, len(raw))
	for mode, bySeverity := range raw {
		entry := make(map[service.GradingSeverity]string, len(bySeverity))
		for severity, text := range bySeverity {
			entry[service.GradingSeverity(severity)] = text
		}
		templates[service.GradingMode(mode)] = entry
	}
	return templates
}

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) []handler.HealthProbe {
	probes := []handler.HealthProbe{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if redisClient != nil {
		probes = append(probes, handler.HealthProbe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	if natsConn != nil {
		probes = append(probes, handler.HealthProbe{
			Name: "nats",
			Check: func(context.Context) error {
				if !natsConn.IsConnected() {
					return nats.ErrConnectionClosed
				}
				return nil
			},
		})
	}
	return probes
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
