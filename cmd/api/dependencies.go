package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerkeep/ledgerkeep/internal/ai"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/categorization"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/executor"
	importhandler "github.com/ledgerkeep/ledgerkeep/internal/domain/import/handler"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/mapping"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/normalizer"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/parser"
	importservice "github.com/ledgerkeep/ledgerkeep/internal/domain/import/service"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/session"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/import/stream"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/subscriptions"
	"github.com/ledgerkeep/ledgerkeep/internal/domain/transactions"
	txhandler "github.com/ledgerkeep/ledgerkeep/internal/domain/transactions/handler"
	"github.com/ledgerkeep/ledgerkeep/internal/server"
	"github.com/ledgerkeep/ledgerkeep/pkg/config"
	"github.com/ledgerkeep/ledgerkeep/pkg/cron"
	"github.com/ledgerkeep/ledgerkeep/pkg/db"
	"github.com/ledgerkeep/ledgerkeep/pkg/metrics"
	"github.com/ledgerkeep/ledgerkeep/pkg/notify"
	"github.com/ledgerkeep/ledgerkeep/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	FileStore storage.Store
	Metrics   *metrics.Metrics
	Broker    *stream.Broker

	// Repositories
	SessionRepo        *session.Repository
	TransactionRepo    *transactions.Repository
	CategorizationRepo *categorization.Repository
	SubscriptionRepo   *subscriptions.Repository

	// Services
	CategorizationService *categorization.Service
	SubscriptionService   *subscriptions.Service
	Mailer                *notify.Mailer
	Executor              *executor.Executor
	ImportService         *importservice.Service

	// Handlers
	ImportHandler      *importhandler.Handler
	TransactionHandler *txhandler.Handler

	Auth      *server.Authenticator
	Scheduler *cron.Scheduler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(ctx); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.SessionRepo = session.NewRepository(d.DB.Pool)
	d.TransactionRepo = transactions.NewRepository(d.DB.Pool)
	d.CategorizationRepo = categorization.NewRepository(d.DB.Pool)
	d.SubscriptionRepo = subscriptions.NewRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices(ctx context.Context) error {
	jwtSecret := []byte(d.Config.Auth.JWTSecret)
	if len(jwtSecret) == 0 {
		return fmt.Errorf("jwt secret is required")
	}
	d.Auth = server.NewAuthenticator(jwtSecret)

	files, err := storage.NewLocalStore(d.Config.Storage.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStore = files

	d.Metrics = metrics.New()
	d.Broker = stream.NewBroker()

	epsilon, err := decimal.NewFromString(d.Config.Import.BalanceEpsilon)
	if err != nil {
		return fmt.Errorf("invalid balance epsilon %q: %w", d.Config.Import.BalanceEpsilon, err)
	}

	// Gemini is optional; without an API key the mapping suggester falls back
	// to the header heuristic and the AI categorization pass is skipped.
	var suggester mapping.Suggester
	var classifier categorization.Classifier
	if d.Config.Gemini.APIKey != "" {
		gemini, err := ai.NewGemini(ctx, d.Config.Gemini.APIKey, d.Config.Gemini.Model, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to init gemini client: %w", err)
		}
		suggester = gemini
		classifier = gemini
		d.Logger.Info("gemini client initialized", slog.String("model", d.Config.Gemini.Model))
	} else {
		d.Logger.Info("gemini api key not set, AI suggestions disabled")
	}

	d.CategorizationService = categorization.New(d.CategorizationRepo, classifier, d.Logger)
	d.SubscriptionService = subscriptions.New(d.SubscriptionRepo, d.Logger)

	var resolver notify.RecipientResolver
	if d.Config.Notify.Recipient != "" {
		resolver = notify.StaticRecipient(d.Config.Notify.Recipient)
	}
	d.Mailer, err = notify.New(d.Config.Notify.ResendAPIKey, d.Config.Notify.FromAddress, resolver, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to init mailer: %w", err)
	}

	d.Executor = executor.New(
		d.SessionRepo,
		d.TransactionRepo,
		d.FileStore,
		parser.New(0),
		normalizer.New(),
		d.Broker,
		newCategorizationAdapter(d.CategorizationService),
		d.SubscriptionService,
		d.Mailer,
		d.Metrics,
		d.Config.Import.ProgressInterval,
		d.Logger,
	)

	d.ImportService = importservice.New(
		d.SessionRepo,
		d.TransactionRepo,
		d.FileStore,
		parser.New(d.Config.Import.MaxUploadBytes),
		suggester,
		d.Executor,
		d.Broker,
		d.Metrics,
		importservice.Config{
			SampleRows:         d.Config.Import.SampleRows,
			DuplicateThreshold: d.Config.Import.DuplicateThreshold,
			BalanceEpsilon:     epsilon,
		},
		d.Logger,
	)

	d.Scheduler = cron.NewScheduler(d.SessionRepo, d.FileStore, d.Config.Import.SessionMaxAge, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// initHandlers initializes the HTTP handlers
func (d *Dependencies) initHandlers() error {
	d.ImportHandler = importhandler.New(d.ImportService, d.Config.Import.MaxUploadBytes, d.Logger)
	d.TransactionHandler = txhandler.New(d.TransactionRepo, d.Logger)

	d.Logger.Info("handlers initialized")
	return nil
}
