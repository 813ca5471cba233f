// Package app wires the full service graph. It is the shared core used by
// cmd/tally-server and cmd/tally-admin.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/tally/internal/clients/kafkabus"
	"github.com/bobmcallan/tally/internal/clients/pmgr"
	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/services/calendar"
	"github.com/bobmcallan/tally/internal/services/eod"
	"github.com/bobmcallan/tally/internal/services/operator"
	"github.com/bobmcallan/tally/internal/services/orchestrator"
	"github.com/bobmcallan/tally/internal/services/recon"
	"github.com/bobmcallan/tally/internal/services/scheduler"
	"github.com/bobmcallan/tally/internal/services/validation"
	storage "github.com/bobmcallan/tally/internal/storage/surrealdb"
)

// App holds all initialized clients and services.
type App struct {
	Config       *common.Config
	Logger       *common.Logger
	Storage      interfaces.StorageManager
	PmgrClient   interfaces.PortfolioManagerClient
	Publisher    *kafkabus.Publisher
	Replayer     interfaces.DLQReplayer
	Validation   interfaces.ValidationService
	Calendar     interfaces.CalendarService
	EodService   interfaces.EodService
	Orchestrator interfaces.OrchestratorService
	Recon        interfaces.ReconService
	Operator     *operator.Service
	Scheduler    *scheduler.Service
	StartupTime  time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes configuration, storage, clients and services.
// configPath may be empty, in which case TALLY_CONFIG and the binary
// directory are consulted.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	if configPath == "" {
		configPath = os.Getenv("TALLY_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "tally.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/tally.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)
	logger.Info().
		Str("version", common.GetVersion()).
		Str("environment", config.Environment).
		Str("config", configPath).
		Msg("Starting tally")

	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	publisher, err := kafkabus.NewPublisher(config.Clients.Kafka.Brokers, config.Clients.Kafka.ClientID, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize bus publisher: %w", err)
	}
	replayer := kafkabus.NewReplayer(config.Clients.Kafka.Brokers, publisher, logger)

	pmgrCfg := config.Clients.Pmgr
	pmgrClient := pmgr.NewClient(
		pmgr.BreakerSettings{
			FailureRate:  pmgrCfg.BreakerFailureRate,
			MinCalls:     pmgrCfg.BreakerMinCalls,
			OpenDuration: pmgrCfg.GetBreakerOpenDuration(),
		},
		pmgr.WithBaseURL(pmgrCfg.BaseURL),
		pmgr.WithLogger(logger),
		pmgr.WithTimeout(pmgrCfg.GetTimeout()),
		pmgr.WithRateLimit(pmgrCfg.RateLimit, pmgrCfg.RateBurst),
		pmgr.WithBulkhead(pmgrCfg.BulkheadMax),
		pmgr.WithRetry(pmgrCfg.RetryMaxAttempts, pmgrCfg.GetRetryBaseBackoff()),
		pmgr.WithSnapshotCache(storageManager.SnapshotCache()),
		pmgr.WithAlertPublisher(publisher),
	)

	validationService := validation.NewService(config.Eod, logger)
	calendarService := calendar.NewService(storageManager.RefDataStore(), config.Scheduler.HolidayCountry, logger)
	if err := calendarService.Refresh(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Initial holiday calendar load failed")
	}

	eodService := eod.NewService(
		storageManager, pmgrClient, validationService, calendarService, publisher, config.Eod, logger)
	orchestratorService := orchestrator.NewService(eodService, config.Orchestrator, logger)
	reconService := recon.NewService(storageManager, calendarService, publisher, logger)
	schedulerService := scheduler.NewService(storageManager, reconService, calendarService, config.Scheduler, logger)
	operatorService := operator.NewService(
		storageManager, eodService, orchestratorService, validationService,
		reconService, calendarService, publisher, replayer, config.Upload, logger)

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("Application initialized")

	return &App{
		Config:       config,
		Logger:       logger,
		Storage:      storageManager,
		PmgrClient:   pmgrClient,
		Publisher:    publisher,
		Replayer:     replayer,
		Validation:   validationService,
		Calendar:     calendarService,
		EodService:   eodService,
		Orchestrator: orchestratorService,
		Recon:        reconService,
		Operator:     operatorService,
		Scheduler:    schedulerService,
		StartupTime:  startupStart,
	}, nil
}

// StartScheduler launches the recurring jobs.
func (a *App) StartScheduler(ctx context.Context) {
	a.Scheduler.Start(ctx)
}

// Close shuts everything down, newest dependency first.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
	}
	a.Logger.Info().Msg("Application closed")
}
