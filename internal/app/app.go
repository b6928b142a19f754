package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/handlers"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/services/auth"
	"github.com/kardex-io/kardex/internal/services/cache"
	"github.com/kardex-io/kardex/internal/services/events"
	"github.com/kardex-io/kardex/internal/services/extraction"
	"github.com/kardex-io/kardex/internal/services/matching"
	"github.com/kardex-io/kardex/internal/services/matrix"
	"github.com/kardex-io/kardex/internal/services/notify"
	"github.com/kardex-io/kardex/internal/services/passport"
	"github.com/kardex-io/kardex/internal/services/pdf"
	"github.com/kardex-io/kardex/internal/services/reconcile"
	"github.com/kardex-io/kardex/internal/services/scheduler"
	"github.com/kardex-io/kardex/internal/services/vision"
	"github.com/kardex-io/kardex/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	Clock          interfaces.Clock
	StorageManager interfaces.StorageManager

	// Event bus
	EventService interfaces.EventService

	// Domain services
	AuthService      interfaces.AuthService
	Normalizer       *passport.Normalizer
	Matcher          *matching.Resolver
	VisionChain      *vision.Chain
	Processor        *extraction.Processor
	WorkerPool       *scheduler.WorkerPool
	SchedulerService interfaces.SchedulerService
	ReconcileService *reconcile.Service
	MatrixBuilder    *matrix.Builder
	DashboardCache   interfaces.DashboardCache
	Messenger        interfaces.Messenger
	PDFValidator     *pdf.Validator
	Uploader         *handlers.Uploader

	// HTTP handlers
	APIHandler          *handlers.APIHandler
	WSHandler           *handlers.WebSocketHandler
	BusinessHandler     *handlers.BusinessHandler
	SiteHandler         *handlers.SiteHandler
	EmployeeHandler     *handlers.EmployeeHandler
	WorkCardHandler     *handlers.WorkCardHandler
	JobHandler          *handlers.ExtractionJobHandler
	UploadAccessHandler *handlers.UploadAccessHandler
	PortalHandler       *handlers.PortalHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		Clock:  common.SystemClock{},
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize event bus early so every service can publish through it
	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		return nil, fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Start the extraction worker pool AFTER all handlers are initialized.
	// Without a vision chain the pool stays stopped and queued jobs wait;
	// the health endpoint reports the pool as down.
	if app.VisionChain != nil {
		if err := app.WorkerPool.Start(); err != nil {
			return nil, fmt.Errorf("failed to start worker pool: %w", err)
		}
	} else {
		logger.Warn().Msg("Extraction worker pool not started (vision chain unavailable)")
	}

	logger.Info().
		Bool("extraction_enabled", app.VisionChain != nil).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (SQLite + Badger blob store)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("database", a.Config.Database.URL).
		Str("blob_store", a.Config.Blobs.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order.
//
// EXTRACTION PIPELINE ARCHITECTURE:
// 1. WorkerPool - claims PENDING jobs through lease columns, recovers stale leases
// 2. Processor - image load, vision chain, semantic gate, employee resolution,
//    previous-card dedupe, atomic card/entry write
// 3. Chain - provider failover across the configured vision model list
//
// Jobs are created by uploads (card + PENDING job in one transaction) and
// move PENDING -> RUNNING -> DONE/FAILED. Requeue resets FAILED to PENDING
// with attempts preserved.
func (a *App) initServices() error {
	// Authentication (admin bearer tokens + portal session tokens)
	a.AuthService = auth.NewService(a.Config, a.Clock, a.Logger)
	a.Logger.Debug().Msg("Auth service initialized")

	// Passport normalization, shared by matching, employee CRUD and diagnostics
	a.Normalizer = passport.NewNormalizer(a.Config.Passport.MinLength, a.Config.Passport.MaxLength)

	// Employee matching policy
	a.Matcher = matching.NewResolver(
		a.StorageManager.Employees(),
		a.Normalizer,
		a.Config.Matching.EnableNameSiteFallback,
		a.Logger,
	)
	a.Logger.Debug().
		Bool("name_site_fallback", a.Config.Matching.EnableNameSiteFallback).
		Msg("Employee matcher initialized")

	// Dashboard cache keyed (business_id, month)
	a.DashboardCache = cache.NewService(a.Config.DashboardCacheTTL(), a.Clock, a.Logger)
	a.Logger.Debug().
		Dur("ttl", a.Config.DashboardCacheTTL()).
		Msg("Dashboard cache initialized")

	// PDF validation for uploaded documents
	a.PDFValidator = pdf.NewValidator(a.Logger)

	// Vision model chain. A missing or misconfigured provider key downgrades
	// the deployment to serving-only instead of failing startup: uploads
	// still queue jobs, the admin API works, and the pool stays stopped.
	chain, err := vision.NewChain(a.Config, a.Logger)
	if err != nil {
		a.VisionChain = nil
		a.Logger.Warn().Err(err).Msg("Vision chain unavailable - extraction disabled")
		a.Logger.Info().Msg("To enable extraction, set ANTHROPIC_API_KEY or GEMINI_API_KEY for the configured model chain")
	} else {
		a.VisionChain = chain
		a.Logger.Debug().
			Strs("models", a.Config.VisionModelChain()).
			Msg("Vision chain initialized")
	}

	// Extraction pipeline: gate thresholds decide which rows need review
	gate := extraction.NewGate(
		a.Config.Extraction.LowConfidenceThreshold,
		a.Config.Extraction.TimeTotalConflictHours,
	)

	a.Processor = extraction.NewProcessor(extraction.ProcessorDeps{
		Jobs:       a.StorageManager.Jobs(),
		Cards:      a.StorageManager.WorkCards(),
		Entries:    a.StorageManager.DayEntries(),
		Employees:  a.StorageManager.Employees(),
		Images:     a.StorageManager.Images(),
		Vision:     a.VisionChain,
		Matcher:    a.Matcher,
		Events:     a.EventService,
		Clock:      a.Clock,
		Gate:       gate,
		Normalizer: a.Normalizer,
		Logger:     a.Logger,
	})

	// Worker pool claims jobs via lease columns; started in New() after
	// handler initialization
	a.WorkerPool = scheduler.NewWorkerPool(scheduler.WorkerPoolConfig{
		PollInterval:   a.Config.WorkerPollInterval(),
		Concurrency:    a.Config.Worker.Concurrency,
		MaxAttempts:    a.Config.Worker.MaxRetryAttempts,
		StaleThreshold: a.Config.StaleLockThreshold(),
	}, a.StorageManager.Jobs(), a.Processor, a.EventService, a.Clock, a.Logger)
	a.Logger.Debug().
		Int("concurrency", a.Config.Worker.Concurrency).
		Msg("Worker pool initialized")

	// Monthly reconciliation (approval snapshots, carry-forward, locked days)
	a.ReconcileService = reconcile.NewService(
		a.StorageManager.WorkCards(),
		a.StorageManager.DayEntries(),
		a.EventService,
		a.Clock,
		a.Logger,
	)

	// Hours matrix builder
	a.MatrixBuilder = matrix.NewBuilder(
		a.StorageManager.Employees(),
		a.StorageManager.WorkCards(),
		a.Logger,
	)

	// Upload link delivery. The log messenger stands in for an SMS gateway;
	// link creation never depends on delivery succeeding.
	a.Messenger = notify.NewLogMessenger(a.Logger)

	// Maintenance scheduler: expired link deactivation, terminal job purge,
	// blob store GC
	a.SchedulerService = scheduler.NewService(a.Logger)
	if err := scheduler.RegisterMaintenanceJobs(a.SchedulerService, a.Config, a.StorageManager, a.Clock, a.Logger); err != nil {
		return fmt.Errorf("failed to register maintenance jobs: %w", err)
	}
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	// WebSocket hub subscribes to the event bus; when disabled the /ws
	// endpoint still upgrades but nothing is broadcast
	wsEvents := a.EventService
	if !a.Config.WebSocket.Enabled {
		wsEvents = nil
		a.Logger.Info().Msg("WebSocket broadcasts disabled by configuration")
	}
	a.WSHandler = handlers.NewWebSocketHandler(wsEvents, &a.Config.WebSocket, a.Logger)

	// Shared upload ingest used by the admin and portal upload endpoints
	a.Uploader = handlers.NewUploader(
		a.StorageManager.WorkCards(),
		a.StorageManager.Images(),
		a.StorageManager.Employees(),
		a.StorageManager.Sites(),
		a.PDFValidator,
		a.EventService,
		a.DashboardCache,
		a.Logger,
	)

	a.APIHandler = handlers.NewAPIHandler(a.StorageManager, a.WorkerPool, a.SchedulerService, a.Config, a.Logger)

	a.BusinessHandler = handlers.NewBusinessHandler(a.StorageManager, a.DashboardCache, a.Clock, a.Logger)
	a.SiteHandler = handlers.NewSiteHandler(a.StorageManager, a.MatrixBuilder, a.Logger)
	a.EmployeeHandler = handlers.NewEmployeeHandler(a.StorageManager, a.Normalizer, a.Logger)

	a.WorkCardHandler = handlers.NewWorkCardHandler(
		a.StorageManager,
		a.Uploader,
		a.ReconcileService,
		a.Normalizer,
		a.EventService,
		a.DashboardCache,
		a.Logger,
	)

	a.JobHandler = handlers.NewExtractionJobHandler(a.StorageManager, a.EventService, a.Config, a.Logger)

	a.UploadAccessHandler = handlers.NewUploadAccessHandler(a.StorageManager, a.Messenger, a.Config, a.Clock, a.Logger)
	a.PortalHandler = handlers.NewPortalHandler(a.StorageManager, a.AuthService, a.Uploader, a.Config, a.Clock, a.Logger)

	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	// Stop maintenance scheduler
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop maintenance scheduler")
		}
	}

	// Stop worker pool; waits for in-flight jobs to hand back
	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		} else {
			a.Logger.Info().Msg("Worker pool stopped")
		}
	}

	// Disconnect WebSocket clients
	if a.WSHandler != nil {
		a.WSHandler.CloseAll()
	}

	// Close event service
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Close storage
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
