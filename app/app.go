package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	pprof_gin "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sloggin "github.com/samber/slog-gin"
	"golang.org/x/sync/errgroup"

	"github.com/kontorhq/kontor-backend/concurrency"
	"github.com/kontorhq/kontor-backend/config"
	"github.com/kontorhq/kontor-backend/controllers"
	"github.com/kontorhq/kontor-backend/filelock"
	"github.com/kontorhq/kontor-backend/middleware"
	"github.com/kontorhq/kontor-backend/models"
	"github.com/kontorhq/kontor-backend/queue"
	"github.com/kontorhq/kontor-backend/segment"
	"github.com/kontorhq/kontor-backend/services"
	"github.com/kontorhq/kontor-backend/slotstore"
	"github.com/kontorhq/kontor-backend/utils"
	"github.com/kontorhq/kontor-backend/version"
)

// KontorApp represents the core application structure for the Kontor backend
type KontorApp struct {
	cfg    *config.Config
	router *gin.Engine

	kontorController controllers.KontorController

	slots         *concurrency.Service
	sweeper       *concurrency.Sweeper
	revokedTokens *services.RevokedTokenCache

	// Profiling related
	profilingTicker *time.Ticker

	// Server resources
	httpServer *http.Server
}

// NewApp creates a new instance of the Kontor backend application
func NewApp(cfg *config.Config) (*KontorApp, error) {
	return &KontorApp{cfg: cfg}, nil
}

// setup initializes the application components
func (app *KontorApp) setup() error {
	// Initialize Sentry if enabled
	if app.cfg.Analytics.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              app.cfg.Analytics.Sentry.DSN,
			EnableTracing:    app.cfg.Analytics.Sentry.EnableTracing,
			TracesSampleRate: app.cfg.Analytics.Sentry.TracesSampleRate,
			Release:          "api@" + version.Version,
			Debug:            app.cfg.Analytics.Sentry.Debug,
			Environment:      app.cfg.Analytics.Sentry.Environment,
			DebugWriter:      utils.NewSentrySlogWriter(slog.Default().WithGroup("sentry")),
		}); err != nil {
			slog.Warn("Sentry initialization failed", "error", err)
		}
	}

	// Initialize database
	models.ConnectDatabase()

	// Wire up the slot store and everything built on it
	store, err := slotstore.NewFromConfig(app.cfg)
	if err != nil {
		return fmt.Errorf("failed to set up slot store: %w", err)
	}

	app.slots = concurrency.NewService(store, concurrency.Options{
		MaxConcurrentUploads: app.cfg.Slots.MaxConcurrentUploads,
		SlotTTL:              app.cfg.Slots.SlotTTL,
	})
	app.sweeper = concurrency.NewSweeper(store, app.cfg.Slots.SweepScanPageSize)

	locker := filelock.NewService(app.slots, filelock.Options{
		LockTTL:        app.cfg.Locking.LockTTL,
		AcquireTimeout: app.cfg.Locking.AcquireTimeout,
		RetryDelay:     app.cfg.Locking.RetryDelay,
	})

	dispatcher, err := queue.NewFromConfig(app.cfg)
	if err != nil {
		return fmt.Errorf("failed to set up job queue: %w", err)
	}

	app.revokedTokens = services.NewRevokedTokenCache(models.DB)
	if err := app.revokedTokens.Refresh(); err != nil {
		slog.Warn("Could not load revoked tokens on startup", "error", err)
	}

	app.kontorController = controllers.KontorController{
		BulkService:   services.NewBulkService(models.DB, locker, dispatcher),
		Slots:         app.slots,
		Sweeper:       app.sweeper,
		RevokedTokens: app.revokedTokens,
	}

	// Set up the Gin router
	app.router = app.createRouter()

	return nil
}

// createRouter sets up all routes and middleware for the application
func (app *KontorApp) createRouter() *gin.Engine {
	// Set Gin mode based on environment
	if app.cfg.Log.Level == slog.LevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sloggin.New(slog.Default().WithGroup("http")))

	// Apply CORS middleware to all routes
	r.Use(middleware.CORSMiddleware())

	// Enable profiling if configured
	if app.cfg.Server.Pprof.Enabled {
		pprof_gin.Register(r)
	}

	// Configure Sentry middleware if enabled
	if app.cfg.Analytics.Sentry.Enabled {
		r.Use(sentrygin.New(sentrygin.Options{
			Repanic: true,
		}))
	}

	// Set up routes
	app.setupRoutes(r)

	return r
}

// setupRoutes configures all application routes
func (app *KontorApp) setupRoutes(r *gin.Engine) {
	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    version.Version,
			"commit_sha": version.Meta,
		})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Authorized API routes, worker tokens included
	authorized := r.Group("/")
	authorized.Use(middleware.GetApiMiddleware(app.revokedTokens), middleware.AccessLevel(models.WorkerJobAccessType, models.AccessPolicyType, models.AdminPolicyType))

	// Admin API routes
	admin := r.Group("/")
	admin.Use(middleware.GetApiMiddleware(app.revokedTokens), middleware.AccessLevel(models.AdminPolicyType))

	app.setupAuthorizedRoutes(authorized)
	app.setupAdminRoutes(admin)

	// Set up internal routes if enabled
	if app.cfg.Server.EnableInternalEndpoints {
		app.setupInternalRoutes(r)
	}
}

// setupAuthorizedRoutes configures routes requiring basic authorization
func (app *KontorApp) setupAuthorizedRoutes(r *gin.RouterGroup) {
	r.POST("/api/uploads", app.kontorController.BeginUpload)
	r.POST("/api/uploads/:upload_id/heartbeat", app.kontorController.HeartbeatUpload)
	r.POST("/api/uploads/:upload_id/complete", app.kontorController.CompleteUpload)
	r.DELETE("/api/uploads/:upload_id", app.kontorController.AbortUpload)
	r.GET("/api/files", controllers.ListFiles)
	r.GET("/api/products", controllers.ListProducts)

	r.POST("/api/bulk-requests", controllers.CreateBulkRequest)
	r.GET("/api/bulk-requests", controllers.ListBulkRequests)
	r.GET("/api/bulk-requests/:request_id", controllers.GetBulkRequestDetails)
	r.POST("/api/bulk-requests/:request_id/start", app.kontorController.StartBulkRequest)
	r.POST("/api/bulk-requests/:request_id/cancel", app.kontorController.CancelBulkRequest)
	r.POST("/api/bulk-requests/:request_id/status", app.kontorController.SetBulkRequestStatus)
}

// setupAdminRoutes configures routes requiring admin privileges
func (app *KontorApp) setupAdminRoutes(r *gin.RouterGroup) {
	r.GET("/api/uploads/stats", app.kontorController.UploadStats)
	r.POST("/tokens/issue-access-token", controllers.IssueAccessTokenForCompany)
	r.POST("/tokens/revoke", app.kontorController.RevokeAccessToken)
}

// setupInternalRoutes configures internal routes
func (app *KontorApp) setupInternalRoutes(r *gin.Engine) {
	r.POST("_internal/sweep", middleware.InternalApiAuth(), app.kontorController.SweepInternal)
	r.POST("_internal/revoked-tokens/refresh", middleware.InternalApiAuth(), app.kontorController.RefreshRevokedTokensInternal)
	r.POST("_internal/revoked-tokens/prune", middleware.InternalApiAuth(), controllers.PruneRevokedTokensInternal)
	r.POST("_internal/api/create_user", middleware.InternalApiAuth(), controllers.CreateUserInternal)
	r.POST("_internal/api/upsert_company", middleware.InternalApiAuth(), controllers.UpsertCompanyInternal)
}

// setupProfiler initializes the profiler if enabled
func (app *KontorApp) setupProfiler() error {
	if !app.cfg.Server.Pprof.PeriodicEnabled {
		return nil
	}

	// Create profiles directory if it doesn't exist
	if err := os.MkdirAll(app.cfg.Server.Pprof.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create profiles directory: %v", err)
	}

	// Start periodic profiling goroutine
	intervalMinutes := app.cfg.Server.Pprof.IntervalMinutes
	app.profilingTicker = time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
	return nil
}

// runProfiler handles periodic profiling
func (app *KontorApp) runProfiler(ctx context.Context) {
	if !app.cfg.Server.Pprof.PeriodicEnabled {
		return
	}

	for {
		select {
		case <-ctx.Done():
			app.profilingTicker.Stop()
			return
		case <-app.profilingTicker.C:
			// Trigger GC before taking memory profile
			runtime.GC()

			// Create memory profile
			timestamp := time.Now().Format("2006-01-02-15-04-05")
			memProfilePath := filepath.Join(app.cfg.Server.Pprof.Dir, fmt.Sprintf("memory-%s.pprof", timestamp))
			f, err := os.Create(memProfilePath)
			if err != nil {
				slog.Error("Failed to create memory profile", "error", err)
				continue
			}

			if err := pprof.WriteHeapProfile(f); err != nil {
				slog.Error("Failed to write memory profile", "error", err)
			}
			f.Close()

			// Cleanup old profiles
			app.cleanupOldProfiles(app.cfg.Server.Pprof.Dir, app.cfg.Server.Pprof.KeepProfiles)
		}
	}
}

// cleanupOldProfiles removes old profile files
func (app *KontorApp) cleanupOldProfiles(dir string, keep int) {
	files, err := filepath.Glob(filepath.Join(dir, "memory-*.pprof"))
	if err != nil {
		slog.Error("Failed to list profile files", "error", err)
		return
	}

	if len(files) <= keep {
		return
	}

	// Sort files by name (which includes timestamp)
	for i := 0; i < len(files)-keep; i++ {
		if err := os.Remove(files[i]); err != nil {
			slog.Error("Failed to remove old profile", "file", files[i], "error", err)
		}
	}
}

// runSweeper prunes stale slot accounting entries on the configured interval.
func (app *KontorApp) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(app.cfg.Slots.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := app.sweeper.Sweep(ctx, concurrency.SweepOptions{
				MaxOps:     app.cfg.Slots.SweepMaxOps,
				MaxRuntime: app.cfg.Slots.SweepMaxRuntime,
				PageSize:   app.cfg.Slots.SweepScanPageSize,
			})
			if err != nil {
				slog.Error("Maintenance sweep failed", "error", err)
				continue
			}
			slog.Debug("Maintenance sweep finished",
				"scanned", result.Scanned,
				"removed", result.Removed,
				"ops", result.Ops,
				"stopReason", result.StopReason)
		}
	}
}

// Serve starts the application server
func (app *KontorApp) Serve() error {
	defer segment.CloseClient()

	// Set up the application
	if err := app.setup(); err != nil {
		return fmt.Errorf("failed to set up application: %w", err)
	}

	// Set up profiling if enabled
	if err := app.setupProfiler(); err != nil {
		return fmt.Errorf("failed to set up profiler: %w", err)
	}

	slog.Info("Starting Kontor Backend API",
		"version", version.Version,
		"commit", version.Meta,
		"port", app.cfg.Server.Port)

	// Create an error group to manage all goroutines
	g := new(errgroup.Group)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run profiler if enabled
	if app.cfg.Server.Pprof.PeriodicEnabled {
		g.Go(func() error {
			app.runProfiler(ctx)
			return nil
		})
	}

	// Keep the revoked token cache fresh
	g.Go(func() error {
		app.revokedTokens.RunPeriodicRefresh(ctx, app.cfg.Auth.RevokedCacheRefresh)
		return nil
	})

	// Run the maintenance sweeper if enabled
	if app.cfg.Features.SweeperEnabled {
		g.Go(func() error {
			app.runSweeper(ctx)
			return nil
		})
	}

	// Set up and start HTTP server
	listenAddr := fmt.Sprintf(":%d", app.cfg.Server.Port)
	app.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      app.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g.Go(func() error {
		slog.Info("Server starting", "address", listenAddr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals
	g.Go(func() error {
		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-signalCh:
			slog.Info("Received signal", "signal", sig)
			cancel()

			// Shut down the HTTP server
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.cfg.Server.ShutdownTimeout)
			defer shutdownCancel()

			slog.Info("Shutting down HTTP server...")
			if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
			}

			return nil
		case <-ctx.Done():
			return nil
		}
	})

	// Wait for all goroutines to complete
	return g.Wait()
}
