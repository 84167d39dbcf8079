package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sibylquant/sibyl/internal/api"
	"github.com/sibylquant/sibyl/internal/api/handlers"
	"github.com/sibylquant/sibyl/internal/catalog"
	"github.com/sibylquant/sibyl/internal/features"
	"github.com/sibylquant/sibyl/internal/health"
	"github.com/sibylquant/sibyl/internal/modelpool"
	"github.com/sibylquant/sibyl/internal/predict"
	"github.com/sibylquant/sibyl/internal/registry"
	"github.com/sibylquant/sibyl/internal/scheduler"
	"github.com/sibylquant/sibyl/internal/scheduler/jobs"
	"github.com/sibylquant/sibyl/internal/scoring"
	"github.com/sibylquant/sibyl/pkg/config"
	"github.com/sibylquant/sibyl/pkg/database"
	"github.com/sibylquant/sibyl/pkg/httputil"
	"github.com/sibylquant/sibyl/pkg/logger"
	"github.com/sibylquant/sibyl/pkg/redis"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inference serving engine",
	Long: `Starts the HTTP serving engine.

This command:
- loads the task/entity catalog
- performs an initial model pool reload from the registry
- schedules periodic reloads
- serves prediction and health endpoints

Endpoints:
  GET  /health            - Overall status
  GET  /live              - Liveness probe
  GET  /ready             - Readiness probe
  GET  /tasks             - Configured tasks
  GET  /models            - Loaded (task, framework, version) triples
  POST /predict/{entity}  - Predict requested tasks for one entity
  POST /predict/batch     - Predict for multiple entities
  POST /models/reload     - Trigger a synchronous reload
  POST /models/invalidate - Drop readiness and cached features

Example:
  go run ./cmd/sibyl serve
  go run ./cmd/sibyl serve --port 8090`,
	RunE: runServe,
}

var servePort string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "override listen port")
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if servePort != "" {
		cfg.Port = servePort
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	log.WithFields(map[string]interface{}{
		"port": cfg.Port,
		"env":  cfg.Env,
	}).Info("Initializing serving engine")

	// 3. Load the task/entity catalog
	cat, err := catalog.Load(cfg.Serving.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"tasks":    len(cat.Tasks),
		"entities": len(cat.Entities),
	}).Info("Catalog loaded")

	// 4. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	log.Info("Connected to database")

	// 5. Optional redis tier
	redisClient, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	// 6. Outbound HTTP clients
	registryHTTP := httputil.NewWithTimeout(log, cfg.Registry.Timeout).
		WithRateLimit(cfg.Registry.RateLimit, cfg.Registry.RateBurst)
	// Scoring calls carry request bodies, which do not survive a blind
	// retry; failures degrade into per-framework conditions instead.
	scoringHTTP := httputil.NewWithTimeout(log, 10*time.Second).DisableRetry()

	// 7. Registry client and scorer factory
	registryClient := registry.NewClient(cfg.Registry.BaseURL, registryHTTP, log.Zerolog())
	factory := scoring.NewFactory(scoringHTTP)

	// 8. Model pool, health tracker, reloader
	pool := modelpool.NewPool(log.Zerolog())
	tracker := health.NewTracker()
	reloader := modelpool.NewReloader(registryClient, factory, pool, tracker, log.Zerolog())

	// 9. Feature pipeline
	repo := features.NewRepository(db.Pool)
	calculator := features.NewCalculator(repo, cfg.Features.Lookback, log.Zerolog())
	cache := features.NewCache(
		calculator,
		cfg.Features.TTL,
		cfg.Features.ComputeTimeout,
		log.Zerolog(),
		features.WithSharedTier(redis.NewCache(redisClient, "sibyl")),
	)
	defer cache.Close()

	// 10. Prediction executor
	executor := predict.NewExecutor(
		cat,
		cache,
		pool,
		cfg.Features.SchemaVersion,
		cfg.Serving.RequestDeadline,
		cfg.Serving.BatchParallelism,
		log.Zerolog(),
	)

	// 11. Initial reload. Failure is tolerated: the engine starts
	// not-ready and the scheduler keeps retrying.
	initialCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := reloader.Reload(initialCtx); err != nil {
		log.WithError(err).Warn("Initial reload failed, starting not ready")
	}
	cancel()

	// 12. Reload scheduler
	sched := scheduler.New(log)
	if err := sched.AddJob(jobs.NewReloadJob(reloader, cfg.Serving.ReloadSchedule, log)); err != nil {
		return fmt.Errorf("schedule reload job: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// 13. Handlers, router, server
	systemHandler := handlers.NewSystemHandler(tracker, pool, cache, cat, log)
	modelHandler := handlers.NewModelHandler(pool, reloader, tracker, cache, log)
	predictHandler := handlers.NewPredictHandler(executor, log)

	router := api.NewRouter(systemHandler, modelHandler, predictHandler, log)
	server := api.New(cfg, log, router)

	// 14. Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("Serving engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("Shutdown complete")
	return nil
}
