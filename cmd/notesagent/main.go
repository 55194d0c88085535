package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/api/handlers"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/cache/redis"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/elo"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/keywords"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/llm"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/metrics"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/middleware/ratelimit"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/middleware/security"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/orchestrator"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/pipeline"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/publisher"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/rerun"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/search/web"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/source"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/storage/sqlite"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/config"
	appLogger "github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting community notes agent")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}
	if err := sqliteClient.Load(context.Background()); err != nil {
		appLogger.Fatal("Failed to load rating store", zap.Error(err))
	}
	defer sqliteClient.Flush(context.Background())

	// Redis is optional: without it the rerun queue is in-memory and search
	// results are not cached across processes.
	var evidenceCache web.EvidenceCache
	var rerunQueue rerun.Queue = rerun.NewMemoryQueue()
	cacheClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, falling back to in-memory rerun queue", zap.Error(err))
	} else {
		defer cacheClient.Close()
		evidenceCache = cacheClient
		rerunQueue = rerun.NewRedisQueue(cacheClient.Raw())
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)
	searchClient := web.NewClient(cfg.Search.SerpAPIKey, evidenceCache, cfg.Search.MaxResults)
	extractor := keywords.NewExtractor(0)

	collab := pipeline.Collaborators{
		Claims:     llmClient,
		Keywords:   extractor,
		Search:     searchClient,
		Generator:  llmClient,
		Notes:      llmClient,
		Acceptance: llmClient,
	}

	runners := make([]orchestrator.Runner, 0, len(cfg.Bots))
	for _, bot := range cfg.Bots {
		runners = append(runners, pipeline.NewSequence(bot, cfg.Thresholds, collab))
	}

	tracker := elo.NewTracker(sqliteClient)
	wsHandler := handlers.NewWebSocketHandler()

	orch := orchestrator.New(orchestrator.Config{
		Concurrency:     cfg.Scheduler.Concurrency,
		SoftDeadline:    time.Duration(cfg.Scheduler.SoftDeadlineSec) * time.Second,
		HardDeadline:    time.Duration(cfg.Scheduler.HardDeadlineSec) * time.Second,
		BatchLimit:      cfg.Scheduler.BatchLimit,
		CompareVariants: cfg.Scheduler.CompareVariants,
		DryRun:          cfg.Publisher.DryRun,
		RerunWindow:     time.Duration(cfg.Scheduler.RerunWindowSec) * time.Second,
	}, orchestrator.Deps{
		Source:    source.NewFeedClient(cfg.Feed.BaseURL, cfg.Feed.BearerToken),
		Sink:      sqliteClient,
		Publisher: publisher.NewClient(cfg.Publisher.BaseURL, cfg.Publisher.BearerToken),
		Judge:     llmClient,
		Comparer:  tracker,
		Queue:     rerunQueue,
		Runners:   runners,
		Notify:    wsHandler.Broadcast,
	})

	var batchRunning atomic.Bool
	runBatch := func() {
		if !batchRunning.CompareAndSwap(false, true) {
			appLogger.Warn("Batch already running, skipping")
			return
		}
		defer batchRunning.Store(false)

		// The hard deadline prefers a dead process over a wedged one. The
		// comparison log is written before ratings mutate, so an abrupt exit
		// never leaves the audit trail behind the rating state.
		hardTimer := time.AfterFunc(time.Duration(cfg.Scheduler.HardDeadlineSec)*time.Second, func() {
			appLogger.Fatal("Hard deadline exceeded, terminating batch process")
		})
		defer hardTimer.Stop()

		report, err := orch.RunBatch(context.Background())
		if err != nil {
			appLogger.Error("Batch run failed", zap.Error(err))
			return
		}
		appLogger.Info("Batch report",
			zap.String("run_id", report.RunID),
			zap.Int("completed", report.TasksCompleted),
			zap.Int("skipped", report.TasksSkipped),
			zap.Int("failed", report.TasksFailed),
			zap.Int("published", report.Published),
		)
	}

	trigger := func() bool {
		if batchRunning.Load() {
			return false
		}
		go runBatch()
		return true
	}

	app := buildServer(cfg, sqliteClient, trigger, wsHandler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		appLogger.Info("Admin server starting", zap.String("address", addr))
		return app.Listen(addr)
	})

	g.Go(func() error {
		interval := time.Duration(cfg.Scheduler.IntervalSec) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runBatch()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runBatch()
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		appLogger.Info("Shutting down gracefully...")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		appLogger.Error("Shutdown with error", zap.Error(err))
	}
	appLogger.Info("Agent stopped")
}

func buildServer(cfg *config.Config, store *sqlite.Client, trigger handlers.BatchTrigger, wsHandler *handlers.WebSocketHandler) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	app.Use(limiter.Middleware())

	recent := func(limit int) ([]model.PipelineResult, error) {
		return store.RecentResults(context.Background(), limit)
	}
	adminHandler := handlers.NewAdminHandler(store, recent, trigger)

	api := app.Group("/api/v1")
	api.Get("/health", adminHandler.HandleHealth)
	api.Get("/ratings", adminHandler.HandleRatings)
	api.Get("/comparisons", adminHandler.HandleComparisons)
	api.Get("/runs", adminHandler.HandleRecentRuns)
	api.Post("/runs", adminHandler.HandleTriggerRun)

	api.Use("/runs/live", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/runs/live", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	return app
}
