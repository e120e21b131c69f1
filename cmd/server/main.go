package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opscope/opscope/internal/audit"
	"github.com/opscope/opscope/internal/config"
	"github.com/opscope/opscope/internal/handler"
	"github.com/opscope/opscope/internal/history"
	"github.com/opscope/opscope/internal/logbuf"
	"github.com/opscope/opscope/internal/loglevel"
	"github.com/opscope/opscope/internal/middleware"
	"github.com/opscope/opscope/internal/model"
	"github.com/opscope/opscope/internal/pkg/logger"
	"github.com/opscope/opscope/internal/repository"
	"github.com/opscope/opscope/internal/service"
	"github.com/opscope/opscope/internal/stream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 0. Initialize Logger
	logger.Init("info")

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	defaultLevel, err := model.ParseLevel(cfg.Logging.DefaultLevel)
	if err != nil {
		log.Fatalf("Invalid default level: %v", err)
	}

	// 2. Initialize Persistence
	// Audit Persistence (Postgres > memory-only)
	var auditRepo audit.Repo
	var retentionRepo service.RetentionRepo
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("✅ Connected to PostgreSQL")
			auditRepo = repository.NewPostgresAuditRepo(db)
			retentionRepo = repository.NewPostgresRetentionRepo(db)
		} else {
			logger.Error("⚠️ Failed to connect to DB, audit events will be memory-only", "error", err)
		}
	}

	// Trail Cache (Redis > none)
	var trailCache audit.TrailCache
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			trailCache = repository.NewRedisTrailCache(redisClient,
				cfg.Redis.TrailTTLSeconds, cfg.Redis.RecentListKey, cfg.Redis.RecentListMax)
		} else {
			logger.Error("⚠️ Failed to connect to Redis, trail cache disabled", "error", err)
		}
	}

	// 3. Initialize Core Components
	levels := loglevel.NewController(defaultLevel)
	ring := logbuf.NewRing(cfg.Logging.BufferCapacity)
	broadcaster := stream.NewBroadcaster()

	historyStore, err := history.NewStore(cfg.Logging.HistoryDir, cfg.Logging.HistoryQueueSize)
	if err != nil {
		log.Fatalf("Failed to initialize history store: %v", err)
	}

	pipeline := service.NewLogPipeline(levels, ring, broadcaster, historyStore)
	pipeline.StartStatsPush(time.Duration(cfg.Stream.StatsIntervalSeconds) * time.Second)

	// Route our own slog output through the pipeline.
	logger.AttachEmitter(pipeline.Emit)

	recorder := audit.NewRecorder(auditRepo, trailCache)
	searchEngine := audit.NewSearchEngine(recorder)
	retentionSvc := service.NewRetentionService(retentionRepo, recorder)

	enforceCtx, stopEnforce := context.WithCancel(context.Background())
	retentionSvc.StartEnforcement(enforceCtx, time.Duration(cfg.Database.CleanupIntervalMinutes)*time.Minute)

	// 4. Initialize Handlers
	logsHandler := handler.NewLogsHandler(levels, ring)
	historyHandler := handler.NewHistoryHandler(historyStore)
	auditHandler := handler.NewAuditHandler(recorder, searchEngine)
	retentionHandler := handler.NewRetentionHandler(retentionSvc)
	streamHandler := handler.NewStreamHandler(broadcaster, cfg.Stream.SubscriberBuffer)

	searchLimiter := middleware.NewSearchRateLimiter(5, 10)

	// 5. Setup Router
	r := gin.Default()

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.AuditMiddleware(recorder))

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "opscope"})
	})

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// API V1 Routes
	v1 := r.Group("/v1")
	{
		logs := v1.Group("/logs")
		{
			logs.GET("/level", logsHandler.GetLevel)
			logs.PUT("/level", logsHandler.SetLevel)
			logs.GET("/overrides", logsHandler.GetOverrides)
			logs.PUT("/overrides", logsHandler.SetOverride)
			logs.DELETE("/overrides", logsHandler.RemoveOverride)
			logs.GET("/buffer", logsHandler.GetBuffer)
			logs.GET("/buffer/stats", logsHandler.GetBufferStats)
			logs.POST("/buffer/clear", logsHandler.ClearBuffer)
			logs.GET("/buffer/clusters", logsHandler.GetClusters)
			logs.GET("/history/dates", historyHandler.GetDates)
			logs.GET("/history/search", searchLimiter.Middleware(), historyHandler.Search)
			logs.GET("/history/size", historyHandler.GetSize)
			logs.GET("/history/:date", historyHandler.GetDay)
		}
		auditGroup := v1.Group("/audit")
		{
			auditGroup.GET("/trails/:correlationId", auditHandler.GetTrail)
			auditGroup.GET("/recent", auditHandler.Recent)
			auditGroup.GET("/entities/:type/:id/history", auditHandler.GetEntityHistory)
			auditGroup.GET("/search", searchLimiter.Middleware(), auditHandler.Search)
			auditGroup.GET("/retention", retentionHandler.List)
			auditGroup.POST("/retention", retentionHandler.Create)
			auditGroup.GET("/retention/presets", retentionHandler.Presets)
			auditGroup.PUT("/retention/:id", retentionHandler.Update)
			auditGroup.DELETE("/retention/:id", retentionHandler.Delete)
		}
	}

	// Live push
	r.GET("/ws/logs", streamHandler.Serve)

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 Opscope started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Drain in-flight requests before tearing down the components they use.
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.AttachEmitter(nil)
	stopEnforce()
	pipeline.Stop()
	broadcaster.Close()
	recorder.Close()
	historyStore.Close()

	logger.Info("Server exiting")
}
