package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kb-search-platform/internal/ai"
	"kb-search-platform/internal/config"
	"kb-search-platform/internal/database"
	"kb-search-platform/internal/logger"
	"kb-search-platform/internal/queue"
	"kb-search-platform/internal/telemetry"
	"kb-search-platform/middleware"
	"kb-search-platform/models"
	"kb-search-platform/routes"
	"kb-search-platform/services"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Telemetry is best effort: the service runs without a collector.
	shutdownTracer, err := telemetry.InitTracer("kb-search-platform")
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
		metrics = nil
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	// Connect to Redis (token revocation, rate limiting, task queue)
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// Per-tenant database manager
	dbManager, err := database.NewTenantDBManager(cfg.MongoURI)
	if err != nil {
		log.Fatal("Failed to create tenant database manager:", err)
	}

	// LLM client shared by the whole answer pipeline
	llm, err := ai.NewLLMClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiTier)
	if err != nil {
		log.Fatal("Failed to initialize LLM client:", err)
	}

	// Blob storage for original uploads
	storage, err := services.NewBlobStorage(cfg)
	if err != nil {
		log.Fatal("Failed to initialize blob storage:", err)
	}

	// Core services
	platformDB := mongoClient.Database(cfg.DBName)
	tenantsCollection := platformDB.Collection("tenants")

	index := services.NewVectorIndex(cfg)
	ledger := services.NewQualityLedger(cfg)
	analytics := services.NewAnalyticsService(cfg)
	documents := services.NewDocumentService(cfg, storage)
	embedCache := services.NewEmbeddingCache(rdb)
	orchestrator := services.NewQueryOrchestrator(cfg, llm, index, ledger, analytics, embedCache)
	exporter := services.NewExportService(cfg)
	emailSender := services.NewSMTPEmailSender(cfg)
	alerts := services.NewAlertEvaluator(cfg, emailSender, tenantsCollection, dbManager.GetTenantDB)
	auditor := models.NewAuditLogger(platformDB)

	// Scheduled jobs: re-crawls, analytics rollups, quota scans
	scheduler := services.NewSchedulerService(cfg, documents, analytics, alerts, tenantsCollection, dbManager.GetTenantDB)
	if err := scheduler.Start(); err != nil {
		log.Fatal("Failed to start scheduler:", err)
	}
	defer scheduler.Stop()

	// Task queue client for async ingestion and on-demand rollups
	queueClient := asynq.NewClient(queue.RedisConnOpt(cfg))
	defer queueClient.Close()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	if metrics != nil {
		router.Use(middleware.MetricsMiddleware(metrics))
	}

	// CORS configuration
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	// Uploads are the largest legitimate request bodies.
	router.Use(middleware.RequestSizeLimit(cfg.MaxFileSize + 1<<20))
	rateLimiter := middleware.NewRateLimiter(rdb, cfg)
	router.Use(rateLimiter.Global())
	router.Use(middleware.AuditMiddleware(auditor))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	// Readiness probe: verifies Mongo and Redis are reachable
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := mongoClient.Ping(ctx, nil); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": "mongodb"})
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": "redis"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg, rdb)
	roleMiddleware := middleware.NewRoleMiddleware()

	// Setup routes
	routes.SetupAuthRoutes(router, cfg, mongoClient, rdb, authMiddleware)
	routes.SetupSearchRoutes(router, cfg, mongoClient, dbManager, authMiddleware, rateLimiter, orchestrator, ledger, analytics, exporter, alerts, metrics)
	routes.SetupDocumentRoutes(router, cfg, mongoClient, dbManager, authMiddleware, roleMiddleware, documents, queueClient, metrics)
	routes.SetupAdminRoutes(router, cfg, mongoClient, dbManager, authMiddleware, roleMiddleware, alerts, scheduler, queueClient)
	routes.SetupAuditRoutes(router, authMiddleware, roleMiddleware, auditor)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("HTTP server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exited")
}
