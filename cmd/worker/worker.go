package main

import (
	"context"
	"log"

	"kb-search-platform/internal/config"
	"kb-search-platform/internal/database"
	"kb-search-platform/internal/logger"
	"kb-search-platform/internal/queue"
	"kb-search-platform/services"

	"github.com/hibiken/asynq"
)

const workerConcurrency = 20

// Queue weights. StrictPriority means a task in "critical" always runs
// before anything queued below it, so ingestion latency stays flat even
// while rollups churn through "default".
var queueWeights = map[string]int{
	"critical": 6,
	"default":  3,
	"low":      1,
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Per-tenant database manager
	dbManager, err := database.NewTenantDBManager(cfg.MongoURI)
	if err != nil {
		log.Fatal("Failed to create tenant database manager:", err)
	}

	// Blob storage backs staged uploads
	storage, err := services.NewBlobStorage(cfg)
	if err != nil {
		log.Fatal("Failed to initialize blob storage:", err)
	}

	documents := services.NewDocumentService(cfg, storage)
	analytics := services.NewAnalyticsService(cfg)

	redisOpt := queue.RedisConnOpt(cfg)
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    workerConcurrency,
		Queues:         queueWeights,
		StrictPriority: true,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("Task failed", "type", task.Type(), "error", err)
		}),
	})

	processor := queue.NewTaskProcessor(dbManager, documents, analytics)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, processor.IngestDocument)
	mux.HandleFunc(queue.TaskAnalyticsRollup, processor.RunAnalyticsRollup)

	logger.Info("Worker starting",
		"concurrency", workerConcurrency,
		"queues", queueWeights,
		"redis", cfg.RedisURL)

	// Run blocks until SIGTERM/SIGINT and drains in-flight tasks itself.
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
