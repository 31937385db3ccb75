package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"kb-search-platform/internal/config"
	"kb-search-platform/internal/database"
	"kb-search-platform/services"
)

const (
	TaskIngestDocument  = "document:ingest"
	TaskAnalyticsRollup = "analytics:rollup"
)

// RedisConnOpt builds the asynq connection options from config. REDIS_URL
// may be a full redis:// or rediss:// URL or a bare host:port, the same
// forms config.NewRedisClient accepts.
func RedisConnOpt(cfg *config.Config) asynq.RedisConnOpt {
	if opt, err := asynq.ParseRedisURI(cfg.RedisURL); err == nil {
		return opt
	}
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

type IngestDocumentPayload struct {
	TenantID string `json:"tenant_id"`
	StagedID string `json:"staged_id"`
}

type AnalyticsRollupPayload struct {
	TenantID string `json:"tenant_id"`
}

// Task creators
func NewIngestDocumentTask(tenantID, stagedID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestDocumentPayload{
		TenantID: tenantID,
		StagedID: stagedID,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewAnalyticsRollupTask(tenantID string) (*asynq.Task, error) {
	payload, err := json.Marshal(AnalyticsRollupPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskAnalyticsRollup,
		payload,
		asynq.MaxRetry(5),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("default"),
	), nil
}

// Task handlers
type TaskProcessor struct {
	dbManager *database.TenantDBManager
	documents *services.DocumentService
	analytics *services.AnalyticsService
}

func NewTaskProcessor(dbManager *database.TenantDBManager, documents *services.DocumentService, analytics *services.AnalyticsService) *TaskProcessor {
	return &TaskProcessor{
		dbManager: dbManager,
		documents: documents,
		analytics: analytics,
	}
}

// IngestDocument turns a staged upload into chunks and vectors. The staged
// record already holds the raw bytes, so the payload carries only ids.
func (p *TaskProcessor) IngestDocument(ctx context.Context, t *asynq.Task) error {
	var payload IngestDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	log.Printf("Ingesting staged document: tenant=%s staged=%s", payload.TenantID, payload.StagedID)

	tenantDB, err := p.dbManager.GetTenantDB(payload.TenantID)
	if err != nil {
		return err
	}

	resp, err := p.documents.ProcessStaged(ctx, tenantDB, payload.TenantID, payload.StagedID)
	if err != nil {
		return err
	}

	log.Printf("Staged document ingested: tenant=%s document=%s chunks=%d",
		payload.TenantID, resp.ID, resp.ChunkCount)
	return nil
}

// RunAnalyticsRollup recomputes the analytics counters for one tenant. The
// rollup recounts from the query log, so retries are harmless.
func (p *TaskProcessor) RunAnalyticsRollup(ctx context.Context, t *asynq.Task) error {
	var payload AnalyticsRollupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	tenantDB, err := p.dbManager.GetTenantDB(payload.TenantID)
	if err != nil {
		return err
	}

	return p.analytics.Rollup(ctx, tenantDB)
}
