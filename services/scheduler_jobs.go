package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"kb-search-platform/internal/config"
	"kb-search-platform/models"
)

// Job timeouts. The recrawl fetches external sites and can legitimately run
// long; the rollup and quota scans are pure database work.
const (
	recrawlJobTimeout = 2 * time.Hour
	rollupJobTimeout  = 30 * time.Minute
	scanJobTimeout    = 5 * time.Minute
)

// SchedulerService owns the recurring maintenance jobs: the nightly re-crawl
// of web documents, the analytics rollup with the quality review scan, and
// the token quota scan.
type SchedulerService struct {
	config      *config.Config
	scheduler   *gocron.Scheduler
	documents   *DocumentService
	analytics   *AnalyticsService
	alerts      *AlertEvaluator
	tenantsCol  *mongo.Collection
	dbForTenant func(string) (*mongo.Database, error)
}

func NewSchedulerService(cfg *config.Config, documents *DocumentService, analytics *AnalyticsService, alerts *AlertEvaluator, tenantsCol *mongo.Collection, dbForTenant func(string) (*mongo.Database, error)) *SchedulerService {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &SchedulerService{
		config:      cfg,
		scheduler:   s,
		documents:   documents,
		analytics:   analytics,
		alerts:      alerts,
		tenantsCol:  tenantsCol,
		dbForTenant: dbForTenant,
	}
}

// Start registers the cron jobs and launches the scheduler in the background.
func (s *SchedulerService) Start() error {
	jobs := []struct {
		tag  string
		expr string
		fn   func() error
	}{
		{"recrawl", s.config.RecrawlCron, s.runRecrawl},
		{"rollup", s.config.RollupCron, s.runRollup},
		{"quota-scan", s.config.AlertScanCron, s.runQuotaScan},
	}
	for _, j := range jobs {
		if _, err := s.scheduler.Cron(j.expr).Tag(j.tag).Do(j.fn); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.tag, j.expr, err)
		}
	}

	s.scheduler.StartAsync()
	log.Printf("Scheduler started: recrawl=%q rollup=%q quota-scan=%q",
		s.config.RecrawlCron, s.config.RollupCron, s.config.AlertScanCron)
	return nil
}

func (s *SchedulerService) Stop() {
	s.scheduler.Stop()
}

// Jobs returns the registered jobs, used by the admin status endpoint.
func (s *SchedulerService) Jobs() []*gocron.Job {
	return s.scheduler.Jobs()
}

// runRecrawl re-fetches every completed web document and re-ingests the ones
// whose content changed.
func (s *SchedulerService) runRecrawl() error {
	ctx, cancel := context.WithTimeout(context.Background(), recrawlJobTimeout)
	defer cancel()

	log.Println("Recrawl job started")
	checked, changed := 0, 0

	err := s.forEachTenantDB(ctx, "recrawl", func(tenant models.Tenant, db *mongo.Database) error {
		cursor, err := db.Collection("documents").Find(ctx, bson.M{
			"source_type": models.SourceTypeWeb,
			"status":      models.StatusCompleted,
		})
		if err != nil {
			return fmt.Errorf("list web documents: %w", err)
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var doc models.DocumentRecord
			if err := cursor.Decode(&doc); err != nil {
				log.Printf("recrawl: tenant %s: decode document: %v", tenant.ID.Hex(), err)
				continue
			}
			checked++
			refreshed, err := s.documents.RefreshWebDocument(ctx, db, &doc)
			if err != nil {
				log.Printf("recrawl: tenant %s: %s: %v", tenant.ID.Hex(), doc.SourceURL, err)
				continue
			}
			if refreshed {
				changed++
			}
		}
		return cursor.Err()
	})

	log.Printf("Recrawl job finished: %d checked, %d changed", checked, changed)
	return err
}

// runRollup recomputes the per-document and per-tenant analytics counters,
// then scans for floor-rated documents that need a quality review digest.
func (s *SchedulerService) runRollup() error {
	ctx, cancel := context.WithTimeout(context.Background(), rollupJobTimeout)
	defer cancel()

	log.Println("Rollup job started")
	err := s.forEachTenantDB(ctx, "rollup", func(tenant models.Tenant, db *mongo.Database) error {
		return s.analytics.Rollup(ctx, db)
	})
	if err != nil {
		return err
	}
	if err := s.alerts.ScanQualityFloor(ctx); err != nil {
		log.Printf("rollup: quality review scan: %v", err)
	}
	log.Println("Rollup job finished")
	return nil
}

func (s *SchedulerService) runQuotaScan() error {
	ctx, cancel := context.WithTimeout(context.Background(), scanJobTimeout)
	defer cancel()
	return s.alerts.ScanTenantQuotas(ctx)
}

// forEachTenantDB runs fn against every non-suspended tenant's database.
// Per-tenant failures are logged and do not stop the sweep.
func (s *SchedulerService) forEachTenantDB(ctx context.Context, job string, fn func(tenant models.Tenant, db *mongo.Database) error) error {
	cursor, err := s.tenantsCol.Find(ctx, bson.M{"status": bson.M{"$ne": "suspended"}})
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var tenant models.Tenant
		if err := cursor.Decode(&tenant); err != nil {
			log.Printf("%s: decode tenant: %v", job, err)
			continue
		}
		db, err := s.dbForTenant(tenant.ID.Hex())
		if err != nil {
			log.Printf("%s: tenant %s database: %v", job, tenant.ID.Hex(), err)
			continue
		}
		if err := fn(tenant, db); err != nil {
			log.Printf("%s: tenant %s: %v", job, tenant.ID.Hex(), err)
		}
	}
	return cursor.Err()
}
