package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kb-search-platform/internal/config"
	"kb-search-platform/models"
)

// Flagged documents are re-mentioned in the digest after this long if
// their ratings have not recovered.
const reviewRenotifyAfter = 7 * 24 * time.Hour

// AlertEvaluator watches two things: tenant token quotas and documents
// whose ratings pinned them at the quality multiplier floor. Both scans
// notify by email and track what was already sent, so a tenant is never
// spammed with the same alert.
type AlertEvaluator struct {
	config      *config.Config
	emailSender EmailSender
	tenantsCol  *mongo.Collection
	dbForTenant func(tenantID string) (*mongo.Database, error)
}

func NewAlertEvaluator(cfg *config.Config, emailSender EmailSender, tenantsCol *mongo.Collection, dbForTenant func(string) (*mongo.Database, error)) *AlertEvaluator {
	return &AlertEvaluator{
		config:      cfg,
		emailSender: emailSender,
		tenantsCol:  tenantsCol,
		dbForTenant: dbForTenant,
	}
}

// EvaluateQuota checks one tenant's token usage and sends the matching
// alert level if it has not been sent already in this quota period.
func (a *AlertEvaluator) EvaluateQuota(ctx context.Context, tenantID primitive.ObjectID) error {
	var tenant models.Tenant
	err := a.tenantsCol.FindOne(ctx, bson.M{"_id": tenantID}).Decode(&tenant)
	if err != nil {
		return fmt.Errorf("failed to fetch tenant: %w", err)
	}

	if tenant.TokenLimit == 0 {
		return nil // Skip if no token limit set
	}

	percentUsed := float64(tenant.TokenUsed) / float64(tenant.TokenLimit) * 100

	var alertLevel string
	if percentUsed >= float64(a.config.TokenExhaustedPercent) {
		alertLevel = "exhausted"
	} else if percentUsed >= float64(a.config.TokenCriticalPercent) {
		alertLevel = "critical"
	} else if percentUsed >= float64(a.config.TokenWarnPercent) {
		alertLevel = "warn"
	} else {
		return nil // No alert needed
	}

	if a.shouldSkipAlert(tenant, alertLevel) {
		return nil
	}

	data := QuotaAlertData{
		TenantName:      tenant.Name,
		UsedTokens:      tenant.TokenUsed,
		TotalTokens:     tenant.TokenLimit,
		RemainingTokens: tenant.TokenLimit - tenant.TokenUsed,
		PercentUsed:     percentUsed,
	}

	if err := a.emailSender.SendQuotaAlert(tenant, alertLevel, data); err != nil {
		log.Printf("Failed to send %s alert for tenant %s: %v", alertLevel, tenant.Name, err)
		return err
	}

	return a.updateAlertStatus(ctx, tenantID, alertLevel)
}

func (a *AlertEvaluator) shouldSkipAlert(tenant models.Tenant, alertLevel string) bool {
	if tenant.AlertLevelSent == "" || tenant.AlertLevelSent == "none" {
		return false
	}

	alertHierarchy := map[string]int{
		"warn":      1,
		"critical":  2,
		"exhausted": 3,
	}

	// Skip if an equal or more severe alert already went out.
	return alertHierarchy[tenant.AlertLevelSent] >= alertHierarchy[alertLevel]
}

func (a *AlertEvaluator) updateAlertStatus(ctx context.Context, tenantID primitive.ObjectID, alertLevel string) error {
	update := bson.M{
		"$set": bson.M{
			"alert_level_sent":   alertLevel,
			"alert_last_sent_at": time.Now(),
			"updated_at":         time.Now(),
		},
	}

	_, err := a.tenantsCol.UpdateOne(ctx, bson.M{"_id": tenantID}, update)
	return err
}

// ResetAlertStatus clears the alert state, called on token top-up or quota reset.
func (a *AlertEvaluator) ResetAlertStatus(ctx context.Context, tenantID primitive.ObjectID) error {
	update := bson.M{
		"$set": bson.M{
			"alert_level_sent":   "none",
			"alert_last_sent_at": time.Time{},
			"updated_at":         time.Now(),
		},
	}

	_, err := a.tenantsCol.UpdateOne(ctx, bson.M{"_id": tenantID}, update)
	return err
}

// ScanTenantQuotas evaluates every non-suspended tenant's quota.
func (a *AlertEvaluator) ScanTenantQuotas(ctx context.Context) error {
	cursor, err := a.tenantsCol.Find(ctx, bson.M{"status": bson.M{"$ne": "suspended"}})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var tenant models.Tenant
		if err := cursor.Decode(&tenant); err != nil {
			log.Printf("Failed to decode tenant: %v", err)
			continue
		}

		if err := a.EvaluateQuota(ctx, tenant.ID); err != nil {
			log.Printf("Failed to evaluate quota for tenant %s: %v", tenant.Name, err)
		}
	}

	return cursor.Err()
}

// ScanQualityFloor sends each tenant a digest of documents that readers
// consistently rate unhelpful.
func (a *AlertEvaluator) ScanQualityFloor(ctx context.Context) error {
	cursor, err := a.tenantsCol.Find(ctx, bson.M{"status": bson.M{"$ne": "suspended"}})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var tenant models.Tenant
		if err := cursor.Decode(&tenant); err != nil {
			log.Printf("Failed to decode tenant: %v", err)
			continue
		}

		if err := a.notifyFlaggedDocuments(ctx, tenant); err != nil {
			log.Printf("Quality review scan failed for tenant %s: %v", tenant.Name, err)
		}
	}

	return cursor.Err()
}

func (a *AlertEvaluator) notifyFlaggedDocuments(ctx context.Context, tenant models.Tenant) error {
	db, err := a.dbForTenant(tenant.ID.Hex())
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-reviewRenotifyAfter)
	filter := bson.M{
		"quality_multiplier": bson.M{"$lte": a.config.QualityMultiplierFloor + 1e-9},
		"$expr": bson.M{"$gte": bson.A{
			bson.M{"$add": bson.A{"$upvotes", "$downvotes"}},
			a.config.QualityReviewMinVotes,
		}},
		"$or": bson.A{
			bson.M{"review_notified_at": bson.M{"$exists": false}},
			bson.M{"review_notified_at": bson.M{"$lt": cutoff}},
		},
	}

	scoreCursor, err := db.Collection("document_scores").Find(ctx, filter)
	if err != nil {
		return err
	}
	var aggregates []models.QualityAggregate
	if err := scoreCursor.All(ctx, &aggregates); err != nil {
		return err
	}
	if len(aggregates) == 0 {
		return nil
	}

	ids := make([]string, 0, len(aggregates))
	for _, agg := range aggregates {
		ids = append(ids, agg.DocumentID)
	}

	titles := make(map[string]string, len(ids))
	titleCursor, err := db.Collection("documents").Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"title": 1}),
	)
	if err == nil {
		for titleCursor.Next(ctx) {
			var doc struct {
				ID    string `bson:"_id"`
				Title string `bson:"title"`
			}
			if err := titleCursor.Decode(&doc); err == nil {
				titles[doc.ID] = doc.Title
			}
		}
		_ = titleCursor.Close(ctx)
	}

	flagged := make([]FlaggedDocument, 0, len(aggregates))
	for _, agg := range aggregates {
		title := titles[agg.DocumentID]
		if title == "" {
			title = "(untitled)"
		}
		flagged = append(flagged, FlaggedDocument{
			DocumentID: agg.DocumentID,
			Title:      title,
			Upvotes:    agg.Upvotes,
			Downvotes:  agg.Downvotes,
			Multiplier: agg.Multiplier,
		})
	}

	if err := a.emailSender.SendQualityReviewDigest(tenant, QualityReviewData{
		TenantName: tenant.Name,
		Documents:  flagged,
	}); err != nil {
		return err
	}

	_, err = db.Collection("document_scores").UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"review_notified_at": time.Now().UTC()}},
	)
	return err
}
