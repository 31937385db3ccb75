package services

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MigrateTenantAlertFields backfills the quota alert bookkeeping on tenants
// created before alerting existed, so the scanners can rely on the fields
// being present.
func MigrateTenantAlertFields(ctx context.Context, tenantsCol *mongo.Collection) error {
	filter := bson.M{
		"$or": []bson.M{
			{"alert_level_sent": bson.M{"$exists": false}},
			{"alert_last_sent_at": bson.M{"$exists": false}},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"alert_level_sent":   "none",
			"alert_last_sent_at": time.Time{},
			"updated_at":         time.Now(),
		},
	}

	_, err := tenantsCol.UpdateMany(ctx, filter, update)
	return err
}
