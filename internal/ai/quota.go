package ai

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrDailyQuotaExceeded is returned when a tenant has spent its daily
// LLM token allowance.
var ErrDailyQuotaExceeded = errors.New("daily LLM quota exceeded")

// Applied when a tenant asks its first question and no quota record
// exists yet. Admins raise it per tenant afterwards.
const defaultDailyTokenLimit = 10000

// TenantLLMQuota tracks one tenant's daily LLM token spend. One question
// costs several generation calls (paraphrase, synthesis, evaluation), so
// callers record the combined estimate for the whole pipeline run.
type TenantLLMQuota struct {
	TenantID        string    `bson:"tenant_id"`
	DailyTokenLimit int       `bson:"daily_token_limit"`
	TokensUsedToday int       `bson:"tokens_used_today"`
	LastResetDate   time.Time `bson:"last_reset_date"`
	RequestsToday   int       `bson:"requests_today"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func startOfDayUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CheckTenantQuota verifies the tenant can spend estimatedTokens today
// and records the spend. Returns ErrDailyQuotaExceeded when the limit
// would be crossed; any other error is an infrastructure failure.
func CheckTenantQuota(ctx context.Context, tenantID string, estimatedTokens int, db *mongo.Database) error {
	col := db.Collection("llm_quotas")
	now := time.Now()
	today := startOfDayUTC(now)

	// Roll the window over on the first request of a new day. Best
	// effort: if this update loses a race the $inc below still lands on
	// a rolled-over record.
	_, _ = col.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "last_reset_date": bson.M{"$lt": today}},
		bson.M{"$set": bson.M{
			"tokens_used_today": 0,
			"requests_today":    0,
			"last_reset_date":   today,
			"updated_at":        now,
		}})

	var quota TenantLLMQuota
	err := col.FindOne(ctx, bson.M{"tenant_id": tenantID}).Decode(&quota)
	if err == mongo.ErrNoDocuments {
		quota = TenantLLMQuota{
			TenantID:        tenantID,
			DailyTokenLimit: defaultDailyTokenLimit,
			LastResetDate:   today,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := col.InsertOne(ctx, quota); err != nil && !mongo.IsDuplicateKeyError(err) {
			return err
		}
	} else if err != nil {
		return err
	}

	if quota.TokensUsedToday+estimatedTokens > quota.DailyTokenLimit {
		return ErrDailyQuotaExceeded
	}

	_, err = col.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID},
		bson.M{
			"$inc": bson.M{
				"tokens_used_today": estimatedTokens,
				"requests_today":    1,
			},
			"$set": bson.M{"updated_at": now},
		})
	return err
}

// GetTenantQuotaStatus returns the tenant's quota record as stored.
// mongo.ErrNoDocuments means the tenant has never asked a question.
func GetTenantQuotaStatus(ctx context.Context, tenantID string, db *mongo.Database) (*TenantLLMQuota, error) {
	var quota TenantLLMQuota
	err := db.Collection("llm_quotas").FindOne(ctx, bson.M{"tenant_id": tenantID}).Decode(&quota)
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

// SetTenantQuotaLimit sets the tenant's daily token limit, creating the
// quota record if the tenant has not asked anything yet.
func SetTenantQuotaLimit(ctx context.Context, tenantID string, dailyLimit int, db *mongo.Database) error {
	now := time.Now()
	_, err := db.Collection("llm_quotas").UpdateOne(ctx,
		bson.M{"tenant_id": tenantID},
		bson.M{
			"$set": bson.M{
				"daily_token_limit": dailyLimit,
				"updated_at":        now,
			},
			"$setOnInsert": bson.M{
				"tokens_used_today": 0,
				"requests_today":    0,
				"last_reset_date":   startOfDayUTC(now),
				"created_at":        now,
			},
		},
		options.Update().SetUpsert(true))
	return err
}

// ResetTenantQuota zeroes today's usage without touching the limit.
func ResetTenantQuota(ctx context.Context, tenantID string, db *mongo.Database) error {
	now := time.Now()
	_, err := db.Collection("llm_quotas").UpdateOne(ctx,
		bson.M{"tenant_id": tenantID},
		bson.M{"$set": bson.M{
			"tokens_used_today": 0,
			"requests_today":    0,
			"last_reset_date":   startOfDayUTC(now),
			"updated_at":        now,
		}})
	return err
}
