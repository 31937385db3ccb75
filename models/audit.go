package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditEvent is one entry in the tamper-evident audit trail. Entries form a
// per-tenant hash chain: each event hashes its own fields plus the previous
// event's hash, so editing or deleting a stored entry breaks verification
// from that point on.
type AuditEvent struct {
	ID           string                 `bson:"_id,omitempty"`
	Timestamp    time.Time              `bson:"timestamp"`
	TenantID     string                 `bson:"tenant_id"`
	UserID       string                 `bson:"user_id"`
	Action       string                 `bson:"action"`   // CREATE, READ, UPDATE, DELETE
	Resource     string                 `bson:"resource"` // document, search, rating, user, admin
	ResourceID   string                 `bson:"resource_id"`
	IPAddress    string                 `bson:"ip_address"`
	UserAgent    string                 `bson:"user_agent"`
	RequestID    string                 `bson:"request_id"`
	Success      bool                   `bson:"success"`
	ErrorMessage string                 `bson:"error_message,omitempty"`
	Changes      map[string]interface{} `bson:"changes,omitempty"`
	PreviousHash string                 `bson:"previous_hash"`
	CurrentHash  string                 `bson:"current_hash"`
	CreatedAt    time.Time              `bson:"created_at"`
}

// ComputeHash returns the chain hash of the event. PreviousHash must already
// be set. Field order is load-bearing: stored hashes verify against exactly
// this layout.
func (e *AuditEvent) ComputeHash() string {
	fields := []string{
		e.Timestamp.Format(time.RFC3339Nano),
		e.TenantID,
		e.UserID,
		e.Action,
		e.Resource,
		e.ResourceID,
		strconv.FormatBool(e.Success),
		e.PreviousHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// AuditActionCount is one row of the per-tenant summary aggregation.
type AuditActionCount struct {
	Action    string `bson:"_id" json:"action"`
	Count     int64  `bson:"count" json:"count"`
	Succeeded int64  `bson:"success_count" json:"succeeded"`
}

// AuditSummary reports audit activity for one tenant over a trailing window.
type AuditSummary struct {
	TenantID    string             `json:"tenant_id"`
	PeriodDays  int                `json:"period_days"`
	Actions     []AuditActionCount `json:"actions"`
	TotalEvents int64              `json:"total_events"`
}

// AuditLogger appends events to the insert-only audit collection. Appends
// are serialized under one mutex so the per-tenant chains never fork.
type AuditLogger struct {
	col *mongo.Collection

	mu    sync.Mutex
	tails map[string]string // tenantID -> hash of the newest event
}

func NewAuditLogger(db *mongo.Database) *AuditLogger {
	col := db.Collection("audit_logs")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "resource", Value: 1}, {Key: "resource_id", Value: 1}}},
		{Keys: bson.D{{Key: "action", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
	})
	if err != nil {
		log.Printf("⚠️ Audit index creation failed: %v", err)
	}

	return &AuditLogger{
		col:   col,
		tails: make(map[string]string),
	}
}

// Log appends one event to the tenant's chain.
func (al *AuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := time.Now().UTC()
	event.ID = primitive.NewObjectID().Hex()
	event.Timestamp = now
	event.CreatedAt = now
	event.PreviousHash = al.chainTail(ctx, event.TenantID)
	event.CurrentHash = event.ComputeHash()

	if _, err := al.col.InsertOne(ctx, event); err != nil {
		log.Printf("❌ Failed to log audit event: %v", err)
		return err
	}

	al.tails[event.TenantID] = event.CurrentHash
	return nil
}

// chainTail returns the hash the next event for the tenant must link to.
// Cache misses read the newest stored event so chains survive restarts
// instead of silently restarting from an empty previous hash. Caller holds
// al.mu.
func (al *AuditLogger) chainTail(ctx context.Context, tenantID string) string {
	if tail, ok := al.tails[tenantID]; ok {
		return tail
	}

	var last AuditEvent
	err := al.col.FindOne(ctx,
		bson.M{"tenant_id": tenantID},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}}),
	).Decode(&last)
	if err != nil {
		// No prior events, or storage unreachable. Either way the chain
		// starts (or restarts) here.
		return ""
	}
	al.tails[tenantID] = last.CurrentHash
	return last.CurrentHash
}

// LogAsync appends the event off the request path. Uses a detached context
// so the write outlives the HTTP response.
func (al *AuditLogger) LogAsync(event *AuditEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := al.Log(ctx, event); err != nil {
			log.Printf("❌ Async audit logging failed: %v", err)
		}
	}()
}

// VerifyChain walks the tenant's events oldest-first and checks both links
// of every entry: the stored previous hash must match the prior event, and
// the stored current hash must match a recomputation.
func (al *AuditLogger) VerifyChain(ctx context.Context, tenantID string) (bool, error) {
	cursor, err := al.col.Find(ctx,
		bson.M{"tenant_id": tenantID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return false, err
	}
	defer cursor.Close(ctx)

	var (
		prevHash string
		count    int
	)
	for cursor.Next(ctx) {
		var event AuditEvent
		if err := cursor.Decode(&event); err != nil {
			return false, err
		}
		count++

		if count > 1 && event.PreviousHash != prevHash {
			log.Printf("❌ Audit chain broken at event %s: previous hash mismatch", event.ID)
			return false, nil
		}
		if event.CurrentHash != event.ComputeHash() {
			log.Printf("❌ Audit event %s fails hash recomputation", event.ID)
			return false, nil
		}
		prevHash = event.CurrentHash
	}
	if err := cursor.Err(); err != nil {
		return false, err
	}

	log.Printf("✅ Audit chain verified for tenant %s: %d events", tenantID, count)
	return true, nil
}

// Query returns a page of events matching the filter, newest first.
func (al *AuditLogger) Query(ctx context.Context, filter bson.M, page, pageSize int) ([]AuditEvent, int64, error) {
	total, err := al.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := al.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var events []AuditEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// Summary aggregates the tenant's events from the last `days` days into
// per-action counts.
func (al *AuditLogger) Summary(ctx context.Context, tenantID string, days int) (*AuditSummary, error) {
	since := time.Now().AddDate(0, 0, -days)
	pipeline := []bson.M{
		{"$match": bson.M{
			"tenant_id": tenantID,
			"timestamp": bson.M{"$gte": since},
		}},
		{"$group": bson.M{
			"_id":   "$action",
			"count": bson.M{"$sum": 1},
			"success_count": bson.M{
				"$sum": bson.M{"$cond": bson.M{"if": "$success", "then": 1, "else": 0}},
			},
		}},
	}

	cursor, err := al.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var actions []AuditActionCount
	if err := cursor.All(ctx, &actions); err != nil {
		return nil, err
	}

	summary := &AuditSummary{
		TenantID:   tenantID,
		PeriodDays: days,
		Actions:    actions,
	}
	for _, a := range actions {
		summary.TotalEvents += a.Count
	}
	return summary, nil
}

// Collection exposes the underlying collection for read-only reporting
// queries.
func (al *AuditLogger) Collection() *mongo.Collection {
	return al.col
}
