package database

import (
	"context"
	"fmt"
	"sync"

	"kb-search-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type TenantDBManager struct {
	client    *mongo.Client
	databases map[string]*mongo.Database
	mu        sync.RWMutex
}

func NewTenantDBManager(mongoURI string) (*TenantDBManager, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, err
	}

	return &TenantDBManager{
		client:    client,
		databases: make(map[string]*mongo.Database),
	}, nil
}

// GetTenantDB returns the isolated database for a tenant. The name is
// derived deterministically from the tenant id, so retrieval, ingestion
// and the quality ledger always land in the same namespace.
func (m *TenantDBManager) GetTenantDB(tenantID string) (*mongo.Database, error) {
	m.mu.RLock()
	if db, exists := m.databases[tenantID]; exists {
		m.mu.RUnlock()
		return db, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another request may have built the handle between the two locks.
	if db, exists := m.databases[tenantID]; exists {
		return db, nil
	}

	db := m.client.Database(fmt.Sprintf("tenant_%s", tenantID))
	if err := m.createTenantIndexes(db); err != nil {
		return nil, err
	}

	m.databases[tenantID] = db
	return db, nil
}

func (m *TenantDBManager) createTenantIndexes(db *mongo.Database) error {
	ctx := context.Background()

	// Documents: content hash backs ingest idempotence, status and
	// created_at back listing and re-crawl sweeps.
	documentsCol := db.Collection("documents")
	_, err := documentsCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "content_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return err
	}

	// Chunk index: chunk_id is the dedupe key during fusion, document_id
	// backs cascade deletes, keywords back the non-vector fallback scan.
	chunksCol := db.Collection("document_chunks")
	_, err = chunksCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "chunk_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "document_id", Value: 1}}},
		{Keys: bson.D{{Key: "keywords", Value: 1}}},
	})
	if err != nil {
		return err
	}

	// Query analytics: rating validation resolves the cited set for the
	// most recent answer with a matching hash.
	queryAnalyticsCol := db.Collection("query_analytics")
	_, err = queryAnalyticsCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "answer_hash", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return err
	}

	ratingsCol := db.Collection("ratings")
	_, err = ratingsCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return err
	}

	docAnalyticsCol := db.Collection("document_analytics")
	_, err = docAnalyticsCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "retrieved_count", Value: -1}}},
	})

	return err
}

// TenantDBMiddleware resolves the caller's tenant database from their
// claims and stashes it on the request context. Routes mounted without
// authentication pass through untouched.
func TenantDBMiddleware(dbManager *TenantDBManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get("claims")
		if !exists {
			c.Next()
			return
		}

		tokenClaims, ok := claimsValue.(*auth.Claims)
		if !ok || tokenClaims.TenantID == "" {
			c.Next()
			return
		}

		tenantDB, err := dbManager.GetTenantDB(tokenClaims.TenantID)
		if err != nil {
			c.AbortWithStatusJSON(500, gin.H{"error": "database error"})
			return
		}

		c.Set("tenantDB", tenantDB)
		c.Next()
	}
}

// TenantCollections are the collections every tenant database carries.
// The shared-to-tenant migration moves exactly these.
var TenantCollections = []string{"documents", "document_chunks", "ratings", "document_scores", "query_analytics"}

// Migration utilities for deployments that predate per-tenant databases
// and still hold everything in one shared database keyed by tenant_id.
func (m *TenantDBManager) MigrateToTenantDatabases(sharedDB *mongo.Database) error {
	ctx := context.Background()

	tenantsCollection := sharedDB.Collection("tenants")
	cursor, err := tenantsCollection.Find(ctx, bson.M{})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var tenantIDs []string
	for cursor.Next(ctx) {
		var tenant struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&tenant); err != nil {
			continue
		}
		tenantIDs = append(tenantIDs, tenant.ID.Hex())
	}

	for _, tenantID := range tenantIDs {
		tenantDB, err := m.GetTenantDB(tenantID)
		if err != nil {
			return fmt.Errorf("failed to create tenant DB for %s: %v", tenantID, err)
		}

		for _, name := range TenantCollections {
			if err := m.copyCollection(sharedDB, tenantDB, name, tenantID); err != nil {
				return fmt.Errorf("failed to copy %s for %s: %v", name, tenantID, err)
			}
		}

		if err := m.markTenantMigrated(sharedDB, tenantID); err != nil {
			return fmt.Errorf("failed to mark tenant migrated for %s: %v", tenantID, err)
		}
	}

	return nil
}

func (m *TenantDBManager) copyCollection(sharedDB, tenantDB *mongo.Database, name, tenantID string) error {
	ctx := context.Background()
	sharedCol := sharedDB.Collection(name)
	tenantCol := tenantDB.Collection(name)

	cursor, err := sharedCol.Find(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return err
	}

	if len(rows) > 0 {
		docs := make([]interface{}, len(rows))
		for i, doc := range rows {
			docs[i] = doc
		}
		_, err = tenantCol.InsertMany(ctx, docs)
		return err
	}

	return nil
}

func (m *TenantDBManager) markTenantMigrated(sharedDB *mongo.Database, tenantID string) error {
	ctx := context.Background()
	tenantsCollection := sharedDB.Collection("tenants")

	tenantObjectID, err := primitive.ObjectIDFromHex(tenantID)
	if err != nil {
		return err
	}

	_, err = tenantsCollection.UpdateOne(
		ctx,
		bson.M{"_id": tenantObjectID},
		bson.M{"$set": bson.M{"migrated_to_tenant_db": true}},
	)

	return err
}
