package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"kb-search-platform/internal/config"
	"kb-search-platform/internal/database"
	"kb-search-platform/services"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  migrate-to-tenants     - Migrate shared collections to tenant-specific databases")
		fmt.Println("  verify-migration       - Verify migration completed successfully")
		fmt.Println("  backfill-alert-fields  - Seed quota alert bookkeeping on pre-alerting tenants")
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to MongoDB
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(context.Background())

	sharedDB := client.Database(cfg.DBName)

	// Create tenant database manager
	tenantManager, err := database.NewTenantDBManager(cfg.MongoURI)
	if err != nil {
		log.Fatalf("Failed to create tenant manager: %v", err)
	}

	switch command {
	case "migrate-to-tenants":
		fmt.Println("Starting migration to tenant-specific databases...")
		if err := tenantManager.MigrateToTenantDatabases(sharedDB); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Println("Migration completed successfully!")

	case "verify-migration":
		if err := verifyMigration(tenantManager, sharedDB); err != nil {
			log.Fatalf("Verification failed: %v", err)
		}
		fmt.Println("Migration verification completed successfully!")

	case "backfill-alert-fields":
		if err := services.MigrateTenantAlertFields(context.Background(), sharedDB.Collection("tenants")); err != nil {
			log.Fatalf("Backfill failed: %v", err)
		}
		fmt.Println("Alert fields backfilled successfully!")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func verifyMigration(tenantManager *database.TenantDBManager, sharedDB *mongo.Database) error {
	fmt.Println("Verifying migration...")

	ctx := context.Background()
	tenantsCollection := sharedDB.Collection("tenants")
	cursor, err := tenantsCollection.Find(ctx, bson.M{})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var tenants []struct {
		ID   primitive.ObjectID `bson:"_id"`
		Name string             `bson:"name"`
	}
	if err := cursor.All(ctx, &tenants); err != nil {
		return err
	}

	fmt.Printf("Found %d tenants to verify\n", len(tenants))

	for _, tenant := range tenants {
		tenantID := tenant.ID.Hex()
		fmt.Printf("Verifying tenant: %s (%s)\n", tenant.Name, tenantID)

		tenantDB, err := tenantManager.GetTenantDB(tenantID)
		if err != nil {
			return fmt.Errorf("failed to get tenant DB for %s: %v", tenantID, err)
		}

		for _, collectionName := range database.TenantCollections {
			count, err := tenantDB.Collection(collectionName).CountDocuments(ctx, bson.M{})
			if err != nil {
				return fmt.Errorf("failed to count documents in %s for tenant %s: %v", collectionName, tenantID, err)
			}
			fmt.Printf("  %s: %d documents\n", collectionName, count)
		}
	}

	return nil
}
