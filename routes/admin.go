package routes

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"kb-search-platform/internal/ai"
	"kb-search-platform/internal/config"
	"kb-search-platform/internal/database"
	"kb-search-platform/internal/queue"
	"kb-search-platform/middleware"
	"kb-search-platform/models"
	"kb-search-platform/services"
	"kb-search-platform/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func SetupAdminRoutes(
	router *gin.Engine,
	cfg *config.Config,
	mongoClient *mongo.Client,
	dbManager *database.TenantDBManager,
	authMiddleware *middleware.AuthMiddleware,
	roleMiddleware *middleware.RoleMiddleware,
	alerts *services.AlertEvaluator,
	scheduler *services.SchedulerService,
	queueClient *asynq.Client,
) {
	admin := router.Group("/admin")
	admin.Use(authMiddleware.RequireAuth())
	admin.Use(roleMiddleware.AdminGuard())

	// Platform-wide operations stay operator-only. Per-tenant operations
	// additionally let a tenant admin act on their own tenant.
	operatorOnly := roleMiddleware.RequireRole("superadmin")
	ownTenant := roleMiddleware.RequireTenantAccess("id")

	db := mongoClient.Database(cfg.DBName)
	tenantsCollection := db.Collection("tenants")
	usersCollection := db.Collection("users")
	grantsCollection := db.Collection("token_grants")

	// -------------------------
	// Create new tenant
	// -------------------------
	admin.POST("/tenant", operatorOnly, func(c *gin.Context) {
		var req models.CreateTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		status := req.Status
		if status == "" {
			status = "active"
		}

		tenant := models.Tenant{
			Name:         req.Name,
			TokenLimit:   req.TokenLimit,
			TokenUsed:    0,
			Status:       status,
			ContactEmail: req.ContactEmail,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}

		result, err := tenantsCollection.InsertOne(context.Background(), tenant)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				c.JSON(http.StatusConflict, gin.H{"error_code": "tenant_exists", "message": "Tenant with this name already exists"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to create tenant"})
			return
		}

		tenant.ID = result.InsertedID.(primitive.ObjectID)

		// Provision the tenant database up front so the first question does
		// not pay for index creation.
		if _, err := dbManager.GetTenantDB(tenant.ID.Hex()); err != nil {
			fmt.Printf("⚠️ Failed to provision database for tenant %s: %v\n", tenant.ID.Hex(), err)
		}

		// Optional first user
		var createdUser *models.UserInfo
		if req.InitialUser != nil {
			var existing models.User
			if err := usersCollection.FindOne(context.Background(), bson.M{"username": req.InitialUser.Username}).Decode(&existing); err == nil {
				c.JSON(http.StatusConflict, gin.H{"error_code": "username_exists", "message": "Initial user username already exists"})
				return
			}

			hashed, err := utils.HashPassword(req.InitialUser.Password, cfg.BcryptCost)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to process password"})
				return
			}

			user := models.User{
				Username:     req.InitialUser.Username,
				Name:         req.InitialUser.Name,
				Email:        req.InitialUser.Email,
				PasswordHash: hashed,
				Role:         "admin",
				TenantID:     &tenant.ID,
				TokenUsage:   0,
				CreatedAt:    time.Now(),
				UpdatedAt:    time.Now(),
			}

			uRes, err := usersCollection.InsertOne(context.Background(), user)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Tenant created but failed to create initial user"})
				return
			}
			user.ID = uRes.InsertedID.(primitive.ObjectID)
			createdUser = &models.UserInfo{
				ID:       user.ID.Hex(),
				Username: user.Username,
				Name:     user.Name,
				Email:    user.Email,
				Role:     user.Role,
				TenantID: tenant.ID.Hex(),
			}
		}

		type Resp struct {
			models.Tenant `json:"tenant"`
			InitialUser   *models.UserInfo `json:"initial_user,omitempty"`
		}
		c.JSON(http.StatusCreated, Resp{Tenant: tenant, InitialUser: createdUser})
	})

	// -------------------------
	// Update tenant
	// -------------------------
	admin.PUT("/tenant/:id", ownTenant, func(c *gin.Context) {
		tenantID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error_code": "invalid_tenant_id", "message": "Invalid tenant ID format"})
			return
		}

		var req models.UpdateTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error_code": "invalid_input", "message": "Invalid request data", "details": gin.H{"error": err.Error()}})
			return
		}

		set := bson.M{"updated_at": time.Now()}
		if req.Name != nil {
			set["name"] = *req.Name
		}
		if req.TokenLimit != nil {
			set["token_limit"] = *req.TokenLimit
		}
		if req.Status != nil {
			set["status"] = *req.Status
		}
		if req.ContactEmail != nil {
			set["contact_email"] = *req.ContactEmail
		}
		if req.RestrictCrawling != nil {
			set["restrict_crawling"] = *req.RestrictCrawling
		}
		if req.DomainMode != nil {
			set["domain_mode"] = *req.DomainMode
		}
		if req.DomainWhitelist != nil {
			set["domain_whitelist"] = *req.DomainWhitelist
		}
		if req.DomainBlacklist != nil {
			set["domain_blacklist"] = *req.DomainBlacklist
		}

		result, err := tenantsCollection.UpdateOne(context.Background(), bson.M{"_id": tenantID}, bson.M{"$set": set})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to update tenant"})
			return
		}
		if result.MatchedCount == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error_code": "tenant_not_found", "message": "Tenant not found"})
			return
		}

		// A raised limit means earlier quota alerts no longer apply.
		if req.TokenLimit != nil {
			if err := alerts.ResetAlertStatus(context.Background(), tenantID); err != nil {
				fmt.Printf("⚠️ Failed to reset alert status for tenant %s: %v\n", tenantID.Hex(), err)
			}
		}

		var updated models.Tenant
		if err := tenantsCollection.FindOne(context.Background(), bson.M{"_id": tenantID}).Decode(&updated); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to retrieve updated tenant"})
			return
		}
		c.JSON(http.StatusOK, updated)
	})

	// -------------------------
	// Token grant / budget reset
	// -------------------------
	admin.POST("/tenant/:id/token-grant", operatorOnly, func(c *gin.Context) {
		tenantID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error_code": "invalid_tenant_id", "message": "Invalid tenant ID format"})
			return
		}

		var req struct {
			NewTokenLimit int    `json:"new_token_limit" binding:"required,min=1000"`
			ClearUsage    bool   `json:"clear_usage,omitempty"`
			Reason        string `json:"reason,omitempty"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		var tenant models.Tenant
		if err := tenantsCollection.FindOne(context.Background(), bson.M{"_id": tenantID}).Decode(&tenant); err != nil {
			if err == mongo.ErrNoDocuments {
				c.JSON(http.StatusNotFound, gin.H{"error_code": "tenant_not_found", "message": "Tenant not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to verify tenant"})
			return
		}

		grant := models.TokenGrant{
			ID:           primitive.NewObjectID(),
			TenantID:     tenantID,
			OldLimit:     tenant.TokenLimit,
			NewLimit:     req.NewTokenLimit,
			UsageCleared: req.ClearUsage,
			Reason:       req.Reason,
			AdminUserID:  middleware.GetUserID(c),
			CreatedAt:    time.Now(),
		}
		if _, err := grantsCollection.InsertOne(context.Background(), grant); err != nil {
			// The grant still proceeds; history is best effort.
			fmt.Printf("⚠️ Failed to save token grant record: %v\n", err)
		}

		set := bson.M{
			"token_limit": req.NewTokenLimit,
			"updated_at":  time.Now(),
		}
		if req.ClearUsage {
			set["token_used"] = 0
		}

		result, err := tenantsCollection.UpdateOne(context.Background(), bson.M{"_id": tenantID}, bson.M{"$set": set})
		if err != nil || result.MatchedCount == 0 {
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to update tenant budget"})
			return
		}

		// Fresh budget, fresh alert slate.
		if err := alerts.ResetAlertStatus(context.Background(), tenantID); err != nil {
			fmt.Printf("⚠️ Failed to reset alert status for tenant %s: %v\n", tenantID.Hex(), err)
		}

		c.JSON(http.StatusOK, gin.H{
			"message":       "Tenant budget updated",
			"tenant_id":     tenantID.Hex(),
			"old_limit":     tenant.TokenLimit,
			"new_limit":     req.NewTokenLimit,
			"usage_cleared": req.ClearUsage,
			"grant_id":      grant.ID.Hex(),
		})
	})

	// -------------------------
	// Daily LLM quota
	// -------------------------
	admin.GET("/tenant/:id/llm-quota", ownTenant, func(c *gin.Context) {
		tenantID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error_code": "invalid_tenant_id", "message": "Invalid tenant ID format"})
			return
		}

		tenantDB, err := dbManager.GetTenantDB(tenantID.Hex())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to open tenant database"})
			return
		}

		quota, err := ai.GetTenantQuotaStatus(c.Request.Context(), tenantID.Hex(), tenantDB)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				// No record until the tenant asks their first question.
				c.JSON(http.StatusOK, gin.H{
					"tenant_id":         tenantID.Hex(),
					"daily_token_limit": 0,
					"tokens_used_today": 0,
					"requests_today":    0,
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to load quota"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tenant_id":         quota.TenantID,
			"daily_token_limit": quota.DailyTokenLimit,
			"tokens_used_today": quota.TokensUsedToday,
			"requests_today":    quota.RequestsToday,
			"last_reset_date":   quota.LastResetDate,
		})
	})

	admin.PUT("/tenant/:id/llm-quota", operatorOnly, func(c *gin.Context) {
		tenantID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error_code": "invalid_tenant_id", "message": "Invalid tenant ID format"})
			return
		}

		var req struct {
			DailyTokenLimit int  `json:"daily_token_limit" binding:"required,min=100"`
			ClearUsage      bool `json:"clear_usage,omitempty"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		tenantDB, err := dbManager.GetTenantDB(tenantID.Hex())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to open tenant database"})
			return
		}

		if err := ai.SetTenantQuotaLimit(c.Request.Context(), tenantID.Hex(), req.DailyTokenLimit, tenantDB); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to update quota"})
			return
		}
		if req.ClearUsage {
			if err := ai.ResetTenantQuota(c.Request.Context(), tenantID.Hex(), tenantDB); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to reset quota usage"})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"message":           "Daily LLM quota updated",
			"tenant_id":         tenantID.Hex(),
			"daily_token_limit": req.DailyTokenLimit,
			"usage_cleared":     req.ClearUsage,
		})
	})

	// -------------------------
	// List tenants with usage
	// -------------------------
	admin.GET("/tenants", operatorOnly, func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
		if page < 1 {
			page = 1
		}
		if limit < 1 || limit > 100 {
			limit = 10
		}
		skip := (page - 1) * limit

		cursor, err := tenantsCollection.Find(context.Background(), bson.M{},
			options.Find().SetSort(bson.M{"created_at": -1}).SetSkip(int64(skip)).SetLimit(int64(limit)))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "internal_error", "message": "Failed to retrieve tenants"})
			return
		}
		defer cursor.Close(context.Background())

		var tenantStats []models.TenantUsageStats
		for cursor.Next(context.Background()) {
			var tenant models.Tenant
			if err := cursor.Decode(&tenant); err != nil {
				continue
			}

			usagePercentage := 0.0
			if tenant.TokenLimit > 0 {
				usagePercentage = float64(tenant.TokenUsed) / float64(tenant.TokenLimit) * 100
			}

			stats := models.TenantUsageStats{
				Tenant:          tenant,
				UsagePercentage: usagePercentage,
			}

			// Per-tenant counters live in the tenant's own database.
			if tenantDB, err := dbManager.GetTenantDB(tenant.ID.Hex()); err == nil {
				docCount, _ := tenantDB.Collection("documents").CountDocuments(context.Background(), bson.M{})
				queryCount, _ := tenantDB.Collection("query_analytics").CountDocuments(context.Background(), bson.M{})
				stats.TotalDocuments = int(docCount)
				stats.TotalQuestions = int(queryCount)

				var lastQuery struct {
					CreatedAt time.Time `bson:"created_at"`
				}
				if err := tenantDB.Collection("query_analytics").FindOne(context.Background(), bson.M{},
					options.FindOne().SetSort(bson.M{"created_at": -1}).SetProjection(bson.M{"created_at": 1})).Decode(&lastQuery); err == nil {
					stats.LastActivity = lastQuery.CreatedAt
				}
			}

			tenantStats = append(tenantStats, stats)
		}

		totalTenants, _ := tenantsCollection.CountDocuments(context.Background(), bson.M{})

		c.JSON(http.StatusOK, gin.H{
			"tenants":     tenantStats,
			"total":       totalTenants,
			"page":        page,
			"limit":       limit,
			"total_pages": (totalTenants + int64(limit) - 1) / int64(limit),
		})
	})

	// -------------------------
	// System health
	// -------------------------
	admin.GET("/stats", operatorOnly, func(c *gin.Context) {
		dbStatus := "ok"
		if err := mongoClient.Ping(context.Background(), nil); err != nil {
			dbStatus = "unreachable"
		}
		geminiStatus := "missing_key"
		if cfg.GeminiAPIKey != "" {
			geminiStatus = "configured"
		}

		now := time.Now()

		totalTenants, _ := tenantsCollection.CountDocuments(context.Background(), bson.M{})
		totalUsers, _ := usersCollection.CountDocuments(context.Background(), bson.M{})

		// Total tokens burned across all tenants.
		pipeline := mongo.Pipeline{
			{{"$group", bson.D{
				{"_id", nil},
				{"total_tokens", bson.D{{"$sum", "$token_used"}}},
			}}},
		}
		cur, _ := tenantsCollection.Aggregate(context.Background(), pipeline)
		totalTokens := 0
		if cur != nil {
			if cur.Next(context.Background()) {
				var agg struct {
					TotalTokens int `bson:"total_tokens"`
				}
				_ = cur.Decode(&agg)
				totalTokens = agg.TotalTokens
			}
			_ = cur.Close(context.Background())
		}

		health := models.SystemHealth{
			Status:    "ok",
			Timestamp: now.Format(time.RFC3339),
			Database:  dbStatus,
			GeminiAPI: geminiStatus,
			Metrics: map[string]interface{}{
				"tenants":           totalTenants,
				"users":             totalUsers,
				"total_tokens_used": totalTokens,
			},
		}
		c.JSON(http.StatusOK, health)
	})

	// -------------------------
	// Scheduled jobs
	// -------------------------
	admin.GET("/jobs", operatorOnly, func(c *gin.Context) {
		jobs := make([]gin.H, 0)
		for _, job := range scheduler.Jobs() {
			tags := job.Tags()
			tag := ""
			if len(tags) > 0 {
				tag = tags[0]
			}
			jobs = append(jobs, gin.H{
				"tag":      tag,
				"last_run": job.LastRun(),
				"next_run": job.NextRun(),
				"running":  job.IsRunning(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	})

	// -------------------------
	// On-demand analytics rollup
	// -------------------------
	admin.POST("/tenant/:id/rollup", ownTenant, func(c *gin.Context) {
		tenantID := c.Param("id")
		if _, err := primitive.ObjectIDFromHex(tenantID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error_code": "invalid_tenant_id", "message": "Invalid tenant ID format"})
			return
		}

		task, err := queue.NewAnalyticsRollupTask(tenantID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "queue_error", "message": "Failed to create rollup task"})
			return
		}
		info, err := queueClient.Enqueue(task)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error_code": "queue_error", "message": "Failed to enqueue rollup task"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"message":   "Rollup queued",
			"tenant_id": tenantID,
			"task_id":   info.ID,
		})
	})
}
