package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"kb-search-platform/internal/ai"
	"kb-search-platform/internal/config"
	"kb-search-platform/internal/database"
	"kb-search-platform/internal/telemetry"
	"kb-search-platform/middleware"
	"kb-search-platform/models"
	"kb-search-platform/services"
	"kb-search-platform/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// askQuotaEstimate is the pre-flight daily quota charge for one question.
// One question spends several generation calls (paraphrase, synthesis,
// evaluation), so this is deliberately above a single completion.
const askQuotaEstimate = 1500

func SetupSearchRoutes(
	router *gin.Engine,
	cfg *config.Config,
	mongoClient *mongo.Client,
	dbManager *database.TenantDBManager,
	authMiddleware *middleware.AuthMiddleware,
	rateLimiter *middleware.RateLimiter,
	orchestrator *services.QueryOrchestrator,
	ledger *services.QualityLedger,
	analytics *services.AnalyticsService,
	exporter *services.ExportService,
	alerts *services.AlertEvaluator,
	metrics *telemetry.Metrics,
) {
	platformDB := mongoClient.Database(cfg.DBName)
	tenantsCollection := platformDB.Collection("tenants")
	tenantGate := middleware.NewTenantGateMiddleware(tenantsCollection)

	search := router.Group("/search")
	search.Use(authMiddleware.RequireAuth())
	// LLM-backed endpoints are the expensive ones, so they carry a second,
	// role-aware window on top of the global IP limit.
	search.Use(rateLimiter.PerRole())
	search.Use(database.TenantDBMiddleware(dbManager))
	search.Use(tenantGate.RequireActiveTenant())

	// Ask a question against the tenant's knowledge base.
	search.POST("/ask", func(c *gin.Context) {
		var req models.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		tenantID := middleware.GetTenantID(c)
		tenantDB, ok := tenantDBFrom(c)
		if tenantID == "" || !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"error_code": "missing_tenant",
				"message":    "A tenant workspace is required to ask questions",
			})
			return
		}

		tenantOID, err := primitive.ObjectIDFromHex(tenantID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_tenant_id",
				"message":    "Invalid tenant ID format",
			})
			return
		}

		var tenant models.Tenant
		if err := tenantsCollection.FindOne(c.Request.Context(), bson.M{"_id": tenantOID}).Decode(&tenant); err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code": "tenant_not_found",
				"message":    "Tenant not found",
			})
			return
		}

		// Monthly token budget
		if tenant.TokenLimit > 0 && tenant.TokenUsed >= tenant.TokenLimit {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error_code": "token_limit_exceeded",
				"message":    fmt.Sprintf("Token limit exceeded. Used: %d, Limit: %d", tenant.TokenUsed, tenant.TokenLimit),
			})
			return
		}

		// Daily LLM quota
		if err := ai.CheckTenantQuota(c.Request.Context(), tenantID, askQuotaEstimate, tenantDB); err != nil {
			if errors.Is(err, ai.ErrDailyQuotaExceeded) {
				c.JSON(http.StatusPaymentRequired, gin.H{
					"error_code": "daily_quota_exceeded",
					"message":    "Daily question quota exhausted, try again tomorrow",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to check question quota",
			})
			return
		}

		clientIP := utils.GetClientIP(c.Request)
		askStart := time.Now()
		result, err := orchestrator.Answer(c.Request.Context(), tenantDB, tenantID, req.Question, clientIP, req.TopK)
		if err != nil {
			if metrics != nil && !errors.Is(err, context.Canceled) {
				metrics.RecordAsk(models.StateFailed, time.Since(askStart).Seconds(), 0, 0)
			}
			switch {
			case errors.Is(err, context.Canceled):
				c.Abort()
			case errors.Is(err, services.ErrRetrievalUnavailable):
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"error_code": "retrieval_unavailable",
					"message":    "Document search is temporarily unavailable",
				})
			case errors.Is(err, ai.ErrLLMUnavailable):
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"error_code": "generation_unavailable",
					"message":    "Answer generation is temporarily unavailable",
				})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{
					"error_code": "ask_failed",
					"message":    "Failed to answer the question",
				})
			}
			return
		}

		if metrics != nil {
			metrics.RecordAsk(models.StateDone, float64(result.LatencyMS)/1000, result.CandidateCount, result.Completeness)
			if result.Enrichment != nil {
				metrics.RecordEnrichment(result.Enrichment.Performed, len(result.Enrichment.Candidates))
			}
		}

		// Charge the monthly budget with the realized cost.
		tokenCost := ai.EstimateTokens(req.Question) + ai.EstimateTokens(result.Answer)
		if tenant.TokenLimit > 0 {
			if err := chargeTenantTokens(c.Request.Context(), tenantsCollection, tenantOID, tenant.TokenLimit, tokenCost); err != nil {
				c.JSON(http.StatusPaymentRequired, gin.H{
					"error_code":       "insufficient_tokens",
					"message":          "Not enough tokens left for this answer",
					"required_tokens":  tokenCost,
					"available_tokens": tenant.TokenLimit - tenant.TokenUsed,
				})
				return
			}
		}
		if metrics != nil {
			metrics.RecordTokensUsed(int64(tokenCost), cfg.GeminiModel)
		}

		// Usage alerts ride on a background check so the response never
		// waits on email delivery.
		go func() {
			alertCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := alerts.EvaluateQuota(alertCtx, tenantOID); err != nil {
				fmt.Printf("⚠️ Quota alert evaluation failed for tenant %s: %v\n", tenantID, err)
			}
		}()

		remaining := tenant.TokenLimit - (tenant.TokenUsed + tokenCost)
		if remaining < 0 {
			remaining = 0
		}

		c.JSON(http.StatusOK, gin.H{
			"result":           result,
			"tokens_used":      tokenCost,
			"remaining_tokens": remaining,
		})
	})

	// Rate an answer. Ratings adjust the quality multiplier of every
	// document the answer cited.
	search.POST("/rate", func(c *gin.Context) {
		var req models.RateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		tenantID := middleware.GetTenantID(c)
		tenantDB, ok := tenantDBFrom(c)
		if tenantID == "" || !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"error_code": "missing_tenant",
				"message":    "A tenant workspace is required to rate answers",
			})
			return
		}

		eventID := req.EventID
		if eventID == "" {
			eventID = utils.RatingID()
		}

		event := models.RatingEvent{
			ID:            eventID,
			TenantID:      tenantID,
			Question:      req.Question,
			AnswerHash:    services.HashAnswer(req.Answer),
			Polarity:      req.Polarity,
			DocumentsUsed: req.DocumentsUsed,
			FeedbackText:  req.FeedbackText,
			CreatedAt:     time.Now(),
		}

		resp, err := ledger.RecordRating(c.Request.Context(), tenantDB, event)
		if err != nil {
			if errors.Is(err, services.ErrInvalidRating) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error_code": "invalid_rating",
					"message":    err.Error(),
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "rating_failed",
				"message":    "Failed to record the rating",
			})
			return
		}

		if metrics != nil {
			metrics.RecordRating(req.Polarity)
		}
		c.JSON(http.StatusOK, resp)
	})

	// Aggregate answer quality statistics for the tenant.
	search.GET("/stats", func(c *gin.Context) {
		tenantDB, ok := tenantDBFrom(c)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"error_code": "missing_tenant",
				"message":    "A tenant workspace is required",
			})
			return
		}

		days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
		if err != nil || days < 1 || days > 365 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "days must be between 1 and 365",
			})
			return
		}

		since := time.Now().AddDate(0, 0, -days)
		stats, err := analytics.Stats(c.Request.Context(), tenantDB, since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "stats_failed",
				"message":    "Failed to compute statistics",
			})
			return
		}

		c.JSON(http.StatusOK, stats)
	})

	// Export the question log as JSON, an Excel workbook, or both in a zip.
	search.GET("/export", func(c *gin.Context) {
		tenantDB, ok := tenantDBFrom(c)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"error_code": "missing_tenant",
				"message":    "A tenant workspace is required",
			})
			return
		}

		req, err := parseExportQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    err.Error(),
			})
			return
		}

		data, err := exporter.BuildExportData(c.Request.Context(), tenantDB, req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "export_failed",
				"message":    "Failed to build the export",
			})
			return
		}

		if err := exporter.StreamExport(c, data, req.Format); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "export_failed",
				"message":    "Failed to stream the export",
			})
		}
	})
}

// tenantDBFrom pulls the per-tenant database injected by TenantDBMiddleware.
func tenantDBFrom(c *gin.Context) (*mongo.Database, bool) {
	v, ok := c.Get("tenantDB")
	if !ok {
		return nil, false
	}
	db, ok := v.(*mongo.Database)
	return db, ok
}

// chargeTenantTokens burns tokens from the tenant's monthly budget. The
// filter rejects the write when the remaining budget cannot cover the cost,
// so concurrent requests cannot overdraw it.
func chargeTenantTokens(ctx context.Context, collection *mongo.Collection, tenantID primitive.ObjectID, tokenLimit, tokenCost int) error {
	result, err := collection.UpdateOne(ctx,
		bson.M{
			"_id":        tenantID,
			"token_used": bson.M{"$lte": tokenLimit - tokenCost},
		},
		bson.M{
			"$inc": bson.M{"token_used": tokenCost},
			"$set": bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("insufficient tokens")
	}
	return nil
}

// parseExportQuery maps the export query string onto an ExportRequest.
// Dates accept either RFC3339 or plain YYYY-MM-DD.
func parseExportQuery(c *gin.Context) (*services.ExportRequest, error) {
	req := &services.ExportRequest{
		Format:         c.DefaultQuery("format", "json"),
		OnlyIncomplete: c.Query("only_incomplete") == "true",
		IncludeRatings: c.Query("include_ratings") == "true",
	}

	switch req.Format {
	case "json", "excel", "both":
	default:
		return nil, fmt.Errorf("format must be json, excel or both")
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("limit must be a non-negative integer")
		}
		req.Limit = limit
	}

	if raw := c.Query("date_from"); raw != "" {
		t, err := parseExportDate(raw)
		if err != nil {
			return nil, fmt.Errorf("date_from: %v", err)
		}
		req.DateFrom = t
	}
	if raw := c.Query("date_to"); raw != "" {
		t, err := parseExportDate(raw)
		if err != nil {
			return nil, fmt.Errorf("date_to: %v", err)
		}
		req.DateTo = t
	}

	return req, nil
}

func parseExportDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, nil
}
