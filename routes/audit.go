package routes

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"kb-search-platform/middleware"
	"kb-search-platform/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// SetupAuditRoutes exposes the tamper-evident audit trail to admins.
func SetupAuditRoutes(
	router *gin.Engine,
	authMiddleware *middleware.AuthMiddleware,
	roleMiddleware *middleware.RoleMiddleware,
	auditor *models.AuditLogger,
) {
	audit := router.Group("/admin/audit")
	audit.Use(authMiddleware.RequireAuth())
	audit.Use(roleMiddleware.AdminGuard())

	// -------------------------
	// Query audit logs
	// -------------------------
	audit.GET("", func(c *gin.Context) {
		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			page = 1
		}
		pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
		if err != nil || pageSize < 1 || pageSize > 100 {
			pageSize = 20
		}

		filter := buildAuditFilter(c)

		events, total, err := auditor.Query(c.Request.Context(), filter, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "query_failed",
				"message":    "Failed to query audit logs",
			})
			return
		}

		totalPages := (total + int64(pageSize) - 1) / int64(pageSize)
		c.JSON(http.StatusOK, gin.H{
			"events": events,
			"pagination": gin.H{
				"page":        page,
				"page_size":   pageSize,
				"total":       total,
				"total_pages": totalPages,
			},
		})
	})

	// -------------------------
	// Per-tenant summary
	// -------------------------
	audit.GET("/summary/:tenantID", func(c *gin.Context) {
		tenantID := c.Param("tenantID")
		if !middleware.CanAccessTenant(c, tenantID) {
			c.JSON(http.StatusForbidden, gin.H{
				"error_code": "forbidden",
				"message":    "Access denied to this tenant",
			})
			return
		}
		days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
		if err != nil || days < 1 || days > 365 {
			days = 30
		}

		summary, err := auditor.Summary(c.Request.Context(), tenantID, days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "summary_failed",
				"message":    "Failed to generate audit summary",
			})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	// -------------------------
	// Hash chain verification
	// -------------------------
	audit.GET("/verify/:tenantID", func(c *gin.Context) {
		tenantID := c.Param("tenantID")
		if !middleware.CanAccessTenant(c, tenantID) {
			c.JSON(http.StatusForbidden, gin.H{
				"error_code": "forbidden",
				"message":    "Access denied to this tenant",
			})
			return
		}

		isValid, err := auditor.VerifyChain(c.Request.Context(), tenantID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "verification_failed",
				"message":    "Failed to verify audit chain",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tenant_id": tenantID,
			"is_valid":  isValid,
			"message":   "Audit chain verification completed",
		})
	})

	// -------------------------
	// Aggregate statistics
	// -------------------------
	// Platform-wide totals cross tenant boundaries, so operators only.
	audit.GET("/stats", roleMiddleware.RequireRole("superadmin"), func(c *gin.Context) {
		ctx := c.Request.Context()
		col := auditor.Collection()

		totalEvents, err := col.CountDocuments(ctx, bson.M{})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "stats_failed",
				"message":    "Failed to get audit statistics",
			})
			return
		}

		actionStats, err := groupCounts(ctx, col, "$action")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "stats_failed",
				"message":    "Failed to get action statistics",
			})
			return
		}

		resourceStats, err := groupCounts(ctx, col, "$resource")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "stats_failed",
				"message":    "Failed to get resource statistics",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"total_events":   totalEvents,
			"action_stats":   actionStats,
			"resource_stats": resourceStats,
			"generated_at":   time.Now(),
		})
	})

	// -------------------------
	// Export as JSON attachment
	// -------------------------
	audit.GET("/export", func(c *gin.Context) {
		filter := buildAuditFilter(c)

		// No pagination on export, capped at 10k events.
		events, _, err := auditor.Query(c.Request.Context(), filter, 1, 10000)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "export_failed",
				"message":    "Failed to export audit logs",
			})
			return
		}

		filename := "audit_logs_" + time.Now().Format("20060102_150405") + ".json"
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Header("Content-Type", "application/json")

		c.JSON(http.StatusOK, gin.H{
			"export_info": gin.H{
				"filename":     filename,
				"total_events": len(events),
				"exported_at":  time.Now(),
				"filters":      filter,
			},
			"events": events,
		})
	})
}

// buildAuditFilter translates query parameters into a mongo filter. Tenant
// admins are pinned to their own tenant no matter what they ask for.
func buildAuditFilter(c *gin.Context) bson.M {
	filter := bson.M{}

	if middleware.IsSuperadmin(c) {
		if tenantID := c.Query("tenant_id"); tenantID != "" {
			filter["tenant_id"] = tenantID
		}
	} else {
		filter["tenant_id"] = middleware.GetTenantID(c)
	}
	if userID := c.Query("user_id"); userID != "" {
		filter["user_id"] = userID
	}
	if action := c.Query("action"); action != "" {
		filter["action"] = action
	}
	if resource := c.Query("resource"); resource != "" {
		filter["resource"] = resource
	}

	startTimeStr := c.Query("start_time")
	endTimeStr := c.Query("end_time")
	if startTimeStr != "" || endTimeStr != "" {
		timeFilter := bson.M{}
		if startTimeStr != "" {
			if startTime, err := time.Parse(time.RFC3339, startTimeStr); err == nil {
				timeFilter["$gte"] = startTime
			}
		}
		if endTimeStr != "" {
			if endTime, err := time.Parse(time.RFC3339, endTimeStr); err == nil {
				timeFilter["$lte"] = endTime
			}
		}
		if len(timeFilter) > 0 {
			filter["timestamp"] = timeFilter
		}
	}

	return filter
}

// groupCounts runs a single-field $group count aggregation.
func groupCounts(ctx context.Context, col *mongo.Collection, field string) ([]bson.M, error) {
	pipeline := []bson.M{
		{
			"$group": bson.M{
				"_id":   field,
				"count": bson.M{"$sum": 1},
			},
		},
	}

	cursor, err := col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var stats []bson.M
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}
