package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"kb-search-platform/internal/config"
	"kb-search-platform/internal/database"
	"kb-search-platform/internal/queue"
	"kb-search-platform/internal/telemetry"
	"kb-search-platform/middleware"
	"kb-search-platform/models"
	"kb-search-platform/services"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"
)

func SetupDocumentRoutes(
	router *gin.Engine,
	cfg *config.Config,
	mongoClient *mongo.Client,
	dbManager *database.TenantDBManager,
	authMiddleware *middleware.AuthMiddleware,
	roleMiddleware *middleware.RoleMiddleware,
	documents *services.DocumentService,
	queueClient *asynq.Client,
	metrics *telemetry.Metrics,
) {
	platformDB := mongoClient.Database(cfg.DBName)
	tenantsCollection := platformDB.Collection("tenants")
	crawlAlertsCollection := platformDB.Collection("crawl_alerts")
	tenantGate := middleware.NewTenantGateMiddleware(tenantsCollection)
	crawlPolicy := middleware.NewCrawlPolicyMiddleware(tenantsCollection, crawlAlertsCollection)

	docs := router.Group("/documents")
	docs.Use(authMiddleware.RequireAuth())
	docs.Use(roleMiddleware.MemberGuard())
	docs.Use(database.TenantDBMiddleware(dbManager))
	docs.Use(tenantGate.RequireActiveTenant())

	// Upload a file. Small files are processed inline; anything above the
	// sync limit is staged and handed to the background worker.
	docs.POST("/upload", func(c *gin.Context) {
		tenantID, tenantDB, ok := tenantScope(c)
		if !ok {
			return
		}

		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "file_too_large",
				"message":    "File size exceeds maximum limit",
			})
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "no_file",
				"message":    "No file provided",
			})
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if err := documents.ValidateUpload(header.Filename, header.Size, contentType); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_file",
				"message":    err.Error(),
			})
			return
		}

		content, err := io.ReadAll(io.LimitReader(file, cfg.MaxFileSize+1))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "file_read_error",
				"message":    "Failed to read uploaded file",
			})
			return
		}
		if int64(len(content)) > cfg.MaxFileSize {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "file_too_large",
				"message":    "File size exceeds maximum limit",
			})
			return
		}

		// Large files go through the queue so the request returns quickly.
		if int64(len(content)) > cfg.SyncProcessingLimit {
			stagedID, err := documents.StageFile(c.Request.Context(), tenantDB, tenantID, header.Filename, content, contentType)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error_code": "staging_failed",
					"message":    "Failed to stage file for processing",
				})
				return
			}

			task, err := queue.NewIngestDocumentTask(tenantID, stagedID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error_code": "queue_error",
					"message":    "Failed to create processing task",
				})
				return
			}
			info, err := queueClient.Enqueue(task)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error_code": "queue_error",
					"message":    "Failed to enqueue processing task",
				})
				return
			}

			c.JSON(http.StatusAccepted, gin.H{
				"message":  "Upload accepted for processing",
				"id":       stagedID,
				"task_id":  info.ID,
				"status":   models.StatusPending,
				"filename": header.Filename,
				"size":     header.Size,
			})
			return
		}

		ingestStart := time.Now()
		resp, err := documents.IngestFile(c.Request.Context(), tenantDB, tenantID, header.Filename, content, contentType)
		if err != nil {
			if metrics != nil {
				metrics.RecordIngest(time.Since(ingestStart).Seconds(), "failed")
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "ingest_failed",
				"message":    err.Error(),
			})
			return
		}
		if metrics != nil {
			metrics.RecordIngest(time.Since(ingestStart).Seconds(), resp.Status)
		}

		status := http.StatusCreated
		if resp.Duplicate {
			status = http.StatusOK
		}
		c.JSON(status, resp)
	})

	// Ingest raw text as a document.
	docs.POST("/text", func(c *gin.Context) {
		tenantID, tenantDB, ok := tenantScope(c)
		if !ok {
			return
		}

		var req models.IngestTextRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		ingestStart := time.Now()
		resp, err := documents.IngestText(c.Request.Context(), tenantDB, tenantID, req.Title, req.Text)
		if err != nil {
			if metrics != nil {
				metrics.RecordIngest(time.Since(ingestStart).Seconds(), "failed")
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "ingest_failed",
				"message":    err.Error(),
			})
			return
		}
		if metrics != nil {
			metrics.RecordIngest(time.Since(ingestStart).Seconds(), resp.Status)
		}

		status := http.StatusCreated
		if resp.Duplicate {
			status = http.StatusOK
		}
		c.JSON(status, resp)
	})

	// Ingest a web page. The crawl policy middleware rejects targets the
	// tenant's domain policy does not allow.
	docs.POST("/url", crawlPolicy.CheckCrawlTarget(), func(c *gin.Context) {
		tenantID, tenantDB, ok := tenantScope(c)
		if !ok {
			return
		}

		var req models.IngestURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		ingestStart := time.Now()
		resp, err := documents.IngestURL(c.Request.Context(), tenantDB, tenantID, req.URL, req.RenderJS)
		if err != nil {
			if metrics != nil {
				metrics.RecordIngest(time.Since(ingestStart).Seconds(), "failed")
			}
			c.JSON(http.StatusBadGateway, gin.H{
				"error_code": "crawl_failed",
				"message":    err.Error(),
			})
			return
		}
		if metrics != nil {
			metrics.RecordIngest(time.Since(ingestStart).Seconds(), resp.Status)
		}

		status := http.StatusCreated
		if resp.Duplicate {
			status = http.StatusOK
		}
		c.JSON(status, resp)
	})

	// List documents, optionally filtered by status.
	docs.GET("", func(c *gin.Context) {
		_, tenantDB, ok := tenantScope(c)
		if !ok {
			return
		}

		page, _ := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
		pageSize, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
		if page < 1 {
			page = 1
		}
		if pageSize < 1 || pageSize > 100 {
			pageSize = 20
		}

		records, total, err := documents.ListDocuments(c.Request.Context(), tenantDB, c.Query("status"), page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "list_failed",
				"message":    "Failed to list documents",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"documents": records,
			"pagination": gin.H{
				"page":        page,
				"limit":       pageSize,
				"total":       total,
				"total_pages": (total + pageSize - 1) / pageSize,
			},
		})
	})

	// Web ingestion history, newest first.
	docs.GET("/crawl-jobs", func(c *gin.Context) {
		_, tenantDB, ok := tenantScope(c)
		if !ok {
			return
		}

		page, _ := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
		pageSize, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
		if page < 1 {
			page = 1
		}
		if pageSize < 1 || pageSize > 100 {
			pageSize = 20
		}

		jobs, total, err := documents.ListCrawlJobs(c.Request.Context(), tenantDB, c.Query("status"), page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "list_failed",
				"message":    "Failed to list crawl jobs",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"jobs": jobs,
			"pagination": gin.H{
				"page":        page,
				"limit":       pageSize,
				"total":       total,
				"total_pages": (total + pageSize - 1) / pageSize,
			},
		})
	})

	// Fetch one document record.
	docs.GET("/:id", func(c *gin.Context) {
		_, tenantDB, ok := tenantScope(c)
		if !ok {
			return
		}

		record, err := documents.GetDocument(c.Request.Context(), tenantDB, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to load document",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code": "document_not_found",
				"message":    "Document not found",
			})
			return
		}
		c.JSON(http.StatusOK, record)
	})

	// Processing status, used to poll async uploads.
	docs.GET("/:id/status", func(c *gin.Context) {
		_, tenantDB, ok := tenantScope(c)
		if !ok {
			return
		}

		record, err := documents.GetDocument(c.Request.Context(), tenantDB, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to load document",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code": "document_not_found",
				"message":    "Document not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":            record.ID,
			"status":        record.Status,
			"chunk_count":   record.ChunkCount,
			"error_message": record.ErrorMessage,
			"updated_at":    record.UpdatedAt,
		})
	})

	// Extracted plain text of a document.
	docs.GET("/:id/text", func(c *gin.Context) {
		_, tenantDB, ok := tenantScope(c)
		if !ok {
			return
		}

		text, err := documents.GetDocumentText(c.Request.Context(), tenantDB, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code": "document_not_found",
				"message":    err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "text": text})
	})

	// Download the original file. Object storage deployments answer with a
	// presigned link; local storage streams the bytes directly.
	docs.GET("/:id/download", func(c *gin.Context) {
		_, tenantDB, ok := tenantScope(c)
		if !ok {
			return
		}

		url, record, err := documents.DownloadURL(c.Request.Context(), tenantDB, c.Param("id"))
		if err != nil && record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code": "document_not_found",
				"message":    "Document not found",
			})
			return
		}

		if url != "" {
			c.JSON(http.StatusOK, gin.H{"download_url": url, "filename": record.Filename})
			return
		}

		content, err := documents.FetchOriginal(c.Request.Context(), tenantDB, record)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "download_failed",
				"message":    "Failed to read stored file",
			})
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Filename))
		c.Data(http.StatusOK, "application/octet-stream", content)
	})

	// Delete a document together with its chunks, stored file and ledger
	// entry.
	// Removing knowledge affects every member's answers, so deletes need an
	// admin.
	docs.DELETE("/:id", roleMiddleware.AdminGuard(), func(c *gin.Context) {
		_, tenantDB, ok := tenantScope(c)
		if !ok {
			return
		}

		if err := documents.DeleteDocument(c.Request.Context(), tenantDB, c.Param("id")); err != nil {
			if errors.Is(err, services.ErrDocumentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error_code": "document_not_found",
					"message":    "Document not found",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "delete_failed",
				"message":    err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Document deleted", "id": c.Param("id")})
	})
}

// tenantScope resolves the tenant id and database for the request, writing
// the error response itself when either is missing.
func tenantScope(c *gin.Context) (string, *mongo.Database, bool) {
	tenantID := middleware.GetTenantID(c)
	tenantDB, ok := tenantDBFrom(c)
	if tenantID == "" || !ok {
		c.JSON(http.StatusForbidden, gin.H{
			"error_code": "missing_tenant",
			"message":    "A tenant workspace is required",
		})
		return "", nil, false
	}
	return tenantID, tenantDB, true
}
