package middleware

import (
	"context"
	"net/http"

	"kb-search-platform/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// TenantGateMiddleware checks tenant standing before serving tenant-scoped routes
type TenantGateMiddleware struct {
	tenantsCollection *mongo.Collection
}

// NewTenantGateMiddleware creates a new tenant gate middleware
func NewTenantGateMiddleware(tenantsCollection *mongo.Collection) *TenantGateMiddleware {
	return &TenantGateMiddleware{
		tenantsCollection: tenantsCollection,
	}
}

// RequireActiveTenant rejects requests from suspended or deleted tenants.
// Superadmins carry no tenant id and pass through.
func (f *TenantGateMiddleware) RequireActiveTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := GetTenantID(c)
		if tenantID == "" {
			if IsSuperadmin(c) {
				c.Next()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "unauthorized",
				"message":    "Tenant ID not found in context",
			})
			c.Abort()
			return
		}

		tenantOID, err := primitive.ObjectIDFromHex(tenantID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Invalid tenant ID",
			})
			c.Abort()
			return
		}

		var tenant models.Tenant
		if err := f.tenantsCollection.FindOne(context.Background(), bson.M{"_id": tenantOID}).Decode(&tenant); err != nil {
			if err == mongo.ErrNoDocuments {
				c.JSON(http.StatusNotFound, gin.H{
					"error_code": "tenant_not_found",
					"message":    "Tenant not found",
				})
				c.Abort()
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to retrieve tenant",
			})
			c.Abort()
			return
		}

		// Status is optional and defaults to active when unset.
		if tenant.Status == "inactive" || tenant.Status == "suspended" {
			c.JSON(http.StatusForbidden, gin.H{
				"error_code": "tenant_suspended",
				"message":    "This workspace is suspended. Please contact your administrator.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
