package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RoleMiddleware gates routes on the role carried in the validated claims.
// Mount its handlers after RequireAuth.
type RoleMiddleware struct{}

func NewRoleMiddleware() *RoleMiddleware {
	return &RoleMiddleware{}
}

// RequireRole passes requests whose role matches any of the allowed ones.
func (r *RoleMiddleware) RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		if role == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "unauthorized",
				"message":    "User role not found",
			})
			c.Abort()
			return
		}

		for _, want := range allowed {
			if role == want {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error_code": "forbidden",
			"message":    "Insufficient permissions",
			"details": gin.H{
				"required_roles": allowed,
				"user_role":      role,
			},
		})
		c.Abort()
	}
}

// AdminGuard admits tenant admins and platform operators.
func (r *RoleMiddleware) AdminGuard() gin.HandlerFunc {
	return r.RequireRole("admin", "superadmin")
}

// MemberGuard admits any recognized role. Tokens minted with a role this
// deployment does not know are refused rather than waved through.
func (r *RoleMiddleware) MemberGuard() gin.HandlerFunc {
	return r.RequireRole("member", "admin", "superadmin")
}

// RequireTenantAccess restricts a route carrying a tenant id in the named
// path parameter to callers allowed to act on that tenant: superadmins
// anywhere, everyone else only inside their own.
func (r *RoleMiddleware) RequireTenantAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CanAccessTenant(c, c.Param(param)) {
			c.JSON(http.StatusForbidden, gin.H{
				"error_code": "forbidden",
				"message":    "Access denied to this tenant",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// IsSuperadmin reports whether the caller is a platform operator.
func IsSuperadmin(c *gin.Context) bool {
	return GetRole(c) == "superadmin"
}

// CanAccessTenant reports whether the caller may act on the target tenant.
func CanAccessTenant(c *gin.Context, targetTenantID string) bool {
	if IsSuperadmin(c) {
		return true
	}
	userTenantID := GetTenantID(c)
	return userTenantID != "" && userTenantID == targetTenantID
}
