package middleware

import (
	"errors"
	"net/http"
	"time"

	"kb-search-platform/internal/auth"
	"kb-search-platform/internal/config"
	"kb-search-platform/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Cookie names shared by the auth routes and the auto-refresh path.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// Context keys set by RequireAuth and read by downstream middleware and
// handlers.
const (
	ctxUserID   = "user_id"
	ctxRole     = "role"
	ctxTenantID = "tenant_id"
	ctxClaims   = "claims"
)

type AuthMiddleware struct {
	cfg *config.Config
	rdb *redis.Client
}

func NewAuthMiddleware(cfg *config.Config, rdb *redis.Client) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, rdb: rdb}
}

// RequireAuth validates the access token and loads its claims into the gin
// context. When the access token has expired but the refresh cookie is still
// good, the session is rotated in place so browser clients only hit a login
// wall once the refresh token itself dies. API clients that send only the
// bearer header never see cookies and refresh explicitly via /auth/refresh.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "unauthorized",
				"message":    "Authentication token is required",
			})
			c.Abort()
			return
		}

		claims, err := auth.ValidateAccessToken(c.Request.Context(), token, a.rdb)
		if err != nil {
			claims = a.refreshSession(c)
		}
		if claims == nil {
			code, msg := a.authFailure(c, err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": code,
				"message":    msg,
				"details":    gin.H{"error": err.Error()},
			})
			c.Abort()
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Set(ctxTenantID, claims.TenantID)
		c.Set(ctxClaims, claims)

		c.Next()
	}
}

// sessionToken pulls the access token from the Authorization header or,
// failing that, from the access cookie.
func sessionToken(c *gin.Context) string {
	if token := utils.ExtractTokenFromHeader(c.GetHeader("Authorization")); token != "" {
		return token
	}
	cookie, err := c.Cookie(AccessCookie)
	if err != nil {
		return ""
	}
	return cookie
}

// refreshSession rotates the token pair using the refresh cookie. The old
// refresh token is spent before its replacement is minted, so a cookie
// replayed after rotation validates against a revoked JTI and fails. Returns
// the fresh access claims, or nil when no rotation happened.
func (a *AuthMiddleware) refreshSession(c *gin.Context) *auth.Claims {
	refreshToken, err := c.Cookie(RefreshCookie)
	if err != nil || refreshToken == "" {
		return nil
	}

	ctx := c.Request.Context()
	old, err := auth.ValidateRefreshToken(ctx, refreshToken, a.rdb)
	if err != nil {
		return nil
	}
	if err := auth.RevokeToken(ctx, old.ID, true, a.rdb); err != nil {
		return nil
	}

	pair, err := auth.IssueTokenPair(ctx, old.UserID, old.TenantID, old.Role, a.rdb)
	if err != nil {
		return nil
	}
	SetSessionCookies(c, a.cfg, pair)

	claims, err := auth.ValidateAccessToken(ctx, pair.AccessToken, a.rdb)
	if err != nil {
		return nil
	}
	return claims
}

// authFailure maps a failed validate-then-refresh attempt to an error code
// the frontend can branch on.
func (a *AuthMiddleware) authFailure(c *gin.Context, accessErr error) (string, string) {
	if errors.Is(accessErr, auth.ErrTokenRevoked) {
		return "token_revoked", "This session has been revoked. Please log in again."
	}
	refreshToken, err := c.Cookie(RefreshCookie)
	if err != nil || refreshToken == "" {
		return "session_expired", "Your session has expired. Please log in again."
	}
	if _, err := auth.ValidateRefreshToken(c.Request.Context(), refreshToken, a.rdb); err != nil {
		return "refresh_token_expired", "Your session has expired. Please log in again."
	}
	return "token_refresh_failed", "Failed to refresh session. Please log in again."
}

// SetSessionCookies mirrors the token pair into HttpOnly cookies for browser
// clients. Lifetimes track the token expiries so a stale cookie is never
// presented past the point its JTI would validate.
func SetSessionCookies(c *gin.Context, cfg *config.Config, pair *auth.TokenPair) {
	secure := cfg.GinMode == "release"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, pair.AccessToken, int(time.Until(pair.AccessExp).Seconds()), "/", "", secure, true)
	c.SetCookie(RefreshCookie, pair.RefreshToken, int(time.Until(pair.RefreshExp).Seconds()), "/", "", secure, true)
}

// ClearSessionCookies expires both session cookies on logout.
func ClearSessionCookies(c *gin.Context, cfg *config.Config) {
	secure := cfg.GinMode == "release"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, "", -1, "/", "", secure, true)
	c.SetCookie(RefreshCookie, "", -1, "/", "", secure, true)
}

func ctxString(c *gin.Context, key string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetUserID returns the authenticated user id, or "" when unauthenticated.
func GetUserID(c *gin.Context) string { return ctxString(c, ctxUserID) }

// GetRole returns the authenticated role, or "" when unauthenticated.
func GetRole(c *gin.Context) string { return ctxString(c, ctxRole) }

// GetTenantID returns the tenant scope of the request. Empty for users not
// yet assigned to a tenant.
func GetTenantID(c *gin.Context) string { return ctxString(c, ctxTenantID) }
