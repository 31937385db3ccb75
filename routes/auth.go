package routes

import (
	"net/http"
	"time"

	"kb-search-platform/internal/auth"
	"kb-search-platform/internal/config"
	"kb-search-platform/middleware"
	"kb-search-platform/models"
	"kb-search-platform/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func SetupAuthRoutes(router *gin.Engine, cfg *config.Config, mongoClient *mongo.Client, rdb *redis.Client, authMiddleware *middleware.AuthMiddleware) {
	authGroup := router.Group("/auth")

	db := mongoClient.Database(cfg.DBName)
	usersCollection := db.Collection("users")

	// Register endpoint. Self-registered accounts are always members; admin
	// and superadmin accounts are created through the admin routes.
	authGroup.POST("/register", func(c *gin.Context) {
		var req models.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		var existingUser models.User
		if err := usersCollection.FindOne(c.Request.Context(), bson.M{"username": req.Username}).Decode(&existingUser); err == nil {
			c.JSON(http.StatusConflict, gin.H{
				"error_code": "username_exists",
				"message":    "Username already exists",
			})
			return
		}

		hashedPassword, err := utils.HashPassword(req.Password, cfg.BcryptCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to process password",
			})
			return
		}

		var tenantID *primitive.ObjectID
		if req.TenantID != "" {
			objID, err := primitive.ObjectIDFromHex(req.TenantID)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error_code": "invalid_tenant_id",
					"message":    "Invalid tenant ID format",
				})
				return
			}
			tenantID = &objID
		}

		user := models.User{
			Username:     req.Username,
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: hashedPassword,
			Role:         "member",
			TenantID:     tenantID,
			TokenUsage:   0,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}

		result, err := usersCollection.InsertOne(c.Request.Context(), user)
		if err != nil {
			// The unique index wins any race the FindOne pre-check lost.
			if mongo.IsDuplicateKeyError(err) {
				c.JSON(http.StatusConflict, gin.H{
					"error_code": "username_exists",
					"message":    "Username already exists",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to create user",
			})
			return
		}

		userID := result.InsertedID.(primitive.ObjectID).Hex()
		tenantIDStr := ""
		if tenantID != nil {
			tenantIDStr = tenantID.Hex()
		}

		pair, err := auth.IssueTokenPair(c.Request.Context(), userID, tenantIDStr, user.Role, rdb)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to generate tokens",
			})
			return
		}
		middleware.SetSessionCookies(c, cfg, pair)

		c.JSON(http.StatusCreated, models.TokenPairResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			AccessExp:    pair.AccessExp,
			RefreshExp:   pair.RefreshExp,
			User: models.UserInfo{
				ID:       userID,
				Username: user.Username,
				Name:     user.Name,
				Email:    user.Email,
				Role:     user.Role,
				TenantID: tenantIDStr,
			},
		})
	})

	// Login endpoint
	authGroup.POST("/login", func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		var user models.User
		if err := usersCollection.FindOne(c.Request.Context(), bson.M{"username": req.Username}).Decode(&user); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "invalid_credentials",
				"message":    "Invalid username or password",
			})
			return
		}

		if !utils.CheckPassword(req.Password, user.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "invalid_credentials",
				"message":    "Invalid username or password",
			})
			return
		}

		tenantIDStr := ""
		if user.TenantID != nil {
			tenantIDStr = user.TenantID.Hex()
		}

		pair, err := auth.IssueTokenPair(c.Request.Context(), user.ID.Hex(), tenantIDStr, user.Role, rdb)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to generate tokens",
			})
			return
		}
		middleware.SetSessionCookies(c, cfg, pair)

		c.JSON(http.StatusOK, models.TokenPairResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			AccessExp:    pair.AccessExp,
			RefreshExp:   pair.RefreshExp,
			User: models.UserInfo{
				ID:       user.ID.Hex(),
				Username: user.Username,
				Name:     user.Name,
				Email:    user.Email,
				Role:     user.Role,
				TenantID: tenantIDStr,
			},
		})
	})

	// Refresh endpoint. The old refresh token is revoked so each refresh
	// token can be spent once.
	authGroup.POST("/refresh", func(c *gin.Context) {
		refreshToken := refreshTokenFrom(c)
		if refreshToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "refresh_token is required",
			})
			return
		}

		claims, err := auth.ValidateRefreshToken(c.Request.Context(), refreshToken, rdb)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "unauthorized",
				"message":    "Invalid or expired refresh token",
			})
			return
		}

		if err := auth.RevokeToken(c.Request.Context(), claims.ID, true, rdb); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to rotate refresh token",
			})
			return
		}

		pair, err := auth.IssueTokenPair(c.Request.Context(), claims.UserID, claims.TenantID, claims.Role, rdb)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to generate tokens",
			})
			return
		}
		middleware.SetSessionCookies(c, cfg, pair)

		c.JSON(http.StatusOK, gin.H{
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
			"access_exp":    pair.AccessExp,
			"refresh_exp":   pair.RefreshExp,
		})
	})

	// Logout revokes every outstanding token for the user and drops the
	// session cookies.
	authGroup.POST("/logout", func(c *gin.Context) {
		refreshToken := refreshTokenFrom(c)
		if refreshToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "refresh_token is required",
			})
			return
		}

		claims, err := auth.ValidateRefreshToken(c.Request.Context(), refreshToken, rdb)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "unauthorized",
				"message":    "Invalid or expired refresh token",
			})
			return
		}

		if err := auth.RevokeAllUserTokens(c.Request.Context(), claims.UserID, rdb); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_code": "internal_error",
				"message":    "Failed to revoke tokens",
			})
			return
		}
		middleware.ClearSessionCookies(c, cfg)

		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	})

	// Current-user endpoint for session restore on page load.
	authGroup.GET("/me", authMiddleware.RequireAuth(), func(c *gin.Context) {
		userID, err := primitive.ObjectIDFromHex(middleware.GetUserID(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "unauthorized",
				"message":    "Invalid session",
			})
			return
		}

		var user models.User
		if err := usersCollection.FindOne(c.Request.Context(), bson.M{"_id": userID}).Decode(&user); err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code": "user_not_found",
				"message":    "User account no longer exists",
			})
			return
		}

		tenantIDStr := ""
		if user.TenantID != nil {
			tenantIDStr = user.TenantID.Hex()
		}

		c.JSON(http.StatusOK, gin.H{
			"user": models.UserInfo{
				ID:       user.ID.Hex(),
				Username: user.Username,
				Name:     user.Name,
				Email:    user.Email,
				Role:     user.Role,
				TenantID: tenantIDStr,
			},
			"token_usage": user.TokenUsage,
		})
	})
}

// refreshTokenFrom reads the refresh token from the JSON body, falling back
// to the session cookie for browser clients.
func refreshTokenFrom(c *gin.Context) string {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	if cookie, err := c.Cookie(middleware.RefreshCookie); err == nil {
		return cookie
	}
	return ""
}
