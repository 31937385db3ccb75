package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/gin-gonic/gin"
)

// CrawlPolicyMiddleware enforces per-tenant domain policy for URL ingestion.
// Tenants can restrict which sites their knowledge base may pull content
// from; blocked attempts are recorded as security alerts.
type CrawlPolicyMiddleware struct {
	tenantsCollection *mongo.Collection
	alertsCollection  *mongo.Collection
}

// NewCrawlPolicyMiddleware creates a new crawl policy middleware
func NewCrawlPolicyMiddleware(tenantsCollection, alertsCollection *mongo.Collection) *CrawlPolicyMiddleware {
	return &CrawlPolicyMiddleware{
		tenantsCollection: tenantsCollection,
		alertsCollection:  alertsCollection,
	}
}

// CheckCrawlTarget checks whether the URL submitted for ingestion is allowed
// under the tenant's domain policy. The request body carries the target URL
// and is restored for the downstream handler.
func (m *CrawlPolicyMiddleware) CheckCrawlTarget() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := GetTenantID(c)
		if tenantID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "unauthorized",
				"message":    "Tenant ID is required",
			})
			c.Abort()
			return
		}

		var targetURL string
		if c.Request.Method == "POST" && c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err == nil {
				var requestBody struct {
					URL string `json:"url"`
				}
				if json.Unmarshal(body, &requestBody) == nil {
					targetURL = requestBody.URL
				}
				// Restore the request body for the next handler
				c.Request.Body = io.NopCloser(strings.NewReader(string(body)))
			}
		}

		if targetURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_request",
				"message":    "Target URL is required",
			})
			c.Abort()
			return
		}

		tenantObjID, err := primitive.ObjectIDFromHex(tenantID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_tenant_id",
				"message":    "Invalid tenant ID format",
			})
			c.Abort()
			return
		}

		var tenant struct {
			ID               primitive.ObjectID `bson:"_id"`
			Name             string             `bson:"name"`
			RestrictCrawling bool               `bson:"restrict_crawling"`
			DomainMode       string             `bson:"domain_mode"`
			DomainWhitelist  []string           `bson:"domain_whitelist"`
			DomainBlacklist  []string           `bson:"domain_blacklist"`
		}

		err = m.tenantsCollection.FindOne(context.Background(), bson.M{"_id": tenantObjID}).Decode(&tenant)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				c.JSON(http.StatusNotFound, gin.H{
					"error_code": "tenant_not_found",
					"message":    "Tenant not found",
				})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error_code": "internal_error",
					"message":    "Failed to fetch tenant information",
				})
			}
			c.Abort()
			return
		}

		// Unrestricted tenants can ingest from anywhere
		if !tenant.RestrictCrawling {
			c.Next()
			return
		}

		targetDomain := m.extractDomainFromURL(targetURL)
		if targetDomain == "" {
			m.logBlockedTarget(tenantObjID, targetURL, c, "unparseable_target", "Could not determine target domain")
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_url",
				"message":    "Could not determine target domain",
			})
			c.Abort()
			return
		}

		isAuthorized := m.checkDomainAccess(targetDomain, tenant.DomainWhitelist, tenant.DomainBlacklist, tenant.DomainMode)

		if !isAuthorized {
			m.logBlockedTarget(tenantObjID, targetURL, c, "blocked_crawl_target",
				fmt.Sprintf("Domain '%s' is not allowed by the crawl policy of tenant '%s'", targetDomain, tenant.Name))

			c.JSON(http.StatusForbidden, gin.H{
				"error_code": "domain_not_authorized",
				"message":    "Domain not allowed by this workspace's crawl policy",
				"details":    gin.H{"domain": targetDomain},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractDomainFromURL extracts the domain from a URL
func (m *CrawlPolicyMiddleware) extractDomainFromURL(urlStr string) string {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}

	domain := parsedURL.Host
	if domain == "" {
		return ""
	}

	return m.normalizeDomain(domain)
}

// normalizeDomain normalizes domain for comparison
func (m *CrawlPolicyMiddleware) normalizeDomain(domain string) string {
	// Remove protocol and path
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")

	// Remove path
	if idx := strings.Index(domain, "/"); idx != -1 {
		domain = domain[:idx]
	}

	// Remove port if present
	if idx := strings.Index(domain, ":"); idx != -1 {
		domain = domain[:idx]
	}

	// Convert to lowercase
	domain = strings.ToLower(domain)

	// Remove www. prefix for comparison
	domain = strings.TrimPrefix(domain, "www.")

	// Handle localhost vs 127.0.0.1
	if domain == "127.0.0.1" {
		domain = "localhost"
	}

	return domain
}

// checkDomainAccess checks if domain is authorized based on whitelist/blacklist
func (m *CrawlPolicyMiddleware) checkDomainAccess(domain string, whitelist, blacklist []string, mode string) bool {
	normalizedDomain := m.normalizeDomain(domain)

	// Normalize whitelist and blacklist domains
	normalizedWhitelist := make([]string, len(whitelist))
	for i, d := range whitelist {
		normalizedWhitelist[i] = m.normalizeDomain(d)
	}

	normalizedBlacklist := make([]string, len(blacklist))
	for i, d := range blacklist {
		normalizedBlacklist[i] = m.normalizeDomain(d)
	}

	switch mode {
	case "whitelist":
		// In whitelist mode, domain must be in whitelist
		for _, allowedDomain := range normalizedWhitelist {
			match := normalizedDomain == allowedDomain || strings.HasSuffix(normalizedDomain, "."+allowedDomain)
			if match {
				return true
			}
		}
		return false

	case "blacklist":
		// In blacklist mode, domain must not be in blacklist
		for _, blockedDomain := range normalizedBlacklist {
			if normalizedDomain == blockedDomain || strings.HasSuffix(normalizedDomain, "."+blockedDomain) {
				return false
			}
		}
		return true

	default:
		// Default to whitelist mode if no mode specified
		return len(normalizedWhitelist) == 0 || m.checkDomainAccess(domain, whitelist, blacklist, "whitelist")
	}
}

// logBlockedTarget logs blocked crawl attempts to the database
func (m *CrawlPolicyMiddleware) logBlockedTarget(tenantID primitive.ObjectID, targetURL string, c *gin.Context, alertType, message string) {
	userIP := c.ClientIP()
	userAgent := c.GetHeader("User-Agent")

	// Determine severity based on alert type
	severity := "medium"
	if alertType == "blocked_crawl_target" {
		severity = "high"
	}

	alert := bson.M{
		"tenant_id":  tenantID,
		"target_url": targetURL,
		"ip_address": userIP,
		"user_agent": userAgent,
		"alert_type": alertType,
		"severity":   severity,
		"message":    message,
		"resolved":   false,
		"created_at": time.Now(),
	}

	// Insert alert asynchronously
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := m.alertsCollection.InsertOne(ctx, alert)
		if err != nil {
			fmt.Printf("Failed to log blocked crawl target: %v\n", err)
		}
	}()
}
