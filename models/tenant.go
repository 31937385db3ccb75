package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Tenant is the isolation boundary: one end user's knowledge base. Every
// document, chunk, rating and analytics record is partitioned by tenant and
// never readable across tenants.
type Tenant struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name" binding:"required,min=2,max=100"`
	TokenLimit   int                `bson:"token_limit" json:"token_limit"`
	TokenUsed    int                `bson:"token_used" json:"token_used"`
	Status       string             `bson:"status,omitempty" json:"status,omitempty"` // optional, default "active"
	ContactEmail string             `bson:"contact_email,omitempty" json:"contact_email,omitempty"`

	// Crawl policy for URL ingestion and scheduled re-crawls. When
	// RestrictCrawling is false any target is accepted.
	RestrictCrawling bool     `bson:"restrict_crawling,omitempty" json:"restrict_crawling,omitempty"`
	DomainMode       string   `bson:"domain_mode,omitempty" json:"domain_mode,omitempty"` // whitelist or blacklist
	DomainWhitelist  []string `bson:"domain_whitelist,omitempty" json:"domain_whitelist,omitempty"`
	DomainBlacklist  []string `bson:"domain_blacklist,omitempty" json:"domain_blacklist,omitempty"`

	// Quota alert state. Reset when the limit is raised or usage cleared.
	AlertLevelSent  string    `bson:"alert_level_sent,omitempty" json:"-"`
	AlertLastSentAt time.Time `bson:"alert_last_sent_at,omitempty" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

type CreateTenantRequest struct {
	Name         string `json:"name" binding:"required,min=2,max=100"`
	TokenLimit   int    `json:"token_limit" binding:"required,min=1000"`
	Status       string `json:"status,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`

	// Optional: create the first login user for this tenant
	InitialUser *InitialUser `json:"initial_user,omitempty"`
}

type InitialUser struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=8,max=128"`
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Email    string `json:"email,omitempty"`
}

type UpdateTenantRequest struct {
	Name             *string   `json:"name,omitempty"`
	TokenLimit       *int      `json:"token_limit,omitempty"`
	Status           *string   `json:"status,omitempty"`
	ContactEmail     *string   `json:"contact_email,omitempty"`
	RestrictCrawling *bool     `json:"restrict_crawling,omitempty"`
	DomainMode       *string   `json:"domain_mode,omitempty"`
	DomainWhitelist  *[]string `json:"domain_whitelist,omitempty"`
	DomainBlacklist  *[]string `json:"domain_blacklist,omitempty"`
}

type TenantUsageStats struct {
	Tenant          Tenant    `json:"tenant"`
	UsagePercentage float64   `json:"usage_percentage"`
	LastActivity    time.Time `json:"last_activity"`
	TotalQuestions  int       `json:"total_questions"`
	TotalDocuments  int       `json:"total_documents"`
}

// TokenGrant records each budget change for audit.
type TokenGrant struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID     primitive.ObjectID `bson:"tenant_id" json:"tenant_id"`
	OldLimit     int                `bson:"old_limit" json:"old_limit"`
	NewLimit     int                `bson:"new_limit" json:"new_limit"`
	UsageCleared bool               `bson:"usage_cleared" json:"usage_cleared"`
	Reason       string             `bson:"reason,omitempty" json:"reason,omitempty"`
	AdminUserID  string             `bson:"admin_user_id,omitempty" json:"admin_user_id,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}
