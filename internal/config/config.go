package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// JWT Token Secrets
	AccessSecret  string
	RefreshSecret string
	BcryptCost    int

	RateLimitReqs   int
	RateLimitWindow int

	// LLM configuration
	GeminiAPIKey   string
	GeminiModel    string
	GeminiTier     string // free, tier1, tier2; sets client-side rate limits
	LLMTimeout     int    // seconds per generation call
	LLMMaxAttempts int

	// Embeddings configuration
	EmbeddingsProvider    string // "google" (default), "openai"
	GoogleEmbeddingsModel string // e.g., "text-embedding-004"
	OpenAIAPIKey          string
	OpenAIEmbeddingsModel string

	// MongoDB Vector Search
	VectorSearchEnabled bool
	VectorIndexName     string
	VectorDimensions    int

	// Retrieval pipeline. These are product constants, kept in one place so the
	// orchestrator receives a single immutable configuration at construction.
	RetrievalTopK            int
	QueryFanOut              int // total query variants including the original
	CompletenessThreshold    float64
	QualityFeedbackGain      float64
	QualityMinVotes          int
	QualityMultiplierFloor   float64
	QualityMultiplierCeiling float64
	QualityReviewMinVotes    int // votes before a floor-rated document is flagged for review

	// Chunking
	MaxChunkSize int
	ChunkOverlap int

	// Ingestion
	MaxFileSize         int64
	AllowedTypes        []string
	FileStorageDir      string
	SyncProcessingLimit int64
	OCRServiceURL       string // optional sidecar for scanned PDFs; empty disables OCR

	// Enrichment providers
	ExaAPIKey            string
	ExaBaseURL           string
	WikipediaAPIURL      string
	EnrichmentProviders  []string
	EnrichmentTimeout    int // seconds per provider call
	EnrichmentMaxSources int // per provider

	// Blob storage (S3-compatible)
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UseSSL       bool
	S3URLExpiryMin int

	// Tenant quota
	DefaultTokenLimit int
	TokenRefillRate   int

	// Quota alert thresholds (percent of token limit used)
	TokenWarnPercent      int
	TokenCriticalPercent  int
	TokenExhaustedPercent int

	// SMTP Configuration
	SMTPHost    string
	SMTPPort    string
	SMTPUser    string
	SMTPPass    string
	SMTPFrom    string
	AdminEmails []string

	// Scheduled jobs
	RecrawlCron   string
	RollupCron    string
	AlertScanCron string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/kb_search"),
		DBName:      getEnv("DB_NAME", "kb_search"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		// Redis Configuration
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// JWT Token Secrets
		AccessSecret:  getEnv("ACCESS_SECRET", ""),
		RefreshSecret: getEnv("REFRESH_SECRET", ""),
		BcryptCost:    getEnvInt("BCRYPT_COST", 12),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		// LLM
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:     getEnv("GEMINI_TIER", "free"),
		LLMTimeout:     getEnvInt("LLM_TIMEOUT", 30),
		LLMMaxAttempts: getEnvInt("LLM_MAX_ATTEMPTS", 2),

		// Embeddings
		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "google"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),

		// MongoDB Vector Search
		VectorSearchEnabled: getEnvBool("MONGODB_VECTOR_ENABLED", false),
		VectorIndexName:     getEnv("MONGODB_VECTOR_INDEX", "document_chunks_vector"),
		VectorDimensions:    getEnvInt("VECTOR_DIM", 768),

		// Retrieval pipeline
		RetrievalTopK:            getEnvInt("RETRIEVAL_TOP_K", 24),
		QueryFanOut:              getEnvInt("QUERY_FAN_OUT", 2),
		CompletenessThreshold:    getEnvFloat64("COMPLETENESS_THRESHOLD", 0.85),
		QualityFeedbackGain:      getEnvFloat64("QUALITY_FEEDBACK_GAIN", 0.1),
		QualityMinVotes:          getEnvInt("QUALITY_MIN_VOTES", 3),
		QualityMultiplierFloor:   getEnvFloat64("QUALITY_MULTIPLIER_FLOOR", 0.9),
		QualityMultiplierCeiling: getEnvFloat64("QUALITY_MULTIPLIER_CEILING", 1.1),
		QualityReviewMinVotes:    getEnvInt("QUALITY_REVIEW_MIN_VOTES", 5),

		// Chunking
		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 150),

		// Ingestion
		MaxFileSize:         getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB
		AllowedTypes:        strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf,text/plain,text/markdown,text/html,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"), ","),
		FileStorageDir:      getEnv("FILE_STORAGE_DIR", "./storage"),
		SyncProcessingLimit: getEnvInt64("SYNC_PROCESSING_LIMIT", 20971520), // 20MB
		OCRServiceURL:       getEnv("OCR_SERVICE_URL", ""),

		// Enrichment
		ExaAPIKey:            getEnv("EXA_API_KEY", ""),
		ExaBaseURL:           getEnv("EXA_BASE_URL", "https://api.exa.ai"),
		WikipediaAPIURL:      getEnv("WIKIPEDIA_API_URL", "https://en.wikipedia.org/w/api.php"),
		EnrichmentProviders:  strings.Split(getEnv("ENRICHMENT_PROVIDERS", "exa,wikipedia"), ","),
		EnrichmentTimeout:    getEnvInt("ENRICHMENT_TIMEOUT", 10),
		EnrichmentMaxSources: getEnvInt("ENRICHMENT_MAX_SOURCES", 3),

		// Blob storage
		S3Endpoint:     getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3Bucket:       getEnv("S3_BUCKET", "kb-documents"),
		S3UseSSL:       getEnvBool("S3_USE_SSL", false),
		S3URLExpiryMin: getEnvInt("S3_URL_EXPIRY_MIN", 15),

		// Tenant quota
		DefaultTokenLimit: getEnvInt("DEFAULT_TOKEN_LIMIT", 10000),
		TokenRefillRate:   getEnvInt("TOKEN_REFILL_RATE", 1000),

		// Quota alert thresholds
		TokenWarnPercent:      getEnvInt("TOKEN_WARN_PERCENT", 80),
		TokenCriticalPercent:  getEnvInt("TOKEN_CRITICAL_PERCENT", 95),
		TokenExhaustedPercent: getEnvInt("TOKEN_EXHAUSTED_PERCENT", 100),

		// SMTP Configuration
		SMTPHost:    getEnv("SMTP_HOST", ""),
		SMTPPort:    getEnv("SMTP_PORT", "587"),
		SMTPUser:    getEnv("SMTP_USER", ""),
		SMTPPass:    getEnv("SMTP_PASS", ""),
		SMTPFrom:    getEnv("SMTP_FROM", ""),
		AdminEmails: strings.Split(getEnv("ADMIN_EMAILS", ""), ","),

		// Scheduled jobs
		RecrawlCron:   getEnv("RECRAWL_CRON", "0 3 * * *"),
		RollupCron:    getEnv("ROLLUP_CRON", "30 0 * * *"),
		AlertScanCron: getEnv("ALERT_SCAN_CRON", "*/15 * * * *"),
	}

	// Validate required fields
	if cfg.AccessSecret == "" {
		return nil, fmt.Errorf("ACCESS_SECRET is required - set it in .env file")
	}

	if cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("REFRESH_SECRET is required - set it in .env file")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.EmbeddingsProvider == "openai" && cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDINGS_PROVIDER=openai")
	}

	return cfg, nil
}
