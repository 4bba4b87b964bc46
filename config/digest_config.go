package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Neo4j
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string

	// JWT
	JWTSecret string

	// Encryption (refresh tokens at rest)
	EncryptionKey string

	// OpenAI
	OpenAIAPIKey     string
	LLMModel         string
	LLMMaxTokens     int
	LLMTemperature   float64
	LLMPolishDrafts  bool
	LLMMaxConcurrent int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string

	// Admin mailbox for failure notifications
	AdminEmail        string
	AdminRefreshToken string

	// Scheduler
	SchedulerEnabled bool
	TickInterval     time.Duration
	FetchWindow      time.Duration
	MaxFetch         int

	// Digest engine
	DigestBatchSize int
	DigestMinWords  int

	// Worker
	WorkerID        string
	WorkerMax       int
	WorkerQueueSize int

	// Consumer (Redis Stream)
	ConsumerGroup      string
	ConsumerMaxRetries int

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "digest"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Neo4j
		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Encryption
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// OpenAI
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		LLMModel:         getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:     getEnvInt("LLM_MAX_TOKENS", 2048),
		LLMTemperature:   getEnvFloat("LLM_TEMPERATURE", 0.3),
		LLMPolishDrafts:  getEnvBool("LLM_POLISH_DRAFTS", true),
		LLMMaxConcurrent: getEnvInt("LLM_MAX_CONCURRENT", 4),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),

		// Admin
		AdminEmail:        getEnv("ADMIN_EMAIL", ""),
		AdminRefreshToken: getEnv("ADMIN_REFRESH_TOKEN", ""),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
		TickInterval:     time.Duration(getEnvInt("TICK_INTERVAL_MIN", 60)) * time.Minute,
		FetchWindow:      time.Duration(getEnvInt("FETCH_WINDOW_HOURS", 24)) * time.Hour,
		MaxFetch:         getEnvInt("MAX_FETCH", 50),

		// Digest engine
		DigestBatchSize: getEnvInt("DIGEST_BATCH_SIZE", 10),
		DigestMinWords:  getEnvInt("DIGEST_MIN_WORDS", 20),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerMax:       getEnvInt("WORKER_MAX", 8),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		// Consumer
		ConsumerGroup:      getEnv("CONSUMER_GROUP", "digest-workers"),
		ConsumerMaxRetries: getEnvInt("CONSUMER_MAX_RETRIES", 3),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
