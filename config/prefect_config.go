package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateNodeID derives a stable node ID for local id generation from the
// process identity. Only the low bits matter; two sessions on the same host
// still differ by PID.
func generateNodeID() int64 {
	return int64(os.Getpid() % 1024)
}

type Config struct {
	Port        string
	Environment string

	// Remote store (MongoDB). Empty MongoDBURL runs the server in
	// local-only fallback mode.
	MongoDBURL  string
	MongoDBName string

	// Roster change fanout (Redis). Empty disables cross-session refresh.
	RedisURL string

	// Local store (pebble)
	LocalStorePath string

	// JWT
	JWTSecret string

	// Bootstrap admin operator, created in the remote store on startup.
	AdminEmail    string
	AdminPassword string

	// Fallback authentication secret for local-only mode.
	FallbackSecret string

	// Availability detection
	NodeID                 int64
	BreakerOpenTimeout     time.Duration
	BreakerMaxHalfOpenReqs int

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "prefects"),
		RedisURL:    getEnv("REDIS_URL", ""),

		LocalStorePath: getEnv("LOCAL_STORE_PATH", "./data/prefects"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@prefectsystem.com"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		FallbackSecret: getEnv("FALLBACK_SECRET", ""),

		NodeID:                 getEnvInt64("NODE_ID", generateNodeID()),
		BreakerOpenTimeout:     time.Duration(getEnvInt("BREAKER_OPEN_TIMEOUT_SEC", 30)) * time.Second,
		BreakerMaxHalfOpenReqs: getEnvInt("BREAKER_MAX_HALF_OPEN", 3),

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	if cfg.JWTSecret == "" && cfg.IsProduction() {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-only-secret"
	}

	return cfg, nil
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
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
