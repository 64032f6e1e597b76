// Package config provides configuration loading for the catalog service.
// Settings come from COGCAT_* environment variables with defaults for local use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads .env and .env.local when present. godotenv never overrides variables
// that are already set, so the OS environment wins.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Config captures environment-driven settings for the catalog service.
type Config struct {
	Env   string // Deployment environment (dev, staging, prod)
	Port  string // HTTP server port
	Store string // memory, postgres or mongo

	DatabaseDSN string // PostgreSQL connection string
	MongoURI    string // MongoDB connection string
	MongoDB     string // MongoDB database name
	NATSURL     string // NATS server URL; empty disables events

	S3Endpoint  string
	S3Region    string
	S3Bucket    string // empty disables the S3 audit mirror
	S3AccessKey string
	S3SecretKey string

	AuditDir string // Local directory for audit payload copies; empty disables

	JWTSecret   string
	JWTIssuer   string
	TokenTTL    time.Duration
	RequireAuth bool // Gate destructive and admin routes behind a session

	CORSAllowedOrigins []string // empty means deny all cross-origin requests
}

// Default configuration values used when environment variables are not set
const (
	defaultPort      = "8080"
	defaultS3Region  = "us-east-1"
	defaultEnv       = "dev"
	defaultMongoDB   = "cogcatalog"
	defaultJWTIssuer = "cogcatalog"
	defaultAuditDir  = "data/audit"
	devJWTSecret     = "dev-insecure-secret"
)

// IsDev reports whether the service runs in the development environment.
func (c Config) IsDev() bool { return c.Env == defaultEnv }

// Load reads the environment and returns a validated Config.
func Load() (Config, error) {
	cfg := Config{
		Env:         getEnv("COGCAT_ENV", defaultEnv),
		Port:        getEnv("COGCAT_PORT", defaultPort),
		DatabaseDSN: os.Getenv("COGCAT_DB_DSN"),
		MongoURI:    os.Getenv("COGCAT_MONGO_URI"),
		MongoDB:     getEnv("COGCAT_MONGO_DB", defaultMongoDB),
		NATSURL:     os.Getenv("COGCAT_NATS_URL"),
		S3Endpoint:  os.Getenv("COGCAT_S3_ENDPOINT"),
		S3Region:    getEnv("COGCAT_S3_REGION", defaultS3Region),
		S3Bucket:    os.Getenv("COGCAT_S3_BUCKET"),
		S3AccessKey: os.Getenv("COGCAT_S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("COGCAT_S3_SECRET_KEY"),
		JWTSecret:   os.Getenv("COGCAT_JWT_SECRET"),
		JWTIssuer:   getEnv("COGCAT_JWT_ISSUER", defaultJWTIssuer),
		TokenTTL:    24 * time.Hour,
	}

	if dir, exists := os.LookupEnv("COGCAT_AUDIT_DIR"); exists {
		cfg.AuditDir = dir
	} else {
		cfg.AuditDir = defaultAuditDir
	}

	// Store selection falls back to whichever DSN is configured
	cfg.Store = strings.ToLower(os.Getenv("COGCAT_STORE"))
	if cfg.Store == "" {
		switch {
		case cfg.DatabaseDSN != "":
			cfg.Store = StorePostgres
		case cfg.MongoURI != "":
			cfg.Store = StoreMongo
		default:
			cfg.Store = StoreMemory
		}
	}
	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseDSN == "" {
			return cfg, fmt.Errorf("COGCAT_DB_DSN is required for the postgres store")
		}
	case StoreMongo:
		if cfg.MongoURI == "" {
			return cfg, fmt.Errorf("COGCAT_MONGO_URI is required for the mongo store")
		}
	default:
		return cfg, fmt.Errorf("COGCAT_STORE must be one of memory, postgres, mongo; got %q", cfg.Store)
	}

	if ttl := os.Getenv("COGCAT_TOKEN_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("COGCAT_TOKEN_TTL must be a positive duration: %q", ttl)
		}
		cfg.TokenTTL = d
	}

	if requireAuth, exists := os.LookupEnv("COGCAT_REQUIRE_AUTH"); exists {
		cfg.RequireAuth = parseBool(requireAuth)
	}

	if corsOrigins, exists := os.LookupEnv("COGCAT_CORS_ALLOWED_ORIGINS"); exists && corsOrigins != "" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
			}
		}
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDev() {
			return cfg, fmt.Errorf("COGCAT_JWT_SECRET is required outside dev")
		}
		cfg.JWTSecret = devJWTSecret
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
