// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/huddle and cmd/huddlectl.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Store backends and trigger sources
// --------------------------------------------------------------------------

const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendMongo     = "mongo"
)

const (
	TriggerAuto        = "auto"
	TriggerPGListen    = "pglisten"
	TriggerPubSub      = "pubsub"
	TriggerMongoStream = "mongostream"
	TriggerHTTP        = "http"
	TriggerNone        = "none"
)

// --------------------------------------------------------------------------
// Config struct: populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Document store
	StoreBackend string

	// Postgres
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Mongo
	MongoURI      string
	MongoDatabase string

	// Firebase (Firestore + FCM + Pub/Sub)
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	PushEnabled             bool
	PruneUnregisteredTokens bool

	// Reminder scheduler
	ReminderInterval      time.Duration
	ReminderMaxCatchUp    time.Duration
	ReminderWorkers       int
	ReminderWorkerEnabled bool
	SweepTimeout          time.Duration

	// Change triggers
	TriggerSource      string
	PubSubSubscription string
	RedisURL           string
	EventDedupTTL      time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	TaskToken   string

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		StoreBackend: strings.ToLower(envOr("STORE_BACKEND", BackendFirestore)),

		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		MongoURI:      envOr("MONGO_URI", ""),
		MongoDatabase: envOr("MONGO_DATABASE", "huddle"),

		FirebaseProjectID:       envOr("FIREBASE_PROJECT_ID", envOr("GOOGLE_CLOUD_PROJECT", "")),
		FirebaseCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),
		PushEnabled:             envBool("PUSH_ENABLED", true),
		PruneUnregisteredTokens: envBool("PRUNE_UNREGISTERED_TOKENS", false),

		ReminderInterval:      envDuration("REMINDER_INTERVAL", 5*time.Minute),
		ReminderMaxCatchUp:    envDuration("REMINDER_MAX_CATCHUP", 30*time.Minute),
		ReminderWorkers:       envInt("REMINDER_WORKERS", 1),
		ReminderWorkerEnabled: envBool("REMINDER_WORKER_ENABLED", true),
		SweepTimeout:          envDuration("SWEEP_TIMEOUT", 4*time.Minute),

		TriggerSource:      strings.ToLower(envOr("TRIGGER_SOURCE", TriggerAuto)),
		PubSubSubscription: envOr("PUBSUB_SUBSCRIPTION", "huddle-document-events"),
		RedisURL:           envOr("REDIS_URL", ""),
		EventDedupTTL:      envDuration("EVENT_DEDUP_TTL", 24*time.Hour),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8080)),
		Environment: envOr("ENVIRONMENT", "development"),
		TaskToken:   envOr("TASK_TOKEN", ""),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		LogLevel:  envLevel("LOG_LEVEL", slog.LevelInfo),
		LogFormat: strings.ToLower(envOr("LOG_FORMAT", "text")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendFirestore:
		if c.FirebaseProjectID == "" && c.FirebaseCredentialsFile == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID or FIREBASE_CREDENTIALS_FILE must be set for the firestore backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the postgres backend")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI must be set for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (firestore, postgres, mongo)", c.StoreBackend)
	}

	if c.ReminderInterval <= 0 {
		return fmt.Errorf("REMINDER_INTERVAL must be positive, got %s", c.ReminderInterval)
	}
	if c.ReminderWorkers < 1 {
		c.ReminderWorkers = 1
	}

	if c.TriggerSource == TriggerAuto {
		c.TriggerSource = defaultTrigger(c.StoreBackend)
	}
	switch c.TriggerSource {
	case TriggerPGListen:
		if c.DatabaseURL == "" {
			return fmt.Errorf("TRIGGER_SOURCE=pglisten requires DATABASE_URL")
		}
	case TriggerMongoStream:
		if c.StoreBackend != BackendMongo {
			return fmt.Errorf("TRIGGER_SOURCE=mongostream requires STORE_BACKEND=mongo")
		}
	case TriggerPubSub:
		if c.FirebaseProjectID == "" && c.FirebaseCredentialsFile == "" {
			return fmt.Errorf("TRIGGER_SOURCE=pubsub requires FIREBASE_PROJECT_ID or FIREBASE_CREDENTIALS_FILE")
		}
	case TriggerHTTP, TriggerNone:
	default:
		return fmt.Errorf("unknown TRIGGER_SOURCE %q", c.TriggerSource)
	}
	return nil
}

// DatabaseURL returns DATABASE_URL without validating the rest of the
// configuration. Schema migration needs only the connection string, whatever
// STORE_BACKEND the service itself runs with.
func DatabaseURL() (string, error) {
	url := envOr("DATABASE_URL", "")
	if url == "" {
		return "", errors.New("DATABASE_URL is required")
	}
	return url, nil
}

// defaultTrigger picks the change feed native to each backend.
func defaultTrigger(backend string) string {
	switch backend {
	case BackendPostgres:
		return TriggerPGListen
	case BackendMongo:
		return TriggerMongoStream
	default:
		return TriggerPubSub
	}
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envLevel(key string, fallback slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			return lvl
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
