// Package config loads the dashboard service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// init loads .env and then .env.local when present. godotenv never
// overrides variables already set, so the OS environment wins.
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

// Config captures environment-driven settings for the dashboard service.
type Config struct {
	Env             string // Deployment environment (dev, staging, prod)
	Port            string // HTTP server port
	LogLevel        string // zap level name
	DatabaseDSN     string // PostgreSQL DSN of the notifications collection; empty uses the in-memory feed
	NATSURL         string // NATS server for presence and events; empty uses in-memory presence and no events
	PresenceBucket  string // JetStream KV bucket holding presence entries
	JWTIssuer       string // Expected issuer of operator tokens
	JWTAudience     string // Expected audience of operator tokens
	JWTSecret       string // HS256 shared secret for operator tokens
	JWTPublicKey    string // base64 Ed25519 public key for EdDSA operator tokens
	RefreshInterval int    // Initial gauge refresh interval in seconds

	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

const (
	defaultPort            = "8080"
	defaultEnv             = "dev"
	defaultLogLevel        = "info"
	defaultPresenceBucket  = "presence"
	defaultRefreshInterval = 30
)

// Load reads the environment and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Env:            getEnv("DASH_ENV", defaultEnv),
		Port:           getEnv("DASH_PORT", defaultPort),
		LogLevel:       getEnv("DASH_LOG_LEVEL", defaultLogLevel),
		DatabaseDSN:    os.Getenv("DASH_DB_DSN"),
		NATSURL:        os.Getenv("DASH_NATS_URL"),
		PresenceBucket: getEnv("DASH_PRESENCE_BUCKET", defaultPresenceBucket),
		JWTIssuer:      os.Getenv("DASH_JWT_ISSUER"),
		JWTAudience:    os.Getenv("DASH_JWT_AUDIENCE"),
		JWTSecret:      os.Getenv("DASH_JWT_SECRET"),
		JWTPublicKey:   os.Getenv("DASH_JWT_PUBLIC_KEY"),

		RefreshInterval: defaultRefreshInterval,
	}

	if v, exists := os.LookupEnv("DASH_REFRESH_INTERVAL"); exists && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("DASH_REFRESH_INTERVAL: %w", err)
		}
		cfg.RefreshInterval = n
	}

	if corsOrigins, exists := os.LookupEnv("DASH_CORS_ALLOWED_ORIGINS"); exists && corsOrigins != "" {
		cfg.CORSAllowedOrigins = strings.Split(corsOrigins, ",")
		for i, origin := range cfg.CORSAllowedOrigins {
			cfg.CORSAllowedOrigins[i] = strings.TrimSpace(origin)
		}
	}

	if cfg.JWTIssuer == "" {
		return cfg, fmt.Errorf("DASH_JWT_ISSUER is required")
	}
	if cfg.JWTAudience == "" {
		return cfg, fmt.Errorf("DASH_JWT_AUDIENCE is required")
	}
	if cfg.JWTSecret == "" && cfg.JWTPublicKey == "" {
		return cfg, fmt.Errorf("one of DASH_JWT_SECRET or DASH_JWT_PUBLIC_KEY is required")
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
