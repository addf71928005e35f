// Package config loads application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the process-level settings.  Each field corresponds to an
// environment variable.  Component settings live in their own structs
// (EngineConfig, SweeperConfig, GatewayConfig, CacheConfig,
// RateLimitConfig) and carry defaults.
type Config struct {
	Env        string // APP_ENV (dev, test, prod)
	Port       string // APP_PORT
	StoreMode  string // STORE_MODE: mysql (default) or memory
	DBUser     string // DB_USER
	DBPass     string // DB_PASS (optional)
	DBHost     string // DB_HOST
	DBPort     string // DB_PORT
	DBName     string // DB_NAME
	Migrate    bool   // DB_MIGRATE: create tables on startup
	JWTSecret  string // JWT_SECRET, verifies member and admin tokens
	BcryptCost int    // BCRYPT_COST for non-member PIN hashes
	AMQPURL    string // RABBITMQ_URL (empty disables events)
	AuditLog   string // AUDIT_LOG_PATH, file the in-process audit consumer appends to
}

// LoadDotEnv reads .env into the environment when present.  Variables
// already set win over the file.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Load reads the process configuration.  Missing required variables are
// collected and reported together.
func Load() (Config, error) {
	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:        envStr("APP_ENV", "dev"),
		Port:       envStr("APP_PORT", "8080"),
		StoreMode:  strings.ToLower(envStr("STORE_MODE", "mysql")),
		DBPass:     os.Getenv("DB_PASS"),
		Migrate:    envBool("DB_MIGRATE", false),
		JWTSecret:  must("JWT_SECRET"),
		BcryptCost: envInt("BCRYPT_COST", 10),
		AMQPURL:    firstEnv("RABBITMQ_URL", "AMQP_URL"),
		AuditLog:   envStr("AUDIT_LOG_PATH", ""),
	}
	switch cfg.StoreMode {
	case "mysql":
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = envStr("DB_PORT", "3306")
		cfg.DBName = must("DB_NAME")
	case "memory":
	default:
		return cfg, fmt.Errorf("invalid STORE_MODE %q (want mysql or memory)", cfg.StoreMode)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return cfg, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// IsProd reports whether the service runs in production.
func (c Config) IsProd() bool { return c.Env == "prod" || c.Env == "production" }

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return d
}
