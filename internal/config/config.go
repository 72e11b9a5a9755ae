package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Port      string
	JWTSecret string
	JWTTTL    time.Duration
	Admin     AdminConfig
	Database  DatabaseConfig
	Catalog   CatalogConfig
	Server    ServerConfig
}

// AdminConfig holds the single operator account for the admin API
type AdminConfig struct {
	Username     string
	PasswordHash string // bcrypt
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver     string // postgres, sqlite
	Host       string
	Port       string
	Username   string
	Password   string
	Database   string
	SQLitePath string
	LogSQL     bool

	EmbeddedDataPath string
	EmbeddedPort     int
}

// CatalogConfig selects where quantities are read and written
type CatalogConfig struct {
	Backend    string // local, odoo
	OdooURL    string
	OdooDB     string
	OdooUser   string
	OdooPass   string
	LocationID int
}

// ServerConfig holds HTTP surface configuration
type ServerConfig struct {
	CronSecret     string
	RateLimitRPS   float64
	RateLimitBurst int
	WorkerEnabled  bool
	// TrustedProxies may set X-Forwarded-For; IPs or CIDRs
	TrustedProxies []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg := &Config{
		Port:      getEnv("PORT", "3210"),
		JWTSecret: jwtSecret,
		JWTTTL:    time.Duration(getIntEnv("JWT_TTL_MINUTES", 60)) * time.Minute,
		Admin: AdminConfig{
			Username:     getEnv("ADMIN_USER", "admin"),
			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			Host:       getEnv("PG_HOST", "localhost"),
			Port:       getEnv("PG_PORT", "5432"),
			Username:   getEnv("PG_USERNAME", "postgres"),
			Password:   os.Getenv("PG_PASSWORD"),
			Database:   getEnv("PG_DATABASE", "stocksync"),
			SQLitePath: getEnv("SQLITE_PATH", "stocksync.db"),
			LogSQL:     getBoolEnv("DB_LOG_SQL", false),

			EmbeddedDataPath: getEnv("EMBEDDED_PG_DATA", "./db_data"),
			EmbeddedPort:     getIntEnv("EMBEDDED_PG_PORT", 5433),
		},
		Catalog: CatalogConfig{
			Backend:    getEnv("CATALOG_BACKEND", "local"),
			OdooURL:    os.Getenv("ODOO_URL"),
			OdooDB:     os.Getenv("ODOO_DB"),
			OdooUser:   os.Getenv("ODOO_USER"),
			OdooPass:   os.Getenv("ODOO_PASSWORD"),
			LocationID: getIntEnv("ODOO_LOCATION_ID", 8),
		},
		Server: ServerConfig{
			CronSecret:     os.Getenv("CRON_SECRET"),
			RateLimitRPS:   getFloatEnv("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 40),
			WorkerEnabled:  getBoolEnv("WORKER_ENABLED", true),
			TrustedProxies: getListEnv("TRUSTED_PROXIES"),
		},
	}

	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}
	switch cfg.Catalog.Backend {
	case "local":
	case "odoo":
		if cfg.Catalog.OdooURL == "" {
			return nil, fmt.Errorf("ODOO_URL is required for CATALOG_BACKEND=odoo")
		}
	default:
		return nil, fmt.Errorf("unsupported CATALOG_BACKEND %q", cfg.Catalog.Backend)
	}

	return cfg, nil
}

// getListEnv splits a comma separated variable, dropping empty items
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%g", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
