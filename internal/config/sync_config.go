package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Conflict strategies for inbound updates that race a local pending change
const (
	StrategyLastUpdateWins   = "last_update_wins"
	StrategySourcePriority   = "source_priority"
	StrategyManualResolution = "manual_resolution"
)

// SyncConfig holds synchronization settings
type SyncConfig struct {
	// ============ BASIC SETTINGS ============
	Active  bool   `json:"active" yaml:"active"`
	Role    string `json:"role" yaml:"role"`         // primary, secondary, bidirectional
	SelfURL string `json:"self_url" yaml:"self_url"` // this store's public base URL

	// ============ QUEUE ============
	RetryCount         int  `json:"retry_count" yaml:"retry_count"`
	RetryDelay         int  `json:"retry_delay" yaml:"retry_delay"` // seconds between worker passes
	BatchSize          int  `json:"batch_size" yaml:"batch_size"`
	InlineDelivery     bool `json:"inline_delivery" yaml:"inline_delivery"`
	AllowAllSync       bool `json:"allow_all_sync" yaml:"allow_all_sync"`
	LogRetentionDays   int  `json:"log_retention_days" yaml:"log_retention_days"`
	QueueRetentionDays int  `json:"queue_retention_days" yaml:"queue_retention_days"`
	LogMaxEntries      int  `json:"log_max_entries" yaml:"log_max_entries"`

	// ============ CONFLICTS ============
	ConflictStrategy string `json:"conflict_strategy" yaml:"conflict_strategy"`

	// ============ SECURITY ============
	TokenExpiry            int    `json:"token_expiry" yaml:"token_expiry"` // seconds; legacy tokens live 7x this
	TokenSalt              string `json:"token_salt" yaml:"token_salt"`
	InsecureAcceptAnyToken bool   `json:"insecure_accept_any_token" yaml:"insecure_accept_any_token"`
	TLSInsecureSkipVerify  bool   `json:"tls_insecure_skip_verify" yaml:"tls_insecure_skip_verify"`

	// ============ TRANSPORT ============
	BaseTimeout    int      `json:"base_timeout" yaml:"base_timeout"` // seconds
	DeliverRetries int      `json:"deliver_retries" yaml:"deliver_retries"`
	ConnectRetries int      `json:"connect_retries" yaml:"connect_retries"`
	EndpointPaths  []string `json:"endpoint_paths" yaml:"endpoint_paths"`

	DebugMode bool `json:"debug_mode" yaml:"debug_mode"`
}

// Default endpoint paths: front controller first, direct script second
var DefaultEndpointPaths = []string{
	"/api/stocksync",
	"/modules/stocksync/api/sync",
}

// LoadSyncConfig loads sync configuration from environment, then overlays
// the file named by SYNC_CONFIG_PATH when present.
func LoadSyncConfig() (*SyncConfig, error) {
	cfg := getDefaultSyncConfig()

	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		if err := loadSyncConfigFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load sync config %s: %w", configPath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSyncConfigFromFile decodes JSON or YAML on top of cfg
func loadSyncConfigFromFile(path string, cfg *SyncConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// getDefaultSyncConfig returns sync configuration from env with defaults
func getDefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Active:  getBoolEnv("STOCKSYNC_ACTIVE", true),
		Role:    getEnv("STOCKSYNC_ROLE", "bidirectional"),
		SelfURL: os.Getenv("STOCKSYNC_SELF_URL"),

		RetryCount:         getIntEnv("STOCKSYNC_RETRY_COUNT", 3),
		RetryDelay:         getIntEnv("STOCKSYNC_RETRY_DELAY", 300),
		BatchSize:          getIntEnv("STOCKSYNC_BATCH_SIZE", 50),
		InlineDelivery:     getBoolEnv("STOCKSYNC_INLINE_DELIVERY", true),
		AllowAllSync:       getBoolEnv("STOCKSYNC_ALLOW_ALL_SYNC", false),
		LogRetentionDays:   getIntEnv("STOCKSYNC_LOG_RETENTION", 7),
		QueueRetentionDays: getIntEnv("STOCKSYNC_QUEUE_RETENTION", 2),
		LogMaxEntries:      getIntEnv("STOCKSYNC_LOG_MAX_ENTRIES", 10000),

		ConflictStrategy: getEnv("STOCKSYNC_CONFLICT_STRATEGY", StrategyLastUpdateWins),

		TokenExpiry:            getIntEnv("STOCKSYNC_TOKEN_EXPIRY", 86400),
		TokenSalt:              os.Getenv("STOCKSYNC_TOKEN_SALT"),
		InsecureAcceptAnyToken: getBoolEnv("STOCKSYNC_INSECURE_ACCEPT_ANY_TOKEN", false),
		TLSInsecureSkipVerify:  getBoolEnv("STOCKSYNC_TLS_INSECURE_SKIP_VERIFY", false),

		BaseTimeout:    getIntEnv("STOCKSYNC_BASE_TIMEOUT", 5),
		DeliverRetries: getIntEnv("STOCKSYNC_DELIVER_RETRIES", 3),
		ConnectRetries: getIntEnv("STOCKSYNC_CONNECT_RETRIES", 2),
		EndpointPaths:  append([]string(nil), DefaultEndpointPaths...),

		DebugMode: getBoolEnv("STOCKSYNC_DEBUG", false),
	}
}

// Validate rejects settings the engine cannot act on
func (c *SyncConfig) Validate() error {
	switch c.Role {
	case "primary", "secondary", "bidirectional", "principal", "secundaria":
	default:
		return fmt.Errorf("invalid sync role %q", c.Role)
	}
	switch c.ConflictStrategy {
	case StrategyLastUpdateWins, StrategySourcePriority, StrategyManualResolution:
	default:
		log.Printf("⚠️ Unknown conflict strategy %q, using %s", c.ConflictStrategy, StrategyLastUpdateWins)
		c.ConflictStrategy = StrategyLastUpdateWins
	}
	if c.RetryCount < 1 {
		return fmt.Errorf("retry_count must be at least 1, got %d", c.RetryCount)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.BaseTimeout < 1 {
		return fmt.Errorf("base_timeout must be at least 1 second, got %d", c.BaseTimeout)
	}
	if len(c.EndpointPaths) == 0 {
		c.EndpointPaths = append([]string(nil), DefaultEndpointPaths...)
	}
	return nil
}

// WarnInsecure prints a banner for every setting that weakens security
func (c *SyncConfig) WarnInsecure() {
	if c.InsecureAcceptAnyToken {
		log.Println("🚨🚨🚨 INSECURE TEST MODE: peer tokens are NOT verified (STOCKSYNC_INSECURE_ACCEPT_ANY_TOKEN). Never enable this in production. 🚨🚨🚨")
	}
	if c.TLSInsecureSkipVerify {
		log.Println("🚨 TLS certificate verification is DISABLED for outbound peer calls (STOCKSYNC_TLS_INSECURE_SKIP_VERIFY)")
	}
	if c.AllowAllSync {
		log.Println("⚠️ allow_all_sync is on: store role restrictions are ignored")
	}
}

// WorkerInterval is the delay between background queue passes
func (c *SyncConfig) WorkerInterval() time.Duration {
	if c.RetryDelay <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.RetryDelay) * time.Second
}

// LegacyTokenLifetime bounds the age of hash.timestamp tokens
func (c *SyncConfig) LegacyTokenLifetime() time.Duration {
	return time.Duration(c.TokenExpiry) * 7 * time.Second
}
