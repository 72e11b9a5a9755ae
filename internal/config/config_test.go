package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSyncConfigDefaults(t *testing.T) {
	t.Setenv("SYNC_CONFIG_PATH", "")
	t.Setenv("STOCKSYNC_ROLE", "")
	t.Setenv("STOCKSYNC_CONFLICT_STRATEGY", "")

	cfg, err := LoadSyncConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Active)
	assert.Equal(t, "bidirectional", cfg.Role)
	assert.Equal(t, 3, cfg.RetryCount)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, StrategyLastUpdateWins, cfg.ConflictStrategy)
	assert.False(t, cfg.AllowAllSync)
	assert.False(t, cfg.InsecureAcceptAnyToken)
	assert.False(t, cfg.TLSInsecureSkipVerify)
	assert.Equal(t, DefaultEndpointPaths, cfg.EndpointPaths)
	assert.Equal(t, int64(7*86400), int64(cfg.LegacyTokenLifetime().Seconds()))
}

func TestLoadSyncConfigEnvOverrides(t *testing.T) {
	t.Setenv("SYNC_CONFIG_PATH", "")
	t.Setenv("STOCKSYNC_RETRY_COUNT", "5")
	t.Setenv("STOCKSYNC_CONFLICT_STRATEGY", StrategySourcePriority)
	t.Setenv("STOCKSYNC_ALLOW_ALL_SYNC", "1")

	cfg, err := LoadSyncConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RetryCount)
	assert.Equal(t, StrategySourcePriority, cfg.ConflictStrategy)
	assert.True(t, cfg.AllowAllSync)
}

func TestLoadSyncConfigYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	content := "role: secondary\nconflict_strategy: manual_resolution\nbatch_size: 10\nendpoint_paths:\n  - /custom/api\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SYNC_CONFIG_PATH", path)

	cfg, err := LoadSyncConfig()
	require.NoError(t, err)
	assert.Equal(t, "secondary", cfg.Role)
	assert.Equal(t, StrategyManualResolution, cfg.ConflictStrategy)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, []string{"/custom/api"}, cfg.EndpointPaths)
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.RetryCount)
}

func TestLoadSyncConfigJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"role":"primary","retry_count":2}`), 0o600))
	t.Setenv("SYNC_CONFIG_PATH", path)

	cfg, err := LoadSyncConfig()
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.Role)
	assert.Equal(t, 2, cfg.RetryCount)
}

func TestSyncConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SyncConfig)
	}{
		{"unknown role", func(c *SyncConfig) { c.Role = "leader" }},
		{"zero retries", func(c *SyncConfig) { c.RetryCount = 0 }},
		{"zero batch", func(c *SyncConfig) { c.BatchSize = 0 }},
		{"zero timeout", func(c *SyncConfig) { c.BaseTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getDefaultSyncConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestUnknownStrategyFallsBackToLastUpdateWins(t *testing.T) {
	t.Setenv("SYNC_CONFIG_PATH", "")
	t.Setenv("STOCKSYNC_CONFLICT_STRATEGY", "coin_flip")

	cfg, err := LoadSyncConfig()
	require.NoError(t, err)
	assert.Equal(t, StrategyLastUpdateWins, cfg.ConflictStrategy)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "s")
	t.Setenv("DB_DRIVER", "sqlite")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Catalog.Backend)
}
