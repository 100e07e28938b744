package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
environment: production
log_level: debug
database:
  dsn: postgres://custody:secret@db:5432/custody
settlement:
  base_url: https://api.fireblocks.example
  api_key: key
  vault_account_id: "7"
engine:
  token_pepper: pepper
  settlement_workers: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Engine.SettlementWorkers)
	assert.Equal(t, "7", cfg.Settlement.VaultAccountID)

	// Defaults fill the unspecified sections.
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 1024, cfg.Engine.QueueCapacity)
	assert.Equal(t, 15*time.Minute, cfg.Engine.StaleProcessingAge)
	assert.Equal(t, "custody.events", cfg.Kafka.Topic)
	assert.Equal(t, 30*time.Second, cfg.Settlement.Timeout)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing dsn",
			content: `
settlement:
  base_url: https://api.example
engine:
  token_pepper: pepper
`,
			wantErr: "database.dsn",
		},
		{
			name: "missing pepper",
			content: `
database:
  dsn: postgres://x
settlement:
  base_url: https://api.example
`,
			wantErr: "token_pepper",
		},
		{
			name: "missing settlement url",
			content: `
database:
  dsn: postgres://x
engine:
  token_pepper: pepper
`,
			wantErr: "settlement.base_url",
		},
		{
			name: "kafka enabled without brokers",
			content: `
database:
  dsn: postgres://x
settlement:
  base_url: https://api.example
engine:
  token_pepper: pepper
kafka:
  enabled: true
`,
			wantErr: "kafka.brokers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadNonexistentFileUsesEnvAndDefaults(t *testing.T) {
	t.Setenv("CUSTODY_DATABASE_DSN", "postgres://env")
	t.Setenv("CUSTODY_ENGINE_TOKEN_PEPPER", "env-pepper")
	t.Setenv("CUSTODY_SETTLEMENT_BASE_URL", "https://env.example")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, "env-pepper", cfg.Engine.TokenPepper)
	assert.Equal(t, "development", cfg.Environment)
}
