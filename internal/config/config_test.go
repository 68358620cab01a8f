package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Database.Password = "secret"
	return cfg
}

func TestDefaultsValidateWithPassword(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiresDatabasePasswordWhenPersisting(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database: password must be set")

	// Monitor mode never touches the database.
	cfg.Mode = "monitor"
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Symbols = nil
	cfg.Mode = "replay"
	cfg.Anomaly.WarningZ = 5
	cfg.Anomaly.HighZ = 4
	cfg.Metrics.DepthBandsBps = []int{50, 10}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "at least one symbol")
	assert.Contains(t, err.Error(), "strictly ascending")
	assert.Contains(t, err.Error(), "warning_z < high_z < critical_z")
}

func TestValidateNotifySeverities(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.Severities = []string{"critical", "catastrophic"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown severity "catastrophic"`)

	cfg.Notify.Severities = []string{"Warning", "HIGH"}
	require.NoError(t, cfg.Validate())
}

func TestValidateTelegramNeedsChatID(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.TelegramToken = "123:abc"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram_chat_id")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"
symbols = ["ETHUSDT", "SOLUSDT"]

[metrics]
period = "500ms"

[anomaly]
cooldown = "10s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, cfg.Symbols)
	assert.Equal(t, 500*time.Millisecond, cfg.Metrics.Period.Duration)
	assert.Equal(t, 10*time.Second, cfg.Anomaly.Cooldown.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Book.TopK)
	assert.Equal(t, []int{10, 50, 100}, cfg.Metrics.DepthBandsBps)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "record"`), 0o600))

	t.Setenv("LIQMON_DATABASE_PASSWORD", "from-env")
	t.Setenv("LIQMON_SYMBOLS", "BTCUSDT, ETHUSDT")
	t.Setenv("LIQMON_ANOMALY_COOLDOWN", "30s")
	t.Setenv("LIQMON_SERVER_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, 30*time.Second, cfg.Anomaly.Cooldown.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadReadsDBPassword(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "record"`), 0o600))

	t.Setenv("DB_PASSWORD", "plain-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "plain-secret", cfg.Database.Password)
	require.NoError(t, cfg.Validate())

	// The LIQMON_ form takes precedence when both are set.
	t.Setenv("LIQMON_DATABASE_PASSWORD", "scoped-secret")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "scoped-secret", cfg.Database.Password)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Database.DSN = "postgres://u:p@host/db"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.AccessKey = "AKIA"
	cfg.S3.SecretKey = "shhh"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Notify.DiscordWebhookURL = "https://discord.com/api/webhooks/x"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Database.DSN)
	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.Notify.DiscordWebhookURL)

	// Originals are untouched and slices are decoupled.
	assert.Equal(t, "redis-secret", cfg.Redis.Password)
	red.Symbols[0] = "XRPUSDT"
	assert.Equal(t, "BTCUSDT", cfg.Symbols[0])

	// Empty secrets stay empty rather than showing a misleading mask.
	empty := Defaults()
	redEmpty := RedactedConfig(&empty)
	assert.Empty(t, redEmpty.Database.Password)
}
