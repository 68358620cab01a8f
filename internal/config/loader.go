package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LIQMON_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LIQMON_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Name, "LIQMON_EXCHANGE_NAME")
	setStr(&cfg.Exchange.StreamURL, "LIQMON_EXCHANGE_STREAM_URL")
	setStr(&cfg.Exchange.RestURL, "LIQMON_EXCHANGE_REST_URL")
	setInt(&cfg.Exchange.DepthLimit, "LIQMON_EXCHANGE_DEPTH_LIMIT")
	setDuration(&cfg.Exchange.SnapshotTimeout, "LIQMON_EXCHANGE_SNAPSHOT_TIMEOUT")
	setFloat64(&cfg.Exchange.SnapshotsPerSecond, "LIQMON_EXCHANGE_SNAPSHOTS_PER_SECOND")
	setDuration(&cfg.Exchange.ReconnectDelay, "LIQMON_EXCHANGE_RECONNECT_DELAY")
	setDuration(&cfg.Exchange.MaxReconnectDelay, "LIQMON_EXCHANGE_MAX_RECONNECT_DELAY")

	// ── Book ──
	setInt(&cfg.Book.TopK, "LIQMON_BOOK_TOP_K")
	setInt(&cfg.Book.BufferCap, "LIQMON_BOOK_BUFFER_CAP")
	setInt(&cfg.Book.MaxBridgeAttempts, "LIQMON_BOOK_MAX_BRIDGE_ATTEMPTS")
	setDuration(&cfg.Book.ResyncWindow, "LIQMON_BOOK_RESYNC_WINDOW")

	// ── Metrics ──
	setDuration(&cfg.Metrics.Period, "LIQMON_METRICS_PERIOD")
	setInt(&cfg.Metrics.ImbalanceLevels, "LIQMON_METRICS_IMBALANCE_LEVELS")

	// ── Anomaly ──
	setInt(&cfg.Anomaly.WindowSize, "LIQMON_ANOMALY_WINDOW_SIZE")
	setInt(&cfg.Anomaly.MinSamples, "LIQMON_ANOMALY_MIN_SAMPLES")
	setDuration(&cfg.Anomaly.Cooldown, "LIQMON_ANOMALY_COOLDOWN")
	setFloat64(&cfg.Anomaly.WarningZ, "LIQMON_ANOMALY_WARNING_Z")
	setFloat64(&cfg.Anomaly.HighZ, "LIQMON_ANOMALY_HIGH_Z")
	setFloat64(&cfg.Anomaly.CriticalZ, "LIQMON_ANOMALY_CRITICAL_Z")

	// ── Pipeline ──
	setInt(&cfg.Pipeline.BatchSize, "LIQMON_PIPELINE_BATCH_SIZE")
	setDuration(&cfg.Pipeline.FlushInterval, "LIQMON_PIPELINE_FLUSH_INTERVAL")
	setBool(&cfg.Pipeline.ArchiveEnabled, "LIQMON_PIPELINE_ARCHIVE_ENABLED")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "LIQMON_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Pipeline.ArchiveInterval, "LIQMON_PIPELINE_ARCHIVE_INTERVAL")

	// ── Database ──
	setStr(&cfg.Database.DSN, "LIQMON_DATABASE_DSN")
	setStr(&cfg.Database.Host, "LIQMON_DATABASE_HOST")
	setInt(&cfg.Database.Port, "LIQMON_DATABASE_PORT")
	setStr(&cfg.Database.Database, "LIQMON_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "LIQMON_DATABASE_USER")
	// DB_PASSWORD is the canonical secret variable; the LIQMON_ form wins
	// when both are set.
	setStr(&cfg.Database.Password, "DB_PASSWORD")
	setStr(&cfg.Database.Password, "LIQMON_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "LIQMON_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "LIQMON_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "LIQMON_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "LIQMON_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LIQMON_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LIQMON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LIQMON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LIQMON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LIQMON_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LIQMON_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LIQMON_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LIQMON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LIQMON_S3_REGION")
	setStr(&cfg.S3.Bucket, "LIQMON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LIQMON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LIQMON_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LIQMON_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LIQMON_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LIQMON_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LIQMON_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LIQMON_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LIQMON_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LIQMON_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LIQMON_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Severities, "LIQMON_NOTIFY_SEVERITIES")

	// ── Top-level ──
	setStringSlice(&cfg.Symbols, "LIQMON_SYMBOLS")
	setStr(&cfg.Mode, "LIQMON_MODE")
	setStr(&cfg.LogLevel, "LIQMON_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
