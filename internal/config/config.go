// Package config defines the top-level configuration for the liquidity
// monitor and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LIQMON_* environment variables.
type Config struct {
	Symbols  []string       `toml:"symbols"`
	Exchange ExchangeConfig `toml:"exchange"`
	Book     BookConfig     `toml:"book"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Anomaly  AnomalyConfig  `toml:"anomaly"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds venue endpoints and stream tuning.
type ExchangeConfig struct {
	Name               string   `toml:"name"`
	StreamURL          string   `toml:"stream_url"`
	RestURL            string   `toml:"rest_url"`
	DepthLimit         int      `toml:"depth_limit"`
	SnapshotTimeout    duration `toml:"snapshot_timeout"`
	SnapshotsPerSecond float64  `toml:"snapshots_per_second"`
	ReconnectDelay     duration `toml:"reconnect_delay"`
	MaxReconnectDelay  duration `toml:"max_reconnect_delay"`
}

// BookConfig holds order-book engine tuning.
type BookConfig struct {
	TopK              int      `toml:"top_k"`
	BufferCap         int      `toml:"buffer_cap"`
	MaxBridgeAttempts int      `toml:"max_bridge_attempts"`
	ResyncWindow      duration `toml:"resync_window"`
}

// MetricsConfig holds the metrics engine parameters.
type MetricsConfig struct {
	Period          duration  `toml:"period"`
	DepthBandsBps   []int     `toml:"depth_bands_bps"`
	ImbalanceLevels int       `toml:"imbalance_levels"`
	NotionalsUSD    []float64 `toml:"notionals_usd"`
}

// AnomalyConfig holds the z-score detector parameters.
type AnomalyConfig struct {
	WindowSize int      `toml:"window_size"`
	MinSamples int      `toml:"min_samples"`
	Cooldown   duration `toml:"cooldown"`
	WarningZ   float64  `toml:"warning_z"`
	HighZ      float64  `toml:"high_z"`
	CriticalZ  float64  `toml:"critical_z"`
}

// PipelineConfig holds sink batching and archival parameters.
type PipelineConfig struct {
	BatchSize            int      `toml:"batch_size"`
	FlushInterval        duration `toml:"flush_interval"`
	ArchiveEnabled       bool     `toml:"archive_enabled"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveInterval      duration `toml:"archive_interval"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds alert delivery channels. Severities lists the anomaly
// severities that are forwarded; empty forwards everything.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Severities        []string `toml:"severities"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Symbols: []string{"BTCUSDT"},
		Exchange: ExchangeConfig{
			Name:               "binance_futures",
			StreamURL:          "wss://fstream.binance.com/stream",
			RestURL:            "https://fapi.binance.com",
			DepthLimit:         1000,
			SnapshotTimeout:    duration{10 * time.Second},
			SnapshotsPerSecond: 2,
			ReconnectDelay:     duration{2 * time.Second},
			MaxReconnectDelay:  duration{60 * time.Second},
		},
		Book: BookConfig{
			TopK:              50,
			BufferCap:         4096,
			MaxBridgeAttempts: 3,
			ResyncWindow:      duration{60 * time.Second},
		},
		Metrics: MetricsConfig{
			Period:          duration{time.Second},
			DepthBandsBps:   []int{10, 50, 100},
			ImbalanceLevels: 5,
			NotionalsUSD:    []float64{100_000, 500_000, 1_000_000},
		},
		Anomaly: AnomalyConfig{
			WindowSize: 300,
			MinSamples: 30,
			Cooldown:   duration{5 * time.Second},
			WarningZ:   3,
			HighZ:      4,
			CriticalZ:  5,
		},
		Pipeline: PipelineConfig{
			BatchSize:            50,
			FlushInterval:        duration{2 * time.Second},
			ArchiveEnabled:       false,
			ArchiveRetentionDays: 90,
			ArchiveInterval:      duration{24 * time.Hour},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "liquidity",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "liquidity-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Severities: []string{"high", "critical"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
//
//	monitor - books, metrics, detector; events logged but nothing persisted
//	record  - monitor plus postgres persistence and optional archival
//	full    - record plus the HTTP server and redis mirroring
var validModes = map[string]bool{
	"monitor": true,
	"record":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// needsDatabase reports whether the configured mode persists to postgres.
func (c *Config) needsDatabase() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "record" || mode == "full"
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, record, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Symbols
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: at least one symbol is required")
	}
	for _, sym := range c.Symbols {
		if strings.TrimSpace(sym) == "" {
			errs = append(errs, "symbols: empty symbol")
			break
		}
	}

	// Exchange
	if c.Exchange.StreamURL == "" {
		errs = append(errs, "exchange: stream_url must not be empty")
	}
	if c.Exchange.RestURL == "" {
		errs = append(errs, "exchange: rest_url must not be empty")
	}
	if c.Exchange.DepthLimit <= 0 {
		errs = append(errs, "exchange: depth_limit must be > 0")
	}
	if c.Exchange.SnapshotsPerSecond <= 0 {
		errs = append(errs, "exchange: snapshots_per_second must be > 0")
	}

	// Book
	if c.Book.TopK <= 0 {
		errs = append(errs, "book: top_k must be > 0")
	}
	if c.Book.BufferCap <= 0 {
		errs = append(errs, "book: buffer_cap must be > 0")
	}
	if c.Book.MaxBridgeAttempts < 1 {
		errs = append(errs, "book: max_bridge_attempts must be >= 1")
	}

	// Metrics
	if c.Metrics.Period.Duration <= 0 {
		errs = append(errs, "metrics: period must be > 0")
	}
	if len(c.Metrics.DepthBandsBps) == 0 {
		errs = append(errs, "metrics: depth_bands_bps must not be empty")
	}
	for i, bps := range c.Metrics.DepthBandsBps {
		if bps <= 0 {
			errs = append(errs, fmt.Sprintf("metrics: depth_bands_bps[%d] must be > 0, got %d", i, bps))
		}
		if i > 0 && bps <= c.Metrics.DepthBandsBps[i-1] {
			errs = append(errs, "metrics: depth_bands_bps must be strictly ascending")
			break
		}
	}
	if c.Metrics.ImbalanceLevels <= 0 {
		errs = append(errs, "metrics: imbalance_levels must be > 0")
	}
	for i, n := range c.Metrics.NotionalsUSD {
		if n <= 0 {
			errs = append(errs, fmt.Sprintf("metrics: notionals_usd[%d] must be > 0", i))
		}
	}

	// Anomaly
	if c.Anomaly.WindowSize < 2 {
		errs = append(errs, "anomaly: window_size must be >= 2")
	}
	if c.Anomaly.MinSamples < 2 || c.Anomaly.MinSamples > c.Anomaly.WindowSize {
		errs = append(errs, "anomaly: min_samples must be in [2, window_size]")
	}
	if !(c.Anomaly.WarningZ > 0 && c.Anomaly.WarningZ < c.Anomaly.HighZ && c.Anomaly.HighZ < c.Anomaly.CriticalZ) {
		errs = append(errs, "anomaly: thresholds must satisfy 0 < warning_z < high_z < critical_z")
	}

	// Pipeline
	if c.Pipeline.BatchSize < 1 {
		errs = append(errs, "pipeline: batch_size must be >= 1")
	}
	if c.Pipeline.FlushInterval.Duration <= 0 {
		errs = append(errs, "pipeline: flush_interval must be > 0")
	}
	if c.Pipeline.ArchiveEnabled && c.Pipeline.ArchiveRetentionDays < 1 {
		errs = append(errs, "pipeline: archive_retention_days must be >= 1 when archiving is enabled")
	}

	// Database: only required when the mode persists.
	if c.needsDatabase() {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
			if c.Database.Password == "" {
				errs = append(errs, "database: password must be set (database.password, DB_PASSWORD, or LIQMON_DATABASE_PASSWORD)")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3: only required when archiving.
	if c.Pipeline.ArchiveEnabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archiving is enabled")
		}
	}

	// Notify
	validSeverities := map[string]bool{"warning": true, "high": true, "critical": true}
	for _, s := range c.Notify.Severities {
		if !validSeverities[strings.ToLower(s)] {
			errs = append(errs, fmt.Sprintf("notify: unknown severity %q (valid: warning, high, critical)", s))
		}
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id must be set when telegram_token is set")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
