package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/JudyChang-TW/liquidity-crunch-monitor/internal/blob/s3"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/cache/redis"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/config"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/notify"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the operating modes
// need. Fields are nil when the configuration does not wire them: monitor
// mode runs with everything nil, record mode adds the sinks and archiver,
// full mode adds the cache and event bus.
type Dependencies struct {
	SnapshotSink domain.SnapshotSink
	EventSink    domain.EventSink
	BookCache    domain.BookCache
	EventBus     domain.EventBus
	BlobWriter   domain.BlobWriter
	BlobReader   domain.BlobReader
	Archiver     domain.Archiver
	Notifier     *notify.Notifier
}

// needsPostgres reports whether the mode persists to the database.
func needsPostgres(mode string) bool {
	return mode == "record" || mode == "full"
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown to release connections.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	mode := strings.ToLower(cfg.Mode)

	var snapStore *postgres.SnapshotStore
	var evtStore *postgres.EventStore
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		snapStore = postgres.NewSnapshotStore(pool)
		evtStore = postgres.NewEventStore(pool)
		deps.SnapshotSink = snapStore
		deps.EventSink = evtStore
	}

	// Redis backs the book mirror and the live event bus; both are only
	// consumed by the HTTP/WS surface, so they are wired in full mode only.
	if mode == "full" && cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewBookCache(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
	}

	// Archival moves aged rows out of postgres, so it needs both stores.
	if cfg.Pipeline.ArchiveEnabled && snapStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, snapStore, evtStore, logger)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		severities := make([]string, 0, len(cfg.Notify.Severities))
		for _, s := range cfg.Notify.Severities {
			severities = append(severities, strings.ToLower(s))
		}
		deps.Notifier = notify.NewNotifier(senders, severities, logger)
	}

	return deps, cleanup, nil
}
