package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// Archiver moves aged snapshot and event rows from the database to object
// storage on a fixed interval.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger

	now func() time.Time
}

// NewArchiver creates an Archiver. Rows older than retentionDays are moved on
// every run.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run executes a single archive pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	snapshots, err := a.blobArchiver.ArchiveSnapshots(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive snapshots before %v: %w", cutoff, err)
	}

	events, err := a.blobArchiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive events before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("snapshots_archived", snapshots),
		slog.Int64("events_archived", events),
	)
	return nil
}

// RunPeriodic runs archive passes on the configured interval until ctx is
// cancelled. A failed pass is logged and retried on the next tick.
func (a *Archiver) RunPeriodic(ctx context.Context) error {
	a.logger.Info("archiver started", slog.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return nil
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
