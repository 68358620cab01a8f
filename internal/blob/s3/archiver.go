package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// Narrow store interfaces required by the archiver: only the time-ranged
// query and delete methods it actually calls. The Postgres stores satisfy
// these implicitly.

// SnapshotArchiveStore provides read/delete access to aged snapshots.
type SnapshotArchiveStore interface {
	ListSnapshotsBefore(ctx context.Context, before time.Time) ([]domain.MetricsSample, error)
	DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventArchiveStore provides read/delete access to aged anomaly events.
type EventArchiveStore interface {
	ListEventsBefore(ctx context.Context, before time.Time) ([]domain.AnomalyEvent, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver: it queries aged rows, uploads them
// to S3 as JSONL, and deletes them from the primary store only after every
// upload succeeded. Rows are grouped by the month they belong to and each
// pass writes under keys stamped with its own cutoff, so passes never
// overwrite objects written by earlier passes. A crash between upload and
// delete re-archives the same rows under the same keys on the next run.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	snapshots SnapshotArchiveStore
	events    EventArchiveStore
	logger    *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, snapshots SnapshotArchiveStore, events EventArchiveStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		snapshots: snapshots,
		events:    events,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSnapshots uploads all snapshots older than the cutoff to
// archive/snapshots/<YYYY-MM>/<cutoff>.jsonl, one object per calendar month
// of snapshot timestamps, then deletes the rows from the database.
// It returns the number of rows archived.
func (a *ArchiveImpl) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	samples, err := a.snapshots.ListSnapshotsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots query: %w", err)
	}
	if len(samples) == 0 {
		return 0, nil
	}

	byMonth := groupByMonth(samples, func(s domain.MetricsSample) time.Time { return s.Timestamp })
	for _, month := range sortedMonths(byMonth) {
		buf, err := marshalJSONL(byMonth[month])
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive snapshots marshal: %w", err)
		}
		path := archivePath("snapshots", month, before)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return 0, fmt.Errorf("s3blob: archive snapshots upload: %w", err)
		}
		a.logger.Info("snapshots archived",
			slog.String("path", path),
			slog.Int("archived", len(byMonth[month])))
	}

	deleted, err := a.snapshots.DeleteSnapshotsBefore(ctx, before)
	if err != nil {
		return int64(len(samples)), fmt.Errorf("s3blob: archive snapshots delete: %w", err)
	}

	a.logger.Info("snapshot archive pass complete",
		slog.Int("archived", len(samples)),
		slog.Int64("deleted", deleted))
	return int64(len(samples)), nil
}

// ArchiveEvents uploads all anomaly events older than the cutoff to
// archive/events/<YYYY-MM>/<cutoff>.jsonl, one object per calendar month of
// detection timestamps, then deletes the rows from the database.
// It returns the number of rows archived.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListEventsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	byMonth := groupByMonth(events, func(e domain.AnomalyEvent) time.Time { return e.DetectedAt })
	for _, month := range sortedMonths(byMonth) {
		buf, err := marshalJSONL(byMonth[month])
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
		}
		path := archivePath("events", month, before)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
		}
		a.logger.Info("events archived",
			slog.String("path", path),
			slog.Int("archived", len(byMonth[month])))
	}

	deleted, err := a.events.DeleteEventsBefore(ctx, before)
	if err != nil {
		return int64(len(events)), fmt.Errorf("s3blob: archive events delete: %w", err)
	}

	a.logger.Info("event archive pass complete",
		slog.Int("archived", len(events)),
		slog.Int64("deleted", deleted))
	return int64(len(events)), nil
}

// archivePath builds the S3 key. The month segment is the calendar month the
// rows belong to; the file name is the pass cutoff, so successive passes
// into the same month land next to each other instead of replacing objects
// that already hold deleted rows:
//
//	archive/snapshots/2025-01/20250301T000000Z.jsonl
//	archive/events/2025-01/20250301T000000Z.jsonl
func archivePath(kind, month string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, month, before.UTC().Format("20060102T150405Z"))
}

// groupByMonth buckets records by the UTC year-month of their timestamp.
func groupByMonth[T any](records []T, at func(T) time.Time) map[string][]T {
	out := make(map[string][]T)
	for _, rec := range records {
		month := at(rec).UTC().Format("2006-01")
		out[month] = append(out[month], rec)
	}
	return out
}

func sortedMonths[T any](byMonth map[string][]T) []string {
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)
	return months
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
