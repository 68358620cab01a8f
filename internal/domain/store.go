package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SnapshotSink persists metrics samples. Writes are idempotent on the
// snapshot ID derived by the sink, so replays after a crash are safe.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, sample MetricsSample) error
	WriteSnapshotBatch(ctx context.Context, samples []MetricsSample) error
	ListSnapshots(ctx context.Context, symbol string, opts ListOpts) ([]MetricsSample, error)
	Count(ctx context.Context) (int64, error)
}

// EventSink persists anomaly events, idempotent on EventID.
type EventSink interface {
	WriteEvent(ctx context.Context, event AnomalyEvent) error
	ListEvents(ctx context.Context, symbol string, opts ListOpts) ([]AnomalyEvent, error)
}
