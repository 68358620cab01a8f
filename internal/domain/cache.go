package domain

import "context"

// BookCache mirrors the latest book view (top levels plus best bid/offer)
// into a shared cache for dashboards and ad-hoc inspection. Cache writes are
// best-effort; a failure must never stall the pipeline.
type BookCache interface {
	SetView(ctx context.Context, view BookView) error
	GetView(ctx context.Context, symbol string) (BookView, error)
	GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error)
}

// EventBus broadcasts anomaly events to live subscribers outside the
// persistence path. Publishing is best-effort in the same sense as BookCache.
type EventBus interface {
	PublishEvent(ctx context.Context, event AnomalyEvent) error
	SubscribeEvents(ctx context.Context, symbol string) (<-chan AnomalyEvent, error)
}
