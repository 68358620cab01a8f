package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/notify"
)

// eventFanout decorates the persistent event sink with best-effort live
// publishing and operator notifications. The store write is the only path
// whose error propagates; bus and notifier failures are logged and dropped so
// a flaky channel cannot back-pressure the detector.
type eventFanout struct {
	store    domain.EventSink
	bus      domain.EventBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

var _ domain.EventSink = (*eventFanout)(nil)

func newEventFanout(store domain.EventSink, bus domain.EventBus, notifier *notify.Notifier, logger *slog.Logger) *eventFanout {
	return &eventFanout{
		store:    store,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_fanout")),
	}
}

func (f *eventFanout) WriteEvent(ctx context.Context, event domain.AnomalyEvent) error {
	f.logger.Warn("anomaly detected",
		slog.String("event_id", event.EventID),
		slog.String("symbol", event.Symbol),
		slog.String("severity", string(event.Severity)),
		slog.String("reason", event.Reason),
		slog.Float64("max_z", event.MaxZ),
	)

	if f.bus != nil {
		if err := f.bus.PublishEvent(ctx, event); err != nil {
			f.logger.Warn("event bus publish failed", slog.String("error", err.Error()))
		}
	}

	if f.notifier != nil {
		title := fmt.Sprintf("%s anomaly on %s", event.Severity, event.Symbol)
		message := fmt.Sprintf("%s\nmax |z| %.2f, mid %.4f, spread %.2f bps, depth(10bps) $%.0f",
			event.Reason, event.MaxZ, event.State.Mid, event.State.SpreadBps, event.State.Depth10BpsUSD)
		if err := f.notifier.Notify(ctx, string(event.Severity), title, message); err != nil {
			f.logger.Warn("notification failed", slog.String("error", err.Error()))
		}
	}

	if f.store != nil {
		return f.store.WriteEvent(ctx, event)
	}
	return nil
}

func (f *eventFanout) ListEvents(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.AnomalyEvent, error) {
	if f.store == nil {
		return nil, nil
	}
	return f.store.ListEvents(ctx, symbol, opts)
}
