package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

type recordingSink struct {
	events []domain.AnomalyEvent
	err    error
}

func (s *recordingSink) WriteEvent(_ context.Context, event domain.AnomalyEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) ListEvents(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.AnomalyEvent, error) {
	var out []domain.AnomalyEvent
	for _, e := range s.events {
		if e.Symbol == symbol {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingBus struct {
	published []domain.AnomalyEvent
	err       error
}

func (b *recordingBus) PublishEvent(_ context.Context, event domain.AnomalyEvent) error {
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, event)
	return nil
}

func (b *recordingBus) SubscribeEvents(context.Context, string) (<-chan domain.AnomalyEvent, error) {
	ch := make(chan domain.AnomalyEvent)
	close(ch)
	return ch, nil
}

func testEvent() domain.AnomalyEvent {
	return domain.AnomalyEvent{
		EventID:    "evt-1",
		Symbol:     "BTCUSDT",
		Exchange:   "binance_futures",
		DetectedAt: time.Now().UTC(),
		Severity:   domain.SeverityCritical,
		Reason:     "spread_bps z=6.10",
		MaxZ:       6.1,
	}
}

func TestEventFanoutWritesStoreAndBus(t *testing.T) {
	store := &recordingSink{}
	bus := &recordingBus{}
	f := newEventFanout(store, bus, nil, slog.Default())

	require.NoError(t, f.WriteEvent(context.Background(), testEvent()))

	require.Len(t, store.events, 1)
	require.Len(t, bus.published, 1)
	assert.Equal(t, "evt-1", store.events[0].EventID)
}

func TestEventFanoutBusFailureDoesNotBlockStore(t *testing.T) {
	store := &recordingSink{}
	bus := &recordingBus{err: errors.New("redis down")}
	f := newEventFanout(store, bus, nil, slog.Default())

	require.NoError(t, f.WriteEvent(context.Background(), testEvent()))
	require.Len(t, store.events, 1)
}

func TestEventFanoutPropagatesStoreError(t *testing.T) {
	store := &recordingSink{err: errors.New("insert failed")}
	f := newEventFanout(store, nil, nil, slog.Default())

	err := f.WriteEvent(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert failed")
}

func TestEventFanoutWithoutStore(t *testing.T) {
	f := newEventFanout(nil, nil, nil, slog.Default())

	require.NoError(t, f.WriteEvent(context.Background(), testEvent()))

	events, err := f.ListEvents(context.Background(), "BTCUSDT", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, events)
}
