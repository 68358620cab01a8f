package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/book"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/pipeline"
)

type staticStats struct {
	stats pipeline.MonitorStats
}

func (s *staticStats) Stats() pipeline.MonitorStats { return s.stats }

func testSupervisor(sources ...statsSource) *supervisor {
	return newSupervisor(sources, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func staleStats(symbol string) pipeline.MonitorStats {
	return pipeline.MonitorStats{
		Symbol: symbol,
		Book:   book.EngineStats{State: domain.Stale},
	}
}

func liveStats(symbol string) pipeline.MonitorStats {
	return pipeline.MonitorStats{
		Symbol: symbol,
		Book:   book.EngineStats{State: domain.Live},
	}
}

func TestSupervisorTripsOnStaleBookPastDeadline(t *testing.T) {
	src := &staticStats{stats: staleStats("BTCUSDT")}
	sup := testSupervisor(src)

	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	sup.now = func() time.Time { return now }

	// First tick starts the degradation clock.
	require.NoError(t, sup.check())

	// Still inside the grace period.
	now = now.Add(sup.deadline / 2)
	require.NoError(t, sup.check())

	// Past the deadline the supervisor gives up.
	now = now.Add(sup.deadline)
	err := sup.check()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTerminalFailure)
	assert.Contains(t, err.Error(), "BTCUSDT")
	assert.Contains(t, err.Error(), "book stale")
}

func TestSupervisorRecoveryResetsClock(t *testing.T) {
	src := &staticStats{stats: staleStats("BTCUSDT")}
	sup := testSupervisor(src)

	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	sup.now = func() time.Time { return now }

	require.NoError(t, sup.check())

	// Recovery before the deadline clears the clock.
	src.stats = liveStats("BTCUSDT")
	now = now.Add(sup.deadline / 2)
	require.NoError(t, sup.check())

	// A fresh degradation gets a fresh grace period.
	src.stats = staleStats("BTCUSDT")
	now = now.Add(sup.deadline)
	require.NoError(t, sup.check())
}

func TestSupervisorTripsOnGrowingSinkErrors(t *testing.T) {
	src := &staticStats{stats: liveStats("BTCUSDT")}
	sup := testSupervisor(src)

	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	sup.now = func() time.Time { return now }

	require.NoError(t, sup.check())

	// Errors climbing every tick means the sink is unreachable.
	for i := 0; i < 3; i++ {
		src.stats.SinkErrors++
		now = now.Add(sup.deadline / 2)
		if err := sup.check(); err != nil {
			assert.ErrorIs(t, err, ErrTerminalFailure)
			assert.Contains(t, err.Error(), "sink failing")
			return
		}
	}
	t.Fatal("supervisor never tripped on a persistently failing sink")
}

func TestSupervisorStableSinkErrorsAreHealthy(t *testing.T) {
	src := &staticStats{stats: liveStats("BTCUSDT")}
	src.stats.SinkErrors = 17
	sup := testSupervisor(src)

	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	sup.now = func() time.Time { return now }

	// The first tick sees a jump from the zero baseline; from then on a
	// flat count is a healed burst, not a failing sink.
	require.NoError(t, sup.check())
	for i := 0; i < 5; i++ {
		now = now.Add(sup.deadline)
		require.NoError(t, sup.check())
	}
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	sup := testSupervisor(&staticStats{stats: liveStats("BTCUSDT")})
	sup.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop on cancel")
	}
}
