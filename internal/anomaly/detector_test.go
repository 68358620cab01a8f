package anomaly

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testDetector() *Detector {
	return NewDetector(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func spreadSample(ts time.Time, symbol, exchange, spreadBps string) *domain.MetricsSample {
	return &domain.MetricsSample{
		Timestamp: ts,
		Symbol:    symbol,
		Exchange:  exchange,
		Mid:       dec("50000"),
		SpreadBps: dec(spreadBps),
		Imbalance: decimal.Zero,
		Depth: []domain.DepthBand{{
			Bps:         10,
			BidDepth:    dec("10"),
			AskDepth:    dec("10"),
			BidDepthUSD: dec("500000"),
			AskDepthUSD: dec("500000"),
		}},
	}
}

// seedBaseline feeds n alternating spread readings of 1 and 3 bps, giving the
// spread window mean 2 and population std 1 while depth and imbalance stay
// flat.
func seedBaseline(d *Detector, start time.Time, n int) time.Time {
	ts := start
	for i := 0; i < n; i++ {
		spread := "1"
		if i%2 == 1 {
			spread = "3"
		}
		d.OnSample(spreadSample(ts, "BTCUSDT", "binance_futures", spread))
		ts = ts.Add(time.Second)
	}
	return ts
}

func TestNoEventBelowMinSamples(t *testing.T) {
	d := testDetector()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ts := seedBaseline(d, start, 28)

	// 29th sample is extreme but the window is still below min_samples.
	event := d.OnSample(spreadSample(ts, "BTCUSDT", "binance_futures", "47"))
	assert.Nil(t, event)
}

func TestExtremeSpreadEmitsCriticalEvent(t *testing.T) {
	d := testDetector()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ts := seedBaseline(d, start, 30)

	event := d.OnSample(spreadSample(ts, "BTCUSDT", "binance_futures", "47"))
	require.NotNil(t, event)
	assert.Equal(t, domain.SeverityCritical, event.Severity)
	assert.Contains(t, event.Reason, MetricSpreadBps)
	assert.Greater(t, event.MaxZ, 5.0)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "BTCUSDT", event.Symbol)
	assert.Equal(t, "binance_futures", event.Exchange)
	assert.Equal(t, ts, event.DetectedAt)
	assert.InDelta(t, event.MaxZ, event.ZScores[MetricSpreadBps], 1e-9)
	assert.InDelta(t, 50000, event.State.Mid, 1e-6)
	assert.InDelta(t, 1_000_000, event.State.Depth10BpsUSD, 1e-6)
}

func TestWarningAtExactThreshold(t *testing.T) {
	d := NewDetector(Config{MinSamples: 10}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Nine zero spreads followed by a 10 give the window mean 1 and
	// population std 3, so the final reading lands at |z| == 3.0 exactly.
	ts := start
	for i := 0; i < 9; i++ {
		d.OnSample(spreadSample(ts, "BTCUSDT", "binance_futures", "0"))
		ts = ts.Add(time.Second)
	}
	event := d.OnSample(spreadSample(ts, "BTCUSDT", "binance_futures", "10"))

	require.NotNil(t, event, "a z-score exactly at the warning threshold deviates")
	assert.Equal(t, domain.SeverityWarning, event.Severity)
	assert.Equal(t, 3.0, event.MaxZ)
	assert.Contains(t, event.Reason, MetricSpreadBps)
}

func TestCooldownSuppressesAndEscalationBypasses(t *testing.T) {
	d := testDetector()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ts := seedBaseline(d, start, 30)

	// Mild deviation: warning.
	first := d.OnSample(spreadSample(ts, "BTCUSDT", "binance_futures", "7"))
	require.NotNil(t, first)
	assert.Equal(t, domain.SeverityWarning, first.Severity)

	// One second later an extreme reading escalates straight through the
	// cooldown.
	ts = ts.Add(time.Second)
	second := d.OnSample(spreadSample(ts, "BTCUSDT", "binance_futures", "47"))
	require.NotNil(t, second)
	assert.Equal(t, domain.SeverityCritical, second.Severity)

	// Another deviation of equal-or-lower severity inside the cooldown is
	// suppressed.
	ts = ts.Add(time.Second)
	third := d.OnSample(spreadSample(ts, "BTCUSDT", "binance_futures", "47"))
	assert.Nil(t, third)
	assert.Equal(t, uint64(1), d.Stats().Suppressed)

	// Past the cooldown the next deviation is reported again.
	ts = ts.Add(6 * time.Second)
	fourth := d.OnSample(spreadSample(ts, "BTCUSDT", "binance_futures", "60"))
	require.NotNil(t, fourth)
	assert.Equal(t, uint64(3), d.Stats().Emitted)
}

func TestWindowsKeyedByExchangeAndSymbol(t *testing.T) {
	d := testDetector()
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ts := seedBaseline(d, start, 30)

	// Same symbol on a different venue has an empty baseline, so even an
	// extreme value stays silent.
	event := d.OnSample(spreadSample(ts, "BTCUSDT", "okx_futures", "47"))
	assert.Nil(t, event)

	// The seeded venue still triggers.
	event = d.OnSample(spreadSample(ts, "BTCUSDT", "binance_futures", "47"))
	assert.NotNil(t, event)
}

func TestReasonListsAllOffendersWorstFirst(t *testing.T) {
	d := NewDetector(Config{MinSamples: 10}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Baseline with varying spread AND imbalance so both windows have a
	// nonzero deviation.
	ts := start
	for i := 0; i < 20; i++ {
		s := spreadSample(ts, "BTCUSDT", "binance_futures", map[bool]string{true: "3", false: "1"}[i%2 == 1])
		s.Imbalance = dec(map[bool]string{true: "0.1", false: "-0.1"}[i%2 == 1])
		d.OnSample(s)
		ts = ts.Add(time.Second)
	}

	shock := spreadSample(ts, "BTCUSDT", "binance_futures", "80")
	shock.Imbalance = dec("0.99")
	event := d.OnSample(shock)
	require.NotNil(t, event)
	assert.Contains(t, event.Reason, MetricSpreadBps)
	assert.Contains(t, event.Reason, MetricImbalance)
	// Spread deviates harder than imbalance here, so it leads the reason.
	assert.Less(t,
		strings.Index(event.Reason, MetricSpreadBps),
		strings.Index(event.Reason, MetricImbalance))
}
