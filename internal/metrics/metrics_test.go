package metrics

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

func lvl(price, qty string) domain.Level {
	return domain.Level{
		Price: decimal.RequireFromString(price),
		Qty:   decimal.RequireFromString(qty),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testEngine(cfg Config) *Engine {
	return NewEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testView(bids, asks []domain.Level) domain.BookView {
	return domain.BookView{
		Symbol:     "BTCUSDT",
		Exchange:   "binance_futures",
		Bids:       bids,
		Asks:       asks,
		BidLevels:  len(bids),
		AskLevels:  len(asks),
		CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestSlippageWalkLiteral(t *testing.T) {
	bids := []domain.Level{lvl("49990", "10")}
	asks := []domain.Level{lvl("50010", "3"), lvl("50020", "5"), lvl("50040", "2")}
	mid := dec("50000")

	// 500210 USD consumes exactly all three ask levels (10 base units).
	est := EstimateSlippage(bids, asks, mid, dec("500210"), domain.Buy)

	require.True(t, est.Filled)
	assert.True(t, est.FilledQty.Equal(dec("10")), "filled qty %s", est.FilledQty)
	assert.True(t, est.TotalCost.Equal(dec("500210")), "total cost %s", est.TotalCost)
	assert.True(t, est.AvgFill.Equal(dec("50021")), "avg fill %s", est.AvgFill)
	assert.True(t, est.SlippageAbs.Equal(dec("21")), "slippage abs %s", est.SlippageAbs)
	assert.True(t, est.SlippageBps.Equal(dec("4.2")), "slippage bps %s", est.SlippageBps)
	assert.Equal(t, 3, est.LevelsConsumed)
	assert.True(t, est.UnfilledUSD.IsZero())
}

func TestSlippagePartialFillAtFinalLevel(t *testing.T) {
	asks := []domain.Level{lvl("100", "1"), lvl("110", "1")}
	bids := []domain.Level{lvl("90", "1")}
	mid := dec("95")

	// 155 USD: full first level (100), then 55 USD of the second.
	est := EstimateSlippage(bids, asks, mid, dec("155"), domain.Buy)
	require.True(t, est.Filled)
	assert.True(t, est.FilledQty.Equal(dec("1.5")), "filled qty %s", est.FilledQty)
	assert.True(t, est.TotalCost.Equal(dec("155")))
	assert.Equal(t, 2, est.LevelsConsumed)
}

func TestSlippageInsufficientLiquidity(t *testing.T) {
	bids := []domain.Level{lvl("100", "1")}
	asks := []domain.Level{lvl("101", "1")}
	mid := dec("100.5")

	est := EstimateSlippage(bids, asks, mid, dec("1000"), domain.Sell)
	assert.False(t, est.Filled)
	assert.True(t, est.UnfilledUSD.Equal(dec("900")), "unfilled %s", est.UnfilledUSD)
	assert.True(t, est.FilledQty.Equal(dec("1")))
	// Sell slippage is mid minus realized average.
	assert.True(t, est.SlippageAbs.Equal(dec("0.5")), "slippage abs %s", est.SlippageAbs)
}

func TestSlippageMonotoneInNotional(t *testing.T) {
	bids := []domain.Level{lvl("49990", "100")}
	asks := []domain.Level{lvl("50010", "3"), lvl("50020", "5"), lvl("50040", "2"), lvl("50100", "20")}
	mid := dec("50000")

	prev := decimal.Zero
	for _, notional := range []string{"50000", "150000", "400000", "500000", "900000"} {
		est := EstimateSlippage(bids, asks, mid, dec(notional), domain.Buy)
		require.True(t, est.Filled, "notional %s", notional)
		assert.True(t, est.SlippageBps.Cmp(prev) >= 0,
			"slippage %s not monotone at notional %s", est.SlippageBps, notional)
		prev = est.SlippageBps
	}
}

func TestImbalanceExtremes(t *testing.T) {
	bids := []domain.Level{lvl("100", "60"), lvl("99", "40")}

	// Empty ask side with resting bids is maximal bullish pressure.
	assert.True(t, Imbalance(bids, nil, 5).Equal(dec("1")))
	// Mirror case.
	assert.True(t, Imbalance(nil, bids, 5).Equal(dec("-1")))
	// Symmetric book.
	asks := []domain.Level{lvl("101", "60"), lvl("102", "40")}
	assert.True(t, Imbalance(bids, asks, 5).IsZero())
	// Both sides empty.
	assert.True(t, Imbalance(nil, nil, 5).IsZero())
}

func TestImbalanceTopNOnly(t *testing.T) {
	bids := []domain.Level{lvl("100", "1"), lvl("99", "1"), lvl("98", "1000")}
	asks := []domain.Level{lvl("101", "2"), lvl("102", "2")}

	// With N=2 the huge third bid level is ignored: (2-4)/(2+4).
	im := Imbalance(bids, asks, 2)
	assert.True(t, im.Equal(dec("-1").Div(dec("3"))), "imbalance %s", im)
}

func TestDepthAtBps(t *testing.T) {
	mid := dec("50000")
	bids := []domain.Level{lvl("49990", "1"), lvl("49950", "2"), lvl("49700", "4")}
	asks := []domain.Level{lvl("50010", "1"), lvl("50040", "2"), lvl("50300", "4")}

	// 10 bps band: floor 49950, ceil 50050.
	band := DepthAtBps(bids, asks, mid, 10)
	assert.True(t, band.BidDepth.Equal(dec("3")), "bid depth %s", band.BidDepth)
	assert.True(t, band.AskDepth.Equal(dec("3")), "ask depth %s", band.AskDepth)
	assert.True(t, band.BidDepthUSD.Equal(dec("149890")), "bid usd %s", band.BidDepthUSD)
	assert.True(t, band.AskDepthUSD.Equal(dec("150090")), "ask usd %s", band.AskDepthUSD)
	assert.True(t, band.TotalDepth().Equal(dec("6")))

	// 100 bps band takes everything here.
	wide := DepthAtBps(bids, asks, mid, 100)
	assert.True(t, wide.BidDepth.Equal(dec("7")))
	assert.True(t, wide.AskDepth.Equal(dec("7")))
}

func TestComputeSpreadAndSkipsOneSidedBook(t *testing.T) {
	e := testEngine(Config{})

	view := testView(
		[]domain.Level{lvl("49990", "1")},
		[]domain.Level{lvl("50010", "2")},
	)
	sample, ok := e.Compute(view)
	require.True(t, ok)
	assert.True(t, sample.Mid.Equal(dec("50000")))
	assert.True(t, sample.SpreadAbs.Equal(dec("20")))
	assert.True(t, sample.SpreadBps.Equal(dec("4")), "spread bps %s", sample.SpreadBps)
	assert.True(t, sample.BestBidQty.Equal(dec("1")))
	assert.True(t, sample.BestAskQty.Equal(dec("2")))
	require.Len(t, sample.Depth, 3)
	require.Len(t, sample.Slippage, 6)

	_, ok = e.Compute(testView([]domain.Level{lvl("49990", "1")}, nil))
	assert.False(t, ok)
}

func TestOnViewCadenceCoalesces(t *testing.T) {
	e := testEngine(Config{Period: time.Second})
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	now := base
	e.now = func() time.Time { return now }

	view := testView([]domain.Level{lvl("100", "1")}, []domain.Level{lvl("101", "1")})

	require.NotNil(t, e.OnView(view))
	now = base.Add(300 * time.Millisecond)
	assert.Nil(t, e.OnView(view))
	now = base.Add(900 * time.Millisecond)
	assert.Nil(t, e.OnView(view))
	now = base.Add(time.Second)
	assert.NotNil(t, e.OnView(view))

	st := e.Stats()
	assert.Equal(t, uint64(2), st.Published)
	assert.Equal(t, uint64(2), st.Coalesced)
}

func TestNotionalSumIsPermutationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	levels := make([]domain.Level, 200)
	for i := range levels {
		levels[i] = domain.Level{
			Price: decimal.NewFromFloat(40000 + rng.Float64()*2000).Round(8),
			Qty:   decimal.NewFromFloat(rng.Float64() * 10).Round(8),
		}
	}

	notional := func(ls []domain.Level) decimal.Decimal {
		total := decimal.Zero
		for _, l := range ls {
			total = total.Add(l.Price.Mul(l.Qty))
		}
		return total
	}

	want := notional(levels)
	for trial := 0; trial < 5; trial++ {
		shuffled := append([]domain.Level(nil), levels...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.True(t, notional(shuffled).Equal(want), "permutation %d drifted", trial)
	}
}
