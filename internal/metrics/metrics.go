// Package metrics derives instantaneous liquidity measurements from book
// views: spread, banded depth, imbalance, and slippage-cost estimates. All
// arithmetic is exact decimal; conversion to float64 happens only at the
// anomaly-detector boundary.
package metrics

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

var (
	two        = decimal.NewFromInt(2)
	tenK       = decimal.NewFromInt(10000)
	one        = decimal.NewFromInt(1)
	defaultBps = []int{10, 50, 100}
)

// DefaultNotionalsUSD are the order sizes used for slippage estimation when
// the config does not override them.
func DefaultNotionalsUSD() []decimal.Decimal {
	return []decimal.Decimal{
		decimal.NewFromInt(100_000),
		decimal.NewFromInt(500_000),
		decimal.NewFromInt(1_000_000),
	}
}

// Config tunes one metrics engine.
type Config struct {
	Exchange        string
	DepthBandsBps   []int
	ImbalanceLevels int
	NotionalsUSD    []decimal.Decimal
	// Period is the minimum interval between published samples per symbol.
	// Views arriving inside the interval are coalesced; the newest wins.
	Period time.Duration
}

func (c *Config) applyDefaults() {
	if len(c.DepthBandsBps) == 0 {
		c.DepthBandsBps = append([]int(nil), defaultBps...)
	}
	if c.ImbalanceLevels <= 0 {
		c.ImbalanceLevels = 5
	}
	if len(c.NotionalsUSD) == 0 {
		c.NotionalsUSD = DefaultNotionalsUSD()
	}
	if c.Period <= 0 {
		c.Period = time.Second
	}
}

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	Published uint64
	Skipped   uint64
	Coalesced uint64
}

// Engine turns BookViews into MetricsSamples at a bounded cadence.
// OnView must be called from a single goroutine; Stats is concurrency-safe.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	lastEmit  map[string]time.Time
	published atomic.Uint64
	skipped   atomic.Uint64
	coalesced atomic.Uint64

	now func() time.Time
}

// NewEngine builds a metrics engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "metrics")),
		lastEmit: make(map[string]time.Time),
		now:      time.Now,
	}
}

// OnView computes a sample for the view, or returns nil when the view falls
// inside the publication period (coalesced) or the book is one-sided
// (skipped).
func (e *Engine) OnView(view domain.BookView) *domain.MetricsSample {
	now := e.now()
	if last, ok := e.lastEmit[view.Symbol]; ok && now.Sub(last) < e.cfg.Period {
		e.coalesced.Add(1)
		return nil
	}

	sample, ok := e.Compute(view)
	if !ok {
		e.skipped.Add(1)
		return nil
	}
	e.lastEmit[view.Symbol] = now
	e.published.Add(1)
	return sample
}

// Compute derives a full sample from one view regardless of cadence. It
// returns false when either side is empty, which makes spread undefined.
func (e *Engine) Compute(view domain.BookView) (*domain.MetricsSample, bool) {
	bestBid, okB := view.BestBid()
	bestAsk, okA := view.BestAsk()
	if !okB || !okA {
		return nil, false
	}

	mid := bestBid.Price.Add(bestAsk.Price).Div(two)
	if mid.IsZero() {
		return nil, false
	}
	spreadAbs := bestAsk.Price.Sub(bestBid.Price)
	spreadBps := spreadAbs.Div(mid).Mul(tenK)

	sample := &domain.MetricsSample{
		Timestamp:    view.CapturedAt,
		Symbol:       view.Symbol,
		Exchange:     view.Exchange,
		LastUpdateID: view.LastUpdateID,
		Mid:          mid,
		SpreadAbs:    spreadAbs,
		SpreadBps:    spreadBps,
		BestBidQty:   bestBid.Qty,
		BestAskQty:   bestAsk.Qty,
		BidLevels:    view.BidLevels,
		AskLevels:    view.AskLevels,
		Imbalance:    Imbalance(view.Bids, view.Asks, e.cfg.ImbalanceLevels),
	}

	for _, bps := range e.cfg.DepthBandsBps {
		sample.Depth = append(sample.Depth, DepthAtBps(view.Bids, view.Asks, mid, bps))
	}
	for _, notional := range e.cfg.NotionalsUSD {
		sample.Slippage = append(sample.Slippage,
			EstimateSlippage(view.Bids, view.Asks, mid, notional, domain.Buy),
			EstimateSlippage(view.Bids, view.Asks, mid, notional, domain.Sell),
		)
	}
	return sample, true
}

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Published: e.published.Load(),
		Skipped:   e.skipped.Load(),
		Coalesced: e.coalesced.Load(),
	}
}

// Imbalance is (bid_vol - ask_vol)/(bid_vol + ask_vol) over the top-N levels
// per side, zero when no volume rests on either side.
func Imbalance(bids, asks []domain.Level, levels int) decimal.Decimal {
	bidVol := sumQty(bids, levels)
	askVol := sumQty(asks, levels)
	total := bidVol.Add(askVol)
	if total.IsZero() {
		return decimal.Zero
	}
	return bidVol.Sub(askVol).Div(total)
}

func sumQty(side []domain.Level, n int) decimal.Decimal {
	if n > len(side) {
		n = len(side)
	}
	total := decimal.Zero
	for _, lvl := range side[:n] {
		total = total.Add(lvl.Qty)
	}
	return total
}

// DepthAtBps sums resting quantity and USD notional within bps of mid on each
// side. Bids must be descending and asks ascending, as in a BookView.
func DepthAtBps(bids, asks []domain.Level, mid decimal.Decimal, bps int) domain.DepthBand {
	band := domain.DepthBand{
		Bps:         bps,
		BidDepth:    decimal.Zero,
		AskDepth:    decimal.Zero,
		BidDepthUSD: decimal.Zero,
		AskDepthUSD: decimal.Zero,
	}
	threshold := decimal.NewFromInt(int64(bps)).Div(tenK)

	bidFloor := mid.Mul(one.Sub(threshold))
	for _, lvl := range bids {
		if lvl.Price.Cmp(bidFloor) < 0 {
			break
		}
		band.BidDepth = band.BidDepth.Add(lvl.Qty)
		band.BidDepthUSD = band.BidDepthUSD.Add(lvl.Price.Mul(lvl.Qty))
	}

	askCeil := mid.Mul(one.Add(threshold))
	for _, lvl := range asks {
		if lvl.Price.Cmp(askCeil) > 0 {
			break
		}
		band.AskDepth = band.AskDepth.Add(lvl.Qty)
		band.AskDepthUSD = band.AskDepthUSD.Add(lvl.Price.Mul(lvl.Qty))
	}
	return band
}

// EstimateSlippage walks one side of the book with a market order of
// notionalUSD, greedily consuming levels in price priority. Buys walk the
// asks, sells walk the bids. A side exhausted before the notional is filled
// yields Filled=false with the shortfall in UnfilledUSD; the other fields
// describe the partial fill.
func EstimateSlippage(bids, asks []domain.Level, mid, notionalUSD decimal.Decimal, side domain.OrderSide) domain.SlippageEstimate {
	est := domain.SlippageEstimate{
		NotionalUSD: notionalUSD,
		Side:        side,
		AvgFill:     decimal.Zero,
		FilledQty:   decimal.Zero,
		TotalCost:   decimal.Zero,
		SlippageAbs: decimal.Zero,
		SlippageBps: decimal.Zero,
		SlippageUSD: decimal.Zero,
		UnfilledUSD: notionalUSD,
	}

	levels := asks
	if side == domain.Sell {
		levels = bids
	}

	remaining := notionalUSD
	for _, lvl := range levels {
		if remaining.Sign() <= 0 {
			break
		}
		levelValue := lvl.Price.Mul(lvl.Qty)
		fillQty := lvl.Qty
		fillValue := levelValue
		if levelValue.Cmp(remaining) > 0 {
			fillQty = remaining.Div(lvl.Price)
			fillValue = remaining
		}
		est.FilledQty = est.FilledQty.Add(fillQty)
		est.TotalCost = est.TotalCost.Add(fillValue)
		remaining = remaining.Sub(fillValue)
		est.LevelsConsumed++
	}

	est.UnfilledUSD = decimal.Max(remaining, decimal.Zero)
	est.Filled = remaining.Sign() <= 0
	if est.FilledQty.IsZero() || mid.IsZero() {
		return est
	}

	est.AvgFill = est.TotalCost.Div(est.FilledQty)
	diff := est.AvgFill.Sub(mid)
	if side == domain.Sell {
		diff = mid.Sub(est.AvgFill)
	}
	est.SlippageAbs = diff
	est.SlippageBps = diff.Div(mid).Mul(tenK)
	est.SlippageUSD = diff.Mul(est.FilledQty)
	return est
}
