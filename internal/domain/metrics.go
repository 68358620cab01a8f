package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepthBand is the liquidity resting within a basis-point distance of mid on
// both sides, in base currency and USD notional.
type DepthBand struct {
	Bps         int
	BidDepth    decimal.Decimal
	AskDepth    decimal.Decimal
	BidDepthUSD decimal.Decimal
	AskDepthUSD decimal.Decimal
}

// TotalDepth returns bid + ask base-currency depth.
func (d DepthBand) TotalDepth() decimal.Decimal {
	return d.BidDepth.Add(d.AskDepth)
}

// TotalDepthUSD returns bid + ask USD-notional depth.
func (d DepthBand) TotalDepthUSD() decimal.Decimal {
	return d.BidDepthUSD.Add(d.AskDepthUSD)
}

// OrderSide is the taker direction used for slippage estimation.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// SlippageEstimate is the result of walking one side of the book with a
// market order of a given USD notional. When the side is exhausted before the
// notional is filled, Filled is false and UnfilledUSD records the shortfall;
// the remaining fields describe the partial fill.
type SlippageEstimate struct {
	NotionalUSD    decimal.Decimal
	Side           OrderSide
	AvgFill        decimal.Decimal
	FilledQty      decimal.Decimal
	TotalCost      decimal.Decimal
	SlippageAbs    decimal.Decimal
	SlippageBps    decimal.Decimal
	SlippageUSD    decimal.Decimal
	LevelsConsumed int
	Filled         bool
	UnfilledUSD    decimal.Decimal
}

// MetricsSample quantifies the instantaneous liquidity of one book view.
// All fields are exact decimals; conversion to float64 happens only at the
// anomaly-detector boundary.
type MetricsSample struct {
	Timestamp    time.Time
	Symbol       string
	Exchange     string
	LastUpdateID int64

	Mid        decimal.Decimal
	SpreadAbs  decimal.Decimal
	SpreadBps  decimal.Decimal
	BestBidQty decimal.Decimal
	BestAskQty decimal.Decimal
	BidLevels  int
	AskLevels  int

	// Depth holds one band per configured bps threshold, ascending.
	Depth []DepthBand

	// Imbalance is (bid_vol - ask_vol)/(bid_vol + ask_vol) over the top-N
	// levels, in [-1, +1].
	Imbalance decimal.Decimal

	// Slippage holds one estimate per (configured notional, side) pair.
	Slippage []SlippageEstimate
}

// DepthAt returns the band for the given bps threshold, or false.
func (m *MetricsSample) DepthAt(bps int) (DepthBand, bool) {
	for _, d := range m.Depth {
		if d.Bps == bps {
			return d, true
		}
	}
	return DepthBand{}, false
}

// SlippageAt returns the estimate for the given notional and side, or false.
func (m *MetricsSample) SlippageAt(notionalUSD decimal.Decimal, side OrderSide) (SlippageEstimate, bool) {
	for _, s := range m.Slippage {
		if s.Side == side && s.NotionalUSD.Equal(notionalUSD) {
			return s, true
		}
	}
	return SlippageEstimate{}, false
}
