// Package domain defines the shared value types and collaborator interfaces
// for the liquidity monitor: order-book primitives, derived metrics, anomaly
// events, and the contracts implemented by exchange adapters and sinks.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level is a single price level: an absolute quantity resting at a price.
// In a Delta a zero quantity means "remove this level"; a stored book level
// always has Qty > 0.
type Level struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Side identifies which half of the book a level belongs to.
type Side int

const (
	Bid Side = iota
	Ask
)

// String returns "bid" or "ask".
func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// BookState is the lifecycle state of a per-symbol order book.
type BookState int

const (
	// Uninitialized means no stream has been started for the symbol yet.
	Uninitialized BookState = iota
	// Syncing means deltas are being buffered while a snapshot is fetched.
	Syncing
	// Live means the book is consistent and deltas apply directly.
	Live
	// Stale means the book could not be reconciled with the venue; downstream
	// consumers receive no views until the stream is restarted.
	Stale
)

// String returns the lowercase state name.
func (s BookState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Syncing:
		return "syncing"
	case Live:
		return "live"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// Delta is an incremental depth update covering venue sequence numbers
// [FirstID, LastID]. Quantities are absolute per-price totals, not diffs.
type Delta struct {
	Symbol    string
	FirstID   int64
	LastID    int64
	Bids      []Level
	Asks      []Level
	EventTime time.Time
}

// Snapshot is a full book image tagged with the sequence cursor at which it
// was captured.
type Snapshot struct {
	Symbol       string
	LastUpdateID int64
	Bids         []Level
	Asks         []Level
}

// BookView is an immutable projection of a book at one logical instant:
// the top-K levels per side plus the cursor and capture time. Views are
// produced by the book engine and consumed exactly once downstream; they
// never share mutable state with the engine.
type BookView struct {
	Symbol       string
	Exchange     string
	Bids         []Level // descending by price
	Asks         []Level // ascending by price
	BidLevels    int     // total levels on the full bid side
	AskLevels    int
	LastUpdateID int64
	CapturedAt   time.Time
}

// BestBid returns the highest bid level and whether one exists.
func (v *BookView) BestBid() (Level, bool) {
	if len(v.Bids) == 0 {
		return Level{}, false
	}
	return v.Bids[0], true
}

// BestAsk returns the lowest ask level and whether one exists.
func (v *BookView) BestAsk() (Level, bool) {
	if len(v.Asks) == 0 {
		return Level{}, false
	}
	return v.Asks[0], true
}

// Mid returns (best_bid + best_ask) / 2, or false when either side is empty.
func (v *BookView) Mid() (decimal.Decimal, bool) {
	bb, okB := v.BestBid()
	ba, okA := v.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return bb.Price.Add(ba.Price).Div(two), true
}

var two = decimal.NewFromInt(2)
