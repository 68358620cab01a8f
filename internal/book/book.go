package book

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// Book is the reconstructed two-sided ladder for one symbol plus the venue
// sequence cursor. It is exclusively owned by the engine goroutine for its
// symbol; no method is safe for concurrent use.
type Book struct {
	symbol       string
	bids         ladder
	asks         ladder
	lastUpdateID int64
}

// NewBook returns an empty book for symbol.
func NewBook(symbol string) *Book {
	return &Book{symbol: symbol}
}

// Restore atomically replaces both sides from a full snapshot and moves the
// cursor to the snapshot's sequence.
func (b *Book) Restore(snap domain.Snapshot) {
	b.bids.replace(snap.Bids)
	b.asks.replace(snap.Asks)
	b.lastUpdateID = snap.LastUpdateID
}

// Apply installs every level change in d and advances the cursor to d.LastID.
// Quantities are absolute per-price totals; a zero quantity deletes the
// level. Sequencing must already have been validated by the caller.
func (b *Book) Apply(d domain.Delta) {
	for _, lvl := range d.Bids {
		b.bids.set(lvl.Price, lvl.Qty)
	}
	for _, lvl := range d.Asks {
		b.asks.set(lvl.Price, lvl.Qty)
	}
	b.lastUpdateID = d.LastID
}

// Clear empties both sides and leaves the cursor untouched.
func (b *Book) Clear() {
	b.bids.clear()
	b.asks.clear()
}

// BestBid returns the highest bid.
func (b *Book) BestBid() (domain.Level, bool) { return b.bids.highest() }

// BestAsk returns the lowest ask.
func (b *Book) BestAsk() (domain.Level, bool) { return b.asks.lowest() }

// BidAt returns the quantity resting at a bid price, if present.
func (b *Book) BidAt(price decimal.Decimal) (decimal.Decimal, bool) { return b.bids.get(price) }

// AskAt returns the quantity resting at an ask price, if present.
func (b *Book) AskAt(price decimal.Decimal) (decimal.Decimal, bool) { return b.asks.get(price) }

// Crossed reports whether best bid >= best ask. A live venue never serves a
// crossed book, so observing one means local state has diverged.
func (b *Book) Crossed() bool {
	bb, okB := b.bids.highest()
	ba, okA := b.asks.lowest()
	if !okB || !okA {
		return false
	}
	return bb.Price.Cmp(ba.Price) >= 0
}

// LastUpdateID returns the sequence cursor.
func (b *Book) LastUpdateID() int64 { return b.lastUpdateID }

// Depth returns the level counts per side.
func (b *Book) Depth() (bids, asks int) { return b.bids.size(), b.asks.size() }

// View projects the top-K levels per side into an immutable BookView stamped
// with the cursor and capture time. The returned slices are copies.
func (b *Book) View(exchange string, topK int, at time.Time) domain.BookView {
	return domain.BookView{
		Symbol:       b.symbol,
		Exchange:     exchange,
		Bids:         b.bids.topDesc(topK),
		Asks:         b.asks.topAsc(topK),
		BidLevels:    b.bids.size(),
		AskLevels:    b.asks.size(),
		LastUpdateID: b.lastUpdateID,
		CapturedAt:   at,
	}
}
