// Package book maintains per-symbol level-2 order books reconstructed from an
// exchange's incremental depth stream, including the snapshot/delta
// synchronization protocol and its gap recovery.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// ladder is one side of the book. Levels are kept sorted ascending by price,
// so the best ask is the first element and the best bid the last.
type ladder struct {
	levels []domain.Level
}

// search returns the index of price in the sorted slice, or the insertion
// point and false when absent.
func (l *ladder) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(l.levels), func(i int) bool {
		return l.levels[i].Price.Cmp(price) >= 0
	})
	if i < len(l.levels) && l.levels[i].Price.Equal(price) {
		return i, true
	}
	return i, false
}

// set inserts or overwrites the level at price. A zero qty removes the level;
// removing a missing price is a no-op.
func (l *ladder) set(price, qty decimal.Decimal) {
	i, found := l.search(price)
	if qty.IsZero() {
		if found {
			l.levels = append(l.levels[:i], l.levels[i+1:]...)
		}
		return
	}
	if found {
		l.levels[i].Qty = qty
		return
	}
	l.levels = append(l.levels, domain.Level{})
	copy(l.levels[i+1:], l.levels[i:])
	l.levels[i] = domain.Level{Price: price, Qty: qty}
}

// get returns the quantity resting at price.
func (l *ladder) get(price decimal.Decimal) (decimal.Decimal, bool) {
	if i, found := l.search(price); found {
		return l.levels[i].Qty, true
	}
	return decimal.Decimal{}, false
}

// lowest returns the minimum-price level.
func (l *ladder) lowest() (domain.Level, bool) {
	if len(l.levels) == 0 {
		return domain.Level{}, false
	}
	return l.levels[0], true
}

// highest returns the maximum-price level.
func (l *ladder) highest() (domain.Level, bool) {
	if len(l.levels) == 0 {
		return domain.Level{}, false
	}
	return l.levels[len(l.levels)-1], true
}

// topAsc copies up to k levels in ascending price order.
func (l *ladder) topAsc(k int) []domain.Level {
	if k > len(l.levels) {
		k = len(l.levels)
	}
	out := make([]domain.Level, k)
	copy(out, l.levels[:k])
	return out
}

// topDesc copies up to k levels in descending price order.
func (l *ladder) topDesc(k int) []domain.Level {
	if k > len(l.levels) {
		k = len(l.levels)
	}
	out := make([]domain.Level, 0, k)
	for i := len(l.levels) - 1; i >= len(l.levels)-k; i-- {
		out = append(out, l.levels[i])
	}
	return out
}

func (l *ladder) size() int { return len(l.levels) }

func (l *ladder) clear() { l.levels = l.levels[:0] }

// replace discards the current contents and installs the given levels,
// skipping zero quantities. The input is not assumed sorted.
func (l *ladder) replace(levels []domain.Level) {
	l.levels = l.levels[:0]
	for _, lvl := range levels {
		if lvl.Qty.IsZero() {
			continue
		}
		l.levels = append(l.levels, lvl)
	}
	sort.Slice(l.levels, func(i, j int) bool {
		return l.levels[i].Price.Cmp(l.levels[j].Price) < 0
	})
}
