package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// BookCache implements domain.BookCache using Redis sorted sets and hashes.
// Prices are stored exactly as decimal strings in the set members and size
// hashes; the float score only orders the set.
//
// Key schema:
//
//	book:{symbol}:bids     - sorted set of bid prices (score = price)
//	book:{symbol}:asks     - sorted set of ask prices (score = price)
//	book:{symbol}:bid:qty  - hash mapping price -> quantity for bids
//	book:{symbol}:ask:qty  - hash mapping price -> quantity for asks
//	book:{symbol}:bbo      - hash with fields "bid" and "ask"
//	book:{symbol}:meta     - hash with exchange, cursor, level counts, ts
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookBidsKey(symbol string) string   { return "book:" + symbol + ":bids" }
func bookAsksKey(symbol string) string   { return "book:" + symbol + ":asks" }
func bookBidQtyKey(symbol string) string { return "book:" + symbol + ":bid:qty" }
func bookAskQtyKey(symbol string) string { return "book:" + symbol + ":ask:qty" }
func bookBBOKey(symbol string) string    { return "book:" + symbol + ":bbo" }
func bookMetaKey(symbol string) string   { return "book:" + symbol + ":meta" }

// SetView atomically replaces the cached view for a symbol. The old keys are
// cleared first so levels removed since the last write do not linger.
func (bc *BookCache) SetView(ctx context.Context, view domain.BookView) error {
	symbol := view.Symbol
	bidsKey := bookBidsKey(symbol)
	asksKey := bookAsksKey(symbol)
	bidQtyKey := bookBidQtyKey(symbol)
	askQtyKey := bookAskQtyKey(symbol)
	bboKey := bookBBOKey(symbol)
	metaKey := bookMetaKey(symbol)

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, bidQtyKey, askQtyKey, bboKey, metaKey)

	for _, lvl := range view.Bids {
		priceStr := lvl.Price.String()
		score, _ := lvl.Price.Float64()
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: score, Member: priceStr})
		pipe.HSet(ctx, bidQtyKey, priceStr, lvl.Qty.String())
	}
	for _, lvl := range view.Asks {
		priceStr := lvl.Price.String()
		score, _ := lvl.Price.Float64()
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: score, Member: priceStr})
		pipe.HSet(ctx, askQtyKey, priceStr, lvl.Qty.String())
	}

	if bb, ok := view.BestBid(); ok {
		pipe.HSet(ctx, bboKey, "bid", bb.Price.String())
	}
	if ba, ok := view.BestAsk(); ok {
		pipe.HSet(ctx, bboKey, "ask", ba.Price.String())
	}

	pipe.HSet(ctx, metaKey,
		"exchange", view.Exchange,
		"last_update_id", strconv.FormatInt(view.LastUpdateID, 10),
		"bid_levels", strconv.Itoa(view.BidLevels),
		"ask_levels", strconv.Itoa(view.AskLevels),
		"ts", strconv.FormatInt(view.CapturedAt.UnixNano(), 10),
	)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book view %s: %w", symbol, err)
	}
	return nil
}

// GetView reconstructs the cached view for a symbol. It returns
// domain.ErrNotFound when no view has been written.
func (bc *BookCache) GetView(ctx context.Context, symbol string) (domain.BookView, error) {
	pipe := bc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRange(ctx, bookBidsKey(symbol), 0, -1)
	asksCmd := pipe.ZRange(ctx, bookAsksKey(symbol), 0, -1)
	bidQtyCmd := pipe.HGetAll(ctx, bookBidQtyKey(symbol))
	askQtyCmd := pipe.HGetAll(ctx, bookAskQtyKey(symbol))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(symbol))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.BookView{}, fmt.Errorf("redis: get book view %s: %w", symbol, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.BookView{}, domain.ErrNotFound
	}

	view := domain.BookView{
		Symbol:   symbol,
		Exchange: meta["exchange"],
	}
	view.LastUpdateID, _ = strconv.ParseInt(meta["last_update_id"], 10, 64)
	view.BidLevels, _ = strconv.Atoi(meta["bid_levels"])
	view.AskLevels, _ = strconv.Atoi(meta["ask_levels"])
	if tsNano, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		view.CapturedAt = time.Unix(0, tsNano).UTC()
	}

	var err error
	bidQty, _ := bidQtyCmd.Result()
	bids, _ := bidsCmd.Result()
	if view.Bids, err = parseLevels(bids, bidQty); err != nil {
		return domain.BookView{}, fmt.Errorf("redis: parse bids %s: %w", symbol, err)
	}
	askQty, _ := askQtyCmd.Result()
	asks, _ := asksCmd.Result()
	if view.Asks, err = parseLevels(asks, askQty); err != nil {
		return domain.BookView{}, fmt.Errorf("redis: parse asks %s: %w", symbol, err)
	}
	return view, nil
}

// GetBBO retrieves the best bid and ask as floats, for dashboards that do not
// need exact decimals. It returns domain.ErrNotFound when no view exists.
func (bc *BookCache) GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error) {
	vals, err := bc.rdb.HGetAll(ctx, bookBBOKey(symbol)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	if bidStr, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(bidStr, 64)
	}
	if askStr, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(askStr, 64)
	}
	return bestBid, bestAsk, nil
}

func parseLevels(prices []string, qtys map[string]string) ([]domain.Level, error) {
	levels := make([]domain.Level, 0, len(prices))
	for _, priceStr := range prices {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", priceStr, err)
		}
		qty := decimal.Zero
		if qtyStr, ok := qtys[priceStr]; ok {
			if qty, err = decimal.NewFromString(qtyStr); err != nil {
				return nil, fmt.Errorf("qty %q: %w", qtyStr, err)
			}
		}
		levels = append(levels, domain.Level{Price: price, Qty: qty})
	}
	return levels, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
