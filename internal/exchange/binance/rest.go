package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

const (
	// DefaultRESTURL is the production USD-M futures REST endpoint.
	DefaultRESTURL = "https://fapi.binance.com"

	defaultFetchTimeout = 10 * time.Second
	// Depth snapshots are weight-heavy; cap them well under the venue limit.
	defaultSnapshotsPerSecond = 2
)

// SnapshotConfig tunes a SnapshotClient.
type SnapshotConfig struct {
	URL                string
	Timeout            time.Duration
	SnapshotsPerSecond float64
}

func (c *SnapshotConfig) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultRESTURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultFetchTimeout
	}
	if c.SnapshotsPerSecond <= 0 {
		c.SnapshotsPerSecond = defaultSnapshotsPerSecond
	}
}

// depthResponse is /fapi/v1/depth.
type depthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// SnapshotClient fetches full depth snapshots. A global rate limiter spaces
// requests and at most one request per symbol may be in flight.
type SnapshotClient struct {
	cfg     SnapshotConfig
	httpc   *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewSnapshotClient builds a snapshot client.
func NewSnapshotClient(cfg SnapshotConfig, logger *slog.Logger) *SnapshotClient {
	cfg.applyDefaults()
	return &SnapshotClient{
		cfg:      cfg,
		httpc:    &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.SnapshotsPerSecond), 1),
		logger:   logger.With(slog.String("component", "binance_rest")),
		inflight: make(map[string]struct{}),
	}
}

// Fetch returns a full book snapshot for symbol. It is safe to call
// concurrently across symbols; a second concurrent call for the same symbol
// fails with domain.ErrRateLimited.
func (c *SnapshotClient) Fetch(ctx context.Context, symbol string, depthLimit int) (domain.Snapshot, error) {
	c.mu.Lock()
	if _, busy := c.inflight[symbol]; busy {
		c.mu.Unlock()
		return domain.Snapshot{}, fmt.Errorf("binance: snapshot %s already in flight: %w", symbol, domain.ErrRateLimited)
	}
	c.inflight[symbol] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, symbol)
		c.mu.Unlock()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("binance: snapshot rate wait: %w", err)
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(depthLimit))
	reqURL := c.cfg.URL + "/fapi/v1/depth?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("binance: snapshot request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("binance: snapshot fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Snapshot{}, fmt.Errorf("binance: snapshot fetch %s: status %d: %w",
			symbol, resp.StatusCode, domain.ErrSnapshotUnreachable)
	}

	var body depthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Snapshot{}, fmt.Errorf("binance: snapshot decode %s: %w", symbol, err)
	}

	snap := domain.Snapshot{Symbol: symbol, LastUpdateID: body.LastUpdateID}
	if snap.Bids, err = toLevels(body.Bids); err != nil {
		return domain.Snapshot{}, fmt.Errorf("binance: snapshot bids %s: %w", symbol, err)
	}
	if snap.Asks, err = toLevels(body.Asks); err != nil {
		return domain.Snapshot{}, fmt.Errorf("binance: snapshot asks %s: %w", symbol, err)
	}

	c.logger.Info("snapshot fetched",
		slog.String("symbol", symbol),
		slog.Int64("last_update_id", snap.LastUpdateID),
		slog.Int("bids", len(snap.Bids)),
		slog.Int("asks", len(snap.Asks)),
		slog.Duration("took", time.Since(start)))
	return snap, nil
}

func toLevels(pairs [][2]string) ([]domain.Level, error) {
	levels := make([]domain.Level, 0, len(pairs))
	for _, pair := range pairs {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("qty %q: %w", pair[1], err)
		}
		levels = append(levels, domain.Level{Price: price, Qty: qty})
	}
	return levels, nil
}
