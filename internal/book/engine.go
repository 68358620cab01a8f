package book

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

const (
	defaultTopK              = 50
	defaultDepthLimit        = 1000
	defaultBufferCap         = 4096
	defaultMaxBridgeAttempts = 3
	defaultFetchTimeout      = 10 * time.Second
	defaultResyncWindow      = 60 * time.Second
	latencyRingSize          = 512
)

// EngineConfig tunes one per-symbol engine.
type EngineConfig struct {
	Symbol            string
	Exchange          string
	TopK              int
	DepthLimit        int
	BufferCap         int
	MaxBridgeAttempts int
	FetchTimeout      time.Duration
	// ResyncWindow bounds how many resyncs are tolerated before the book is
	// declared stale: more than MaxBridgeAttempts inside this window gives up.
	ResyncWindow time.Duration
}

func (c *EngineConfig) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.DepthLimit <= 0 {
		c.DepthLimit = defaultDepthLimit
	}
	if c.BufferCap <= 0 {
		c.BufferCap = defaultBufferCap
	}
	if c.MaxBridgeAttempts <= 0 {
		c.MaxBridgeAttempts = defaultMaxBridgeAttempts
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.ResyncWindow <= 0 {
		c.ResyncWindow = defaultResyncWindow
	}
}

// FetchResult is one snapshot attempt outcome delivered on Engine.Snapshots.
type FetchResult struct {
	Snapshot domain.Snapshot
	Err      error
}

// EngineStats is a point-in-time copy of the engine counters.
type EngineStats struct {
	State          domain.BookState
	LastUpdateID   int64
	DeltasApplied  uint64
	DeltasDropped  uint64
	DeltasBuffered uint64
	Gaps           uint64
	Resyncs        uint64
	BridgeFailures uint64
	CrossedBooks   uint64
	ViewsPublished uint64
	LatencyP50     time.Duration
	LatencyP99     time.Duration
	LastError      string
}

// Engine drives the snapshot/delta synchronization protocol for one symbol.
//
// All HandleX methods must be called from a single goroutine (the pipeline's
// book stage). Snapshot fetches run on their own goroutine and deliver
// results on Snapshots(); the owning goroutine feeds them back through
// HandleSnapshot. Stats is safe to call concurrently.
type Engine struct {
	cfg     EngineConfig
	book    *Book
	fetcher domain.SnapshotFetcher
	logger  *slog.Logger

	state    atomic.Int32
	cursor   atomic.Int64
	buffer   []domain.Delta
	fetchCh  chan FetchResult
	fetching bool

	bridgeFails int
	resyncTimes []time.Time

	deltasApplied  atomic.Uint64
	deltasDropped  atomic.Uint64
	deltasBuffered atomic.Uint64
	gaps           atomic.Uint64
	resyncs        atomic.Uint64
	bridgeFailures atomic.Uint64
	crossedBooks   atomic.Uint64
	viewsPublished atomic.Uint64

	mu        sync.Mutex
	latencies []time.Duration
	latIdx    int
	lastErr   string

	now func() time.Time
}

// NewEngine builds an engine in the Uninitialized state.
func NewEngine(cfg EngineConfig, fetcher domain.SnapshotFetcher, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:     cfg,
		book:    NewBook(cfg.Symbol),
		fetcher: fetcher,
		logger:  logger.With(slog.String("component", "book"), slog.String("symbol", cfg.Symbol)),
		fetchCh: make(chan FetchResult, 1),
		now:     time.Now,
	}
	e.state.Store(int32(domain.Uninitialized))
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() domain.BookState {
	return domain.BookState(e.state.Load())
}

// Snapshots delivers the outcome of asynchronous snapshot fetches. The owner
// goroutine must select on this alongside its delta input and route results
// into HandleSnapshot.
func (e *Engine) Snapshots() <-chan FetchResult { return e.fetchCh }

// HandleStreamStart moves an Uninitialized or Live book into Syncing and
// kicks off a snapshot request. Also used for the StreamReset sentinel the
// frame source injects after a reconnect.
func (e *Engine) HandleStreamStart(ctx context.Context) {
	e.enterSyncing(ctx, "stream start")
}

// HandleDelta processes one incremental update. It returns a fresh BookView
// when the delta was applied to a Live book, or nil when the delta was
// buffered or dropped.
func (e *Engine) HandleDelta(ctx context.Context, d domain.Delta) *domain.BookView {
	switch e.State() {
	case domain.Uninitialized:
		e.enterSyncing(ctx, "first delta")
		e.bufferDelta(d)
		return nil
	case domain.Syncing:
		e.bufferDelta(d)
		return nil
	case domain.Stale:
		e.deltasDropped.Add(1)
		return nil
	}

	cursor := e.book.LastUpdateID()
	if d.LastID <= cursor {
		e.deltasDropped.Add(1)
		return nil
	}
	if d.FirstID > cursor+1 {
		e.gaps.Add(1)
		e.logger.Warn("sequence gap",
			slog.Int64("cursor", cursor),
			slog.Int64("first_id", d.FirstID),
			slog.Int64("last_id", d.LastID))
		e.enterSyncing(ctx, "sequence gap")
		return nil
	}

	e.book.Apply(d)
	e.cursor.Store(d.LastID)
	e.deltasApplied.Add(1)

	if e.book.Crossed() {
		e.crossedBooks.Add(1)
		e.logger.Warn("crossed book after delta", slog.Int64("last_id", d.LastID))
		e.enterSyncing(ctx, "crossed book")
		return nil
	}

	now := e.now()
	if !d.EventTime.IsZero() {
		e.recordLatency(now.Sub(d.EventTime))
	}
	view := e.book.View(e.cfg.Exchange, e.cfg.TopK, now)
	e.viewsPublished.Add(1)
	return &view
}

// HandleSnapshot reconciles a fetched snapshot against the buffered deltas.
// It returns a BookView when the book transitions to Live.
func (e *Engine) HandleSnapshot(ctx context.Context, res FetchResult) *domain.BookView {
	e.fetching = false
	if e.State() != domain.Syncing {
		return nil
	}

	if res.Err != nil {
		e.setLastErr(res.Err)
		e.failBridge(ctx, fmt.Sprintf("snapshot fetch: %v", res.Err))
		return nil
	}

	s := res.Snapshot.LastUpdateID

	// Drop buffered deltas fully covered by the snapshot.
	kept := e.buffer[:0]
	for _, d := range e.buffer {
		if d.LastID <= s {
			e.deltasDropped.Add(1)
			continue
		}
		kept = append(kept, d)
	}
	e.buffer = kept

	if len(e.buffer) == 0 || e.buffer[0].FirstID > s+1 {
		e.failBridge(ctx, fmt.Sprintf("no bridging delta for cursor %d", s))
		return nil
	}

	e.book.Restore(res.Snapshot)
	for _, d := range e.buffer {
		if d.LastID <= e.book.LastUpdateID() {
			continue
		}
		if d.FirstID > e.book.LastUpdateID()+1 {
			// Buffered chain itself has a hole; start over.
			e.gaps.Add(1)
			e.enterSyncing(ctx, "gap inside buffered deltas")
			return nil
		}
		e.book.Apply(d)
		e.deltasApplied.Add(1)
	}
	e.cursor.Store(e.book.LastUpdateID())
	e.buffer = e.buffer[:0]
	e.bridgeFails = 0
	e.state.Store(int32(domain.Live))
	e.logger.Info("book live", slog.Int64("last_update_id", e.book.LastUpdateID()))

	view := e.book.View(e.cfg.Exchange, e.cfg.TopK, e.now())
	e.viewsPublished.Add(1)
	return &view
}

// Stats returns a copy of the counters; safe for concurrent use.
func (e *Engine) Stats() EngineStats {
	st := EngineStats{
		State:          e.State(),
		LastUpdateID:   e.cursor.Load(),
		DeltasApplied:  e.deltasApplied.Load(),
		DeltasDropped:  e.deltasDropped.Load(),
		DeltasBuffered: e.deltasBuffered.Load(),
		Gaps:           e.gaps.Load(),
		Resyncs:        e.resyncs.Load(),
		BridgeFailures: e.bridgeFailures.Load(),
		CrossedBooks:   e.crossedBooks.Load(),
		ViewsPublished: e.viewsPublished.Load(),
	}
	e.mu.Lock()
	st.LastError = e.lastErr
	st.LatencyP50, st.LatencyP99 = percentiles(e.latencies)
	e.mu.Unlock()
	return st
}

func (e *Engine) bufferDelta(d domain.Delta) {
	if len(e.buffer) >= e.cfg.BufferCap {
		e.buffer = e.buffer[1:]
		e.deltasDropped.Add(1)
	}
	e.buffer = append(e.buffer, d)
	e.deltasBuffered.Add(1)
}

// enterSyncing resets the buffer, records the resync, and starts a snapshot
// fetch. Too many resyncs inside the window push the book to Stale instead.
func (e *Engine) enterSyncing(ctx context.Context, reason string) {
	if e.State() == domain.Stale {
		return
	}
	now := e.now()
	cutoff := now.Add(-e.cfg.ResyncWindow)
	times := e.resyncTimes[:0]
	for _, t := range e.resyncTimes {
		if t.After(cutoff) {
			times = append(times, t)
		}
	}
	e.resyncTimes = append(times, now)
	if len(e.resyncTimes) > e.cfg.MaxBridgeAttempts {
		e.goStale(fmt.Sprintf("persistent gap: %d resyncs within %s", len(e.resyncTimes), e.cfg.ResyncWindow))
		return
	}

	e.resyncs.Add(1)
	e.state.Store(int32(domain.Syncing))
	e.buffer = e.buffer[:0]
	e.logger.Info("resyncing", slog.String("reason", reason))
	e.requestSnapshot(ctx)
}

// failBridge counts a failed reconciliation attempt and either re-requests a
// snapshot or gives up.
func (e *Engine) failBridge(ctx context.Context, reason string) {
	e.bridgeFails++
	e.bridgeFailures.Add(1)
	if e.bridgeFails >= e.cfg.MaxBridgeAttempts {
		e.goStale(reason)
		return
	}
	e.logger.Warn("bridge failed, refetching snapshot",
		slog.Int("attempt", e.bridgeFails),
		slog.String("reason", reason))
	e.requestSnapshot(ctx)
}

func (e *Engine) goStale(reason string) {
	e.state.Store(int32(domain.Stale))
	e.buffer = e.buffer[:0]
	e.bridgeFails = 0
	e.setLastErr(fmt.Errorf("book: %s: %w", reason, domain.ErrBookStale))
	e.logger.Error("book stale", slog.String("reason", reason))
}

func (e *Engine) requestSnapshot(ctx context.Context) {
	if e.fetching {
		return
	}
	e.fetching = true
	go func() {
		fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()
		snap, err := e.fetcher.Fetch(fctx, e.cfg.Symbol, e.cfg.DepthLimit)
		select {
		case e.fetchCh <- FetchResult{Snapshot: snap, Err: err}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) recordLatency(d time.Duration) {
	if d < 0 {
		return
	}
	e.mu.Lock()
	if len(e.latencies) < latencyRingSize {
		e.latencies = append(e.latencies, d)
	} else {
		e.latencies[e.latIdx] = d
		e.latIdx = (e.latIdx + 1) % latencyRingSize
	}
	e.mu.Unlock()
}

func (e *Engine) setLastErr(err error) {
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
}

func percentiles(samples []time.Duration) (p50, p99 time.Duration) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	p50 = sorted[len(sorted)/2]
	i99 := len(sorted) * 99 / 100
	if i99 >= len(sorted) {
		i99 = len(sorted) - 1
	}
	p99 = sorted[i99]
	return p50, p99
}
