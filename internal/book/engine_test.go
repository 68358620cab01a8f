package book

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

type stubFetcher struct {
	mu    sync.Mutex
	queue []FetchResult
}

func (f *stubFetcher) push(snap domain.Snapshot, err error) {
	f.mu.Lock()
	f.queue = append(f.queue, FetchResult{Snapshot: snap, Err: err})
	f.mu.Unlock()
}

func (f *stubFetcher) Fetch(_ context.Context, _ string, _ int) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return domain.Snapshot{}, domain.ErrSnapshotUnreachable
	}
	res := f.queue[0]
	f.queue = f.queue[1:]
	return res.Snapshot, res.Err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(t *testing.T, f domain.SnapshotFetcher) *Engine {
	t.Helper()
	return NewEngine(EngineConfig{Symbol: "BTCUSDT", Exchange: "binance_futures"}, f, testLogger())
}

func snapAt(id int64) domain.Snapshot {
	return domain.Snapshot{
		Symbol:       "BTCUSDT",
		LastUpdateID: id,
		Bids:         []domain.Level{lvl("100", "1")},
		Asks:         []domain.Level{lvl("101", "1")},
	}
}

func deltaRange(first, last int64) domain.Delta {
	return domain.Delta{
		Symbol:  "BTCUSDT",
		FirstID: first,
		LastID:  last,
		Bids:    []domain.Level{lvl("100", "2")},
	}
}

// makeLive drives the engine through one full sync cycle ending at cursor.
func makeLive(t *testing.T, ctx context.Context, e *Engine, f *stubFetcher, cursor int64) {
	t.Helper()
	f.push(snapAt(cursor-5), nil)
	if e.State() == domain.Uninitialized {
		e.HandleStreamStart(ctx)
	}
	require.Equal(t, domain.Syncing, e.State())
	require.Nil(t, e.HandleDelta(ctx, deltaRange(cursor-6, cursor)))
	res := <-e.Snapshots()
	view := e.HandleSnapshot(ctx, res)
	require.NotNil(t, view)
	require.Equal(t, domain.Live, e.State())
	require.Equal(t, cursor, view.LastUpdateID)
}

func TestGapTriggersResyncAndBridgeRecovers(t *testing.T) {
	ctx := context.Background()
	f := &stubFetcher{}
	e := testEngine(t, f)

	makeLive(t, ctx, e, f, 100)

	// Gap: cursor 100, next delta starts at 105.
	f.push(snapAt(110), nil)
	view := e.HandleDelta(ctx, deltaRange(105, 107))
	assert.Nil(t, view)
	assert.Equal(t, domain.Syncing, e.State())

	// Bridge delta covers S+1 = 111.
	require.Nil(t, e.HandleDelta(ctx, deltaRange(108, 112)))
	res := <-e.Snapshots()
	view = e.HandleSnapshot(ctx, res)
	require.NotNil(t, view)
	assert.Equal(t, domain.Live, e.State())
	assert.Equal(t, int64(112), view.LastUpdateID)
	assert.Equal(t, uint64(1), e.Stats().Gaps)
}

func TestStaleDeltaDropped(t *testing.T) {
	ctx := context.Background()
	f := &stubFetcher{}
	e := testEngine(t, f)
	makeLive(t, ctx, e, f, 100)

	dropped := e.Stats().DeltasDropped
	assert.Nil(t, e.HandleDelta(ctx, deltaRange(95, 100)))
	assert.Equal(t, domain.Live, e.State())
	assert.Equal(t, dropped+1, e.Stats().DeltasDropped)
}

func TestContiguousDeltaApplies(t *testing.T) {
	ctx := context.Background()
	f := &stubFetcher{}
	e := testEngine(t, f)
	makeLive(t, ctx, e, f, 100)

	view := e.HandleDelta(ctx, deltaRange(101, 103))
	require.NotNil(t, view)
	assert.Equal(t, int64(103), view.LastUpdateID)

	// A delta overlapping the cursor but extending past it still applies.
	view = e.HandleDelta(ctx, deltaRange(102, 105))
	require.NotNil(t, view)
	assert.Equal(t, int64(105), view.LastUpdateID)
}

func TestNoBridgeRefetchesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := &stubFetcher{}
	e := testEngine(t, f)

	// First snapshot at 100 covers the only buffered delta, so no bridge.
	f.push(snapAt(100), nil)
	e.HandleStreamStart(ctx)
	require.Nil(t, e.HandleDelta(ctx, deltaRange(90, 95)))

	f.push(snapAt(100), nil)
	res := <-e.Snapshots()
	require.Nil(t, e.HandleSnapshot(ctx, res))
	assert.Equal(t, domain.Syncing, e.State())
	assert.Equal(t, uint64(1), e.Stats().BridgeFailures)

	// Second attempt with a bridging delta succeeds.
	require.Nil(t, e.HandleDelta(ctx, deltaRange(98, 105)))
	res = <-e.Snapshots()
	view := e.HandleSnapshot(ctx, res)
	require.NotNil(t, view)
	assert.Equal(t, domain.Live, e.State())
	assert.Equal(t, int64(105), view.LastUpdateID)
}

func TestThreeBridgeFailuresGoStale(t *testing.T) {
	ctx := context.Background()
	f := &stubFetcher{} // empty queue: every fetch errors
	e := testEngine(t, f)
	e.HandleStreamStart(ctx)

	for i := 0; i < 3; i++ {
		res := <-e.Snapshots()
		require.Error(t, res.Err)
		require.Nil(t, e.HandleSnapshot(ctx, res))
	}
	assert.Equal(t, domain.Stale, e.State())
	assert.Contains(t, e.Stats().LastError, "stale")

	// Stale books drop everything.
	dropped := e.Stats().DeltasDropped
	assert.Nil(t, e.HandleDelta(ctx, deltaRange(1, 2)))
	assert.Equal(t, dropped+1, e.Stats().DeltasDropped)
}

func TestCrossedBookForcesResync(t *testing.T) {
	ctx := context.Background()
	f := &stubFetcher{}
	e := testEngine(t, f)
	makeLive(t, ctx, e, f, 100)

	f.push(snapAt(200), nil)
	crossing := domain.Delta{
		Symbol:  "BTCUSDT",
		FirstID: 101,
		LastID:  101,
		Bids:    []domain.Level{lvl("102", "1")}, // above the resting 101 ask
	}
	assert.Nil(t, e.HandleDelta(ctx, crossing))
	assert.Equal(t, domain.Syncing, e.State())
	assert.Equal(t, uint64(1), e.Stats().CrossedBooks)
}

func TestPersistentResyncsGoStale(t *testing.T) {
	ctx := context.Background()
	f := &stubFetcher{}
	e := testEngine(t, f)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	makeLive(t, ctx, e, f, 100) // resync 1
	cursor := int64(100)
	for i := 0; i < 2; i++ { // resyncs 2 and 3
		f.push(snapAt(cursor+110), nil)
		require.Nil(t, e.HandleDelta(ctx, deltaRange(cursor+5, cursor+7)))
		require.Equal(t, domain.Syncing, e.State())
		require.Nil(t, e.HandleDelta(ctx, deltaRange(cursor+108, cursor+112)))
		res := <-e.Snapshots()
		require.NotNil(t, e.HandleSnapshot(ctx, res))
		cursor += 112
	}

	// Fourth resync inside the window tips the book to Stale.
	assert.Nil(t, e.HandleDelta(ctx, deltaRange(cursor+5, cursor+7)))
	assert.Equal(t, domain.Stale, e.State())
}

func TestSyncBufferBounded(t *testing.T) {
	ctx := context.Background()
	f := &stubFetcher{}
	e := NewEngine(EngineConfig{Symbol: "BTCUSDT", BufferCap: 2}, f, testLogger())
	e.HandleStreamStart(ctx)

	require.Nil(t, e.HandleDelta(ctx, deltaRange(1, 2)))
	require.Nil(t, e.HandleDelta(ctx, deltaRange(3, 4)))
	require.Nil(t, e.HandleDelta(ctx, deltaRange(5, 6)))

	assert.Len(t, e.buffer, 2)
	assert.Equal(t, int64(3), e.buffer[0].FirstID)
	assert.Equal(t, uint64(1), e.Stats().DeltasDropped)
}
