package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/anomaly"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/book"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/metrics"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/parser"
)

const (
	defaultFrameQueueCap    = 1024
	defaultDeltaQueueCap    = 1024
	defaultViewQueueCap     = 16
	defaultSampleQueueCap   = 64
	defaultSnapshotQueueCap = 256
	defaultEventQueueCap    = 64
	defaultBatchSize        = 50
	defaultFlushInterval    = 2 * time.Second
	flushTimeout            = 5 * time.Second
	cacheWriteTimeout       = 500 * time.Millisecond
)

// MonitorConfig tunes the per-symbol pipeline.
type MonitorConfig struct {
	Symbol   string
	Exchange string

	FrameQueueCap    int
	DeltaQueueCap    int
	ViewQueueCap     int
	SampleQueueCap   int
	SnapshotQueueCap int
	EventQueueCap    int

	SnapshotBatchSize int
	FlushInterval     time.Duration
}

func (c *MonitorConfig) applyDefaults() {
	if c.FrameQueueCap <= 0 {
		c.FrameQueueCap = defaultFrameQueueCap
	}
	if c.DeltaQueueCap <= 0 {
		c.DeltaQueueCap = defaultDeltaQueueCap
	}
	if c.ViewQueueCap <= 0 {
		c.ViewQueueCap = defaultViewQueueCap
	}
	if c.SampleQueueCap <= 0 {
		c.SampleQueueCap = defaultSampleQueueCap
	}
	if c.SnapshotQueueCap <= 0 {
		c.SnapshotQueueCap = defaultSnapshotQueueCap
	}
	if c.EventQueueCap <= 0 {
		c.EventQueueCap = defaultEventQueueCap
	}
	if c.SnapshotBatchSize <= 0 {
		c.SnapshotBatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
}

// bookInput carries either a parsed delta or a stream-reset marker from the
// parse stage to the book stage, preserving their relative order.
type bookInput struct {
	Reset bool
	Delta domain.Delta
}

// MonitorStats aggregates one symbol's stage counters for introspection.
type MonitorStats struct {
	Symbol       string
	Book         book.EngineStats
	Parser       parser.Stats
	Metrics      metrics.Stats
	Detector     anomaly.Stats
	Frames       QueueStats
	Deltas       QueueStats
	Views        QueueStats
	Samples      QueueStats
	Snapshots    QueueStats
	Events       QueueStats
	SinkErrors   uint64
	LastSinkErr  string
}

// Monitor runs the full pipeline for one symbol: frame reader, parser, book
// engine, metrics engine, anomaly detector, and the two sink workers. Books
// are share-nothing: every stage that mutates state runs on exactly one
// goroutine.
type Monitor struct {
	cfg      MonitorConfig
	source   domain.FrameSource
	parser   *parser.Parser
	engine   *book.Engine
	metrics  *metrics.Engine
	detector *anomaly.Detector
	snapSink domain.SnapshotSink
	evtSink  domain.EventSink
	cache    domain.BookCache
	logger   *slog.Logger

	frames  *Queue[domain.Frame]
	deltas  *Queue[bookInput]
	views   *Queue[domain.BookView]
	samples *Queue[*domain.MetricsSample]
	snaps   *Queue[*domain.MetricsSample]
	events  *Queue[*domain.AnomalyEvent]

	sinkErrs    atomic.Uint64
	lastSinkErr atomic.Value // string
}

// NewMonitor assembles the pipeline for one symbol. cache may be nil.
func NewMonitor(
	cfg MonitorConfig,
	source domain.FrameSource,
	bookEngine *book.Engine,
	metricsEngine *metrics.Engine,
	detector *anomaly.Detector,
	snapSink domain.SnapshotSink,
	evtSink domain.EventSink,
	cache domain.BookCache,
	logger *slog.Logger,
) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:      cfg,
		source:   source,
		parser:   parser.New(logger),
		engine:   bookEngine,
		metrics:  metricsEngine,
		detector: detector,
		snapSink: snapSink,
		evtSink:  evtSink,
		cache:    cache,
		logger:   logger.With(slog.String("component", "monitor"), slog.String("symbol", cfg.Symbol)),
		frames:   NewQueue[domain.Frame](cfg.FrameQueueCap, DropOldest),
		deltas:   NewQueue[bookInput](cfg.DeltaQueueCap, BlockThenDrop),
		views:    NewQueue[domain.BookView](cfg.ViewQueueCap, DropOldest),
		samples:  NewQueue[*domain.MetricsSample](cfg.SampleQueueCap, Block),
		snaps:    NewQueue[*domain.MetricsSample](cfg.SnapshotQueueCap, Block),
		events:   NewQueue[*domain.AnomalyEvent](cfg.EventQueueCap, Block),
	}
}

// Run executes all stages until ctx is cancelled or the frame source fails
// terminally. Queues are closed producer-side so downstream stages drain
// before exiting.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor starting")
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.runReader(ctx) })
	g.Go(func() error { return m.runParser(ctx) })
	g.Go(func() error { return m.runBook(ctx) })
	g.Go(func() error { return m.runMetrics(ctx) })
	g.Go(func() error { return m.runDetector(ctx) })
	g.Go(func() error { return m.runSnapshotSink(ctx) })
	g.Go(func() error { return m.runEventSink(ctx) })

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("monitor stopped with error", slog.String("error", err.Error()))
		return err
	}
	m.logger.Info("monitor stopped")
	return nil
}

// Stats aggregates the stage counters; safe for concurrent use.
func (m *Monitor) Stats() MonitorStats {
	st := MonitorStats{
		Symbol:     m.cfg.Symbol,
		Book:       m.engine.Stats(),
		Parser:     m.parser.Stats(),
		Metrics:    m.metrics.Stats(),
		Detector:   m.detector.Stats(),
		Frames:     m.frames.Stats(),
		Deltas:     m.deltas.Stats(),
		Views:      m.views.Stats(),
		Samples:    m.samples.Stats(),
		Snapshots:  m.snaps.Stats(),
		Events:     m.events.Stats(),
		SinkErrors: m.sinkErrs.Load(),
	}
	if v, ok := m.lastSinkErr.Load().(string); ok {
		st.LastSinkErr = v
	}
	return st
}

func (m *Monitor) runReader(ctx context.Context) error {
	defer m.frames.Close()

	if err := m.source.Connect(ctx, []string{m.cfg.Symbol}); err != nil {
		return fmt.Errorf("pipeline: connect %s: %w", m.cfg.Symbol, err)
	}
	defer m.source.Close()

	for {
		frame, err := m.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline: frame source %s: %w", m.cfg.Symbol, err)
		}
		if frame.Kind == domain.FrameEndOfStream {
			m.logger.Info("frame source ended")
			return nil
		}
		if err := m.frames.Push(ctx, frame); err != nil {
			return nil
		}
	}
}

func (m *Monitor) runParser(ctx context.Context) error {
	defer m.deltas.Close()

	for {
		frame, err := m.frames.Pop(ctx)
		if err != nil {
			return nil
		}
		switch frame.Kind {
		case domain.FrameStreamReset:
			if err := m.deltas.Push(ctx, bookInput{Reset: true}); err != nil {
				return nil
			}
		case domain.FrameData:
			delta, ok := m.parser.Parse(frame)
			if !ok {
				continue
			}
			if err := m.deltas.Push(ctx, bookInput{Delta: delta}); err != nil {
				return nil
			}
		}
	}
}

func (m *Monitor) runBook(ctx context.Context) error {
	defer m.views.Close()

	m.engine.HandleStreamStart(ctx)

	publish := func(view *domain.BookView) {
		if view != nil {
			_ = m.views.Push(ctx, *view)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case res := <-m.engine.Snapshots():
			publish(m.engine.HandleSnapshot(ctx, res))
		case in := <-m.deltas.C():
			publish(m.handleBookInput(ctx, in))
		case <-m.deltas.Done():
			for {
				in, ok := m.deltas.TryPop()
				if !ok {
					return nil
				}
				publish(m.handleBookInput(ctx, in))
			}
		}
	}
}

func (m *Monitor) handleBookInput(ctx context.Context, in bookInput) *domain.BookView {
	if in.Reset {
		m.engine.HandleStreamStart(ctx)
		return nil
	}
	return m.engine.HandleDelta(ctx, in.Delta)
}

func (m *Monitor) runMetrics(ctx context.Context) error {
	defer m.samples.Close()
	defer m.snaps.Close()

	for {
		view, err := m.views.Pop(ctx)
		if err != nil {
			return nil
		}
		sample := m.metrics.OnView(view)
		if sample == nil {
			continue
		}
		m.mirrorView(ctx, view)
		if err := m.samples.Push(ctx, sample); err != nil {
			return nil
		}
		if m.snapSink != nil {
			if err := m.snaps.Push(ctx, sample); err != nil {
				return nil
			}
		}
	}
}

// mirrorView writes the latest view to the shared cache. Best-effort: a cache
// failure must never stall the pipeline.
func (m *Monitor) mirrorView(ctx context.Context, view domain.BookView) {
	if m.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, cacheWriteTimeout)
	defer cancel()
	if err := m.cache.SetView(cctx, view); err != nil {
		m.logger.Debug("book cache write failed", slog.String("error", err.Error()))
	}
}

func (m *Monitor) runDetector(ctx context.Context) error {
	defer m.events.Close()

	for {
		sample, err := m.samples.Pop(ctx)
		if err != nil {
			return nil
		}
		event := m.detector.OnSample(sample)
		if event == nil || m.evtSink == nil {
			continue
		}
		if err := m.events.Push(ctx, event); err != nil {
			return nil
		}
	}
}

func (m *Monitor) runSnapshotSink(ctx context.Context) error {
	if m.snapSink == nil {
		return nil
	}
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.MetricsSample, 0, m.cfg.SnapshotBatchSize)
	flush := func(fctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := m.snapSink.WriteSnapshotBatch(fctx, batch); err != nil {
			m.recordSinkErr(fmt.Errorf("pipeline: snapshot batch: %w", err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			m.drainSnaps(&batch)
			flush(fctx)
			cancel()
			return nil
		case <-ticker.C:
			flush(ctx)
		case sample := <-m.snaps.C():
			batch = append(batch, *sample)
			if len(batch) >= m.cfg.SnapshotBatchSize {
				flush(ctx)
			}
		case <-m.snaps.Done():
			m.drainSnaps(&batch)
			fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			flush(fctx)
			cancel()
			return nil
		}
	}
}

func (m *Monitor) drainSnaps(batch *[]domain.MetricsSample) {
	for {
		sample, ok := m.snaps.TryPop()
		if !ok {
			return
		}
		*batch = append(*batch, *sample)
	}
}

func (m *Monitor) runEventSink(ctx context.Context) error {
	if m.evtSink == nil {
		return nil
	}
	write := func(wctx context.Context, event *domain.AnomalyEvent) {
		if err := m.evtSink.WriteEvent(wctx, *event); err != nil {
			m.recordSinkErr(fmt.Errorf("pipeline: event write: %w", err))
		}
	}

	for {
		event, err := m.events.Pop(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrQueueClosed) {
				return nil
			}
			// Cancelled: flush whatever is still queued.
			for {
				ev, ok := m.events.TryPop()
				if !ok {
					return nil
				}
				fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
				write(fctx, ev)
				cancel()
			}
		}
		write(ctx, event)
	}
}

func (m *Monitor) recordSinkErr(err error) {
	m.sinkErrs.Add(1)
	m.lastSinkErr.Store(err.Error())
	m.logger.Error("sink write failed", slog.String("error", err.Error()))
}
