package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/anomaly"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/book"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/exchange/binance"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/metrics"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/pipeline"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/server"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/server/handler"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// MonitorMode runs the per-symbol pipelines without any persistence. Anomaly
// events are logged and, when channels are configured, notified.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	evtSink := newEventFanout(nil, nil, deps.Notifier, a.logger)
	monitors := a.buildMonitors(nil, evtSink, nil)
	a.runMonitors(ctx, g, monitors)
	a.startSupervisor(ctx, g, monitors)

	return g.Wait()
}

// RecordMode runs the pipelines with postgres persistence and, when enabled,
// periodic archival to object storage.
func (a *App) RecordMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting record mode")

	g, ctx := errgroup.WithContext(ctx)

	evtSink := newEventFanout(deps.EventSink, nil, deps.Notifier, a.logger)
	monitors := a.buildMonitors(deps.SnapshotSink, evtSink, nil)
	a.runMonitors(ctx, g, monitors)
	a.startSupervisor(ctx, g, monitors)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything: pipelines, persistence, archival, the redis book
// mirror and event bus, and the HTTP/WS API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	evtSink := newEventFanout(deps.EventSink, deps.EventBus, deps.Notifier, a.logger)
	monitors := a.buildMonitors(deps.SnapshotSink, evtSink, deps.BookCache)
	a.runMonitors(ctx, g, monitors)
	a.startSupervisor(ctx, g, monitors)
	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, monitors)
	}

	return g.Wait()
}

// buildMonitors assembles one pipeline per configured symbol. The snapshot
// client is shared: its rate limiter spaces depth requests venue-wide.
func (a *App) buildMonitors(snapSink domain.SnapshotSink, evtSink domain.EventSink, cache domain.BookCache) []*pipeline.Monitor {
	snapClient := binance.NewSnapshotClient(binance.SnapshotConfig{
		URL:                a.cfg.Exchange.RestURL,
		Timeout:            a.cfg.Exchange.SnapshotTimeout.Duration,
		SnapshotsPerSecond: a.cfg.Exchange.SnapshotsPerSecond,
	}, a.logger)

	notionals := make([]decimal.Decimal, 0, len(a.cfg.Metrics.NotionalsUSD))
	for _, n := range a.cfg.Metrics.NotionalsUSD {
		notionals = append(notionals, decimal.NewFromFloat(n))
	}

	monitors := make([]*pipeline.Monitor, 0, len(a.cfg.Symbols))
	for _, symbol := range a.cfg.Symbols {
		source := binance.NewStreamSource(binance.StreamConfig{
			URL:               a.cfg.Exchange.StreamURL,
			ReconnectDelay:    a.cfg.Exchange.ReconnectDelay.Duration,
			MaxReconnectDelay: a.cfg.Exchange.MaxReconnectDelay.Duration,
		}, a.logger)

		bookEngine := book.NewEngine(book.EngineConfig{
			Symbol:            symbol,
			Exchange:          a.cfg.Exchange.Name,
			TopK:              a.cfg.Book.TopK,
			DepthLimit:        a.cfg.Exchange.DepthLimit,
			BufferCap:         a.cfg.Book.BufferCap,
			MaxBridgeAttempts: a.cfg.Book.MaxBridgeAttempts,
			FetchTimeout:      a.cfg.Exchange.SnapshotTimeout.Duration,
			ResyncWindow:      a.cfg.Book.ResyncWindow.Duration,
		}, snapClient, a.logger)

		metricsEngine := metrics.NewEngine(metrics.Config{
			Exchange:        a.cfg.Exchange.Name,
			DepthBandsBps:   a.cfg.Metrics.DepthBandsBps,
			ImbalanceLevels: a.cfg.Metrics.ImbalanceLevels,
			NotionalsUSD:    notionals,
			Period:          a.cfg.Metrics.Period.Duration,
		}, a.logger)

		detector := anomaly.NewDetector(anomaly.Config{
			WindowSize: a.cfg.Anomaly.WindowSize,
			MinSamples: a.cfg.Anomaly.MinSamples,
			Cooldown:   a.cfg.Anomaly.Cooldown.Duration,
			Threshold:  a.cfg.Anomaly.WarningZ,
			HighZ:      a.cfg.Anomaly.HighZ,
			CriticalZ:  a.cfg.Anomaly.CriticalZ,
		}, a.logger)

		monitors = append(monitors, pipeline.NewMonitor(pipeline.MonitorConfig{
			Symbol:            symbol,
			Exchange:          a.cfg.Exchange.Name,
			SnapshotBatchSize: a.cfg.Pipeline.BatchSize,
			FlushInterval:     a.cfg.Pipeline.FlushInterval.Duration,
		}, source, bookEngine, metricsEngine, detector, snapSink, evtSink, cache, a.logger))
	}
	return monitors
}

func (a *App) runMonitors(ctx context.Context, g *errgroup.Group, monitors []*pipeline.Monitor) {
	for _, m := range monitors {
		m := m
		g.Go(func() error {
			return m.Run(ctx)
		})
	}
}

// startSupervisor adds the degradation watchdog to the group. Its error
// cancels the group, which is how a pipeline stuck past the terminal
// deadline brings the process down.
func (a *App) startSupervisor(ctx context.Context, g *errgroup.Group, monitors []*pipeline.Monitor) {
	sources := make([]statsSource, 0, len(monitors))
	for _, m := range monitors {
		sources = append(sources, m)
	}
	sup := newSupervisor(sources, a.logger)
	g.Go(func() error {
		return sup.run(ctx)
	})
}

// startArchiver adds the periodic archive loop to the group when archival is
// wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	arch := pipeline.NewArchiver(
		deps.Archiver,
		a.cfg.Pipeline.ArchiveRetentionDays,
		a.cfg.Pipeline.ArchiveInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return arch.RunPeriodic(ctx)
	})
}

// startServer adds the HTTP/WS API goroutines to the group. Handlers whose
// backing dependency is not wired are left unregistered.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, monitors []*pipeline.Monitor) {
	health := func() (bool, map[string]any) {
		healthy := true
		detail := make(map[string]any, len(monitors))
		for _, m := range monitors {
			st := m.Stats()
			detail[st.Symbol] = map[string]any{
				"state":       st.Book.State.String(),
				"sink_errors": st.SinkErrors,
			}
			if st.Book.State == domain.Stale {
				healthy = false
			}
		}
		return healthy, detail
	}

	status := func() any {
		out := make(map[string]pipeline.MonitorStats, len(monitors))
		for _, m := range monitors {
			st := m.Stats()
			out[st.Symbol] = st
		}
		return out
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(health, a.logger),
		Status: handler.NewStatusHandler(status, time.Now().UTC()),
	}
	if deps.SnapshotSink != nil {
		handlers.Snapshots = handler.NewSnapshotHandler(deps.SnapshotSink, a.logger)
	}
	if deps.EventSink != nil {
		handlers.Events = handler.NewEventHandler(deps.EventSink, a.logger)
	}
	if deps.BookCache != nil {
		handlers.Books = handler.NewBookHandler(deps.BookCache, a.logger)
	}

	var hub *ws.Hub
	if deps.EventBus != nil {
		hub = ws.NewHub(deps.EventBus, a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
