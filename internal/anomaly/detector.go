package anomaly

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// Monitored metric names.
const (
	MetricSpreadBps   = "spread_bps"
	MetricDepth10Bps  = "depth_10bps_usd"
	MetricImbalance   = "imbalance"
	defaultWindowSize = 300
	defaultMinSamples = 30
	defaultCooldown   = 5 * time.Second
	defaultThreshold  = 3.0
	defaultHighZ      = 4.0
	defaultCriticalZ  = 5.0
	depthBandForState = 10
)

// Config tunes the detector.
type Config struct {
	WindowSize int
	MinSamples int
	// Cooldown suppresses repeat events per (exchange, symbol) unless
	// severity strictly increases.
	Cooldown  time.Duration
	Threshold float64
	HighZ     float64
	CriticalZ float64
	// Metrics restricts the monitored set; empty means all.
	Metrics []string
}

func (c *Config) applyDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = defaultWindowSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = defaultMinSamples
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.HighZ <= 0 {
		c.HighZ = defaultHighZ
	}
	if c.CriticalZ <= 0 {
		c.CriticalZ = defaultCriticalZ
	}
	if len(c.Metrics) == 0 {
		c.Metrics = []string{MetricSpreadBps, MetricDepth10Bps, MetricImbalance}
	}
}

// Stats is a point-in-time copy of the detector counters.
type Stats struct {
	SamplesSeen uint64
	Emitted     uint64
	Suppressed  uint64
	NonFinite   uint64
}

type lastEmit struct {
	at       time.Time
	severity domain.Severity
}

// Detector keeps one rolling window per (exchange, symbol, metric). Windows
// are never reset, so the statistical baseline survives stream reconnects.
// OnSample must be called from a single goroutine.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	windows map[string]map[string]*Window // (exchange|symbol) -> metric -> window
	last    map[string]lastEmit

	samplesSeen atomic.Uint64
	emitted     atomic.Uint64
	suppressed  atomic.Uint64
	nonFinite   atomic.Uint64
}

// NewDetector builds a detector.
func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "anomaly")),
		windows: make(map[string]map[string]*Window),
		last:    make(map[string]lastEmit),
	}
}

// OnSample folds one metrics sample into the rolling baselines and returns an
// event when any monitored metric's |z| crosses the threshold and the symbol
// is outside its cooldown.
func (d *Detector) OnSample(sample *domain.MetricsSample) *domain.AnomalyEvent {
	d.samplesSeen.Add(1)
	key := sample.Exchange + "|" + sample.Symbol

	wins, ok := d.windows[key]
	if !ok {
		wins = make(map[string]*Window, len(d.cfg.Metrics))
		d.windows[key] = wins
	}

	type offender struct {
		name string
		z    float64
	}
	zscores := make(map[string]float64, len(d.cfg.Metrics))
	var offenders []offender

	for _, name := range d.cfg.Metrics {
		x, ok := extract(sample, name)
		if !ok {
			continue
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			d.nonFinite.Add(1)
			continue
		}
		w, ok := wins[name]
		if !ok {
			w = NewWindow(d.cfg.WindowSize)
			wins[name] = w
		}
		w.Add(x)
		if w.Len() < d.cfg.MinSamples {
			continue
		}
		z := w.ZScore(x)
		zscores[name] = z
		// The warning band is inclusive: |z| exactly at the threshold
		// deviates.
		if math.Abs(z) >= d.cfg.Threshold {
			offenders = append(offenders, offender{name: name, z: z})
		}
	}

	if len(offenders) == 0 {
		return nil
	}

	sort.Slice(offenders, func(i, j int) bool {
		return math.Abs(offenders[i].z) > math.Abs(offenders[j].z)
	})
	maxZ := math.Abs(offenders[0].z)
	severity := d.classify(maxZ)

	if prev, ok := d.last[key]; ok {
		if sample.Timestamp.Sub(prev.at) < d.cfg.Cooldown && !severity.GreaterThan(prev.severity) {
			d.suppressed.Add(1)
			return nil
		}
	}
	d.last[key] = lastEmit{at: sample.Timestamp, severity: severity}

	reasons := make([]string, len(offenders))
	for i, o := range offenders {
		reasons[i] = fmt.Sprintf("%s %.1fσ from baseline", o.name, math.Abs(o.z))
	}

	event := &domain.AnomalyEvent{
		EventID:    uuid.NewString(),
		Symbol:     sample.Symbol,
		Exchange:   sample.Exchange,
		DetectedAt: sample.Timestamp,
		Severity:   severity,
		Reason:     strings.Join(reasons, "; "),
		ZScores:    zscores,
		MaxZ:       maxZ,
		State:      marketState(sample),
	}
	d.emitted.Add(1)
	d.logger.Warn("liquidity anomaly",
		slog.String("symbol", sample.Symbol),
		slog.String("severity", string(severity)),
		slog.Float64("max_z", maxZ),
		slog.String("reason", event.Reason))
	return event
}

// Stats returns a copy of the counters; safe for concurrent use.
func (d *Detector) Stats() Stats {
	return Stats{
		SamplesSeen: d.samplesSeen.Load(),
		Emitted:     d.emitted.Load(),
		Suppressed:  d.suppressed.Load(),
		NonFinite:   d.nonFinite.Load(),
	}
}

func (d *Detector) classify(maxZ float64) domain.Severity {
	switch {
	case maxZ >= d.cfg.CriticalZ:
		return domain.SeverityCritical
	case maxZ >= d.cfg.HighZ:
		return domain.SeverityHigh
	default:
		return domain.SeverityWarning
	}
}

// extract converts the named metric to float64. This is the only place exact
// decimals leave the metrics pipeline; statistical moments do not require
// exactness.
func extract(sample *domain.MetricsSample, name string) (float64, bool) {
	switch name {
	case MetricSpreadBps:
		return sample.SpreadBps.InexactFloat64(), true
	case MetricDepth10Bps:
		band, ok := sample.DepthAt(depthBandForState)
		if !ok {
			return 0, false
		}
		return band.TotalDepthUSD().InexactFloat64(), true
	case MetricImbalance:
		return sample.Imbalance.InexactFloat64(), true
	}
	return 0, false
}

func marketState(sample *domain.MetricsSample) domain.MarketState {
	st := domain.MarketState{
		Mid:       sample.Mid.InexactFloat64(),
		SpreadBps: sample.SpreadBps.InexactFloat64(),
		Imbalance: sample.Imbalance.InexactFloat64(),
	}
	if band, ok := sample.DepthAt(depthBandForState); ok {
		st.Depth10BpsUSD = band.TotalDepthUSD().InexactFloat64()
	}
	return st
}
