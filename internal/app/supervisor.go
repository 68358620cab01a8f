package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/pipeline"
)

const (
	supervisorInterval = 10 * time.Second
	// terminalDeadline is the grace period a pipeline may stay degraded
	// (Stale book, or sinks failing every tick) before the process gives up
	// and exits with a persistent-failure status.
	terminalDeadline = 5 * time.Minute
)

// ErrTerminalFailure marks a degradation that outlived the grace period.
var ErrTerminalFailure = fmt.Errorf("app: persistent external failure")

// statsSource is the slice of a pipeline the supervisor watches.
type statsSource interface {
	Stats() pipeline.MonitorStats
}

// supervisor polls each pipeline and trips once any of them stays degraded
// past the terminal deadline. Until then degradation only surfaces through
// the health endpoint and logs.
type supervisor struct {
	sources  []statsSource
	interval time.Duration
	deadline time.Duration
	logger   *slog.Logger
	now      func() time.Time

	unhealthySince map[string]time.Time
	lastSinkErrors map[string]uint64
}

func newSupervisor(sources []statsSource, logger *slog.Logger) *supervisor {
	return &supervisor{
		sources:        sources,
		interval:       supervisorInterval,
		deadline:       terminalDeadline,
		logger:         logger.With(slog.String("component", "supervisor")),
		now:            time.Now,
		unhealthySince: make(map[string]time.Time),
		lastSinkErrors: make(map[string]uint64),
	}
}

// run polls until ctx is cancelled or a pipeline exceeds the deadline. The
// returned error wraps ErrTerminalFailure so main can map it to the
// persistent-failure exit status.
func (s *supervisor) run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.check(); err != nil {
				return err
			}
		}
	}
}

func (s *supervisor) check() error {
	now := s.now()
	for _, src := range s.sources {
		st := src.Stats()

		degraded, cause := s.evaluate(st)
		if !degraded {
			delete(s.unhealthySince, st.Symbol)
			continue
		}

		since, ok := s.unhealthySince[st.Symbol]
		if !ok {
			since = now
			s.unhealthySince[st.Symbol] = now
		}
		elapsed := now.Sub(since)
		if elapsed >= s.deadline {
			return fmt.Errorf("%w: %s %s for %s", ErrTerminalFailure, st.Symbol, cause, elapsed.Truncate(time.Second))
		}
		s.logger.Warn("pipeline degraded",
			slog.String("symbol", st.Symbol),
			slog.String("cause", cause),
			slog.Duration("for", elapsed),
			slog.Duration("deadline", s.deadline))
	}
	return nil
}

// evaluate reports whether a pipeline is currently degraded. Sink errors are
// compared against the previous tick so a long-healed burst does not count.
func (s *supervisor) evaluate(st pipeline.MonitorStats) (bool, string) {
	if st.Book.State == domain.Stale {
		return true, "book stale"
	}
	prev := s.lastSinkErrors[st.Symbol]
	s.lastSinkErrors[st.Symbol] = st.SinkErrors
	if st.SinkErrors > prev {
		return true, "sink failing"
	}
	return false, ""
}
