package domain

import "time"

// Severity classifies an anomaly event by the largest absolute z-score
// observed across the monitored metrics at one tick.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities for comparison.
func (s Severity) rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// GreaterThan reports whether s is strictly more severe than other.
func (s Severity) GreaterThan(other Severity) bool {
	return s.rank() > other.rank()
}

// MarketState is the subset of market context captured at detection time and
// persisted with the event.
type MarketState struct {
	Mid           float64
	SpreadBps     float64
	Depth10BpsUSD float64
	Imbalance     float64
}

// AnomalyEvent is a statistically significant deviation in one or more
// monitored metric streams.
type AnomalyEvent struct {
	EventID    string
	Symbol     string
	Exchange   string
	DetectedAt time.Time
	Severity   Severity

	// Reason names every metric whose |z| crossed the threshold, worst first.
	Reason string

	// ZScores holds the z-score per monitored metric name at this tick.
	ZScores map[string]float64
	MaxZ    float64
	State   MarketState
}
