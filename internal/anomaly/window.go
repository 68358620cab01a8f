// Package anomaly maintains rolling statistical baselines over metric
// streams and emits severity-classified events when z-scores cross the
// configured thresholds.
package anomaly

import "math"

// Window is a fixed-capacity rolling window with O(1) running mean and
// population standard deviation, maintained incrementally as values are
// added and evicted.
type Window struct {
	values []float64
	idx    int
	count  int
	sum    float64
	sumSq  float64
}

// NewWindow returns a window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{values: make([]float64, capacity)}
}

// Add appends x, evicting the oldest sample when full.
func (w *Window) Add(x float64) {
	if w.count == len(w.values) {
		old := w.values[w.idx]
		w.sum -= old
		w.sumSq -= old * old
	} else {
		w.count++
	}
	w.values[w.idx] = x
	w.sum += x
	w.sumSq += x * x
	w.idx = (w.idx + 1) % len(w.values)
}

// Len returns the number of samples currently held.
func (w *Window) Len() int { return w.count }

// Mean returns the rolling mean, zero when empty.
func (w *Window) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// Std returns the population standard deviation, zero when empty.
func (w *Window) Std() float64 {
	if w.count == 0 {
		return 0
	}
	mean := w.Mean()
	variance := w.sumSq/float64(w.count) - mean*mean
	if variance < 0 {
		// Floating error can push the incremental variance slightly negative.
		variance = 0
	}
	return math.Sqrt(variance)
}

// ZScore returns (x - mean)/std for the current window contents, or 0 when
// the deviation is zero.
func (w *Window) ZScore(x float64) float64 {
	std := w.Std()
	if std == 0 {
		return 0
	}
	return (x - w.Mean()) / std
}
