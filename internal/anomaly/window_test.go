package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowBoundedCapacity(t *testing.T) {
	w := NewWindow(5)
	for i := 0; i < 100; i++ {
		w.Add(float64(i))
		assert.LessOrEqual(t, w.Len(), 5)
	}
	// Only the last five survive: 95..99.
	assert.Equal(t, 5, w.Len())
	assert.InDelta(t, 97.0, w.Mean(), 1e-9)
}

func TestWindowMeanAndStd(t *testing.T) {
	w := NewWindow(10)
	for _, x := range []float64{1, 3, 1, 3, 1, 3} {
		w.Add(x)
	}
	assert.InDelta(t, 2.0, w.Mean(), 1e-9)
	assert.InDelta(t, 1.0, w.Std(), 1e-9) // population std

	// z for a new observation against the current contents.
	assert.InDelta(t, 5.0, w.ZScore(7.0), 1e-9)
}

func TestWindowZeroDeviation(t *testing.T) {
	w := NewWindow(10)
	for i := 0; i < 10; i++ {
		w.Add(4.2)
	}
	assert.InDelta(t, 0.0, w.Std(), 1e-9)
	assert.Equal(t, 0.0, w.ZScore(100))
}

func TestWindowEvictionKeepsRunningMoments(t *testing.T) {
	w := NewWindow(4)
	for _, x := range []float64{10, 20, 30, 40, 50, 60} {
		w.Add(x)
	}
	// Contents are 30, 40, 50, 60.
	assert.InDelta(t, 45.0, w.Mean(), 1e-9)
	assert.InDelta(t, 11.180339887, w.Std(), 1e-6)
}

func TestWindowEmpty(t *testing.T) {
	w := NewWindow(3)
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 0.0, w.Mean())
	assert.Equal(t, 0.0, w.Std())
}
