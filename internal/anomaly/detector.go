package anomaly

import (
	"fmt"
	"sync"
)

// Detector handles anomaly detection with configurable thresholds
type Detector struct {
	spikeThreshold            float64
	minDataPointsForDetection int
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(spikeThreshold float64, minDataPointsForDetection int) *Detector {
	return &Detector{
		spikeThreshold:            spikeThreshold,
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// DetectAnomaly checks if the value is anomalous based on historical data
func (d *Detector) DetectAnomaly(value float64, historicalValues []float64) (bool, string) {
	if value < 0 {
		return true, "negative value"
	}

	if len(historicalValues) < d.minDataPointsForDetection {
		return false, ""
	}

	sum := 0.0
	for _, v := range historicalValues {
		sum += v
	}
	average := sum / float64(len(historicalValues))

	if average > 0 && value > d.spikeThreshold*average {
		return true, fmt.Sprintf("sudden spike detected: value %.3f exceeds %.1fx rolling average %.3f",
			value, d.spikeThreshold, average)
	}

	return false, ""
}

// Window keeps the most recent demand values of a session and checks each
// new value against them before it is added.
type Window struct {
	detector *Detector
	size     int

	mu     sync.Mutex
	values []float64
}

// NewWindow creates a rolling window holding at most size values
func NewWindow(detector *Detector, size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		detector: detector,
		size:     size,
		values:   make([]float64, 0, size),
	}
}

// Observe runs detection for value and then records it
func (w *Window) Observe(value float64) (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	isAnomaly, reason := w.detector.DetectAnomaly(value, w.values)

	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, value)

	return isAnomaly, reason
}

// Len returns how many values are currently held
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.values)
}
