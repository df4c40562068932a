package ai

import (
	"math"
	"sync"
)

// MetricsCounter accumulates model usage across calls. Providers embed one
// and report into it after every round trip; ingestion reads it per
// document to bill token usage.
type MetricsCounter struct {
	mu      sync.Mutex
	current ModelMetrics
}

// Add folds one call's usage into the running totals and refreshes the
// derived tokens-per-second rate.
func (m *MetricsCounter) Add(usage ModelMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.InputTokens += usage.InputTokens
	m.current.OutputTokens += usage.OutputTokens
	m.current.TotalTokens += usage.TotalTokens
	m.current.DurationMs += usage.DurationMs

	if m.current.DurationMs > 0 {
		rate := float64(m.current.TotalTokens) * 1000.0 / float64(m.current.DurationMs)
		m.current.TokenPerSecond = float32(math.Round(rate*100) / 100)
	}
}

// Snapshot returns the totals accumulated since the last Reset.
func (m *MetricsCounter) Snapshot() ModelMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Reset zeroes the totals.
func (m *MetricsCounter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ModelMetrics{}
}
