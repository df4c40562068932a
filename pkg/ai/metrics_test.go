package ai

import (
	"sync"
	"testing"
)

func TestMetricsCounterAccumulates(t *testing.T) {
	var counter MetricsCounter

	counter.Add(ModelMetrics{InputTokens: 80, OutputTokens: 20, TotalTokens: 100, DurationMs: 1000})
	counter.Add(ModelMetrics{InputTokens: 30, OutputTokens: 20, TotalTokens: 50, DurationMs: 1000})

	got := counter.Snapshot()
	if got.InputTokens != 110 || got.OutputTokens != 40 || got.TotalTokens != 150 {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if got.DurationMs != 2000 {
		t.Fatalf("unexpected duration: %d", got.DurationMs)
	}
	// 150 tokens over 2 seconds.
	if got.TokenPerSecond != 75 {
		t.Fatalf("unexpected rate: %v", got.TokenPerSecond)
	}
}

func TestMetricsCounterRoundsRate(t *testing.T) {
	var counter MetricsCounter

	counter.Add(ModelMetrics{TotalTokens: 100, DurationMs: 3000})

	if got := counter.Snapshot().TokenPerSecond; got != 33.33 {
		t.Fatalf("expected rate rounded to 33.33, got %v", got)
	}
}

func TestMetricsCounterReset(t *testing.T) {
	var counter MetricsCounter

	counter.Add(ModelMetrics{TotalTokens: 10, DurationMs: 100})
	counter.Reset()

	if got := counter.Snapshot(); got != (ModelMetrics{}) {
		t.Fatalf("expected zeroed metrics after reset, got %+v", got)
	}
}

func TestMetricsCounterConcurrentAdd(t *testing.T) {
	var counter MetricsCounter

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				counter.Add(ModelMetrics{TotalTokens: 1, DurationMs: 1})
			}
		}()
	}
	wg.Wait()

	if got := counter.Snapshot().TotalTokens; got != 80 {
		t.Fatalf("expected 80 tokens, got %d", got)
	}
}
