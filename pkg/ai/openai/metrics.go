package openai

import "github.com/meridian-hq/atlas/backend/pkg/ai"

// ResetMetrics zeroes the accumulated token and timing totals.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.usage.Reset()
}

// GetMetrics returns the totals accumulated since the last reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	return c.usage.Snapshot()
}
