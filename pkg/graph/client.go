package graph

import "strings"

// ChunkStrategy selects how document text is split into units before
// extraction. Budgets are token counts measured with the configured encoder.
type ChunkStrategy string

const (
	// StrategyParagraph accumulates whole paragraphs up to 800 tokens.
	StrategyParagraph ChunkStrategy = "paragraph"
	// StrategySentence accumulates sentences up to 600 tokens.
	StrategySentence ChunkStrategy = "sentence"
	// StrategyFixed slices 500-token windows with 50 tokens of overlap.
	StrategyFixed ChunkStrategy = "fixed"
	// StrategySemantic accumulates paragraphs up to 700 tokens and starts a
	// fresh unit whenever a section title is sniffed.
	StrategySemantic ChunkStrategy = "semantic"
)

// ParseChunkStrategy maps a configuration value to a ChunkStrategy.
// Unknown or empty values fall back to StrategyParagraph.
func ParseChunkStrategy(value string) ChunkStrategy {
	switch ChunkStrategy(strings.ToLower(strings.TrimSpace(value))) {
	case StrategySentence:
		return StrategySentence
	case StrategyFixed:
		return StrategyFixed
	case StrategySemantic:
		return StrategySemantic
	default:
		return StrategyParagraph
	}
}

func strategyBudget(strategy ChunkStrategy) int {
	switch strategy {
	case StrategySentence:
		return 600
	case StrategyFixed:
		return 500
	case StrategySemantic:
		return 700
	default:
		return 800
	}
}

// GraphClient builds knowledge graphs from documents. It manages token
// encoding, the chunking strategy, concurrent AI requests, and retry
// behavior for extraction calls.
type GraphClient struct {
	tokenEncoder       string
	strategy           ChunkStrategy
	parallelAiRequests int
	maxRetries         int
}

// NewGraphClientParams configures NewGraphClient. TokenEncoder names the
// tiktoken encoding used for token counting; Strategy selects the chunker,
// with unknown values falling back to StrategyParagraph; ParallelAiRequests
// caps concurrent extraction calls per document.
type NewGraphClientParams struct {
	TokenEncoder       string
	Strategy           ChunkStrategy
	ParallelAiRequests int
	MaxRetries         int
}

// NewGraphClient builds a client, filling unset params with defaults:
// o200k_base encoding, 8 parallel requests, 3 retries.
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	encoder := params.TokenEncoder
	if encoder == "" {
		encoder = "o200k_base"
	}
	parallel := params.ParallelAiRequests
	if parallel <= 0 {
		parallel = 8
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	g := &GraphClient{
		tokenEncoder:       encoder,
		strategy:           ParseChunkStrategy(string(params.Strategy)),
		parallelAiRequests: parallel,
		maxRetries:         maxRetries,
	}

	return g, nil
}
