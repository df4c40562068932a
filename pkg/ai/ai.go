// Package ai defines the provider-neutral surface the graph pipeline and the
// query layer program against. Concrete clients live in the ollama and openai
// subpackages; everything else in the repo depends only on GraphAIClient.
package ai

import "context"

// GraphAIClient is implemented by each AI provider adapter. Completions come
// in a free-text and a schema-constrained variant, chat in a blocking and a
// streaming variant. Metrics accumulate across calls until ResetMetrics, so
// the worker can report per-document token usage.
type GraphAIClient interface {
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	GenerateChat(
		ctx context.Context,
		messages []ChatMessage,
		opts ...GenerateOption,
	) (string, error)
	GenerateChatStream(
		ctx context.Context,
		messages []ChatMessage,
		opts ...GenerateOption,
	) (<-chan StreamEvent, error)

	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)

	LoadModel(ctx context.Context, opts ...GenerateOption) error
	ResetMetrics()
	GetMetrics() ModelMetrics
}

// ChatMessage is one turn of a conversation. Role is "user" for the person
// asking and "assistant" for earlier answers replayed as context.
type ChatMessage struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

// StreamEvent is one item of a streaming answer. Type "step" marks a phase
// change (Step carries the phase name, and Reasoning the model's thinking
// when the phase is "thinking"); Type "content" carries answer text.
type StreamEvent struct {
	Type      string
	Step      string
	Content   string
	Reasoning string
}

// ModelMetrics is the running usage counter kept by a client. DurationMs sums
// provider-reported inference time; WallClockMs spans request round trips.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	WallClockMs    int64   `json:"wall_clock_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// GenerateOptions collects per-request overrides. The zero value means the
// client's configured defaults.
type GenerateOptions struct {
	Model         string
	SystemPrompts []string
	Temperature   float64
	Thinking      string
}

// GenerateOption mutates GenerateOptions; clients apply them in order.
type GenerateOption func(*GenerateOptions)

// Apply returns a copy of o with opts applied in order. Clients call this on
// their per-method defaults to resolve a request.
func (o GenerateOptions) Apply(opts []GenerateOption) GenerateOptions {
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithModel overrides the model for a single request.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts sets the system prompts prepended to the request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature. Extraction runs cold for
// reproducibility; answer generation may run warmer.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking enables extended thinking. The value is provider-specific: a
// reasoning-effort level for OpenAI-compatible backends, a budget for ollama.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}
