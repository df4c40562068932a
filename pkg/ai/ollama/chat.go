package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/meridian-hq/atlas/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// defaultNumCtx is Ollama's default context window. Requests whose
	// prompt would overflow it get an explicit num_ctx override.
	defaultNumCtx = 4096

	// responseHeadroom reserves num_ctx room for the generated reply.
	responseHeadroom = 200
)

// estimateContextTokens approximates the token count of the given texts plus
// response headroom, so num_ctx can be raised when long prompts would
// otherwise be cut off.
func estimateContextTokens(texts ...string) (int, error) {
	encoder, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0, err
	}
	tokens := responseHeadroom
	for _, t := range texts {
		tokens += len(encoder.Encode(t, nil, nil))
	}
	return tokens, nil
}

// buildMessages converts system prompts plus conversation turns into the
// Ollama message list. Turns without a role default to "user".
func buildMessages(systemPrompts []string, turns []ai.ChatMessage) []api.Message {
	msgs := make([]api.Message, 0, len(systemPrompts)+len(turns))
	for _, prompt := range systemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: prompt})
	}
	for _, turn := range turns {
		msg := api.Message{Role: turn.Role, Content: turn.Message}
		if msg.Role == "" {
			msg.Role = "user"
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// newChatRequest assembles a chat request with temperature, optional
// thinking mode, and a num_ctx override sized to the message contents.
func newChatRequest(options ai.GenerateOptions, msgs []api.Message, stream bool) (*api.ChatRequest, error) {
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Options:  map[string]any{"temperature": options.Temperature},
		Stream:   &stream,
	}
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{Value: options.Thinking}
	}

	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Content)
	}
	tokens, err := estimateContextTokens(texts...)
	if err != nil {
		return nil, err
	}
	if tokens > defaultNumCtx {
		req.Options["num_ctx"] = tokens
	}
	return req, nil
}

// usageFrom converts Ollama eval counters into the shared metrics shape.
func usageFrom(m api.Metrics) ai.ModelMetrics {
	return ai.ModelMetrics{
		InputTokens:  m.PromptEvalCount,
		OutputTokens: m.EvalCount,
		TotalTokens:  m.PromptEvalCount + m.EvalCount,
		DurationMs:   m.TotalDuration.Milliseconds(),
	}
}

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *GraphOllamaClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	options := ai.GenerateOptions{Model: c.descriptionModel, Temperature: 0.3}.Apply(opts)

	req, err := newChatRequest(options, []api.Message{{Role: "user", Content: prompt}}, false)
	if err != nil {
		return "", err
	}

	resp, err := c.chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// GenerateCompletionWithFormat constrains the reply to the JSON schema
// derived from out, then unmarshals the model's text into it.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption,
) error {
	if rv := reflect.ValueOf(out); rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	format, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.GenerateOptions{Model: c.extractionModel, Temperature: 0.1}.Apply(opts)

	req, err := newChatRequest(options, []api.Message{{Role: "user", Content: prompt}}, false)
	if err != nil {
		return err
	}
	req.Format = json.RawMessage(format)

	resp, err := c.chat(ctx, req)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(resp.Message.Content, out)
}

// GenerateChat answers a multi-turn conversation with the assistant's next
// reply as plain text.
func (c *GraphOllamaClient) GenerateChat(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	options := ai.GenerateOptions{Model: c.descriptionModel, Temperature: 0.2}.Apply(opts)

	req, err := newChatRequest(options, buildMessages(options.SystemPrompts, messages), false)
	if err != nil {
		return "", err
	}

	resp, err := c.chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// chat runs a non-streaming chat request under the concurrency limit and
// records its metrics.
func (c *GraphOllamaClient) chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(reqCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	var resp api.ChatResponse
	err := c.Client.Chat(reqCtx, req, func(cr api.ChatResponse) error {
		resp.Message.Content += cr.Message.Content
		if cr.Done {
			resp.Done, resp.Metrics = true, cr.Metrics
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.usage.Add(usageFrom(resp.Metrics))
	return &resp, nil
}

// GenerateChatStream forwards thinking and answer tokens over a channel as
// they arrive. The channel closes when the reply completes or the context
// is canceled.
func (c *GraphOllamaClient) GenerateChatStream(
	ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption,
) (<-chan ai.StreamEvent, error) {
	options := ai.GenerateOptions{Model: c.descriptionModel, Temperature: 0.2}.Apply(opts)

	req, err := newChatRequest(options, buildMessages(options.SystemPrompts, messages), true)
	if err != nil {
		return nil, err
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	events := make(chan ai.StreamEvent, 16)

	go func() {
		defer close(events)
		defer c.reqLock.Release(1)

		_ = c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
			if text := cr.Message.Thinking; text != "" {
				if err := forward(ctx, events, ai.StreamEvent{Type: "step", Step: "thinking", Reasoning: text}); err != nil {
					return err
				}
			}
			if text := cr.Message.Content; text != "" {
				if err := forward(ctx, events, ai.StreamEvent{Type: "content", Content: text}); err != nil {
					return err
				}
			}
			if cr.Done {
				c.usage.Add(usageFrom(cr.Metrics))
			}
			return nil
		})
	}()

	return events, nil
}

// forward hands one event to the consumer, failing with the context error
// when the consumer is gone.
func forward(ctx context.Context, out chan<- ai.StreamEvent, ev ai.StreamEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadModel warms the configured model so the first real request skips the
// load delay.
func (c *GraphOllamaClient) LoadModel(ctx context.Context, opts ...ai.GenerateOption) error {
	options := ai.GenerateOptions{Model: c.descriptionModel}.Apply(opts)

	req := &api.ChatRequest{Model: options.Model}
	return c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		return nil
	})
}
