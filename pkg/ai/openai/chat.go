package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridian-hq/atlas/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// buildMessages flattens system prompts and conversation turns into the
// SDK's message union. Roles other than user and assistant are dropped.
func buildMessages(systemPrompts []string, turns []ai.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(systemPrompts)+len(turns))
	for _, prompt := range systemPrompts {
		msgs = append(msgs, openai.SystemMessage(prompt))
	}
	for _, turn := range turns {
		switch turn.Role {
		case "user":
			msgs = append(msgs, openai.UserMessage(turn.Message))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(turn.Message))
		}
	}
	return msgs
}

// newChatBody assembles a completion request from resolved options and the
// conversation. Reasoning effort, when requested, pins the temperature to 1.0
// on the hosted API because gpt-5 models reject other values while reasoning;
// custom gateways keep the caller's temperature.
func (c *GraphOpenAIClient) newChatBody(options ai.GenerateOptions, turns []ai.ChatMessage) openai.ChatCompletionNewParams {
	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    buildMessages(options.SystemPrompts, turns),
		Temperature: openai.Float(options.Temperature),
	}
	if options.Thinking != "" {
		if c.chatURL == "" {
			body.Temperature = openai.Float(1.0)
		}
		body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
	}
	return body
}

// send posts one completion request, folds its token usage into the client
// metrics, and guarantees the response carries at least one choice.
func (c *GraphOpenAIClient) send(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(ctx, body)
	if err != nil {
		return nil, err
	}
	c.recordUsage(response.Usage, start)

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response from model")
	}
	return response, nil
}

// recordUsage folds one response's token usage into the client metrics.
func (c *GraphOpenAIClient) recordUsage(usage openai.CompletionUsage, start time.Time) {
	c.usage.Add(ai.ModelMetrics{
		InputTokens:  int(usage.PromptTokens),
		OutputTokens: int(usage.CompletionTokens),
		TotalTokens:  int(usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})
}

// GenerateCompletion answers a single prompt with plain text, using the
// description model at temperature 0.3 unless overridden.
func (c *GraphOpenAIClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	options := ai.GenerateOptions{Model: c.descriptionModel, Temperature: 0.3}.Apply(opts)

	response, err := c.send(ctx, c.newChatBody(options, []ai.ChatMessage{{Role: "user", Message: prompt}}))
	if err != nil {
		return "", err
	}
	return response.Choices[0].Message.Content, nil
}

// GenerateCompletionWithFormat answers a prompt with JSON constrained by
// the schema derived from out, then unmarshals the model's reply into out.
// Use it wherever a caller needs typed results rather than prose, such as
// entity extraction or report generation.
func (c *GraphOpenAIClient) GenerateCompletionWithFormat(
	ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption,
) error {
	options := ai.GenerateOptions{Model: c.extractionModel, Temperature: 0.1}.Apply(opts)

	body := c.newChatBody(options, []ai.ChatMessage{{Role: "user", Message: prompt}})
	body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        name,
				Description: openai.String(description),
				Schema:      ai.GenerateSchema(out),
				Strict:      openai.Bool(true),
			},
		},
	}

	response, err := c.send(ctx, body)
	if err != nil {
		return err
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason)
	}
	return ai.UnmarshalFlexible(message, out)
}

// GenerateChat answers a multi-turn conversation with the assistant's next
// reply as plain text.
func (c *GraphOpenAIClient) GenerateChat(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	options := ai.GenerateOptions{Model: c.descriptionModel, Temperature: 0.2}.Apply(opts)

	response, err := c.send(ctx, c.newChatBody(options, messages))
	if err != nil {
		return "", err
	}
	return response.Choices[0].Message.Content, nil
}

// GenerateChatStream answers a multi-turn conversation over a channel of
// incremental events, so callers can forward tokens to a client as they
// arrive. Reasoning deltas are surfaced as "step" events until the first
// content token shows up. The channel closes when the stream ends or the
// context is canceled.
func (c *GraphOpenAIClient) GenerateChatStream(
	ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption,
) (<-chan ai.StreamEvent, error) {
	options := ai.GenerateOptions{Model: c.descriptionModel, Temperature: 0.2}.Apply(opts)

	body := c.newChatBody(options, messages)
	body.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	start := time.Now()
	stream := c.ChatClient.Chat.Completions.NewStreaming(ctx, body)
	events := make(chan ai.StreamEvent, 10)

	go func() {
		defer close(events)
		defer stream.Close()

		var acc openai.ChatCompletionAccumulator
		sawContent := false

		for stream.Next() {
			part := stream.Current()
			acc.AddChunk(part)
			if len(part.Choices) == 0 {
				continue
			}
			delta := part.Choices[0].Delta

			// Reasoning arrives in a non-standard extra field, not on the
			// typed delta.
			if !sawContent {
				if field, ok := delta.JSON.ExtraFields["reasoning"]; ok {
					if reasoning := decodeJSONString(field.Raw()); reasoning != "" {
						if !emit(ctx, events, ai.StreamEvent{Type: "step", Step: "thinking", Reasoning: reasoning}) {
							return
						}
					}
				}
			}

			if delta.Content != "" {
				sawContent = true
				if !emit(ctx, events, ai.StreamEvent{Type: "content", Content: delta.Content}) {
					return
				}
			}
		}

		c.recordUsage(acc.Usage, start)
	}()

	return events, nil
}

// emit forwards one event, reporting false when the context is canceled
// before the receiver takes it.
func emit(ctx context.Context, out chan<- ai.StreamEvent, ev ai.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// decodeJSONString unmarshals a raw JSON string literal, returning ""
// for anything absent or malformed.
func decodeJSONString(raw string) string {
	if raw == "" {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return ""
	}
	return s
}

// LoadModel is a no-op: OpenAI-compatible backends load models on demand.
func (c *GraphOpenAIClient) LoadModel(ctx context.Context, opts ...ai.GenerateOption) error {
	return nil
}
