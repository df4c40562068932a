package pgx

import (
	"context"
	"fmt"

	"github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	"github.com/meridian-hq/atlas/backend/pkg/store"
)

const embedMaxTries = 2

type queryOptions struct {
	SystemPrompts []string
	Model         string
	Thinking      string
}

// QueryOption adjusts how a query client generates answers.
type QueryOption func(*queryOptions)

// WithSystemPrompts appends extra system prompts to answer generation.
func WithSystemPrompts(prompts ...string) QueryOption {
	return func(o *queryOptions) {
		o.SystemPrompts = append(o.SystemPrompts, prompts...)
	}
}

// WithModel overrides the model used to generate answers.
func WithModel(model string) QueryOption {
	return func(o *queryOptions) {
		o.Model = model
	}
}

// WithThinking requests the given reasoning effort from models that support
// it.
func WithThinking(thinking string) QueryOption {
	return func(o *queryOptions) {
		o.Thinking = thinking
	}
}

// BaseQueryClient answers questions over one tenant's knowledge graph. It
// combines an AI client for embedding and response generation with a storage
// client that builds the retrieval context.
type BaseQueryClient struct {
	aiClient      ai.GraphAIClient
	storageClient store.GraphStorage
	tenantID      string
	options       queryOptions
}

// NewGraphQueryClient creates a query client scoped to a tenant. The AI
// client embeds the question and generates the answer, while the storage
// client builds the retrieval context from the persisted graph.
//
// Example:
//
//	client := pgx.NewGraphQueryClient(aiClient, storageClient, tenantID, nil)
func NewGraphQueryClient(aiClient ai.GraphAIClient, storage store.GraphStorage, tenantID string, opts []QueryOption) *BaseQueryClient {
	client := BaseQueryClient{
		aiClient:      aiClient,
		storageClient: storage,
		tenantID:      tenantID,
	}
	for _, opt := range opts {
		opt(&client.options)
	}
	return &client
}

// generateOptions assembles the generation options for an answer: the context
// prompt first, then any caller-supplied system prompts, then model and
// thinking overrides.
func (c *BaseQueryClient) generateOptions(contextPrompt string) []ai.GenerateOption {
	systemPrompts := []string{contextPrompt}
	if len(c.options.SystemPrompts) > 0 {
		systemPrompts = append(systemPrompts, c.options.SystemPrompts...)
	}

	generateOpts := []ai.GenerateOption{
		ai.WithSystemPrompts(systemPrompts...),
	}
	if c.options.Model != "" {
		generateOpts = append(generateOpts, ai.WithModel(c.options.Model))
	}
	if c.options.Thinking != "" {
		generateOpts = append(generateOpts, ai.WithThinking(c.options.Thinking))
	}

	return generateOpts
}

// embedQuery embeds the question text, retrying once on transient provider
// errors so a single hiccup does not fail the whole ask.
func (c *BaseQueryClient) embedQuery(ctx context.Context, query string) ([]float32, error) {
	return util.RetryWithContext(ctx, embedMaxTries, func(ctx context.Context) ([]float32, error) {
		return c.aiClient.GenerateEmbedding(ctx, []byte(query))
	})
}

// generateNoDataResponse answers in the user's language when retrieval found
// nothing to ground an answer on.
func (c *BaseQueryClient) generateNoDataResponse(ctx context.Context, query string) (string, error) {
	answer, err := c.aiClient.GenerateCompletion(ctx, fmt.Sprintf(ai.NoDataPrompt, query))
	if err != nil {
		logger.Error("Failed to generate no-data response", "err", err)
		return "There was a server error, please try again later.", err
	}
	return answer, nil
}
