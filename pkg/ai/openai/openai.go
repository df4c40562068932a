// Package openai adapts OpenAI-compatible chat and embedding APIs to the
// GraphAIClient interface. Chat and embeddings may point at different
// endpoints, so a deployment can mix a hosted chat model with a local
// embedding server.
package openai

import (
	"github.com/meridian-hq/atlas/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const defaultTimeoutMin = 30

// GraphOpenAIClient talks to OpenAI-compatible APIs. Create one with
// NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel   string
	descriptionModel string
	extractionModel  string

	// chatURL distinguishes the hosted OpenAI API (empty) from a
	// compatible self-hosted endpoint.
	chatURL string

	timeoutMin    int64
	embeddingLock *semaphore.Weighted

	usage ai.MetricsCounter

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams configures a GraphOpenAIClient. The three
// model names cover embeddings, description/chat generation, and structured
// extraction; each endpoint pair may be left empty to disable that surface.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel   string
	DescriptionModel string
	ExtractionModel  string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	MaxConcurrentEmbeddings int64
	RequestTimeoutMin       int64
}

// NewGraphOpenAIClient builds a client with separate underlying SDK clients
// for chat and embeddings.
func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) *GraphOpenAIClient {
	if params.MaxConcurrentEmbeddings <= 0 {
		params.MaxConcurrentEmbeddings = 4
	}
	if params.RequestTimeoutMin <= 0 {
		params.RequestTimeoutMin = defaultTimeoutMin
	}

	return &GraphOpenAIClient{
		embeddingModel:   params.EmbeddingModel,
		descriptionModel: params.DescriptionModel,
		extractionModel:  params.ExtractionModel,
		chatURL:          params.ChatURL,
		timeoutMin:       params.RequestTimeoutMin,
		embeddingLock:    semaphore.NewWeighted(params.MaxConcurrentEmbeddings),
		ChatClient:       newSDKClient(params.ChatURL, params.ChatKey),
		EmbeddingClient:  newSDKClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

// newSDKClient returns nil when no key is configured, which disables the
// corresponding surface.
func newSDKClient(baseURL, apiKey string) *openai.Client {
	if apiKey == "" {
		return nil
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)
	return &client
}
