// Package ollama adapts a local or remote Ollama server to the
// GraphAIClient interface, for deployments that keep all model inference
// on their own hardware.
package ollama

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/meridian-hq/atlas/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const defaultTimeoutMin = 30

// GraphOllamaClient talks to an Ollama server. Create one with
// NewGraphOllamaClient.
type GraphOllamaClient struct {
	embeddingModel   string
	descriptionModel string
	extractionModel  string

	timeoutMin int64
	reqLock    *semaphore.Weighted

	usage ai.MetricsCounter

	Client *api.Client
}

// NewGraphOllamaClientParams configures a GraphOllamaClient. The server at
// BaseURL handles all three model roles; MaxConcurrentRequests defaults to
// one because a single-GPU host serializes anyway.
type NewGraphOllamaClientParams struct {
	EmbeddingModel   string
	DescriptionModel string
	ExtractionModel  string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	RequestTimeoutMin     int64
}

// bearerTransport adds an Authorization header to requests that lack one.
// The Ollama SDK has no auth option of its own, so deployments behind an
// authenticating proxy need the token injected at the transport.
type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token == "" || req.Header.Get("Authorization") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(clone)
}

// NewGraphOllamaClient connects to the Ollama server at BaseURL, or the
// SDK's default address when BaseURL is empty.
func NewGraphOllamaClient(params NewGraphOllamaClientParams) (*GraphOllamaClient, error) {
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 1
	}
	if params.RequestTimeoutMin <= 0 {
		params.RequestTimeoutMin = defaultTimeoutMin
	}

	var baseURL *url.URL
	if params.BaseURL != "" {
		parsed, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama base url: %w", err)
		}
		baseURL = parsed
	}

	httpClient := &http.Client{
		Transport: &bearerTransport{token: params.ApiKey, next: http.DefaultTransport},
	}

	return &GraphOllamaClient{
		embeddingModel:   params.EmbeddingModel,
		descriptionModel: params.DescriptionModel,
		extractionModel:  params.ExtractionModel,

		timeoutMin: params.RequestTimeoutMin,
		reqLock:    semaphore.NewWeighted(params.MaxConcurrentRequests),

		Client: api.NewClient(baseURL, httpClient),
	}, nil
}
