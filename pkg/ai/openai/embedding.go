package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"golang.org/x/sync/errgroup"
)

// Embedding width must match the vector columns in Postgres. AI_EMBED_DIM
// overrides it when the schema is provisioned with a different width.
const defaultDimensions = 1536

// GenerateEmbedding embeds a single input text. It is a convenience wrapper
// around GenerateEmbeddings for callers that only have one value, such as
// query-time question embedding.
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	vectors, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected a single embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

// GenerateEmbeddings embeds a batch of inputs in one request, preserving
// input order. Blank inputs are not sent to the model; they come back as
// zero vectors so callers keep positional alignment with their rows.
func (c *GraphOpenAIClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	dim := int(util.GetEnvNumeric("AI_EMBED_DIM", defaultDimensions))

	out := make([][]float32, len(inputs))
	texts := make([]string, 0, len(inputs))
	positions := make([]int, 0, len(inputs))
	for i, input := range inputs {
		text := string(input)
		if strings.TrimSpace(text) == "" {
			out[i] = make([]float32, dim)
			continue
		}
		texts = append(texts, text)
		positions = append(positions, i)
	}
	if len(texts) == 0 {
		return out, nil
	}

	vectors, err := c.embedTexts(ctx, texts, dim)
	if err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		out[positions[i]] = vec
	}
	return out, nil
}

// GenerateEmbeddingsChunks embeds each chunk as its own request and returns
// one flat result in input order. Chunk requests run concurrently; the
// client's semaphore bounds how many are in flight against the provider.
func (c *GraphOpenAIClient) GenerateEmbeddingsChunks(ctx context.Context, chunks [][][]byte) ([][]float32, error) {
	results := make([][][]float32, len(chunks))
	eg, ectx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		eg.Go(func() error {
			vecs, err := c.GenerateEmbeddings(ectx, chunk)
			if err != nil {
				return err
			}
			results[i] = vecs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out [][]float32
	for _, vecs := range results {
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *GraphOpenAIClient) embedTexts(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.embeddingLock.Acquire(reqCtx, 1); err != nil {
		return nil, err
	}
	defer c.embeddingLock.Release(1)

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, err
	}

	c.usage.Add(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range response.Data {
		pos := int(item.Index)
		if pos < 0 || pos >= len(out) {
			return nil, fmt.Errorf("embedding index out of range: %d", item.Index)
		}
		out[pos] = resizeVector(item.Embedding, dim)
	}
	for i, vec := range out {
		if vec == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}
	return out, nil
}

// resizeVector converts the provider's float64 vector to float32 at exactly
// dim entries, truncating or zero-padding as needed.
func resizeVector(values []float64, dim int) []float32 {
	vec := make([]float32, dim)
	for i := range min(dim, len(values)) {
		vec[i] = float32(values[i])
	}
	return vec
}
