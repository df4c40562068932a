package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// Embedding width must match the vector columns in Postgres. AI_EMBED_DIM
// overrides it when the schema is provisioned with a different width.
const defaultDimensions = 1536

// GenerateEmbedding embeds a single input text. Callers with one value, such
// as query-time question embedding, use this instead of the batch call.
func (c *GraphOllamaClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
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
func (c *GraphOllamaClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
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

func (c *GraphOllamaClient) embedTexts(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(reqCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(reqCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}

	c.usage.Add(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		vectors[i] = resizeVector(emb, dim)
	}
	return vectors, nil
}

// resizeVector copies the provider vector into exactly dim entries,
// truncating or zero-padding as needed.
func resizeVector(values []float32, dim int) []float32 {
	vec := make([]float32, dim)
	copy(vec, values)
	return vec
}
