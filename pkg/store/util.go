package store

import (
	"context"
	"errors"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
)

// ChunkRange invokes fn over [start, end) windows of size chunkSize until
// total is covered. A chunkSize <= 0 processes everything in one call.
// The first error stops the walk.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		if err := fn(start, min(start+chunkSize, total)); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings returns the distinct non-empty values of in, preserving
// first-seen order.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}

	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// embedBatchSize caps how many inputs go into one embedding request.
// Providers reject or slow down on very large batches, so anything bigger
// is split before it reaches the client.
const embedBatchSize = 64

// chunkEmbedder is the optional fast path a client can offer for embedding
// several batches concurrently.
type chunkEmbedder interface {
	GenerateEmbeddingsChunks(ctx context.Context, chunks [][][]byte) ([][]float32, error)
}

// GenerateEmbeddings embeds a batch of inputs through the AI client,
// guarding the nil-client and empty-batch cases the callers share.
// Oversized batches are split at embedBatchSize; clients implementing
// chunkEmbedder get the pieces in one concurrent call, everyone else
// sequentially.
func GenerateEmbeddings(ctx context.Context, client ai.GraphAIClient, inputs [][]byte) ([][]float32, error) {
	if client == nil {
		return nil, errors.New("nil ai client")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if len(inputs) <= embedBatchSize {
		return client.GenerateEmbeddings(ctx, inputs)
	}

	if ce, ok := client.(chunkEmbedder); ok {
		var chunks [][][]byte
		for start := 0; start < len(inputs); start += embedBatchSize {
			chunks = append(chunks, inputs[start:min(start+embedBatchSize, len(inputs))])
		}
		return ce.GenerateEmbeddingsChunks(ctx, chunks)
	}

	out := make([][]float32, 0, len(inputs))
	err := ChunkRange(len(inputs), embedBatchSize, func(start, end int) error {
		embs, err := client.GenerateEmbeddings(ctx, inputs[start:end])
		if err != nil {
			return err
		}
		out = append(out, embs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
