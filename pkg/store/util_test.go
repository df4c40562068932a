package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
)

var errTest = errors.New("test failure")

func TestChunkRange(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		chunkSize int
		expected  [][2]int
	}{
		{
			name:      "empty input",
			total:     0,
			chunkSize: 10,
			expected:  nil,
		},
		{
			name:      "single partial chunk",
			total:     3,
			chunkSize: 10,
			expected:  [][2]int{{0, 3}},
		},
		{
			name:      "exact multiple",
			total:     6,
			chunkSize: 3,
			expected:  [][2]int{{0, 3}, {3, 6}},
		},
		{
			name:      "trailing remainder",
			total:     7,
			chunkSize: 3,
			expected:  [][2]int{{0, 3}, {3, 6}, {6, 7}},
		},
		{
			name:      "non-positive chunk size processes everything at once",
			total:     5,
			chunkSize: 0,
			expected:  [][2]int{{0, 5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls [][2]int
			err := ChunkRange(tt.total, tt.chunkSize, func(start, end int) error {
				calls = append(calls, [2]int{start, end})
				return nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(calls, tt.expected) {
				t.Fatalf("unexpected chunks:\nexpected: %v\nreceived: %v", tt.expected, calls)
			}
		})
	}
}

func TestChunkRangeStopsOnError(t *testing.T) {
	calls := 0
	err := ChunkRange(10, 2, func(start, end int) error {
		calls++
		if start == 4 {
			return errTest
		}
		return nil
	})
	if err != errTest {
		t.Fatalf("expected errTest, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls before failure, got %d", calls)
	}
}

// stubEmbedder answers every input with a one-element vector encoding the
// input's first byte, so tests can check ordering across batch splits.
type stubEmbedder struct {
	ai.GraphAIClient

	batches [][][]byte
}

func (s *stubEmbedder) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	s.batches = append(s.batches, inputs)
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(inputs[i][0])}
	}
	return out, nil
}

type stubChunkEmbedder struct {
	stubEmbedder

	chunkCalls int
}

func (s *stubChunkEmbedder) GenerateEmbeddingsChunks(ctx context.Context, chunks [][][]byte) ([][]float32, error) {
	s.chunkCalls++
	var out [][]float32
	for _, chunk := range chunks {
		embs, err := s.GenerateEmbeddings(ctx, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, embs...)
	}
	return out, nil
}

func numberedInputs(n int) [][]byte {
	inputs := make([][]byte, n)
	for i := range inputs {
		inputs[i] = []byte{byte(i)}
	}
	return inputs
}

func checkOrdered(t *testing.T, out [][]float32, n int) {
	t.Helper()
	if len(out) != n {
		t.Fatalf("expected %d embeddings, got %d", n, len(out))
	}
	for i, vec := range out {
		if len(vec) != 1 || vec[0] != float32(i) {
			t.Fatalf("embedding %d out of order: %v", i, vec)
		}
	}
}

func TestGenerateEmbeddingsGuards(t *testing.T) {
	if _, err := GenerateEmbeddings(context.Background(), nil, numberedInputs(1)); err == nil {
		t.Fatal("expected error for nil client")
	}

	client := &stubEmbedder{}
	out, err := GenerateEmbeddings(context.Background(), client, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil result for empty input, got %v", out)
	}
	if len(client.batches) != 0 {
		t.Fatalf("client should not be called for empty input, got %d calls", len(client.batches))
	}
}

func TestGenerateEmbeddingsSmallBatchSingleCall(t *testing.T) {
	client := &stubEmbedder{}
	out, err := GenerateEmbeddings(context.Background(), client, numberedInputs(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkOrdered(t, out, 3)
	if len(client.batches) != 1 {
		t.Fatalf("expected a single request, got %d", len(client.batches))
	}
}

func TestGenerateEmbeddingsSplitsLargeBatches(t *testing.T) {
	client := &stubEmbedder{}
	out, err := GenerateEmbeddings(context.Background(), client, numberedInputs(150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkOrdered(t, out, 150)

	var sizes []int
	for _, batch := range client.batches {
		sizes = append(sizes, len(batch))
	}
	if !reflect.DeepEqual(sizes, []int{64, 64, 22}) {
		t.Fatalf("unexpected batch sizes: %v", sizes)
	}
}

func TestGenerateEmbeddingsPrefersChunkedClient(t *testing.T) {
	client := &stubChunkEmbedder{}
	out, err := GenerateEmbeddings(context.Background(), client, numberedInputs(130))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkOrdered(t, out, 130)
	if client.chunkCalls != 1 {
		t.Fatalf("expected one chunked call, got %d", client.chunkCalls)
	}
	if len(client.batches) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(client.batches))
	}
}

func TestDedupeStrings(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil input",
			input:    nil,
			expected: nil,
		},
		{
			name:     "duplicates removed keeping first order",
			input:    []string{"a", "b", "a", "c", "b"},
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "empty values dropped",
			input:    []string{"", "a", "", "a"},
			expected: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DedupeStrings(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Fatalf("unexpected output:\nexpected: %v\nreceived: %v", tt.expected, got)
			}
		})
	}
}
