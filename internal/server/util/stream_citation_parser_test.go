package util

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func runParser(t *testing.T, chunks []string) (string, []string) {
	t.Helper()

	var parser StreamCitationParser
	var content strings.Builder
	var citations []string

	onContent := func(s string) error {
		content.WriteString(s)
		return nil
	}
	onCitation := func(id string) error {
		citations = append(citations, id)
		return nil
	}

	for _, chunk := range chunks {
		if err := parser.Consume(chunk, onContent, onCitation); err != nil {
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if err := parser.Flush(onContent); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}

	return content.String(), citations
}

func TestStreamCitationParser(t *testing.T) {
	tests := []struct {
		name          string
		chunks        []string
		wantContent   string
		wantCitations []string
	}{
		{
			name:        "plain content passes through",
			chunks:      []string{"no markers here"},
			wantContent: "no markers here",
		},
		{
			name:          "single marker in one chunk",
			chunks:        []string{"see [[doc1]] for details"},
			wantContent:   "see  for details",
			wantCitations: []string{"doc1"},
		},
		{
			name:          "multiple markers in one chunk",
			chunks:        []string{"See [[a1]] and [[b2]] here."},
			wantContent:   "See  and  here.",
			wantCitations: []string{"a1", "b2"},
		},
		{
			name:          "id split across chunk boundary",
			chunks:        []string{"Hello [[abc", "123]] world"},
			wantContent:   "Hello  world",
			wantCitations: []string{"abc123"},
		},
		{
			name:          "id split across three chunks",
			chunks:        []string{"total [[ab", "cd", "ef]] done"},
			wantContent:   "total  done",
			wantCitations: []string{"abcdef"},
		},
		{
			name:          "closing brackets split across chunks",
			chunks:        []string{"cite [[doc-7]", "] end"},
			wantContent:   "cite  end",
			wantCitations: []string{"doc-7"},
		},
		{
			name:          "held opening bracket completes a marker",
			chunks:        []string{"x [", "[id_1]] y"},
			wantContent:   "x  y",
			wantCitations: []string{"id_1"},
		},
		{
			name:        "held opening bracket turns out to be content",
			chunks:      []string{"count [", "3] done"},
			wantContent: "count [3] done",
		},
		{
			name:        "invalid id passes through verbatim",
			chunks:      []string{"Result [[not valid]] token"},
			wantContent: "Result [[not valid]] token",
		},
		{
			name:          "invalid marker does not mask a later valid one",
			chunks:        []string{"a [[x y]] then [[ok]]."},
			wantContent:   "a [[x y]] then .",
			wantCitations: []string{"ok"},
		},
		{
			name:        "empty marker passes through",
			chunks:      []string{"see [[]] here"},
			wantContent: "see [[]] here",
		},
		{
			name:        "flush releases an unterminated marker",
			chunks:      []string{"prefix [[unfinished"},
			wantContent: "prefix [[unfinished",
		},
		{
			name:        "flush releases a lone held bracket",
			chunks:      []string{"dangling ["},
			wantContent: "dangling [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, citations := runParser(t, tt.chunks)
			if content != tt.wantContent {
				t.Fatalf("unexpected content: got %q want %q", content, tt.wantContent)
			}
			if !reflect.DeepEqual(citations, tt.wantCitations) {
				t.Fatalf("unexpected citations: got %v want %v", citations, tt.wantCitations)
			}
		})
	}
}

func TestStreamCitationParserPropagatesCallbackError(t *testing.T) {
	sentinel := errors.New("downstream closed")

	var parser StreamCitationParser
	err := parser.Consume("x [[id]] y",
		func(string) error { return nil },
		func(string) error { return sentinel },
	)
	if !errors.Is(err, sentinel) {
		t.Fatalf("unexpected error: got %v want %v", err, sentinel)
	}
}

func TestIsCitationID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"abcDEF012", true},
		{"-_", true},
		{"doc-7_final", true},
		{"abc def", false},
		{"abc]", false},
		{"v1.2", false},
		{"café", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := isCitationID(tt.id); got != tt.want {
				t.Fatalf("unexpected result for %q: got %v want %v", tt.id, got, tt.want)
			}
		})
	}
}
