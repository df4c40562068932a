package ai

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

type extractedEntity struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

func TestUnmarshalFlexibleObjects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  extractedEntity
	}{
		{
			name:  "clean object",
			input: `{"name":"Marie Curie","type":"person"}`,
			want:  extractedEntity{Name: "Marie Curie", Type: "person"},
		},
		{
			name:  "unquoted keys and single quotes",
			input: `{name: 'Marie Curie', type: 'person'}`,
			want:  extractedEntity{Name: "Marie Curie", Type: "person"},
		},
		{
			name:  "trailing comma",
			input: `{"name":"Marie Curie","type":"person",}`,
			want:  extractedEntity{Name: "Marie Curie", Type: "person"},
		},
		{
			name:  "truncated mid string",
			input: `{"name":"Marie Curie`,
			want:  extractedEntity{Name: "Marie Curie"},
		},
		{
			name:  "double encoded",
			input: `"{\"name\":\"Marie Curie\"}"`,
			want:  extractedEntity{Name: "Marie Curie"},
		},
		{
			name:  "double encoded and malformed",
			input: `"{name: 'Marie Curie'}"`,
			want:  extractedEntity{Name: "Marie Curie"},
		},
		{
			name:  "doubled opening brace",
			input: "{\n{\n  \"name\": \"Marie Curie\"\n}\n",
			want:  extractedEntity{Name: "Marie Curie"},
		},
		{
			name:  "doubled opening brace single line",
			input: `{ { "name": "Marie Curie" }`,
			want:  extractedEntity{Name: "Marie Curie"},
		},
		{
			name:  "fenced with language tag",
			input: "```json\n{\"name\":\"Marie Curie\"}\n```",
			want:  extractedEntity{Name: "Marie Curie"},
		},
		{
			name:  "fenced without language tag",
			input: "```\n{\"name\":\"Marie Curie\"}\n```",
			want:  extractedEntity{Name: "Marie Curie"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got extractedEntity
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexibleArrays(t *testing.T) {
	var got []extractedEntity
	if err := UnmarshalFlexible(`[{name:'GDPR'},{name:'HIPAA',}]`, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}

	want := []extractedEntity{{Name: "GDPR"}, {Name: "HIPAA"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, want)
	}
}

func TestUnmarshalFlexibleNested(t *testing.T) {
	type extraction struct {
		Summary  string            `json:"summary"`
		Entities []extractedEntity `json:"entities"`
	}

	// Double-encoded payload with escaped newlines, the way some models
	// return pretty-printed JSON inside a string.
	input := `"{\n  \"summary\": \"Radium research notes\",\n  \"entities\": [{\"name\": \"Radium\", \"type\": \"substance\"}, {\"name\": \"Sorbonne\", \"type\": \"organization\"}]\n}\n"`

	var got extraction
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}

	want := extraction{
		Summary: "Radium research notes",
		Entities: []extractedEntity{
			{Name: "Radium", Type: "substance"},
			{Name: "Sorbonne", Type: "organization"},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, want)
	}
}

func TestUnmarshalFlexibleRejectsProse(t *testing.T) {
	var got extractedEntity
	if err := UnmarshalFlexible("no json here", &got); err == nil {
		t.Fatal("expected error for input without any JSON")
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no fence", input: `{"a":1}`, want: `{"a":1}`},
		{name: "language tag", input: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", input: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "single line fence", input: "```{\"a\":1}```", want: `{"a":1}`},
		{name: "prose untouched", input: "plain text", want: "plain text"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripCodeFence(tc.input); got != tc.want {
				t.Fatalf("stripCodeFence(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestGenerateSchema(t *testing.T) {
	type report struct {
		Title    string   `json:"title"`
		Findings []string `json:"findings"`
	}

	schema := GenerateSchema(&report{})
	raw, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}

	text := string(raw)
	for _, want := range []string{`"properties"`, `"title"`, `"findings"`, `"additionalProperties":false`} {
		if !strings.Contains(text, want) {
			t.Fatalf("schema missing %s: %s", want, text)
		}
	}
	if strings.Contains(text, `"$ref"`) {
		t.Fatalf("schema should inline definitions, got %s", text)
	}
}
