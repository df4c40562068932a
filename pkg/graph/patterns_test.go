package graph

import (
	"strings"
	"testing"

	"github.com/meridian-hq/atlas/backend/pkg/common"
)

type wantRelation struct {
	source   string
	target   string
	relType  string
	strength float64
}

func TestAugmentWithPatterns(t *testing.T) {
	tests := []struct {
		name string
		text string
		// Entities are referenced by slice index in extractedPairs.
		entities       []common.Entity
		extractedPairs [][2]int
		want           []wantRelation
	}{
		{
			name: "founded keyword between mentions",
			text: "ALICE founded ACME in 2001 and grew it from her garage.",
			entities: []common.Entity{
				{ID: "e1", Name: "ALICE", Type: "PERSON"},
				{ID: "e2", Name: "ACME", Type: "ORGANIZATION"},
			},
			want: []wantRelation{
				{source: "ALICE", target: "ACME", relType: "FOUNDED", strength: patternConfidence},
			},
		},
		{
			name: "direction follows mention order",
			text: "ACME was founded by ALICE after she left her previous job.",
			entities: []common.Entity{
				{ID: "e1", Name: "ALICE", Type: "PERSON"},
				{ID: "e2", Name: "ACME", Type: "ORGANIZATION"},
			},
			want: []wantRelation{
				{source: "ACME", target: "ALICE", relType: "FOUNDED", strength: patternConfidence},
			},
		},
		{
			name: "co-founded wins over founded",
			text: "ALICE co-founded ACME together with two colleagues.",
			entities: []common.Entity{
				{ID: "e1", Name: "ALICE", Type: "PERSON"},
				{ID: "e2", Name: "ACME", Type: "ORGANIZATION"},
			},
			want: []wantRelation{
				{source: "ALICE", target: "ACME", relType: "CO_FOUNDED", strength: patternConfidence},
			},
		},
		{
			name: "works for keyword",
			text: "BOB works at ACME as a staff engineer.",
			entities: []common.Entity{
				{ID: "e1", Name: "BOB", Type: "PERSON"},
				{ID: "e2", Name: "ACME", Type: "ORGANIZATION"},
			},
			want: []wantRelation{
				{source: "BOB", target: "ACME", relType: "WORKS_FOR", strength: patternConfidence},
			},
		},
		{
			name: "funding keyword",
			text: "ACME raised a large round led by NORTHWIND.",
			entities: []common.Entity{
				{ID: "e1", Name: "ACME", Type: "ORGANIZATION"},
				{ID: "e2", Name: "NORTHWIND", Type: "ORGANIZATION"},
			},
			want: []wantRelation{
				{source: "ACME", target: "NORTHWIND", relType: "RAISED_FUNDING", strength: patternConfidence},
			},
		},
		{
			name: "co-mention fallback",
			text: "ALICE visited PARIS last spring.",
			entities: []common.Entity{
				{ID: "e1", Name: "ALICE", Type: "PERSON"},
				{ID: "e2", Name: "PARIS", Type: "LOCATION"},
			},
			want: []wantRelation{
				{source: "ALICE", target: "PARIS", relType: RelationCoMentioned, strength: coMentionConfidence},
			},
		},
		{
			name: "co-mention suppressed by extracted link",
			text: "ALICE visited PARIS last spring.",
			entities: []common.Entity{
				{ID: "e1", Name: "ALICE", Type: "PERSON"},
				{ID: "e2", Name: "PARIS", Type: "LOCATION"},
			},
			extractedPairs: [][2]int{{0, 1}},
			want:           nil,
		},
		{
			name: "typed pattern emitted despite extracted link",
			text: "ALICE founded ACME in 2001.",
			entities: []common.Entity{
				{ID: "e1", Name: "ALICE", Type: "PERSON"},
				{ID: "e2", Name: "ACME", Type: "ORGANIZATION"},
			},
			extractedPairs: [][2]int{{0, 1}},
			want: []wantRelation{
				{source: "ALICE", target: "ACME", relType: "FOUNDED", strength: patternConfidence},
			},
		},
		{
			name: "entity missing from text is ignored",
			text: "ALICE gave a talk about databases.",
			entities: []common.Entity{
				{ID: "e1", Name: "ALICE", Type: "PERSON"},
				{ID: "e2", Name: "ZURICH", Type: "LOCATION"},
			},
			want: nil,
		},
		{
			name:     "fewer than two entities",
			text:     "ALICE gave a talk.",
			entities: []common.Entity{{ID: "e1", Name: "ALICE", Type: "PERSON"}},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit := &common.Unit{ID: "u1", DocumentID: "doc", Text: tt.text}

			var extracted []common.Relationship
			for _, pair := range tt.extractedPairs {
				extracted = append(extracted, common.Relationship{
					ID:     "r_extracted",
					Source: &tt.entities[pair[0]],
					Target: &tt.entities[pair[1]],
					Type:   "RELATED_TO",
				})
			}

			got, err := augmentWithPatterns(unit, tt.entities, extracted)
			if err != nil {
				t.Fatalf("augmentWithPatterns() error = %v", err)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("augmentWithPatterns() returned %d relations, want %d", len(got), len(tt.want))
			}

			for i, rel := range got {
				want := tt.want[i]
				if rel.Source.Name != want.source {
					t.Errorf("relation[%d].Source.Name = %s, want %s", i, rel.Source.Name, want.source)
				}
				if rel.Target.Name != want.target {
					t.Errorf("relation[%d].Target.Name = %s, want %s", i, rel.Target.Name, want.target)
				}
				if rel.Type != want.relType {
					t.Errorf("relation[%d].Type = %s, want %s", i, rel.Type, want.relType)
				}
				if rel.Strength != want.strength {
					t.Errorf("relation[%d].Strength = %v, want %v", i, rel.Strength, want.strength)
				}
				if rel.ID == "" {
					t.Errorf("relation[%d] has no ID", i)
				}
				if len(rel.Sources) != 1 {
					t.Fatalf("relation[%d] has %d sources, want 1", i, len(rel.Sources))
				}
				if rel.Sources[0].Unit != unit {
					t.Errorf("relation[%d] source should reference the unit", i)
				}
				if rel.Sources[0].Description == "" {
					t.Errorf("relation[%d] source has no description", i)
				}
			}
		})
	}
}

func TestAugmentWithPatternsOneEdgePerPair(t *testing.T) {
	text := "ALICE and BOB visited ACME headquarters, where ALICE met BOB again."
	entities := []common.Entity{
		{ID: "e1", Name: "ALICE", Type: "PERSON"},
		{ID: "e2", Name: "BOB", Type: "PERSON"},
		{ID: "e3", Name: "ACME", Type: "ORGANIZATION"},
	}
	unit := &common.Unit{ID: "u1", DocumentID: "doc", Text: text}

	got, err := augmentWithPatterns(unit, entities, nil)
	if err != nil {
		t.Fatalf("augmentWithPatterns() error = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("augmentWithPatterns() returned %d relations, want 3", len(got))
	}

	seen := make(map[string]bool)
	for _, rel := range got {
		key := undirectedPairKey(rel.Source, rel.Target)
		if seen[key] {
			t.Errorf("pair %s appears more than once", key)
		}
		seen[key] = true
	}
}

func TestMatchRelationPatternIgnoresTextOutsideSpan(t *testing.T) {
	// The keyword appears before both mentions, not between them, so no
	// pattern may match.
	text := "The company was founded long ago. ALICE now advises ACME."
	entities := []common.Entity{
		{ID: "e1", Name: "ALICE", Type: "PERSON"},
		{ID: "e2", Name: "ACME", Type: "ORGANIZATION"},
	}
	unit := &common.Unit{ID: "u1", DocumentID: "doc", Text: text}

	got, err := augmentWithPatterns(unit, entities, nil)
	if err != nil {
		t.Fatalf("augmentWithPatterns() error = %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("augmentWithPatterns() returned %d relations, want 1", len(got))
	}
	if got[0].Type != RelationCoMentioned {
		t.Errorf("relation type = %s, want %s", got[0].Type, RelationCoMentioned)
	}
}

func TestContextWindow(t *testing.T) {
	long := strings.Repeat("x", 300)

	tests := []struct {
		name    string
		text    string
		start   int
		end     int
		wantLen int
	}{
		{name: "clamped at start", text: long, start: 0, end: 5, wantLen: 105},
		{name: "clamped at end", text: long, start: 295, end: 300, wantLen: 105},
		{name: "padded both sides", text: long, start: 150, end: 155, wantLen: 205},
		{name: "short text returns everything", text: "hello", start: 0, end: 5, wantLen: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contextWindow(tt.text, tt.start, tt.end)
			if len(got) != tt.wantLen {
				t.Errorf("contextWindow() length = %d, want %d", len(got), tt.wantLen)
			}
		})
	}

	t.Run("surrounding whitespace is trimmed", func(t *testing.T) {
		got := contextWindow("  hello  ", 2, 7)
		if got != "hello" {
			t.Errorf("contextWindow() = %q, want %q", got, "hello")
		}
	})
}
