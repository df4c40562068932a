package graph

import (
	"testing"

	"github.com/meridian-hq/atlas/backend/pkg/common"
)

func TestMergeEntitiesAndRelations(t *testing.T) {
	t.Run("duplicate entity folds sources and descriptions", func(t *testing.T) {
		entities := []common.Entity{
			{
				ID:          "e1",
				Name:        "ACME CORP",
				Type:        "ORGANIZATION",
				Description: "A manufacturer.",
				Sources:     []common.Source{{ID: "s1"}},
			},
		}
		incoming := []common.Entity{
			{
				ID:          "e2",
				Name:        "ACME INCORPORATED",
				Type:        "ORGANIZATION",
				Description: "Makes road runner traps.",
				Sources:     []common.Source{{ID: "s2"}, {ID: "s1"}},
			},
		}

		merged, _ := mergeEntitiesAndRelations(entities, incoming, nil, nil)

		if len(merged) != 1 {
			t.Fatalf("merged %d entities, want 1", len(merged))
		}
		if merged[0].Name != "ACME CORP" {
			t.Errorf("merged name = %s, want ACME CORP", merged[0].Name)
		}
		if len(merged[0].Sources) != 2 {
			t.Errorf("merged sources = %d, want 2", len(merged[0].Sources))
		}
		want := "A manufacturer.\nMakes road runner traps."
		if merged[0].Description != want {
			t.Errorf("merged description = %q, want %q", merged[0].Description, want)
		}
	})

	t.Run("distinct entities are appended", func(t *testing.T) {
		entities := []common.Entity{
			{ID: "e1", Name: "ACME", Type: "ORGANIZATION"},
		}
		incoming := []common.Entity{
			{ID: "e2", Name: "NORTHWIND", Type: "ORGANIZATION"},
			{ID: "e3", Name: "ACME", Type: "CONCEPT"},
		}

		merged, _ := mergeEntitiesAndRelations(entities, incoming, nil, nil)

		if len(merged) != 3 {
			t.Fatalf("merged %d entities, want 3", len(merged))
		}
	})

	t.Run("relations share endpoints with the merged slice", func(t *testing.T) {
		incomingEntities := []common.Entity{
			{ID: "e1", Name: "ALICE", Type: "PERSON"},
			{ID: "e2", Name: "ACME", Type: "ORGANIZATION"},
		}
		incomingRelations := []common.Relationship{
			{
				ID:       "r1",
				Source:   &incomingEntities[0],
				Target:   &incomingEntities[1],
				Type:     "FOUNDED",
				Strength: 0.7,
				Sources:  []common.Source{{ID: "rs1"}},
			},
		}

		entities, relations := mergeEntitiesAndRelations(nil, incomingEntities, nil, incomingRelations)

		if len(relations) != 1 {
			t.Fatalf("merged %d relations, want 1", len(relations))
		}
		if relations[0].Source != &entities[0] || relations[0].Target != &entities[1] {
			t.Errorf("relation endpoints should point into the merged entity slice")
		}
	})

	t.Run("same pair merges strength and keeps concrete type", func(t *testing.T) {
		baseEntities := []common.Entity{
			{ID: "e1", Name: "ALICE", Type: "PERSON"},
			{ID: "e2", Name: "ACME", Type: "ORGANIZATION"},
		}
		baseRelations := []common.Relationship{
			{
				ID:       "r1",
				Source:   &baseEntities[0],
				Target:   &baseEntities[1],
				Type:     RelationCoMentioned,
				Strength: 0.3,
				Sources:  []common.Source{{ID: "rs1"}},
			},
		}
		incomingEntities := []common.Entity{
			{ID: "e3", Name: "ACME", Type: "ORGANIZATION"},
			{ID: "e4", Name: "ALICE", Type: "PERSON"},
		}
		// Reverse direction on purpose: the pair key is undirected.
		incomingRelations := []common.Relationship{
			{
				ID:       "r2",
				Source:   &incomingEntities[0],
				Target:   &incomingEntities[1],
				Type:     "WORKS_FOR",
				Strength: 0.7,
				Sources:  []common.Source{{ID: "rs2"}},
			},
		}

		_, relations := mergeEntitiesAndRelations(baseEntities, incomingEntities, baseRelations, incomingRelations)

		if len(relations) != 1 {
			t.Fatalf("merged %d relations, want 1", len(relations))
		}
		if relations[0].Type != "WORKS_FOR" {
			t.Errorf("merged type = %s, want WORKS_FOR", relations[0].Type)
		}
		if relations[0].Strength != 0.5 {
			t.Errorf("merged strength = %v, want 0.5", relations[0].Strength)
		}
		if len(relations[0].Sources) != 2 {
			t.Errorf("merged sources = %d, want 2", len(relations[0].Sources))
		}
	})

	t.Run("relation collapsing onto one entity is dropped", func(t *testing.T) {
		baseEntities := []common.Entity{
			{ID: "e1", Name: "ACME CORP", Type: "ORGANIZATION"},
		}
		incomingEntities := []common.Entity{
			{ID: "e2", Name: "ACME INC", Type: "ORGANIZATION"},
		}
		incomingRelations := []common.Relationship{
			{
				ID:     "r1",
				Source: &incomingEntities[0],
				Target: &baseEntities[0],
				Type:   "PARTNERS_WITH",
			},
		}

		_, relations := mergeEntitiesAndRelations(baseEntities, incomingEntities, nil, incomingRelations)

		if len(relations) != 0 {
			t.Errorf("merged %d relations, want 0 (both endpoints collapse onto one entity)", len(relations))
		}
	})

	t.Run("relation with unknown endpoint is dropped", func(t *testing.T) {
		ghost := common.Entity{ID: "ghost", Name: "GHOST", Type: "PERSON"}
		incomingEntities := []common.Entity{
			{ID: "e1", Name: "ACME", Type: "ORGANIZATION"},
		}
		incomingRelations := []common.Relationship{
			{
				ID:     "r1",
				Source: &ghost,
				Target: &incomingEntities[0],
				Type:   "WORKS_FOR",
			},
		}

		_, relations := mergeEntitiesAndRelations(nil, incomingEntities, nil, incomingRelations)

		if len(relations) != 0 {
			t.Errorf("merged %d relations, want 0", len(relations))
		}
	})
}

func TestJoinDescriptions(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		incoming string
		want     string
	}{
		{name: "empty existing", existing: "", incoming: "new", want: "new"},
		{name: "empty incoming", existing: "old", incoming: "", want: "old"},
		{name: "identical", existing: "same", incoming: "same", want: "same"},
		{name: "both set", existing: "old", incoming: "new", want: "old\nnew"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := joinDescriptions(tt.existing, tt.incoming)
			if got != tt.want {
				t.Errorf("joinDescriptions(%q, %q) = %q, want %q", tt.existing, tt.incoming, got, tt.want)
			}
		})
	}
}

func TestMergeRelationTypes(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		incoming string
		want     string
	}{
		{name: "concrete beats co-mention", existing: RelationCoMentioned, incoming: "FOUNDED", want: "FOUNDED"},
		{name: "concrete beats empty", existing: "", incoming: "FOUNDED", want: "FOUNDED"},
		{name: "existing concrete wins", existing: "WORKS_FOR", incoming: "LEADS", want: "WORKS_FOR"},
		{name: "co-mention does not downgrade", existing: "FOUNDED", incoming: RelationCoMentioned, want: "FOUNDED"},
		{name: "co-mention fills empty", existing: "", incoming: RelationCoMentioned, want: RelationCoMentioned},
		{name: "both co-mention", existing: RelationCoMentioned, incoming: RelationCoMentioned, want: RelationCoMentioned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeRelationTypes(tt.existing, tt.incoming)
			if got != tt.want {
				t.Errorf("mergeRelationTypes(%q, %q) = %q, want %q", tt.existing, tt.incoming, got, tt.want)
			}
		})
	}
}
