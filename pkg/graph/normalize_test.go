package graph

import "testing"

func TestNormalizeEntityName(t *testing.T) {
	tests := []struct {
		name       string
		entityName string
		entityType string
		want       string
	}{
		{
			name:       "casefold and collapse whitespace",
			entityName: "  ACME   Corporation ",
			entityType: "ORGANIZATION",
			want:       "acme",
		},
		{
			name:       "strip stacked organization suffixes",
			entityName: "Northwind Holdings Ltd.",
			entityType: "ORGANIZATION",
			want:       "northwind",
		},
		{
			name:       "keep suffix when it is the whole name",
			entityName: "Group",
			entityType: "ORGANIZATION",
			want:       "group",
		},
		{
			name:       "strip person title",
			entityName: "Dr. Alice Johnson",
			entityType: "PERSON",
			want:       "alice johnson",
		},
		{
			name:       "strip stacked person titles",
			entityName: "Prof. Dr. Alice Johnson",
			entityType: "PERSON",
			want:       "alice johnson",
		},
		{
			name:       "keep title when it is the whole name",
			entityName: "Professor",
			entityType: "PERSON",
			want:       "professor",
		},
		{
			name:       "suffixes untouched for other types",
			entityName: "Acme Inc",
			entityType: "CONCEPT",
			want:       "acme inc",
		},
		{
			name:       "punctuation trimmed per token",
			entityName: "\"Acme\", (Inc.)",
			entityType: "ORGANIZATION",
			want:       "acme",
		},
		{
			name:       "empty name",
			entityName: "   ",
			entityType: "PERSON",
			want:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeEntityName(tt.entityName, tt.entityType)
			if got != tt.want {
				t.Errorf("normalizeEntityName(%q, %q) = %q, want %q", tt.entityName, tt.entityType, got, tt.want)
			}
		})
	}
}

func TestNormalizeMergeKey(t *testing.T) {
	tests := []struct {
		name  string
		a     [2]string
		b     [2]string
		equal bool
	}{
		{
			name:  "same organization different legal form",
			a:     [2]string{"ACME Corp", "ORGANIZATION"},
			b:     [2]string{"Acme Incorporated", "organization"},
			equal: true,
		},
		{
			name:  "same person different honorific",
			a:     [2]string{"Dr. Alice Johnson", "PERSON"},
			b:     [2]string{"alice johnson", "PERSON"},
			equal: true,
		},
		{
			name:  "same name different type stays distinct",
			a:     [2]string{"Mercury", "PLANET"},
			b:     [2]string{"Mercury", "CONCEPT"},
			equal: false,
		},
		{
			name:  "different people stay distinct",
			a:     [2]string{"Alice Johnson", "PERSON"},
			b:     [2]string{"Alice Jonson", "PERSON"},
			equal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left := normalizeMergeKey(tt.a[0], tt.a[1])
			right := normalizeMergeKey(tt.b[0], tt.b[1])
			if (left == right) != tt.equal {
				t.Errorf("normalizeMergeKey(%v) = %q, normalizeMergeKey(%v) = %q, want equal = %v",
					tt.a, left, tt.b, right, tt.equal)
			}
		})
	}
}
