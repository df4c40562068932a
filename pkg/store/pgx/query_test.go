package pgx

import (
	"reflect"
	"testing"
)

func TestBuildContextSection(t *testing.T) {
	tests := []struct {
		name         string
		title        string
		lines        []sourceLine
		expected     string
		expectedUsed []string
	}{
		{
			name:  "entity lines",
			title: "Relevant Entities:",
			lines: []sourceLine{
				{label: "ACME", publicID: "src_1", text: "A manufacturer."},
				{label: "Jane Doe", publicID: "src_2", text: "CEO of ACME."},
			},
			expected:     "Relevant Entities:\nACME,src_1: A manufacturer.\nJane Doe,src_2: CEO of ACME.\n",
			expectedUsed: []string{"src_1", "src_2"},
		},
		{
			name:  "skips lines without text",
			title: "Connecting Entities:",
			lines: []sourceLine{
				{label: "ACME", publicID: "src_1", text: ""},
				{label: "Jane Doe", publicID: "src_2", text: "CEO of ACME."},
			},
			expected:     "Connecting Entities:\nJane Doe,src_2: CEO of ACME.\n",
			expectedUsed: []string{"src_2"},
		},
		{
			name:  "relationship labels",
			title: "Connecting Relationships:",
			lines: []sourceLine{
				{label: "Jane Doe<->ACME", publicID: "src_3", text: "Jane founded ACME."},
			},
			expected:     "Connecting Relationships:\nJane Doe<->ACME,src_3: Jane founded ACME.\n",
			expectedUsed: []string{"src_3"},
		},
		{
			name:         "all empty yields no section",
			title:        "Additional Sources:",
			lines:        []sourceLine{{label: "ACME", publicID: "src_1", text: ""}},
			expected:     "",
			expectedUsed: nil,
		},
		{
			name:         "no lines yields no section",
			title:        "Relevant Entities:",
			lines:        nil,
			expected:     "",
			expectedUsed: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			section, used := buildContextSection(tt.title, tt.lines)
			if section != tt.expected {
				t.Fatalf("unexpected output:\nexpected: %q\nreceived: %q", tt.expected, section)
			}
			if !reflect.DeepEqual(used, tt.expectedUsed) {
				t.Fatalf("unexpected used ids:\nexpected: %v\nreceived: %v", tt.expectedUsed, used)
			}
		})
	}
}

func TestBuildMetadataSection(t *testing.T) {
	meta := "Annual report 2025"
	empty := ""

	tests := []struct {
		name         string
		documents    []documentMetadataRow
		expected     string
		expectedUsed []string
	}{
		{
			name: "renders metadata",
			documents: []documentMetadataRow{
				{PublicID: "doc_1", Name: "report.pdf", FileKey: "k1", Metadata: &meta},
			},
			expected:     "Document Metadata:\nreport.pdf: Annual report 2025\n",
			expectedUsed: []string{"doc_1"},
		},
		{
			name: "dedupes by file key",
			documents: []documentMetadataRow{
				{PublicID: "doc_1", Name: "report.pdf", FileKey: "k1", Metadata: &meta},
				{PublicID: "doc_2", Name: "report.pdf", FileKey: "k1", Metadata: &meta},
			},
			expected:     "Document Metadata:\nreport.pdf: Annual report 2025\n",
			expectedUsed: []string{"doc_1"},
		},
		{
			name: "skips documents without metadata",
			documents: []documentMetadataRow{
				{PublicID: "doc_1", Name: "report.pdf", FileKey: "k1", Metadata: nil},
				{PublicID: "doc_2", Name: "notes.txt", FileKey: "k2", Metadata: &empty},
			},
			expected:     "",
			expectedUsed: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			section, used := buildMetadataSection(tt.documents)
			if section != tt.expected {
				t.Fatalf("unexpected output:\nexpected: %q\nreceived: %q", tt.expected, section)
			}
			if !reflect.DeepEqual(used, tt.expectedUsed) {
				t.Fatalf("unexpected used ids:\nexpected: %v\nreceived: %v", tt.expectedUsed, used)
			}
		})
	}
}

func TestRelationshipSourceLines(t *testing.T) {
	hits := []relationshipSourceHit{
		{ID: 1, SourceName: "Jane Doe", TargetName: "ACME", PublicID: "src_9", Description: "Founder."},
	}

	lines := relationshipSourceLines(hits)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0].label != "Jane Doe<->ACME" {
		t.Fatalf("unexpected output:\nexpected: %q\nreceived: %q", "Jane Doe<->ACME", lines[0].label)
	}
	if lines[0].publicID != "src_9" {
		t.Fatalf("unexpected output:\nexpected: %q\nreceived: %q", "src_9", lines[0].publicID)
	}
}
