package graph

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/loader"
)

// stubLoader serves a fixed payload for any file.
type stubLoader struct {
	payload string
}

func (s *stubLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return []byte(s.payload), nil
}

func TestParseChunkStrategy(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  ChunkStrategy
	}{
		{name: "empty falls back to paragraph", value: "", want: StrategyParagraph},
		{name: "unknown falls back to paragraph", value: "bogus", want: StrategyParagraph},
		{name: "sentence", value: "sentence", want: StrategySentence},
		{name: "fixed with whitespace", value: "  fixed ", want: StrategyFixed},
		{name: "semantic uppercase", value: "SEMANTIC", want: StrategySemantic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseChunkStrategy(tt.value)
			if got != tt.want {
				t.Errorf("ParseChunkStrategy(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestSplitIntoSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "no input",
			text: "",
			want: nil,
		},
		{
			name: "one sentence",
			text: "Harbor pilots board at dawn.",
			want: []string{"Harbor pilots board at dawn."},
		},
		{
			name: "several sentences on one line",
			text: "The crane arm locked. Dispatch was alerted! Was anyone hurt?",
			want: []string{
				"The crane arm locked.",
				"Dispatch was alerted!",
				"Was anyone hurt?",
			},
		},
		{
			name: "blank lines between sentences",
			text: "Berth one is clear.\n\nBerth two is flooded.\n\nBerth three is closed.",
			want: []string{
				"Berth one is clear.",
				"Berth two is flooded.",
				"Berth three is closed.",
			},
		},
		{
			name: "sentence spanning several lines",
			text: "The inspection report\ncovers every vessel\nthat docked in March.",
			want: []string{"The inspection report covers every vessel that docked in March."},
		},
		{
			name: "markdown table kept whole",
			text: "Vessel | Berth\n------ | -----\nAurora | B2\nKestrel | B7",
			want: []string{
				"Vessel | Berth\n------ | -----\nAurora | B2\nKestrel | B7",
			},
		},
		{
			name: "table embedded in prose",
			text: "Arrivals for today.\nVessel | Berth\n------ | -----\nAurora | B2\nAll berths confirmed.",
			want: []string{
				"Arrivals for today.",
				"Vessel | Berth\n------ | -----\nAurora | B2",
				"All berths confirmed.",
			},
		},
		{
			name: "pipe rows without separator stay separate",
			text: "Vessel | Berth\nAurora | B2",
			want: []string{
				"Vessel | Berth",
				"Aurora | B2",
			},
		},
		{
			name: "no terminal punctuation at all",
			text: "notes from the night shift\nnothing to report",
			want: []string{"notes from the night shift nothing to report"},
		},
		{
			name: "piped table between paragraphs",
			text: "Shift change at noon.\n\n| Gate | Code |\n|------|------|\n| North | 41 |\n\nLog closed?",
			want: []string{
				"Shift change at noon.",
				"| Gate | Code |\n|------|------|\n| North | 41 |",
				"Log closed?",
			},
		},
		{
			name: "enumerators do not end sentences",
			text: "The audit found three gaps. 1. Missing seals 2. Stale logs 3. Open hatches. Crew briefed!",
			want: []string{
				"The audit found three gaps.",
				"1. Missing seals 2. Stale logs 3. Open hatches.",
				"Crew briefed!",
			},
		},
		{
			name: "quote-capped sentence flows into the next",
			text: `He shouted "clear!" Loading resumed.`,
			want: []string{`He shouted "clear!" Loading resumed.`},
		},
		{
			name: "ellipsis counts as one boundary",
			text: "Hold on... the manifest is wrong.",
			want: []string{
				"Hold on...",
				"the manifest is wrong.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitIntoSentences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitIntoSentences() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSplitIntoParagraphs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "blank line separated",
			text: "First paragraph.\n\nSecond paragraph.",
			want: []string{"First paragraph.", "Second paragraph."},
		},
		{
			name: "blank line with whitespace",
			text: "First paragraph.\n \t\nSecond paragraph.",
			want: []string{"First paragraph.", "Second paragraph."},
		},
		{
			name: "windows line endings",
			text: "First paragraph.\r\n\r\nSecond paragraph.",
			want: []string{"First paragraph.", "Second paragraph."},
		},
		{
			name: "single newline keeps paragraph together",
			text: "One line\nanother line",
			want: []string{"One line\nanother line"},
		},
		{
			name: "only whitespace",
			text: "\n\n \n\n",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitIntoParagraphs(tt.text)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitIntoParagraphs() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSniffSectionTitle(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantTitle string
		wantOK    bool
	}{
		{name: "markdown heading", line: "# Overview", wantTitle: "Overview", wantOK: true},
		{name: "deep markdown heading", line: "### Deep Dive", wantTitle: "Deep Dive", wantOK: true},
		{name: "numbered heading", line: "2.1 Results", wantTitle: "Results", wantOK: true},
		{name: "numbered heading with parenthesis", line: "3) Future Work", wantTitle: "Future Work", wantOK: true},
		{name: "short title case line", line: "Quarterly Report", wantTitle: "Quarterly Report", wantOK: true},
		{name: "title with minor words", line: "Revenue and Growth", wantTitle: "Revenue and Growth", wantOK: true},
		{name: "title with trailing colon", line: "Executive Summary:", wantTitle: "Executive Summary", wantOK: true},
		{name: "sentence is not a title", line: "The quick brown fox jumps over the lazy dog.", wantOK: false},
		{name: "numbered listing is not a title", line: "1. First item 2. Second item", wantOK: false},
		{name: "lowercase line is not a title", line: "just lowercase words", wantOK: false},
		{name: "table row is not a title", line: "| a | b |", wantOK: false},
		{name: "empty line", line: "", wantOK: false},
		{name: "bare hashes", line: "###", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, ok := sniffSectionTitle(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("sniffSectionTitle(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if ok && title != tt.wantTitle {
				t.Errorf("sniffSectionTitle(%q) = %q, want %q", tt.line, title, tt.wantTitle)
			}
		})
	}
}

func TestClassifyUnitText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "plain sentence",
			text: "Just a plain sentence.",
			want: common.UnitTypeText,
		},
		{
			name: "single heading",
			text: "# Heading",
			want: common.UnitTypeTitle,
		},
		{
			name: "standalone title case line",
			text: "Quarterly Report",
			want: common.UnitTypeTitle,
		},
		{
			name: "bullet list",
			text: "- one\n- two\n- three",
			want: common.UnitTypeList,
		},
		{
			name: "numbered list",
			text: "1. First\n2. Second",
			want: common.UnitTypeList,
		},
		{
			name: "list with intro line",
			text: "Ingredients:\n- one\n- two\n- three",
			want: common.UnitTypeList,
		},
		{
			name: "markdown table",
			text: "| a | b |\n|---|---|\n| 1 | 2 |",
			want: common.UnitTypeTable,
		},
		{
			name: "multi line prose",
			text: "First line of prose\nsecond line of prose\nthird line of prose",
			want: common.UnitTypeText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyUnitText(tt.text)
			if got != tt.want {
				t.Errorf("classifyUnitText() = %q, want %q", got, tt.want)
			}
		})
	}
}

// unitRange is the expected shape of one produced unit.
type unitRange struct {
	start int
	end   int
	text  string
}

func TestGetUnitsFromText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxTokens int
		want      []unitRange
	}{
		{
			name:      "one short sentence",
			text:      "Tides are low.",
			maxTokens: 10,
			want:      []unitRange{{0, 1, "Tides are low."}},
		},
		{
			name:      "two sentences share a unit",
			text:      "Fog lifted early. Cranes resumed at nine.",
			maxTokens: 20,
			want:      []unitRange{{0, 2, "Fog lifted early. Cranes resumed at nine."}},
		},
		{
			name:      "tight budget cuts per sentence",
			text:      "Fog lifted early. Cranes resumed at nine. Docks reopened at ten.",
			maxTokens: 1,
			want: []unitRange{
				{0, 1, "Fog lifted early."},
				{1, 2, "Cranes resumed at nine."},
				{2, 3, "Docks reopened at ten."},
			},
		},
		{
			name:      "table never splits even over budget",
			text:      "| Lane | Status |\n|------|--------|\n| A1 | open |",
			maxTokens: 10,
			want:      []unitRange{{0, 1, "| Lane | Status |\n|------|--------|\n| A1 | open |"}},
		},
		{
			name:      "blank input yields nothing",
			text:      "",
			maxTokens: 10,
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := loader.GraphFile{
				ID:        "pier-log.txt",
				FilePath:  "pier-log.txt",
				MaxTokens: tt.maxTokens,
				Loader:    &stubLoader{payload: tt.text},
			}

			got, err := getUnitsFromText(context.Background(), file, "cl100k_base", StrategySentence)
			if err != nil {
				t.Fatalf("getUnitsFromText() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d units, want %d", len(got), len(tt.want))
			}

			for i, unit := range got {
				if unit.DocumentID != "pier-log.txt" {
					t.Errorf("unit[%d].DocumentID = %s, want pier-log.txt", i, unit.DocumentID)
				}
				if unit.Index != i {
					t.Errorf("unit[%d].Index = %d, want %d", i, unit.Index, i)
				}
				if unit.Start != tt.want[i].start || unit.End != tt.want[i].end {
					t.Errorf("unit[%d] range = [%d, %d), want [%d, %d)",
						i, unit.Start, unit.End, tt.want[i].start, tt.want[i].end)
				}
				if strings.TrimSpace(unit.Text) != tt.want[i].text {
					t.Errorf("unit[%d].Text = %q, want %q", i, unit.Text, tt.want[i].text)
				}
			}
		})
	}
}

func TestUnitIDsAreDeterministic(t *testing.T) {
	text := "First sentence. Second sentence. Third sentence."

	first, err := transformSentencesIntoUnits(text, "doc_a", "cl100k_base", 1)
	if err != nil {
		t.Fatalf("transformSentencesIntoUnits() error = %v", err)
	}
	second, err := transformSentencesIntoUnits(text, "doc_a", "cl100k_base", 1)
	if err != nil {
		t.Fatalf("transformSentencesIntoUnits() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	hash := contentHash(text)
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("unit[%d] ids differ: %s vs %s", i, first[i].ID, second[i].ID)
		}
		if want := unitID(hash, i); first[i].ID != want {
			t.Errorf("unit[%d].ID = %s, want %s", i, first[i].ID, want)
		}
	}

	other, err := transformSentencesIntoUnits("Entirely different content.", "doc_a", "cl100k_base", 1)
	if err != nil {
		t.Fatalf("transformSentencesIntoUnits() error = %v", err)
	}
	if len(other) > 0 && strings.HasPrefix(other[0].ID, hash) {
		t.Errorf("different content should not share the id prefix %s", hash)
	}
}

func TestTransformBlocksIntoUnits(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog.\n\nA second paragraph talks about something else entirely."

	t.Run("paragraphs fit into one chunk", func(t *testing.T) {
		got, err := transformParagraphsIntoUnits(text, "doc", "cl100k_base", 100)
		if err != nil {
			t.Fatalf("transformParagraphsIntoUnits() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("returned %d units, want 1", len(got))
		}
		if got[0].Start != 0 || got[0].End != 2 {
			t.Errorf("unit range = [%d, %d), want [0, 2)", got[0].Start, got[0].End)
		}
		if !strings.Contains(got[0].Text, "\n\n") {
			t.Errorf("expected both paragraphs joined in one unit, got %q", got[0].Text)
		}
	})

	t.Run("small budget splits per paragraph", func(t *testing.T) {
		got, err := transformParagraphsIntoUnits(text, "doc", "cl100k_base", 15)
		if err != nil {
			t.Fatalf("transformParagraphsIntoUnits() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("returned %d units, want 2", len(got))
		}
		if got[0].End != 1 || got[1].Start != 1 {
			t.Errorf("unexpected ranges: [%d,%d) and [%d,%d)",
				got[0].Start, got[0].End, got[1].Start, got[1].End)
		}
	})

	t.Run("section aware chunking", func(t *testing.T) {
		sectioned := "# Introduction\n\nThe quick brown fox jumps over the lazy dog.\n\n# Methods\n\nAnother plain sentence for the second section."

		got, err := transformSectionsIntoUnits(sectioned, "doc", "cl100k_base", 100)
		if err != nil {
			t.Fatalf("transformSectionsIntoUnits() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("returned %d units, want 2", len(got))
		}
		if got[0].Section != "Introduction" {
			t.Errorf("unit[0].Section = %q, want %q", got[0].Section, "Introduction")
		}
		if got[1].Section != "Methods" {
			t.Errorf("unit[1].Section = %q, want %q", got[1].Section, "Methods")
		}
		if !strings.HasPrefix(got[0].Text, "# Introduction") {
			t.Errorf("unit[0] should start with its heading, got %q", got[0].Text)
		}
	})
}

func TestTransformFixedIntoUnits(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)

	got, err := transformFixedIntoUnits(text, "doc", "cl100k_base", 10)
	if err != nil {
		t.Fatalf("transformFixedIntoUnits() error = %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("returned %d units, want at least 2", len(got))
	}

	// With a 10 token window the 50 token overlap is clamped to half the
	// window, so consecutive windows advance by 5 tokens.
	if got[0].Start != 0 {
		t.Errorf("unit[0].Start = %d, want 0", got[0].Start)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start != got[i-1].Start+5 {
			t.Errorf("unit[%d].Start = %d, want %d", i, got[i].Start, got[i-1].Start+5)
		}
	}
	for i, unit := range got {
		if unit.End-unit.Start > 10 {
			t.Errorf("unit[%d] spans %d tokens, want at most 10", i, unit.End-unit.Start)
		}
		if unit.Text == "" {
			t.Errorf("unit[%d] has empty text", i)
		}
	}
}

func TestIsCSVHeader(t *testing.T) {
	tests := []struct {
		name string
		rows []string
		want bool
	}{
		{
			name: "single row is never a header",
			rows: []string{"alpha,beta,gamma"},
			want: false,
		},
		{
			name: "textual first row over numeric data",
			rows: []string{"vessel,teu,draft", "Aurora,1400,8.5", "Kestrel,900,7.1"},
			want: true,
		},
		{
			name: "all numeric rows have no header",
			rows: []string{"10,20,30", "40,50,60"},
			want: false,
		},
		{
			name: "well-known column names over textual data",
			rows: []string{"name,email,status", "Ada,ada@harbor.io,active", "Lin,lin@harbor.io,idle"},
			want: true,
		},
		{
			name: "textual rows without column names",
			rows: []string{"alpha,beta", "gamma,delta", "epsilon,zeta"},
			want: false,
		},
		{
			name: "quoted numbers still count as numeric",
			rows: []string{"port,count", "\"HAM\",\"12\"", "\"RTM\",\"9\""},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isCSVHeader(tt.rows)
			if got != tt.want {
				t.Errorf("isCSVHeader(%v) = %v, want %v", tt.rows, got, tt.want)
			}
		})
	}
}

func TestTransformCSVIntoUnits(t *testing.T) {
	t.Run("small table fits in one chunk", func(t *testing.T) {
		got, err := transformCSVIntoUnits("vessel,teu\nAurora,1400\nKestrel,900", "fleet.csv", "cl100k_base", 100)
		if err != nil {
			t.Fatalf("transformCSVIntoUnits() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d chunks, want 1", len(got))
		}
		if got[0].Type != common.UnitTypeTable {
			t.Errorf("chunk type = %q, want %q", got[0].Type, common.UnitTypeTable)
		}
		if got[0].Start != 0 || got[0].End != 2 {
			t.Errorf("chunk range = [%d, %d), want [0, 2)", got[0].Start, got[0].End)
		}
	})

	t.Run("split chunks repeat the header", func(t *testing.T) {
		text := "vessel,teu\nAurora,1400\nKestrel,900\nPelican,1100\nMarlin,700"

		got, err := transformCSVIntoUnits(text, "fleet.csv", "cl100k_base", 5)
		if err != nil {
			t.Fatalf("transformCSVIntoUnits() error = %v", err)
		}
		if len(got) != 4 {
			t.Fatalf("got %d chunks, want 4", len(got))
		}
		for i, chunk := range got {
			if chunk.Index != i {
				t.Errorf("chunk[%d].Index = %d", i, chunk.Index)
			}
			if chunk.Start != i || chunk.End != i+1 {
				t.Errorf("chunk[%d] range = [%d, %d), want [%d, %d)", i, chunk.Start, chunk.End, i, i+1)
			}
			if !strings.HasPrefix(chunk.Text, "vessel,teu\n") {
				t.Errorf("chunk[%d] misses the header: %q", i, chunk.Text)
			}
		}
	})

	t.Run("single row stays data", func(t *testing.T) {
		got, err := transformCSVIntoUnits("Aurora,1400,HAM", "fleet.csv", "cl100k_base", 100)
		if err != nil {
			t.Fatalf("transformCSVIntoUnits() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d chunks, want 1", len(got))
		}
		if got[0].Text != "Aurora,1400,HAM" {
			t.Errorf("chunk text = %q, want the bare row", got[0].Text)
		}
	})

	t.Run("numeric table keeps its first row as data", func(t *testing.T) {
		text := "7,8\n9,10\n11,12"

		got, err := transformCSVIntoUnits(text, "readings.csv", "cl100k_base", 100)
		if err != nil {
			t.Fatalf("transformCSVIntoUnits() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d chunks, want 1", len(got))
		}
		if got[0].Text != text {
			t.Errorf("chunk text = %q, want all three rows", got[0].Text)
		}
		if got[0].Start != 0 || got[0].End != 3 {
			t.Errorf("chunk range = [%d, %d), want [0, 3)", got[0].Start, got[0].End)
		}
	})

	t.Run("blank input yields nothing", func(t *testing.T) {
		got, err := transformCSVIntoUnits("", "fleet.csv", "cl100k_base", 100)
		if err != nil {
			t.Fatalf("transformCSVIntoUnits() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("got %d chunks, want 0", len(got))
		}
	})
}

func TestGetUnitsFromTextCSV(t *testing.T) {
	text := "vessel,teu,draft\nAurora,1400,8.5\nKestrel,900,7.1"

	file := loader.GraphFile{
		ID:        "fleet.csv",
		FilePath:  "fleet.csv",
		FileType:  loader.GraphFileTypeCSV,
		MaxTokens: 100,
		Loader:    &stubLoader{payload: text},
	}

	// CSV files route to the table chunker no matter which strategy the
	// caller asked for.
	got, err := getUnitsFromText(context.Background(), file, "cl100k_base", StrategyParagraph)
	if err != nil {
		t.Fatalf("getUnitsFromText() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d units, want 1", len(got))
	}
	if got[0].Type != common.UnitTypeTable {
		t.Errorf("unit type = %q, want %q", got[0].Type, common.UnitTypeTable)
	}
	if !strings.HasPrefix(got[0].Text, "vessel,teu,draft\n") {
		t.Errorf("unit text should lead with the header, got %q", got[0].Text)
	}
}
