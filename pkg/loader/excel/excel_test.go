package excel

import (
	"context"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/meridian-hq/atlas/backend/pkg/loader"
)

type memoryLoader struct {
	data []byte
}

func (m *memoryLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return m.data, nil
}

func buildWorkbook(t *testing.T, sheets map[string][][]any) []byte {
	t.Helper()

	wb := excelize.NewFile()
	defer wb.Close()

	first := true
	for name, rows := range sheets {
		if first {
			if err := wb.SetSheetName("Sheet1", name); err != nil {
				t.Fatalf("failed to rename sheet: %v", err)
			}
			first = false
		} else {
			if _, err := wb.NewSheet(name); err != nil {
				t.Fatalf("failed to create sheet: %v", err)
			}
		}

		for r, row := range rows {
			for c, value := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					t.Fatalf("failed to build cell name: %v", err)
				}
				if err := wb.SetCellValue(name, cell, value); err != nil {
					t.Fatalf("failed to set cell value: %v", err)
				}
			}
		}
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatalf("failed to write workbook: %v", err)
	}

	return buf.Bytes()
}

func TestGetFileTextSingleSheet(t *testing.T) {
	content := buildWorkbook(t, map[string][][]any{
		"People": {
			{"name", "role"},
			{"Ada", "Engineer"},
			{"Lovelace, Ada", "Mathematician"},
		},
	})

	l := NewExcelGraphLoader(&memoryLoader{data: content})
	got, err := l.GetFileText(context.Background(), loader.GraphFile{ID: "1", FilePath: "people.xlsx"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := "name,role\nAda,Engineer\n\"Lovelace, Ada\",Mathematician\n"
	if string(got) != expected {
		t.Fatalf("unexpected output:\nexpected: %q\nreceived: %q", expected, string(got))
	}
}

func TestGetFileTextEmptySheetSkipped(t *testing.T) {
	wb := excelize.NewFile()
	defer wb.Close()

	if err := wb.SetCellValue("Sheet1", "A1", "only"); err != nil {
		t.Fatalf("failed to set cell value: %v", err)
	}
	if _, err := wb.NewSheet("Notes"); err != nil {
		t.Fatalf("failed to create sheet: %v", err)
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatalf("failed to write workbook: %v", err)
	}

	l := NewExcelGraphLoader(&memoryLoader{data: buf.Bytes()})
	got, err := l.GetFileText(context.Background(), loader.GraphFile{ID: "1", FilePath: "single.xlsx"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only one sheet carries data, so no sheet headers are emitted.
	if string(got) != "only\n" {
		t.Fatalf("unexpected output: %q", string(got))
	}
}

func TestGetFileTextMultiSheet(t *testing.T) {
	wb := excelize.NewFile()
	defer wb.Close()

	if err := wb.SetCellValue("Sheet1", "A1", "name"); err != nil {
		t.Fatalf("failed to set cell value: %v", err)
	}
	if err := wb.SetCellValue("Sheet1", "A2", "Ada"); err != nil {
		t.Fatalf("failed to set cell value: %v", err)
	}
	if _, err := wb.NewSheet("Costs"); err != nil {
		t.Fatalf("failed to create sheet: %v", err)
	}
	if err := wb.SetCellValue("Costs", "A1", "item"); err != nil {
		t.Fatalf("failed to set cell value: %v", err)
	}
	if err := wb.SetCellValue("Costs", "A2", "GPU"); err != nil {
		t.Fatalf("failed to set cell value: %v", err)
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatalf("failed to write workbook: %v", err)
	}

	l := NewExcelGraphLoader(&memoryLoader{data: buf.Bytes()})
	got, err := l.GetFileText(context.Background(), loader.GraphFile{ID: "1", FilePath: "multi.xlsx"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := "--- Sheet1 ---\nname\nAda\n\n--- Costs ---\nitem\nGPU\n"
	if string(got) != expected {
		t.Fatalf("unexpected output:\nexpected: %q\nreceived: %q", expected, string(got))
	}
}

func TestGetSheets(t *testing.T) {
	content := buildWorkbook(t, map[string][][]any{
		"Data": {
			{"a", "b"},
			{"1", "2"},
		},
	})

	l := NewExcelGraphLoader(&memoryLoader{data: content})
	sheets, err := l.GetSheets(context.Background(), loader.GraphFile{ID: "1", FilePath: "data.xlsx"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sheets) != 1 {
		t.Fatalf("expected 1 sheet, got %d", len(sheets))
	}
	if sheets[0].Name != "Data" {
		t.Fatalf("unexpected sheet name: %q", sheets[0].Name)
	}
	if string(sheets[0].Content) != "a,b\n1,2\n" {
		t.Fatalf("unexpected sheet content: %q", string(sheets[0].Content))
	}
}

func TestGetFileTextInvalidWorkbook(t *testing.T) {
	l := NewExcelGraphLoader(&memoryLoader{data: []byte("not a workbook")})
	if _, err := l.GetFileText(context.Background(), loader.GraphFile{ID: "1", FilePath: "bad.xlsx"}); err == nil {
		t.Fatal("expected error for invalid workbook")
	}
}
