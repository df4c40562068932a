package excel

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/meridian-hq/atlas/backend/pkg/loader"
	"github.com/meridian-hq/atlas/backend/pkg/loader/csv"
)

// ExcelGraphLoader reads Excel workbooks (.xlsx) with excelize and renders
// each sheet as normalized CSV text.
type ExcelGraphLoader struct {
	loader loader.GraphFileLoader
	cache  *loader.ContentCache
}

func NewExcelGraphLoader(base loader.GraphFileLoader) *ExcelGraphLoader {
	return &ExcelGraphLoader{
		loader: base,
		cache:  loader.NewContentCache(),
	}
}

// GetFileText returns all sheets of the workbook as one text, labeling each
// sheet with its name when the workbook has more than one. Results are
// cached per file.
func (l *ExcelGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.GetOrFill(loader.CacheKey(file), func() ([]byte, error) {
		sheets, err := l.GetSheets(ctx, file)
		if err != nil {
			return nil, err
		}
		return renderSheets(sheets)
	})
}

// ExcelSheet is one non-empty sheet of a workbook, rendered as CSV text.
type ExcelSheet struct {
	Name    string
	Content []byte
}

// GetSheets returns each non-empty sheet separately, for callers that treat
// every sheet as its own document.
func (l *ExcelGraphLoader) GetSheets(ctx context.Context, file loader.GraphFile) ([]ExcelSheet, error) {
	content, err := l.loader.GetFileText(ctx, file)
	if err != nil {
		return nil, err
	}
	return parseWorkbook(content)
}

func renderSheets(sheets []ExcelSheet) ([]byte, error) {
	var out []byte
	for _, sheet := range sheets {
		if len(out) > 0 {
			out = append(out, '\n')
		}
		if len(sheets) > 1 {
			out = append(out, []byte("--- "+sheet.Name+" ---\n")...)
		}
		out = append(out, sheet.Content...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("workbook contains no data")
	}
	return out, nil
}

func parseWorkbook(content []byte) ([]ExcelSheet, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer wb.Close()

	sheets := make([]ExcelSheet, 0, len(wb.GetSheetList()))
	for _, name := range wb.GetSheetList() {
		rows, err := wb.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}

		rendered := csv.FormatRecords(rows)
		if len(rendered) == 0 {
			continue
		}

		sheets = append(sheets, ExcelSheet{Name: name, Content: rendered})
	}

	return sheets, nil
}
