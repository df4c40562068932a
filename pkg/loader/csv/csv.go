package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/meridian-hq/atlas/backend/pkg/loader"
)

// CSVGraphLoader normalizes CSV files into clean comma-separated text.
type CSVGraphLoader struct {
	loader loader.GraphFileLoader
	cache  *loader.ContentCache
}

func NewCSVGraphLoader(base loader.GraphFileLoader) *CSVGraphLoader {
	return &CSVGraphLoader{
		loader: base,
		cache:  loader.NewContentCache(),
	}
}

// GetFileText returns the normalized text of a CSV file. Parsed results are
// cached per file.
func (l *CSVGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.GetOrFill(loader.CacheKey(file), func() ([]byte, error) {
		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}
		return ParseCSV(content)
	})
}

// ParseCSV re-renders CSV content in a normalized form: consistent quoting,
// blank rows dropped, one trailing newline. Rows the reader cannot parse are
// skipped rather than failing the whole file.
func ParseCSV(content []byte) ([]byte, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		records = append(records, record)
	}

	rendered := FormatRecords(records)
	if len(rendered) == 0 {
		return nil, fmt.Errorf("CSV file is empty or contains no valid data")
	}
	return rendered, nil
}

// FormatRecords renders rows as normalized comma-separated text. Rows whose
// fields are all blank are dropped. The result ends with a newline, or is
// nil when nothing remains.
func FormatRecords(records [][]string) []byte {
	var output strings.Builder
	for _, record := range records {
		if blankRow(record) {
			continue
		}
		if output.Len() > 0 {
			output.WriteByte('\n')
		}
		writeRow(&output, record)
	}
	if output.Len() == 0 {
		return nil
	}
	output.WriteByte('\n')
	return []byte(output.String())
}

func blankRow(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func writeRow(output *strings.Builder, record []string) {
	for i, field := range record {
		if i > 0 {
			output.WriteByte(',')
		}
		if strings.ContainsAny(field, ",\n\"") {
			field = "\"" + strings.ReplaceAll(field, "\"", "\"\"") + "\""
		}
		output.WriteString(field)
	}
}
