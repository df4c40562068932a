package doc

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("failed to create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("failed to write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}

	return buf.Bytes()
}

func wrapBody(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body>` + body + `</w:body></w:document>`
}

func TestParseDocx(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{
			name: "paragraphs become lines",
			body: `<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>` +
				`<w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>`,
			expected: "First paragraph.\nSecond paragraph.\n",
		},
		{
			name:     "explicit line break",
			body:     `<w:p><w:r><w:t>Line one</w:t><w:br/><w:t>Line two</w:t></w:r></w:p>`,
			expected: "Line one\nLine two\n",
		},
		{
			name: "tracked deletions skipped",
			body: `<w:p><w:r><w:t>Kept text.</w:t></w:r>` +
				`<w:del><w:r><w:t>Removed text.</w:t></w:r></w:del></w:p>`,
			expected: "Kept text.\n",
		},
		{
			name: "table cells separated",
			body: `<w:tbl>` +
				`<w:tr><w:tc><w:p><w:r><w:t>Name</w:t></w:r></w:p></w:tc>` +
				`<w:tc><w:p><w:r><w:t>Role</w:t></w:r></w:p></w:tc></w:tr>` +
				`<w:tr><w:tc><w:p><w:r><w:t>Ada</w:t></w:r></w:p></w:tc>` +
				`<w:tc><w:p><w:r><w:t>Engineer</w:t></w:r></w:p></w:tc></w:tr>` +
				`</w:tbl>`,
			expected: "Name\n\tRole\n\nAda\n\tEngineer\n",
		},
		{
			name:     "tab character",
			body:     `<w:p><w:r><w:t>Left</w:t><w:tab/><w:t>Right</w:t></w:r></w:p>`,
			expected: "Left\tRight\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			content := buildDocx(t, wrapBody(test.body))

			got, err := GetFileTextFromIO(context.Background(), bytes.NewReader(content))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != test.expected {
				t.Fatalf("unexpected output:\nexpected: %q\nreceived: %q", test.expected, string(got))
			}
		})
	}
}

func TestParseDocxInvalid(t *testing.T) {
	if _, err := parseDocx([]byte("not a zip archive")); err == nil {
		t.Fatal("expected error for non-zip input")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("word/other.xml"); err != nil {
		t.Fatalf("failed to create zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}

	if _, err := parseDocx(buf.Bytes()); err == nil {
		t.Fatal("expected error for docx without document.xml")
	}
}
