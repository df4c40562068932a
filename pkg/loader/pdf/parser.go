package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// convertTimeout bounds a single pdftotext invocation. Large scanned
// documents can make poppler hang on malformed xref tables.
const convertTimeout = 30 * time.Second

var reNewlines = regexp.MustCompile(`\n{3,}`)

// parsePDF converts a PDF document to plain text by shelling out to
// pdftotext. The input is staged in a private temp directory because
// pdftotext cannot read from stdin.
func parsePDF(ctx context.Context, input []byte) ([]byte, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not found in PATH: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "pdfextract-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF: %w", err)
	}

	out, err := runPDFToText(ctx, pdfPath)
	if err != nil {
		return nil, err
	}
	return normalizeText(out), nil
}

// runPDFToText executes pdftotext on the file at path and returns its
// stdout. Output is forced to UTF-8 with unix line endings so the rest
// of the pipeline never sees page breaks or CRLF.
func runPDFToText(ctx context.Context, path string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pdftotext",
		"-enc", "UTF-8",
		"-eol", "unix",
		"-nopgbrk",
		"-q",
		path, "-",
	)
	cmd.Env = append(os.Environ(), "LANG=C.UTF-8", "LC_ALL=C.UTF-8")

	out, err := cmd.CombinedOutput()
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return nil, fmt.Errorf("pdftotext timed out")
	case err != nil:
		return nil, fmt.Errorf("pdftotext failed: %w: %s", err, bytes.TrimSpace(out))
	}
	return out, nil
}

// normalizeText trims the extraction output, collapses runs of blank
// lines, and guarantees a trailing newline for non-empty text.
func normalizeText(out []byte) []byte {
	text := reNewlines.ReplaceAllString(strings.TrimSpace(string(out)), "\n\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return []byte(text)
}
