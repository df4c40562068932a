package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/meridian-hq/atlas/backend/pkg/loader"
)

func TestIOGraphFileLoaderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("harbor pilots board at dawn"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	l := NewIOGraphFileLoader()
	got, err := l.GetFileText(context.Background(), loader.GraphFile{ID: "doc-1", FilePath: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "harbor pilots board at dawn" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestIOGraphFileLoaderServesRepeatReadsFromCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	l := NewIOGraphFileLoader()
	file := loader.GraphFile{ID: "doc-1", FilePath: path}

	if _, err := l.GetFileText(context.Background(), file); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The file changes on disk, but the loader keyed the content already.
	if err := os.WriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("failed to rewrite fixture: %v", err)
	}

	got, err := l.GetFileText(context.Background(), file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("unexpected output:\nexpected: %q\nreceived: %q", "first", got)
	}
}

func TestIOGraphFileLoaderMissingFile(t *testing.T) {
	l := NewIOGraphFileLoader()
	if _, err := l.GetFileText(context.Background(), loader.GraphFile{
		ID:       "doc-1",
		FilePath: filepath.Join(t.TempDir(), "absent.txt"),
	}); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
