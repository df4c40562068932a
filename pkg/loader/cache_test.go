package loader

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestContentCacheFillsOnce(t *testing.T) {
	cache := NewContentCache()

	calls := 0
	fill := func() ([]byte, error) {
		calls++
		return []byte("parsed"), nil
	}

	for range 3 {
		got, err := cache.GetOrFill("doc:1", fill)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != "parsed" {
			t.Fatalf("unexpected content: %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one fill call, got %d", calls)
	}
}

func TestContentCacheKeysAreIndependent(t *testing.T) {
	cache := NewContentCache()

	for _, key := range []string{"doc:1", "doc:2"} {
		got, err := cache.GetOrFill(key, func() ([]byte, error) {
			return []byte(key), nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != key {
			t.Fatalf("content for %q = %q", key, got)
		}
	}
}

func TestContentCacheDoesNotCacheFailures(t *testing.T) {
	cache := NewContentCache()

	fillErr := errors.New("storage down")
	if _, err := cache.GetOrFill("doc:1", func() ([]byte, error) {
		return nil, fillErr
	}); !errors.Is(err, fillErr) {
		t.Fatalf("expected fill error, got %v", err)
	}

	got, err := cache.GetOrFill("doc:1", func() ([]byte, error) {
		return []byte("recovered"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if string(got) != "recovered" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestContentCacheConcurrentMissesShareFill(t *testing.T) {
	cache := NewContentCache()

	var fills atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.GetOrFill("doc:1", func() ([]byte, error) {
				fills.Add(1)
				return []byte("shared"), nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if string(got) != "shared" {
				t.Errorf("unexpected content: %q", got)
			}
		}()
	}
	wg.Wait()

	if n := fills.Load(); n != 1 {
		t.Fatalf("expected a single shared fill, got %d", n)
	}
}
