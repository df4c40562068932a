package io

import (
	"context"
	"os"

	"github.com/meridian-hq/atlas/backend/pkg/loader"
)

// IOGraphFileLoader serves file content straight from the local filesystem.
// It is the loader of choice for tests and local experiments where nothing
// lives in object storage.
type IOGraphFileLoader struct {
	cache *loader.ContentCache
}

func NewIOGraphFileLoader() *IOGraphFileLoader {
	return &IOGraphFileLoader{cache: loader.NewContentCache()}
}

// GetFileText reads the file behind the GraphFile once; later calls for the
// same key are served from memory.
func (l *IOGraphFileLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.GetOrFill(loader.CacheKey(file), func() ([]byte, error) {
		return os.ReadFile(file.FilePath)
	})
}
