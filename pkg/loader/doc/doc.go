package doc

import (
	"context"
	"io"

	"github.com/meridian-hq/atlas/backend/pkg/loader"
)

// DocGraphLoader extracts the text of Word documents (.docx) by walking the
// document XML.
type DocGraphLoader struct {
	loader loader.GraphFileLoader
	cache  *loader.ContentCache
}

func NewDocGraphLoader(base loader.GraphFileLoader) *DocGraphLoader {
	return &DocGraphLoader{
		loader: base,
		cache:  loader.NewContentCache(),
	}
}

// GetFileText returns the plain text of a Word document. Parsed results are
// cached per file.
func (l *DocGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.GetOrFill(loader.CacheKey(file), func() ([]byte, error) {
		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}
		return parseDocx(content)
	})
}

// GetFileTextFromIO extracts the text of a Word document supplied as a
// stream, without going through a loader.
func GetFileTextFromIO(ctx context.Context, input io.Reader) ([]byte, error) {
	content, err := io.ReadAll(input)
	if err != nil {
		return nil, err
	}
	return parseDocx(content)
}
