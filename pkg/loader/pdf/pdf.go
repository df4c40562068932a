package pdf

import (
	"context"

	"github.com/meridian-hq/atlas/backend/pkg/loader"
)

// PDFGraphLoader extracts the text of PDF files with the pdftotext tool
// from poppler-utils.
type PDFGraphLoader struct {
	loader loader.GraphFileLoader
	cache  *loader.ContentCache
}

func NewPDFGraphLoader(base loader.GraphFileLoader) *PDFGraphLoader {
	return &PDFGraphLoader{
		loader: base,
		cache:  loader.NewContentCache(),
	}
}

// GetFileText returns the plain text of a PDF. Extracted results are cached
// per file.
func (l *PDFGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.GetOrFill(loader.CacheKey(file), func() ([]byte, error) {
		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}
		return parsePDF(ctx, content)
	})
}
