package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/meridian-hq/atlas/backend/pkg/loader"

	"codeberg.org/readeck/go-readability/v2"
	"golang.org/x/net/html/charset"
)

// WebGraphLoader fetches URLs and extracts their readable text. HTML pages
// go through readability to isolate the main content; pages in other
// encodings are decoded per their declared charset first.
type WebGraphLoader struct {
	fallback loader.GraphFileLoader
	cache    *loader.ContentCache
}

func NewWebGraphLoader() *WebGraphLoader {
	return &WebGraphLoader{cache: loader.NewContentCache()}
}

// NewWebGraphLoaderWithLoader adds a fallback loader for URLs that do not
// serve HTML.
func NewWebGraphLoaderWithLoader(fallback loader.GraphFileLoader) *WebGraphLoader {
	return &WebGraphLoader{
		fallback: fallback,
		cache:    loader.NewContentCache(),
	}
}

// GetFileText fetches the URL in the file's path and returns its readable
// text. Non-HTML responses go to the fallback loader when one is set, and
// come back raw otherwise. Results are cached per file.
func (l *WebGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.GetOrFill(loader.CacheKey(file), func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.FilePath, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch url: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("failed to fetch url: status %d", resp.StatusCode)
		}

		contentType := resp.Header.Get("Content-Type")
		if strings.Contains(contentType, "text/html") {
			return parseArticle(resp.Body, contentType, file.FilePath)
		}
		if l.fallback != nil {
			return l.fallback.GetFileText(ctx, file)
		}
		return io.ReadAll(resp.Body)
	})
}

// HTMLGraphLoader extracts readable text from HTML files that already live
// in storage, as opposed to pages fetched from the web.
type HTMLGraphLoader struct {
	loader loader.GraphFileLoader
	cache  *loader.ContentCache
}

func NewHTMLGraphLoader(base loader.GraphFileLoader) *HTMLGraphLoader {
	return &HTMLGraphLoader{
		loader: base,
		cache:  loader.NewContentCache(),
	}
}

// GetFileText returns the readable article text of a stored HTML file.
// Results are cached per file.
func (l *HTMLGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.GetOrFill(loader.CacheKey(file), func() ([]byte, error) {
		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}
		return ParseHTML(content, file.FilePath)
	})
}

// ParseHTML extracts readable text from raw HTML. The pageURL resolves
// relative references inside the document.
func ParseHTML(content []byte, pageURL string) ([]byte, error) {
	return parseArticle(strings.NewReader(string(content)), "text/html", pageURL)
}

func parseArticle(body io.Reader, contentType string, pageURL string) ([]byte, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}

	decoded, err := charset.NewReader(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to decode page charset: %w", err)
	}

	article, err := readability.FromReader(decoded, u)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	var builder strings.Builder
	if err := article.RenderText(&builder); err != nil {
		return nil, fmt.Errorf("failed to render article text: %w", err)
	}

	return []byte(builder.String()), nil
}
