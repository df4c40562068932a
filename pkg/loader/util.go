package loader

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// CacheKey identifies a GraphFile in loader caches. ID alone is not enough:
// re-uploads reuse the document id with a fresh storage path.
func CacheKey(file GraphFile) string {
	return file.ID + ":" + file.FilePath
}

var markdownImageTag = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)

// Vision models tend to emit a markdown image tag and then repeat the alt
// text as a paragraph of its own. NormalizeMarkdownImageDescriptions rewrites
// both forms into a single <image> block so the description is chunked once.
// The duplicate is matched word-wise, ignoring how whitespace was wrapped.
func NormalizeMarkdownImageDescriptions(content string) string {
	for {
		loc := markdownImageTag.FindStringSubmatchIndex(content)
		if loc == nil {
			return content
		}
		tagStart, tagEnd := loc[0], loc[1]

		alt := content[loc[2]:loc[3]]
		words := strings.Fields(alt)
		if len(words) == 0 {
			content = content[:tagStart] + content[tagEnd:]
			continue
		}

		start, end, found := findPhrase(content, tagEnd, words)
		if !found {
			content = content[:tagStart] + "<image>" + alt + "</image>" + content[tagEnd:]
			continue
		}

		// Wrap the later, free-standing copy in place and drop the tag. The
		// newline that separated the tag from the following text goes with it.
		gap := content[tagEnd:start]
		if strings.HasSuffix(content[:tagStart], "\n") && strings.HasPrefix(gap, "\n") {
			gap = gap[1:]
		}
		content = content[:tagStart] + gap + "<image>" + content[start:end] + "</image>" + content[end:]
	}
}

// findPhrase looks for the words appearing consecutively in content at or
// after offset, with arbitrary whitespace between them, and returns the byte
// span of the occurrence.
func findPhrase(content string, offset int, words []string) (int, int, bool) {
	spans := wordSpans(content, offset)
	if len(words) == 0 || len(spans) < len(words) {
		return 0, 0, false
	}

	for i := 0; i+len(words) <= len(spans); i++ {
		matched := true
		for j, word := range words {
			s := spans[i+j]
			if content[s[0]:s[1]] != word {
				matched = false
				break
			}
		}
		if matched {
			return spans[i][0], spans[i+len(words)-1][1], true
		}
	}

	return 0, 0, false
}

// wordSpans returns the [start,end) byte offsets of every whitespace-separated
// word in content, starting at offset.
func wordSpans(content string, offset int) [][2]int {
	if offset < 0 {
		offset = 0
	}

	var spans [][2]int
	wordStart := -1
	for i := offset; i < len(content); {
		r, size := utf8.DecodeRuneInString(content[i:])
		if unicode.IsSpace(r) {
			if wordStart >= 0 {
				spans = append(spans, [2]int{wordStart, i})
				wordStart = -1
			}
		} else if wordStart < 0 {
			wordStart = i
		}
		i += size
	}
	if wordStart >= 0 {
		spans = append(spans, [2]int{wordStart, len(content)})
	}

	return spans
}
