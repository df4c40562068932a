package util

import "strings"

// Answers cite their sources inline as [[source-id]] markers. The streaming
// parser splits a token stream into plain content and citation ids without
// ever emitting a partial marker, buffering across chunk boundaries as
// needed.
type StreamCitationParser struct {
	pending string
}

// Consume feeds the next chunk through the parser. Content outside markers
// goes to onContent, complete markers with a well-formed id go to onCitation.
// Input that could still become a marker stays buffered until a later chunk
// or Flush decides it.
func (p *StreamCitationParser) Consume(chunk string, onContent, onCitation func(string) error) error {
	p.pending += chunk

	for {
		start := strings.Index(p.pending, "[[")
		if start < 0 {
			hold := 0
			if strings.HasSuffix(p.pending, "[") {
				// A trailing '[' may open a marker in the next chunk.
				hold = 1
			}
			if err := emitContent(p.pending[:len(p.pending)-hold], onContent); err != nil {
				return err
			}
			p.pending = p.pending[len(p.pending)-hold:]
			return nil
		}

		if err := emitContent(p.pending[:start], onContent); err != nil {
			return err
		}
		p.pending = p.pending[start:]

		end := strings.Index(p.pending[2:], "]]")
		if end < 0 {
			return nil
		}

		id := p.pending[2 : end+2]
		if !isCitationID(id) {
			// Not a marker after all. Release the first bracket and rescan
			// the remainder, which may still hold a real citation.
			if err := emitContent("[", onContent); err != nil {
				return err
			}
			p.pending = p.pending[1:]
			continue
		}

		if err := onCitation(id); err != nil {
			return err
		}
		p.pending = p.pending[end+4:]
	}
}

// Flush releases whatever is still buffered as plain content. Call it when
// the stream ends so an unterminated marker is not swallowed.
func (p *StreamCitationParser) Flush(onContent func(string) error) error {
	buffered := p.pending
	p.pending = ""
	return emitContent(buffered, onContent)
}

func emitContent(content string, onContent func(string) error) error {
	if content == "" {
		return nil
	}
	return onContent(content)
}

// idRune reports whether r belongs to the url-safe alphabet public ids
// are generated from.
func idRune(r rune) bool {
	return 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' ||
		'0' <= r && r <= '9' || r == '-' || r == '_'
}

func isCitationID(id string) bool {
	if id == "" {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool { return !idRune(r) }) < 0
}
