package util

import (
	"regexp"
	"strings"
)

var (
	boldDoubleRe  = regexp.MustCompile(`\*\*\s*\[\[([^][]+)\]\]\s*\*\*`)
	boldSingleRe  = regexp.MustCompile(`\*\*\s*\[([^][]+)\]\s*\*\*`)
	citationRe    = regexp.MustCompile(`\[\[([^][]+)\]\]`)
	citationSepRe = regexp.MustCompile(`\]\][\t ]+\[\[`)
)

// NormalizeIDs cleans up citation tokens in model output: unwraps bold
// citations, upgrades single-bracket ids to the [[id]] form (leaving markdown
// links alone), strips invented prefixes inside tokens, collapses adjacent
// duplicates and normalizes separators.
func NormalizeIDs(s string) string {
	s = boldDoubleRe.ReplaceAllString(s, "[[$1]]")
	s = boldSingleRe.ReplaceAllString(s, "[$1]")

	s = upgradeSingleBrackets(s)
	s = repairMalformedIDs(s)
	s = dedupeAdjacentIDs(s)

	return citationSepRe.ReplaceAllString(s, "]] [[")
}

// ExtractIDs returns the distinct citation ids referenced by [[id]] tokens,
// in order of first appearance.
func ExtractIDs(s string) []string {
	matches := citationRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimSpace(m[1])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// repairMalformedIDs fixes tokens where the model prepended labels to the id,
// e.g. [[DOC:sGvgBXbBcVCjBIKCLS2Os]]. Tokens without a recoverable id are
// left alone.
func repairMalformedIDs(s string) string {
	return citationRe.ReplaceAllStringFunc(s, func(token string) string {
		inner := token[2 : len(token)-2]
		if isNanoid(inner) {
			return token
		}
		if id := extractNanoid(inner); id != "" {
			return "[[" + id + "]]"
		}
		return token
	})
}

func isNanoid(s string) bool {
	if len(s) != 21 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

func extractNanoid(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', ';', '|', ':', ' ', '\t':
			return true
		}
		return false
	})
	for _, part := range parts {
		if isNanoid(part) {
			return part
		}
	}
	return ""
}

// upgradeSingleBrackets rewrites [x] as [[x]]. Existing [[x]] tokens pass
// through, markdown link text and brackets with nested brackets stay single,
// and an unclosed bracket is copied as-is.
func upgradeSingleBrackets(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	rest := s
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			break
		}
		out.WriteString(rest[:open])
		rest = rest[open:]

		if strings.HasPrefix(rest, "[[") {
			out.WriteString("[[")
			rest = rest[2:]
			continue
		}

		end := strings.IndexByte(rest, ']')
		if end < 0 {
			out.WriteByte('[')
			rest = rest[1:]
			continue
		}

		inner := rest[1:end]
		isLink := end+1 < len(rest) && rest[end+1] == '('
		if isLink || strings.Contains(inner, "[") {
			out.WriteString(rest[:end+1])
		} else {
			out.WriteString("[[")
			out.WriteString(inner)
			out.WriteString("]]")
		}
		rest = rest[end+1:]
	}
	out.WriteString(rest)
	return out.String()
}

// dedupeAdjacentIDs collapses runs of one [[id]] token repeated with nothing
// but whitespace in between. A run continues across a line break only when
// it began at the start of a line; a citation opening a fresh line is not
// swallowed by one dangling at the end of the previous sentence.
func dedupeAdjacentIDs(s string) string {
	tokens := citationRe.FindAllStringSubmatchIndex(s, -1)
	if len(tokens) == 0 {
		return s
	}

	var out strings.Builder
	out.Grow(len(s))

	cursor := 0
	runID := ""
	runFromLineStart := false

	for _, tok := range tokens {
		start, end := tok[0], tok[1]
		id := s[tok[2]:tok[3]]
		gap := s[cursor:start]

		repeat := id == runID && strings.TrimSpace(gap) == "" &&
			(runFromLineStart || !strings.ContainsAny(gap, "\n\r"))
		if repeat {
			cursor = end
			continue
		}

		out.WriteString(gap)
		out.WriteString(s[start:end])
		cursor = end
		runID = id
		runFromLineStart = atLineStart(s, start)
	}

	out.WriteString(s[cursor:])
	return out.String()
}

func atLineStart(s string, i int) bool {
	return i == 0 || s[i-1] == '\n' || s[i-1] == '\r'
}
