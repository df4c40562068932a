package util

import "regexp"

var citationIDPattern = regexp.MustCompile(`\[\[([A-Za-z0-9_-]+)\]\]`)

// ExtractCitationIDs returns the source ids cited inline in text as
// [[source-id]] markers, deduplicated in order of first appearance.
func ExtractCitationIDs(text string) []string {
	matches := citationIDPattern.FindAllStringSubmatch(text, -1)
	ids := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, match := range matches {
		id := match[1]
		if _, exists := seen[id]; exists {
			continue
		}

		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids
}
