package graph

import "strings"

// Legal-form suffixes stripped from organization names before matching.
var orgSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true,
	"llc": true, "ltd": true, "limited": true, "plc": true, "gmbh": true,
	"ag": true, "sa": true, "co": true, "company": true, "group": true,
	"holdings": true,
}

// Honorifics and role prefixes stripped from person names before matching.
var personTitles = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "dr": true,
	"prof": true, "professor": true, "sir": true, "ceo": true, "cto": true,
	"cfo": true, "coo": true, "president": true, "director": true,
	"chairman": true, "chairwoman": true,
}

// normalizeEntityName canonicalizes an entity name for merge comparisons:
// casefolded, punctuation-trimmed tokens, with organization legal suffixes
// and person titles removed. The display name is left untouched; this form
// only decides whether two mentions refer to the same entity.
func normalizeEntityName(name, entityType string) string {
	tokens := tokenizeName(name)
	if len(tokens) == 0 {
		return ""
	}

	switch strings.ToUpper(strings.TrimSpace(entityType)) {
	case "ORGANIZATION":
		for len(tokens) > 1 && orgSuffixes[tokens[len(tokens)-1]] {
			tokens = tokens[:len(tokens)-1]
		}
	case "PERSON":
		for len(tokens) > 1 && personTitles[tokens[0]] {
			tokens = tokens[1:]
		}
	}

	return strings.Join(tokens, " ")
}

// normalizeMergeKey builds the map key used when folding extraction results
// together: the normalized name plus the uppercased type.
func normalizeMergeKey(name, entityType string) string {
	return normalizeEntityName(name, entityType) + "|" + strings.ToUpper(strings.TrimSpace(entityType))
}

func tokenizeName(name string) []string {
	fields := strings.Fields(strings.ToLower(name))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		token := strings.Trim(field, ".,;:'\"()[]{}")
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
