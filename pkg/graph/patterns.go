package graph

import (
	"strings"

	"github.com/meridian-hq/atlas/backend/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	patternConfidence    = 0.7
	coMentionConfidence  = 0.3
	patternContextRadius = 100

	// RelationCoMentioned marks weak edges between entities that appear in
	// the same unit without any recognized stronger link.
	RelationCoMentioned = "CO_MENTIONED"
)

type relationPattern struct {
	relType  string
	keywords []string
}

// Keyword rules applied to the text between two entity mentions. Order
// matters: the first matching pattern wins for a pair, so the more specific
// CO_FOUNDED is checked before FOUNDED.
var relationPatterns = []relationPattern{
	{relType: "CO_FOUNDED", keywords: []string{"co-founded", "cofounded", "co-founder"}},
	{relType: "FOUNDED", keywords: []string{"founded", "established", "created", "started"}},
	{relType: "WORKS_FOR", keywords: []string{"works for", "works at", "employed by", "employee of", "joined"}},
	{relType: "LEADS", keywords: []string{"leads", "heads", "runs", "manages", "directs", "ceo of", "chief executive of"}},
	{relType: "PARTNERS_WITH", keywords: []string{"partners with", "partnership with", "partnered with", "teamed up with", "collaboration with", "collaborates with"}},
	{relType: "RAISED_FUNDING", keywords: []string{"raised", "funding round", "series a", "series b", "series c", "investment from", "invested in"}},
}

type entityMention struct {
	entity *common.Entity
	start  int
	end    int
}

// augmentWithPatterns sweeps a unit's text for keyword-based relationships
// between the entities extracted from it. Pairs whose mentions surround a
// pattern keyword get a typed edge at patternConfidence. Pairs that merely
// co-occur get a CO_MENTIONED edge at coMentionConfidence, but only when
// neither the patterns nor the extraction already linked them. Each pair
// yields at most one edge, so reverse-direction duplicates never appear.
func augmentWithPatterns(
	unit *common.Unit,
	entities []common.Entity,
	extracted []common.Relationship,
) ([]common.Relationship, error) {
	if unit == nil || len(entities) < 2 {
		return nil, nil
	}

	lowerText := strings.ToLower(unit.Text)

	mentions := make([]entityMention, 0, len(entities))
	for i := range entities {
		name := strings.ToLower(strings.TrimSpace(entities[i].Name))
		if name == "" {
			continue
		}
		idx := strings.Index(lowerText, name)
		if idx < 0 {
			continue
		}
		mentions = append(mentions, entityMention{
			entity: &entities[i],
			start:  idx,
			end:    idx + len(name),
		})
	}
	if len(mentions) < 2 {
		return nil, nil
	}

	linkedPairs := make(map[string]bool, len(extracted))
	for _, rel := range extracted {
		if rel.Source == nil || rel.Target == nil {
			continue
		}
		linkedPairs[undirectedPairKey(rel.Source, rel.Target)] = true
	}

	var relations []common.Relationship
	seenPairs := make(map[string]bool)

	for i := 0; i < len(mentions); i++ {
		for j := i + 1; j < len(mentions); j++ {
			first, second := mentions[i], mentions[j]
			if second.start < first.start {
				first, second = second, first
			}

			pairKey := undirectedPairKey(first.entity, second.entity)
			if seenPairs[pairKey] || first.entity == second.entity {
				continue
			}
			seenPairs[pairKey] = true

			relType, description := matchRelationPattern(unit.Text, lowerText, first, second)
			strength := patternConfidence
			if relType == "" {
				if linkedPairs[pairKey] {
					continue
				}
				relType = RelationCoMentioned
				strength = coMentionConfidence
				description = contextWindow(unit.Text, first.start, second.end)
			}

			rel, err := newPatternRelationship(unit, first.entity, second.entity, relType, strength, description)
			if err != nil {
				return nil, err
			}
			relations = append(relations, rel)
		}
	}

	return relations, nil
}

// matchRelationPattern looks for a pattern keyword in the text between two
// mentions. The mention order in the text decides the edge direction, so
// "X founded Y" yields X -> Y.
func matchRelationPattern(text, lowerText string, first, second entityMention) (string, string) {
	if first.end >= second.start {
		return "", ""
	}

	between := lowerText[first.end:second.start]
	for _, pattern := range relationPatterns {
		for _, keyword := range pattern.keywords {
			idx := strings.Index(between, keyword)
			if idx < 0 {
				continue
			}
			keywordStart := first.end + idx
			return pattern.relType, contextWindow(text, keywordStart, keywordStart+len(keyword))
		}
	}
	return "", ""
}

// contextWindow returns the text surrounding [start, end), padded by
// patternContextRadius characters on both sides and clamped to the text.
func contextWindow(text string, start, end int) string {
	from := max(0, start-patternContextRadius)
	to := min(len(text), end+patternContextRadius)
	return strings.TrimSpace(text[from:to])
}

func undirectedPairKey(a, b *common.Entity) string {
	left := normalizeMergeKey(a.Name, a.Type)
	right := normalizeMergeKey(b.Name, b.Type)
	if left < right {
		return left + "||" + right
	}
	return right + "||" + left
}

func newPatternRelationship(
	unit *common.Unit,
	source, target *common.Entity,
	relType string,
	strength float64,
	description string,
) (common.Relationship, error) {
	rID, err := gonanoid.New()
	if err != nil {
		return common.Relationship{}, err
	}
	sID, err := gonanoid.New()
	if err != nil {
		return common.Relationship{}, err
	}

	return common.Relationship{
		ID:     rID,
		Source: source,
		Target: target,
		Type:   relType,
		Sources: []common.Source{{
			ID:          sID,
			Unit:        unit,
			Description: description,
		}},
		Strength: strength,
	}, nil
}
