package graph

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

const dedupePassLimit = 3

// dedupeName canonicalizes a name for AI-dedupe bookkeeping. Unlike
// normalizeEntityName it keeps legal suffixes and titles, so the keys stay
// aligned with the names the model saw in the prompt.
func dedupeName(value string) string {
	return strings.ToUpper(ai.NormalizeDedupeValue(value))
}

func dedupeKey(name, entityType string) string {
	return dedupeName(name) + "|" + dedupeName(entityType)
}

// dedupeGraph collapses duplicate entities inside one
// document's extraction result before it is staged. Cross-document
// duplicates are handled later by the store-side merge.
func (g *GraphClient) dedupeGraph(
	ctx context.Context,
	entities []common.Entity,
	relations []common.Relationship,
	aiClient ai.GraphAIClient,
) ([]common.Entity, []common.Relationship, error) {
	if len(entities) == 0 {
		return entities, relations, nil
	}

	batchSize := ai.DedupeBatchSize
	if len(entities) <= batchSize {
		logger.Debug("dedupe: single batch", "count", len(entities))
		out, outRels, found, err := g.dedupeEntitiesOnce(ctx, entities, relations, aiClient)
		if err != nil {
			return nil, nil, err
		}
		if found {
			logger.Debug("dedupe: single batch merged duplicates", "remaining", len(out))
		}
		return out, outRels, nil
	}

	// Reruns reorder the entities so duplicates that previously landed in
	// different AI batches get a chance to meet.
	for pass := 1; pass <= dedupePassLimit; pass++ {
		before := len(entities)

		if len(entities) <= batchSize {
			logger.Debug("dedupe: final single batch", "count", len(entities), "pass", pass)
			out, outRels, _, err := g.dedupeEntitiesOnce(ctx, entities, relations, aiClient)
			if err != nil {
				return nil, nil, err
			}
			return out, outRels, nil
		}

		ordered := orderForPass(entities, pass, batchSize)
		logger.Debug("dedupe: batched pass",
			"count", len(ordered),
			"batches", (len(ordered)+batchSize-1)/batchSize,
			"pass", pass)

		var found bool
		var err error
		entities, relations, found, err = g.dedupeEntitiesOnce(ctx, ordered, relations, aiClient)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("dedupe: pass done", "pass", pass, "remaining", len(entities), "found", found)

		if !found || len(entities) == before {
			break
		}
		if pass == dedupePassLimit {
			logger.Warn("dedupe: stopped before convergence", "remaining", len(entities))
		}
	}

	return entities, relations, nil
}

// dedupeEntitiesOnce runs one dedupe pass: the entities are sent to the AI
// in batches, the resulting duplicate groups are combined, and the merge is
// applied over the full slices. Applying globally keeps relationships whose
// endpoints landed in different batches intact.
func (g *GraphClient) dedupeEntitiesOnce(
	ctx context.Context,
	entities []common.Entity,
	relations []common.Relationship,
	aiClient ai.GraphAIClient,
) ([]common.Entity, []common.Relationship, bool, error) {
	batchSize := ai.DedupeBatchSize

	var combined ai.DuplicatesResponse
	for i := 0; i < len(entities); i += batchSize {
		end := min(i+batchSize, len(entities))
		res, err := ai.CallDedupeAI(ctx, entities[i:end], aiClient, g.maxRetries)
		if err != nil {
			return nil, nil, false, fmt.Errorf("dedupe batch %d failed: %w", i/batchSize+1, err)
		}
		combined.Duplicates = append(combined.Duplicates, res.Duplicates...)
	}

	if !foundDuplicates(&combined) {
		return entities, relations, false, nil
	}

	dedupedEntities, dedupedRelations := mergeDuplicates(entities, relations, &combined)
	return dedupedEntities, dedupedRelations, true, nil
}

func foundDuplicates(res *ai.DuplicatesResponse) bool {
	return slices.ContainsFunc(res.Duplicates, func(g ai.DuplicateGroup) bool {
		return len(g.Entities) > 1
	})
}

// orderForPass produces the batch order for one dedupe
// pass: the original order first, then a round-robin interleave, then a
// sort by normalized name and type. The input slice is never touched.
func orderForPass(entities []common.Entity, pass int, batchSize int) []common.Entity {
	out := slices.Clone(entities)

	switch pass % 3 {
	case 1:
		return out
	case 2:
		return interleaveBatches(out, batchSize)
	}

	slices.SortFunc(out, func(a, b common.Entity) int {
		return strings.Compare(dedupeKey(a.Name, a.Type), dedupeKey(b.Name, b.Type))
	})
	return out
}

// interleaveBatches reshuffles so former batch neighbors end up apart:
// the first member of every old batch comes before any second member.
func interleaveBatches(entities []common.Entity, batchSize int) []common.Entity {
	if batchSize <= 0 || len(entities) <= batchSize {
		return entities
	}

	out := make([]common.Entity, 0, len(entities))
	for offset := range batchSize {
		for idx := offset; idx < len(entities); idx += batchSize {
			out = append(out, entities[idx])
		}
	}
	return out
}

// mergeDuplicates folds the AI's duplicate groups into the entity slice.
// Groups that share members are united into one component. Within a
// component the canonical entity is the one with the most sources, ties
// broken by the longest description, then slice order; it takes the group's
// chosen name, the union of all sources, and the longest description.
// Relationships are re-pointed at the canonicals, self-loops are dropped,
// and edges collapsing onto the same undirected pair are merged.
func mergeDuplicates(
	entities []common.Entity,
	relations []common.Relationship,
	res *ai.DuplicatesResponse,
) ([]common.Entity, []common.Relationship) {
	parent := make([]int, len(entities))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	type groupMatch struct {
		name    string
		members []int
	}
	var matches []groupMatch

	for _, group := range res.Duplicates {
		if len(group.Entities) < 2 {
			continue
		}
		groupType := dominantGroupType(entities, group.Entities)
		if groupType == "" {
			continue
		}

		nameSet := make(map[string]bool, len(group.Entities))
		for _, name := range group.Entities {
			if key := dedupeName(name); key != "" {
				nameSet[key] = true
			}
		}

		var members []int
		for i := range entities {
			if entities[i].Type != groupType {
				continue
			}
			if nameSet[dedupeName(entities[i].Name)] {
				members = append(members, i)
			}
		}
		if len(members) < 2 {
			continue
		}

		for _, m := range members[1:] {
			union(members[0], m)
		}
		matches = append(matches, groupMatch{name: group.Name, members: members})
	}

	// The first group to claim a component decides its final name.
	nameByRoot := make(map[int]string)
	for _, match := range matches {
		root := find(match.members[0])
		if _, ok := nameByRoot[root]; !ok && strings.TrimSpace(match.name) != "" {
			nameByRoot[root] = strings.TrimSpace(match.name)
		}
	}

	membersByRoot := make(map[int][]int)
	for i := range entities {
		root := find(i)
		membersByRoot[root] = append(membersByRoot[root], i)
	}

	canonicalByRoot := make(map[int]int, len(membersByRoot))
	for root, members := range membersByRoot {
		canonical := members[0]
		for _, m := range members[1:] {
			if len(entities[m].Sources) > len(entities[canonical].Sources) {
				canonical = m
			} else if len(entities[m].Sources) == len(entities[canonical].Sources) &&
				len(entities[m].Description) > len(entities[canonical].Description) {
				canonical = m
			}
		}
		canonicalByRoot[root] = canonical
	}

	dedupedEntities := make([]common.Entity, 0, len(membersByRoot))
	newIndexByOld := make(map[int]int, len(entities))
	for i := range entities {
		root := find(i)
		canonical := canonicalByRoot[root]
		if i != canonical {
			newIndexByOld[i] = -1
			continue
		}

		merged := entities[i]
		members := membersByRoot[root]
		if len(members) > 1 {
			if name, ok := nameByRoot[root]; ok {
				merged.Name = name
			}
			for _, m := range members {
				if m == canonical {
					continue
				}
				merged.Sources = appendNewSources(merged.Sources, entities[m].Sources)
				if len(entities[m].Description) > len(merged.Description) {
					merged.Description = entities[m].Description
				}
			}
		}

		newIndexByOld[i] = len(dedupedEntities)
		dedupedEntities = append(dedupedEntities, merged)
	}
	// Duplicate members resolve to their canonical's position.
	for i := range entities {
		if newIndexByOld[i] == -1 {
			newIndexByOld[i] = newIndexByOld[canonicalByRoot[find(i)]]
		}
	}

	oldIndexByKey := make(map[string]int, len(entities))
	for i := range entities {
		key := dedupeKey(entities[i].Name, entities[i].Type)
		if _, ok := oldIndexByKey[key]; !ok {
			oldIndexByKey[key] = i
		}
	}

	resolveIndex := func(e *common.Entity) (int, bool) {
		oldIdx, ok := oldIndexByKey[dedupeKey(e.Name, e.Type)]
		if !ok {
			return -1, false
		}
		return newIndexByOld[oldIdx], true
	}

	dedupedRelations := make([]common.Relationship, 0, len(relations))
	relationIndex := make(map[string]int, len(relations))
	for _, rel := range relations {
		if rel.Source == nil || rel.Target == nil {
			continue
		}

		srcIdx, okS := resolveIndex(rel.Source)
		tgtIdx, okT := resolveIndex(rel.Target)
		if !okS || !okT || srcIdx == tgtIdx {
			continue
		}

		rel.Source = &dedupedEntities[srcIdx]
		rel.Target = &dedupedEntities[tgtIdx]

		key := undirectedPairKey(rel.Source, rel.Target)
		if j, ok := relationIndex[key]; ok {
			dedupedRelations[j].Sources = appendNewSources(dedupedRelations[j].Sources, rel.Sources)
			dedupedRelations[j].Strength = (dedupedRelations[j].Strength + rel.Strength) / 2
			dedupedRelations[j].Type = mergeRelationTypes(dedupedRelations[j].Type, rel.Type)
			continue
		}
		relationIndex[key] = len(dedupedRelations)
		dedupedRelations = append(dedupedRelations, rel)
	}

	return dedupedEntities, dedupedRelations
}

// dominantGroupType decides which entity type an AI duplicate group
// refers to when the matched names span several types: the type backed by
// the most sources wins, ties broken by entity count, then lexicographic
// order.
func dominantGroupType(entities []common.Entity, groupNames []string) string {
	wanted := make(map[string]bool, len(groupNames))
	for _, name := range groupNames {
		if key := dedupeName(name); key != "" {
			wanted[key] = true
		}
	}
	if len(wanted) == 0 {
		return ""
	}

	sources := make(map[string]int)
	count := make(map[string]int)
	for _, e := range entities {
		if !wanted[dedupeName(e.Name)] {
			continue
		}
		sources[e.Type] += len(e.Sources)
		count[e.Type]++
	}

	best := ""
	for typ := range sources {
		switch {
		case best == "":
			best = typ
		case sources[typ] != sources[best]:
			if sources[typ] > sources[best] {
				best = typ
			}
		case count[typ] != count[best]:
			if count[typ] > count[best] {
				best = typ
			}
		case typ < best:
			best = typ
		}
	}
	return best
}
