package graph

import "github.com/meridian-hq/atlas/backend/pkg/common"

// mergeEntitiesAndRelations folds freshly extracted entities and
// relationships into the accumulated document graph. Entities merge by
// normalized name and type, appending sources and joining descriptions.
// Relationships merge by undirected entity pair: strengths are averaged,
// sources are appended, and a typed edge upgrades an untyped or
// CO_MENTIONED one.
func mergeEntitiesAndRelations(
	entities []common.Entity,
	newEntities []common.Entity,
	relations []common.Relationship,
	newRelations []common.Relationship,
) ([]common.Entity, []common.Relationship) {
	entityIndex := make(map[string]int, len(entities))
	for i := range entities {
		entityIndex[normalizeMergeKey(entities[i].Name, entities[i].Type)] = i
	}

	for _, entity := range newEntities {
		key := normalizeMergeKey(entity.Name, entity.Type)
		if j, ok := entityIndex[key]; ok {
			entities[j].Sources = appendNewSources(entities[j].Sources, entity.Sources)
			entities[j].Description = joinDescriptions(entities[j].Description, entity.Description)
			continue
		}
		entityIndex[key] = len(entities)
		entities = append(entities, entity)
	}

	relationIndex := make(map[string]int, len(relations))
	for i := range relations {
		if relations[i].Source == nil || relations[i].Target == nil {
			continue
		}
		relationIndex[undirectedPairKey(relations[i].Source, relations[i].Target)] = i
	}

	for _, rel := range newRelations {
		if rel.Source == nil || rel.Target == nil {
			continue
		}

		// Endpoints are re-pointed at the merged entity slice so duplicate
		// entities collapse onto one record before the edge is keyed.
		srcIdx, okS := entityIndex[normalizeMergeKey(rel.Source.Name, rel.Source.Type)]
		tgtIdx, okT := entityIndex[normalizeMergeKey(rel.Target.Name, rel.Target.Type)]
		if !okS || !okT || srcIdx == tgtIdx {
			continue
		}
		rel.Source = &entities[srcIdx]
		rel.Target = &entities[tgtIdx]

		key := undirectedPairKey(rel.Source, rel.Target)
		if j, ok := relationIndex[key]; ok {
			relations[j].Sources = appendNewSources(relations[j].Sources, rel.Sources)
			relations[j].Strength = (relations[j].Strength + rel.Strength) / 2
			relations[j].Type = mergeRelationTypes(relations[j].Type, rel.Type)
			continue
		}
		relationIndex[key] = len(relations)
		relations = append(relations, rel)
	}

	return entities, relations
}

func appendNewSources(existing, incoming []common.Source) []common.Source {
	seen := make(map[string]bool, len(existing))
	for _, src := range existing {
		seen[src.ID] = true
	}
	for _, src := range incoming {
		if seen[src.ID] {
			continue
		}
		seen[src.ID] = true
		existing = append(existing, src)
	}
	return existing
}

func joinDescriptions(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if incoming == "" || incoming == existing {
		return existing
	}
	return existing + "\n" + incoming
}

// mergeRelationTypes keeps the stronger relation category: any concrete
// type beats an untyped edge or a CO_MENTIONED co-occurrence edge.
func mergeRelationTypes(existing, incoming string) string {
	if (existing == "" || existing == RelationCoMentioned) && incoming != "" && incoming != RelationCoMentioned {
		return incoming
	}
	if existing == "" {
		return incoming
	}
	return existing
}
