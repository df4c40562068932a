package pgx

import (
	"context"
	"errors"

	"github.com/meridian-hq/atlas/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const (
	defaultEntityLimit       = 50
	maxEntityLimit           = 500
	defaultRelationshipLimit = 50
	maxRelationshipLimit     = 500
	defaultOverviewLimit     = 50
	maxOverviewLimit         = 200
	maxNeighborhoodDepth     = 2
)

// fallbackEdgeLabel names edges whose extraction produced no relation
// category (plain co-occurrence edges).
const fallbackEdgeLabel = "related_to"

const getEntitiesSQL = `
SELECT e.name, e.type, e.description,
	(SELECT COUNT(*) FROM entity_sources s WHERE s.entity_id = e.id) AS mentions
FROM entities e
WHERE e.tenant_id = $1
	AND ($2 = '' OR e.type = $2)
	AND ($3 = '' OR e.name ILIKE '%' || $3 || '%')
ORDER BY mentions DESC, e.name, e.id
LIMIT $4
`

const getRelationshipsSQL = `
SELECT se.name, te.name, r.type, r.description, r.rank
FROM relationships r
JOIN entities se ON se.id = r.source_id
JOIN entities te ON te.id = r.target_id
WHERE r.tenant_id = $1
	AND ($2 = '' OR r.type = $2)
ORDER BY r.rank DESC, r.id
LIMIT $3
`

const getEntityByNameSQL = `
SELECT id, name, type
FROM entities
WHERE tenant_id = $1 AND LOWER(name) = LOWER($2)
ORDER BY id
LIMIT 1
`

const getNeighborhoodEdgesSQL = `
SELECT r.id, se.id, se.name, se.type, te.id, te.name, te.type, r.type, r.rank
FROM relationships r
JOIN entities se ON se.id = r.source_id
JOIN entities te ON te.id = r.target_id
WHERE r.tenant_id = $1 AND (r.source_id = ANY($2::bigint[]) OR r.target_id = ANY($2::bigint[]))
ORDER BY r.rank DESC, r.id
`

const getDocumentNamesForEntitiesSQL = `
SELECT DISTINCT d.name
FROM entity_sources s
JOIN units u ON u.id = s.unit_id
JOIN documents d ON d.id = u.document_id
WHERE s.entity_id = ANY($1::bigint[])
ORDER BY d.name
`

const getOverviewNodesSQL = `
SELECT e.id, e.name, e.type,
	(SELECT COUNT(*) FROM entity_sources s WHERE s.entity_id = e.id) AS mentions
FROM entities e
WHERE e.tenant_id = $1
ORDER BY mentions DESC, e.id
LIMIT $2
`

const getOverviewEdgesSQL = `
SELECT se.name, te.name, r.type, r.rank
FROM relationships r
JOIN entities se ON se.id = r.source_id
JOIN entities te ON te.id = r.target_id
WHERE r.tenant_id = $1
	AND r.source_id = ANY($2::bigint[])
	AND r.target_id = ANY($2::bigint[])
ORDER BY r.rank DESC, r.id
`

const getGraphCountsSQL = `
SELECT
	(SELECT COUNT(*) FROM documents WHERE tenant_id = $1),
	(SELECT COUNT(*) FROM units WHERE tenant_id = $1),
	(SELECT COUNT(*) FROM entities WHERE tenant_id = $1),
	(SELECT COUNT(*) FROM relationships WHERE tenant_id = $1)
`

const getEntityTypeCountsSQL = `
SELECT type, COUNT(*) FROM entities WHERE tenant_id = $1 GROUP BY type ORDER BY type
`

const getDocumentsFromSourceIDsSQL = `
SELECT x.source_public_id, d.public_id, d.name, d.metadata
FROM (
	SELECT s.public_id AS source_public_id, u.document_id AS doc_id
	FROM entity_sources s
	JOIN units u ON u.id = s.unit_id
	WHERE s.public_id = ANY($2::text[])
	UNION
	SELECT s.public_id, u.document_id
	FROM relationship_sources s
	JOIN units u ON u.id = s.unit_id
	WHERE s.public_id = ANY($2::text[])
	UNION
	SELECT d2.public_id, d2.id
	FROM documents d2
	WHERE d2.public_id = ANY($2::text[])
) x
JOIN documents d ON d.id = x.doc_id
WHERE d.tenant_id = $1
ORDER BY d.name, x.source_public_id
`

// GetEntities lists a tenant's entities ordered by how often they are
// mentioned, optionally filtered by type and a name substring.
func (s *GraphDBStorage) GetEntities(ctx context.Context, tenant string, filter store.EntityFilter) ([]store.EntityInfo, error) {
	limit := clampLimit(filter.Limit, defaultEntityLimit, maxEntityLimit)

	rows, err := s.conn.Query(ctx, getEntitiesSQL, tenant, filter.Type, filter.Search, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := make([]store.EntityInfo, 0)
	for rows.Next() {
		var e store.EntityInfo
		var mentions int64
		if err := rows.Scan(&e.Name, &e.Type, &e.Description, &mentions); err != nil {
			return nil, err
		}
		e.Mentions = int(mentions)
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// GetRelationships lists a tenant's relationships ordered by strength.
func (s *GraphDBStorage) GetRelationships(ctx context.Context, tenant string, filter store.RelationshipFilter) ([]store.RelationshipInfo, error) {
	limit := clampLimit(filter.Limit, defaultRelationshipLimit, maxRelationshipLimit)

	rows, err := s.conn.Query(ctx, getRelationshipsSQL, tenant, filter.Type, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	relations := make([]store.RelationshipInfo, 0)
	for rows.Next() {
		var r store.RelationshipInfo
		if err := rows.Scan(&r.Source, &r.Target, &r.Type, &r.Description, &r.Strength); err != nil {
			return nil, err
		}
		if r.Type == "" {
			r.Type = fallbackEdgeLabel
		}
		relations = append(relations, r)
	}
	return relations, rows.Err()
}

// GetEntityNeighborhood returns the subgraph around the named entity up
// to the requested depth (capped at two hops). The name match is
// case-insensitive; an unknown name returns store.ErrEntityNotFound.
func (s *GraphDBStorage) GetEntityNeighborhood(ctx context.Context, tenant string, name string, depth int) (*store.Neighborhood, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > maxNeighborhoodDepth {
		depth = maxNeighborhoodDepth
	}

	var centerID int64
	var centerName, centerType string
	err := s.conn.QueryRow(ctx, getEntityByNameSQL, tenant, name).Scan(&centerID, &centerName, &centerType)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, store.ErrEntityNotFound
		}
		return nil, err
	}

	neighborhood := &store.Neighborhood{
		Center: centerName,
		Nodes:  []store.GraphNode{{Name: centerName, Type: centerType}},
		Edges:  []store.GraphEdge{},
	}
	seenNodes := map[int64]bool{centerID: true}
	seenEdges := make(map[int64]bool)
	nodeIDs := []int64{centerID}

	frontier := []int64{centerID}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := make([]int64, 0)

		rows, err := s.conn.Query(ctx, getNeighborhoodEdgesSQL, tenant, frontier)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var edgeID, sourceID, targetID int64
			var sourceName, sourceType, targetName, targetType, edgeType string
			var rank float64
			err := rows.Scan(&edgeID, &sourceID, &sourceName, &sourceType, &targetID, &targetName, &targetType, &edgeType, &rank)
			if err != nil {
				rows.Close()
				return nil, err
			}
			if seenEdges[edgeID] {
				continue
			}
			seenEdges[edgeID] = true

			if edgeType == "" {
				edgeType = fallbackEdgeLabel
			}
			neighborhood.Edges = append(neighborhood.Edges, store.GraphEdge{
				Source:       sourceName,
				Target:       targetName,
				Relationship: edgeType,
				Confidence:   rank,
			})
			if !seenNodes[sourceID] {
				seenNodes[sourceID] = true
				nodeIDs = append(nodeIDs, sourceID)
				next = append(next, sourceID)
				neighborhood.Nodes = append(neighborhood.Nodes, store.GraphNode{Name: sourceName, Type: sourceType})
			}
			if !seenNodes[targetID] {
				seenNodes[targetID] = true
				nodeIDs = append(nodeIDs, targetID)
				next = append(next, targetID)
				neighborhood.Nodes = append(neighborhood.Nodes, store.GraphNode{Name: targetName, Type: targetType})
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		frontier = next
	}

	sources, err := s.getDocumentNamesForEntities(ctx, nodeIDs)
	if err != nil {
		return nil, err
	}
	neighborhood.Sources = sources

	return neighborhood, nil
}

func (s *GraphDBStorage) getDocumentNamesForEntities(ctx context.Context, entityIDs []int64) ([]string, error) {
	rows, err := s.conn.Query(ctx, getDocumentNamesForEntitiesSQL, entityIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetGraphOverview returns the most-mentioned entities, the edges among
// them, and the tenant's graph counters.
func (s *GraphDBStorage) GetGraphOverview(ctx context.Context, tenant string, limit int) (*store.GraphOverview, error) {
	limit = clampLimit(limit, defaultOverviewLimit, maxOverviewLimit)

	rows, err := s.conn.Query(ctx, getOverviewNodesSQL, tenant, limit)
	if err != nil {
		return nil, err
	}
	nodes := make([]store.GraphNode, 0, limit)
	nodeIDs := make([]int64, 0, limit)
	for rows.Next() {
		var id, mentions int64
		var node store.GraphNode
		if err := rows.Scan(&id, &node.Name, &node.Type, &mentions); err != nil {
			rows.Close()
			return nil, err
		}
		nodes = append(nodes, node)
		nodeIDs = append(nodeIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edges := make([]store.GraphEdge, 0)
	if len(nodeIDs) > 0 {
		rows, err = s.conn.Query(ctx, getOverviewEdgesSQL, tenant, nodeIDs)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var edge store.GraphEdge
			if err := rows.Scan(&edge.Source, &edge.Target, &edge.Relationship, &edge.Confidence); err != nil {
				rows.Close()
				return nil, err
			}
			if edge.Relationship == "" {
				edge.Relationship = fallbackEdgeLabel
			}
			edges = append(edges, edge)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	stats, err := s.GetGraphStats(ctx, tenant)
	if err != nil {
		return nil, err
	}

	return &store.GraphOverview{Nodes: nodes, Edges: edges, Stats: *stats}, nil
}

// GetGraphStats aggregates the tenant's graph counters.
func (s *GraphDBStorage) GetGraphStats(ctx context.Context, tenant string) (*store.GraphStats, error) {
	var documents, chunks, entities, relationships int64
	err := s.conn.QueryRow(ctx, getGraphCountsSQL, tenant).Scan(&documents, &chunks, &entities, &relationships)
	if err != nil {
		return nil, err
	}

	stats := &store.GraphStats{
		Documents:     int(documents),
		Chunks:        int(chunks),
		Entities:      int(entities),
		Relationships: int(relationships),
		EntityTypes:   make(map[string]int),
	}

	rows, err := s.conn.Query(ctx, getEntityTypeCountsSQL, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var count int64
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		stats.EntityTypes[typ] = int(count)
	}
	return stats, rows.Err()
}

// GetDocumentsFromSourceIDs resolves cited ids back to stored documents.
// Ids may name entity sources, relationship sources, or documents
// themselves; unknown ids are simply absent from the result.
func (s *GraphDBStorage) GetDocumentsFromSourceIDs(ctx context.Context, tenant string, sourceIDs []string) ([]store.SourceDocument, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, getDocumentsFromSourceIDsSQL, tenant, sourceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	documents := make([]store.SourceDocument, 0)
	for rows.Next() {
		var doc store.SourceDocument
		var metadata *string
		if err := rows.Scan(&doc.SourceID, &doc.DocumentID, &doc.Name, &metadata); err != nil {
			return nil, err
		}
		if metadata != nil {
			doc.Metadata = *metadata
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}

func clampLimit(limit, fallback, ceiling int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}
