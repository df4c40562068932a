package pgx

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
	graphquery "github.com/meridian-hq/atlas/backend/pkg/query"

	_ "github.com/invopop/jsonschema"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const (
	globalTopEntities      = 15
	globalTopRelationships = 15
)

const getEntityNamesSQL = `
SELECT name FROM entities WHERE tenant_id = $1 ORDER BY name
`

const getEntityIDsByNamesSQL = `
SELECT id FROM entities WHERE tenant_id = $1 AND name = ANY($2::text[])
`

const findRelevantEntitySourcesSQL = `
SELECT s.id, e.name, s.public_id, s.description
FROM entity_sources s
JOIN entities e ON e.id = s.entity_id
WHERE s.entity_id = ANY($1::bigint[])
	AND s.embedding IS NOT NULL
	AND 1 - (s.embedding <=> $2) > $4
ORDER BY s.embedding <=> $2
LIMIT $3
`

const findSimilarEntitySourcesSQL = `
SELECT s.id, e.name, s.public_id, s.description
FROM entity_sources s
JOIN entities e ON e.id = s.entity_id
WHERE s.tenant_id = $1
	AND s.embedding IS NOT NULL
	AND 1 - (s.embedding <=> $2) > $4
ORDER BY s.embedding <=> $2
LIMIT $3
`

const findRelevantRelationSourcesSQL = `
SELECT s.id, se.name, te.name, s.public_id, s.description
FROM relationship_sources s
JOIN relationships r ON r.id = s.relationship_id
JOIN entities se ON se.id = r.source_id
JOIN entities te ON te.id = r.target_id
WHERE s.relationship_id = ANY($1::bigint[])
	AND s.embedding IS NOT NULL
	AND 1 - (s.embedding <=> $2) > $4
ORDER BY s.embedding <=> $2
LIMIT $3
`

const getDocumentsWithMetadataFromSourceIDsSQL = `
SELECT DISTINCT d.public_id, d.name, d.file_key, d.metadata
FROM documents d
JOIN units u ON u.document_id = d.id
WHERE d.tenant_id = $1
	AND u.id IN (
		SELECT s.unit_id FROM entity_sources s WHERE s.public_id = ANY($2::text[])
		UNION
		SELECT s.unit_id FROM relationship_sources s WHERE s.public_id = ANY($2::text[])
	)
`

const getTopEntitySourcesSQL = `
WITH top_entities AS (
	SELECT e.id, e.name,
		(SELECT COUNT(*) FROM entity_sources s WHERE s.entity_id = e.id) AS mention_count
	FROM entities e
	WHERE e.tenant_id = $1
	ORDER BY mention_count DESC, e.id
	LIMIT $3
), best AS (
	SELECT DISTINCT ON (s.entity_id) s.id, s.entity_id, s.public_id, s.description
	FROM entity_sources s
	JOIN top_entities t ON t.id = s.entity_id
	ORDER BY s.entity_id, s.embedding <=> $2
)
SELECT b.id, b.entity_id, t.name, b.public_id, b.description
FROM best b
JOIN top_entities t ON t.id = b.entity_id
ORDER BY t.mention_count DESC, t.id
`

const getTopRelationshipSourcesSQL = `
WITH top_relationships AS (
	SELECT r.id, r.rank, se.name AS source_name, te.name AS target_name
	FROM relationships r
	JOIN entities se ON se.id = r.source_id
	JOIN entities te ON te.id = r.target_id
	WHERE r.tenant_id = $1
	ORDER BY r.rank DESC, r.id
	LIMIT $3
), best AS (
	SELECT DISTINCT ON (s.relationship_id) s.id, s.relationship_id, s.public_id, s.description
	FROM relationship_sources s
	JOIN top_relationships t ON t.id = s.relationship_id
	ORDER BY s.relationship_id, s.embedding <=> $2
)
SELECT b.id, b.relationship_id, t.source_name, t.target_name, b.public_id, b.description
FROM best b
JOIN top_relationships t ON t.id = b.relationship_id
ORDER BY t.rank DESC, t.id
`

type entitySourceHit struct {
	ID          int64
	Name        string
	PublicID    string
	Description string
}

type relationshipSourceHit struct {
	ID          int64
	SourceName  string
	TargetName  string
	PublicID    string
	Description string
}

type documentMetadataRow struct {
	PublicID string
	Name     string
	FileKey  string
	Metadata *string
}

// GetLocalQueryContext assembles the context block for an entity-centric
// question. Candidate entities come from the intent model plus embedding
// search over the whole tenant; pgrouting paths between the candidates
// contribute the relationships and entities that connect them. Returns ""
// when the graph holds nothing relevant.
func (s *GraphDBStorage) GetLocalQueryContext(
	ctx context.Context,
	query string,
	embedding []float32,
	tenant string,
) (string, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	entityNames, err := getEntityNames(ctx, tx, tenant)
	if err != nil {
		return "", err
	}

	intent, err := s.getQueryIntent(ctx, query, entityNames, s.msgs)
	if err != nil {
		return "", err
	}

	namedEntityIds, err := getEntityIDsByNames(ctx, tx, tenant, intent.Entities)
	if err != nil {
		return "", err
	}
	graphquery.RecordQueriedEntityIDs(s.trace, namedEntityIds...)

	knownEntity := make(map[int64]bool, len(namedEntityIds))
	for _, id := range namedEntityIds {
		knownEntity[id] = true
	}

	similarEntityIds, err := s.findSimilarEntityIDs(ctx, tx, tenant, embedding, 4, 0.4)
	if err != nil {
		return "", err
	}
	extraEntityIds := make([]int64, 0, len(similarEntityIds))
	for _, id := range similarEntityIds {
		if knownEntity[id] {
			continue
		}
		knownEntity[id] = true
		extraEntityIds = append(extraEntityIds, id)
	}
	graphquery.RecordQueriedEntityIDs(s.trace, extraEntityIds...)

	// Walk every unordered pair of named entities once and keep whatever the
	// paths between them touch, minus the entities already selected above.
	seenRelationship := make(map[int64]bool)
	pathRelationshipIds := make([]int64, 0)
	connectingEntityIds := make([]int64, 0)
	for i, sourceID := range namedEntityIds {
		for _, targetID := range namedEntityIds[i+1:] {
			if sourceID == targetID {
				continue
			}

			relIDs, pathEntities, _, err := s.getPathBetweenEntities(ctx, tx, sourceID, targetID, tenant)
			if err != nil {
				return "", err
			}

			for _, id := range relIDs {
				if !seenRelationship[id] {
					seenRelationship[id] = true
					pathRelationshipIds = append(pathRelationshipIds, id)
				}
			}
			for _, id := range pathEntities {
				if !knownEntity[id] {
					knownEntity[id] = true
					connectingEntityIds = append(connectingEntityIds, id)
				}
			}
		}
	}
	graphquery.RecordQueriedRelationshipIDs(s.trace, pathRelationshipIds...)
	graphquery.RecordQueriedEntityIDs(s.trace, connectingEntityIds...)

	termEmbedding, err := s.aiClient.GenerateEmbedding(ctx, []byte(intent.SemanticTerm))
	if err != nil {
		return "", err
	}
	embed := pgvector.NewVector(termEmbedding)

	entitySources, err := findRelevantEntitySources(ctx, tx, namedEntityIds, embed, 30, 0.6)
	if err != nil {
		return "", err
	}
	extraEntitySources, err := findRelevantEntitySources(ctx, tx, extraEntityIds, embed, 10, 0.6)
	if err != nil {
		return "", err
	}
	entitySources = append(entitySources, extraEntitySources...)

	relationshipSources, err := findRelevantRelationSources(ctx, tx, pathRelationshipIds, embed, 20, 0.6)
	if err != nil {
		return "", err
	}

	connectingSources, err := findRelevantEntitySources(ctx, tx, connectingEntityIds, embed, 10, 0.6)
	if err != nil {
		return "", err
	}

	seenSource := make(map[int64]bool, len(entitySources))
	for _, src := range entitySources {
		seenSource[src.ID] = true
	}
	similarSources, err := findSimilarEntitySources(ctx, tx, tenant, embed, 10, 0.4)
	if err != nil {
		return "", err
	}
	extraSources := make([]entitySourceHit, 0, len(similarSources))
	for _, src := range similarSources {
		if seenSource[src.ID] {
			continue
		}
		extraSources = append(extraSources, src)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}

	blocks := []contextBlock{
		{"Relevant Entities:", entitySourceLines(entitySources)},
		{"Connecting Relationships:", relationshipSourceLines(relationshipSources)},
		{"Connecting Entities:", entitySourceLines(connectingSources)},
		{"Additional Sources:", entitySourceLines(extraSources)},
	}
	return s.renderContext(ctx, tenant, blocks), nil
}

// GetGlobalQueryContext retrieves context for corpus-level questions. Instead
// of matching the question against specific entities, it surfaces the
// most-mentioned entities and strongest relationships of the whole graph,
// each represented by the source closest to the question embedding.
func (s *GraphDBStorage) GetGlobalQueryContext(
	ctx context.Context,
	query string,
	embedding []float32,
	tenant string,
) (string, error) {
	embed := pgvector.NewVector(embedding)

	entityIDs := make([]int64, 0, globalTopEntities)
	entityHits := make([]entitySourceHit, 0, globalTopEntities)
	seenSource := make(map[int64]bool)

	rows, err := s.conn.Query(ctx, getTopEntitySourcesSQL, tenant, embed, globalTopEntities)
	if err != nil {
		return "", err
	}
	for rows.Next() {
		var hit entitySourceHit
		var entityID int64
		if err := rows.Scan(&hit.ID, &entityID, &hit.Name, &hit.PublicID, &hit.Description); err != nil {
			rows.Close()
			return "", err
		}
		entityIDs = append(entityIDs, entityID)
		entityHits = append(entityHits, hit)
		seenSource[hit.ID] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}
	graphquery.RecordQueriedEntityIDs(s.trace, entityIDs...)

	relationshipIDs := make([]int64, 0, globalTopRelationships)
	relationshipHits := make([]relationshipSourceHit, 0, globalTopRelationships)

	rows, err = s.conn.Query(ctx, getTopRelationshipSourcesSQL, tenant, embed, globalTopRelationships)
	if err != nil {
		return "", err
	}
	for rows.Next() {
		var hit relationshipSourceHit
		var relationshipID int64
		if err := rows.Scan(&hit.ID, &relationshipID, &hit.SourceName, &hit.TargetName, &hit.PublicID, &hit.Description); err != nil {
			rows.Close()
			return "", err
		}
		relationshipIDs = append(relationshipIDs, relationshipID)
		relationshipHits = append(relationshipHits, hit)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}
	graphquery.RecordQueriedRelationshipIDs(s.trace, relationshipIDs...)

	similarSources, err := findSimilarEntitySources(ctx, s.conn, tenant, embed, 10, 0.4)
	if err != nil {
		return "", err
	}
	extraSources := make([]entitySourceHit, 0, len(similarSources))
	for _, src := range similarSources {
		if seenSource[src.ID] {
			continue
		}
		extraSources = append(extraSources, src)
	}

	blocks := []contextBlock{
		{"Key Entities:", entitySourceLines(entityHits)},
		{"Strongest Relationships:", relationshipSourceLines(relationshipHits)},
		{"Additional Sources:", entitySourceLines(extraSources)},
	}
	return s.renderContext(ctx, tenant, blocks), nil
}

type queryIntent struct {
	Entities     []string `json:"relevant_entities" jsonschema_description:"Subset of candidate entity names from the list that are directly relevant to the user question"`
	SemanticTerm string   `json:"semantic_term" jsonschema_description:"A single short natural sentence/phrase that fully captures the user's intent, written to maximize matching in text embeddings"`
}

// getQueryIntent asks the model which of the tenant's entity names the
// question concerns and for a dense rephrasing suited to embedding search.
func (s *GraphDBStorage) getQueryIntent(ctx context.Context, query string, entityNames []string, history []string) (*queryIntent, error) {
	var previousAnswer string
	if n := len(history); n > 0 {
		previousAnswer = history[n-1]
	}
	prompt := fmt.Sprintf(ai.SemanticPrompt, previousAnswer, query, strings.Join(entityNames, ", "))

	intent := &queryIntent{}
	if err := s.aiClient.GenerateCompletionWithFormat(ctx, "query_intent", "Generate an intent for the user query.", prompt, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// contextBlock is one titled group of candidate lines for the context text.
type contextBlock struct {
	title string
	lines []sourceLine
}

// renderContext turns the blocks into the final context text. Every line is
// recorded as a considered source; only lines that made it into a section
// count as used. A document metadata section is appended when any considered
// source maps back to a stored file.
func (s *GraphDBStorage) renderContext(ctx context.Context, tenant string, blocks []contextBlock) string {
	var sections []string
	consideredIds := make([]string, 0)
	citedIds := make([]string, 0)

	for _, block := range blocks {
		for _, line := range block.lines {
			consideredIds = append(consideredIds, line.publicID)
		}
		section, used := buildContextSection(block.title, block.lines)
		if section == "" {
			continue
		}
		sections = append(sections, section)
		citedIds = append(citedIds, used...)
	}

	if len(consideredIds) > 0 {
		// Metadata is garnish; a lookup failure never fails the query.
		documents, err := getDocumentsWithMetadata(ctx, s.conn, tenant, consideredIds)
		if err == nil && len(documents) > 0 {
			if section, used := buildMetadataSection(documents); section != "" {
				sections = append(sections, section)
				citedIds = append(citedIds, used...)
			}
		}
	}
	graphquery.RecordConsideredSourceIDs(s.trace, consideredIds...)
	graphquery.RecordUsedSourceIDs(s.trace, citedIds...)

	if len(sections) == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Join(sections, "\n"), "\n")
}

// sourceLine is one context line: a display label, the citable source id,
// and the source text.
type sourceLine struct {
	label    string
	publicID string
	text     string
}

func entitySourceLines(sources []entitySourceHit) []sourceLine {
	lines := make([]sourceLine, 0, len(sources))
	for _, source := range sources {
		lines = append(lines, sourceLine{label: source.Name, publicID: source.PublicID, text: source.Description})
	}
	return lines
}

func relationshipSourceLines(sources []relationshipSourceHit) []sourceLine {
	lines := make([]sourceLine, 0, len(sources))
	for _, source := range sources {
		lines = append(lines, sourceLine{
			label:    fmt.Sprintf("%s<->%s", source.SourceName, source.TargetName),
			publicID: source.PublicID,
			text:     source.Description,
		})
	}
	return lines
}

// buildContextSection renders one titled context block. Lines without text
// are skipped; returns the section and the source ids it cites, or an
// empty section when nothing was usable.
func buildContextSection(title string, lines []sourceLine) (string, []string) {
	var section strings.Builder
	used := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.text == "" {
			continue
		}
		used = append(used, line.publicID)
		fmt.Fprintf(&section, "%s,%s: %s\n", line.label, line.publicID, line.text)
	}
	if len(used) == 0 {
		return "", nil
	}
	return title + "\n" + section.String(), used
}

// buildMetadataSection renders the document metadata block, one line per
// distinct stored file. Document public ids become citable alongside
// source ids.
func buildMetadataSection(documents []documentMetadataRow) (string, []string) {
	seenFiles := make(map[string]bool)
	var section strings.Builder
	used := make([]string, 0, len(documents))
	for _, doc := range documents {
		if seenFiles[doc.FileKey] {
			continue
		}
		seenFiles[doc.FileKey] = true
		if doc.Metadata == nil || *doc.Metadata == "" {
			continue
		}
		used = append(used, doc.PublicID)
		fmt.Fprintf(&section, "%s: %s\n", doc.Name, *doc.Metadata)
	}
	if len(used) == 0 {
		return "", nil
	}
	return "Document Metadata:\n" + section.String(), used
}

func getEntityNames(ctx context.Context, conn dbConn, tenant string) ([]string, error) {
	rows, err := conn.Query(ctx, getEntityNamesSQL, tenant)
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

func getEntityIDsByNames(ctx context.Context, conn dbConn, tenant string, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	if len(names) == 0 {
		return ids, nil
	}

	rows, err := conn.Query(ctx, getEntityIDsByNamesSQL, tenant, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func findRelevantEntitySources(ctx context.Context, conn dbConn, entityIDs []int64, embed pgvector.Vector, limit int32, floor float64) ([]entitySourceHit, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	return scanEntitySourceHits(conn.Query(ctx, findRelevantEntitySourcesSQL, entityIDs, embed, limit, floor))
}

func findSimilarEntitySources(ctx context.Context, conn dbConn, tenant string, embed pgvector.Vector, limit int32, floor float64) ([]entitySourceHit, error) {
	return scanEntitySourceHits(conn.Query(ctx, findSimilarEntitySourcesSQL, tenant, embed, limit, floor))
}

func scanEntitySourceHits(rows pgxv5.Rows, err error) ([]entitySourceHit, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]entitySourceHit, 0)
	for rows.Next() {
		var hit entitySourceHit
		if err := rows.Scan(&hit.ID, &hit.Name, &hit.PublicID, &hit.Description); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func findRelevantRelationSources(ctx context.Context, conn dbConn, relationshipIDs []int64, embed pgvector.Vector, limit int32, floor float64) ([]relationshipSourceHit, error) {
	if len(relationshipIDs) == 0 {
		return nil, nil
	}

	rows, err := conn.Query(ctx, findRelevantRelationSourcesSQL, relationshipIDs, embed, limit, floor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]relationshipSourceHit, 0)
	for rows.Next() {
		var hit relationshipSourceHit
		if err := rows.Scan(&hit.ID, &hit.SourceName, &hit.TargetName, &hit.PublicID, &hit.Description); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func getDocumentsWithMetadata(ctx context.Context, conn dbConn, tenant string, sourcePublicIDs []string) ([]documentMetadataRow, error) {
	rows, err := conn.Query(ctx, getDocumentsWithMetadataFromSourceIDsSQL, tenant, sourcePublicIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	documents := make([]documentMetadataRow, 0)
	for rows.Next() {
		var doc documentMetadataRow
		if err := rows.Scan(&doc.PublicID, &doc.Name, &doc.FileKey, &doc.Metadata); err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}
