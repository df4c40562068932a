package pgx

import (
	"context"
	"fmt"

	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	"github.com/meridian-hq/atlas/backend/pkg/store"

	"github.com/pgvector/pgvector-go"
)

const (
	entityChunkSize       = 250
	entitySourceChunkSize = 500
)

const upsertEntitiesSQL = `
INSERT INTO entities (tenant_id, public_id, name, type, description, embedding)
SELECT $1, e.public_id, e.name, e.type, e.description, e.embedding
FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::vector[])
	AS e(public_id, name, type, description, embedding)
ON CONFLICT (public_id) DO UPDATE SET
	name = EXCLUDED.name,
	type = EXCLUDED.type,
	description = EXCLUDED.description,
	embedding = EXCLUDED.embedding,
	updated_at = now()
RETURNING id, public_id
`

const upsertEntitySourcesSQL = `
INSERT INTO entity_sources (tenant_id, public_id, entity_id, unit_id, description, embedding)
SELECT $1, s.public_id, s.entity_id, s.unit_id, s.description, s.embedding
FROM unnest($2::text[], $3::bigint[], $4::bigint[], $5::text[], $6::vector[])
	AS s(public_id, entity_id, unit_id, description, embedding)
ON CONFLICT (public_id) DO UPDATE SET
	entity_id = EXCLUDED.entity_id,
	unit_id = EXCLUDED.unit_id,
	description = EXCLUDED.description,
	embedding = EXCLUDED.embedding
`

const findSimilarEntitiesSQL = `
SELECT id
FROM entities
WHERE tenant_id = $1
	AND embedding IS NOT NULL
	AND 1 - (embedding <=> $2) > $4
ORDER BY embedding <=> $2
LIMIT $3
`

// SaveEntities persists a batch of entities and their sources. It generates
// vector embeddings for every entity and source description so both levels
// participate in semantic similarity search. Upserts are keyed on the
// extraction-time public id; duplicate names across batches converge later
// through the dedupe pass.
func (s *GraphDBStorage) SaveEntities(ctx context.Context, tenant string, entities []common.Entity) ([]int64, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(entities))
	err := store.ChunkRange(len(entities), entityChunkSize, func(start, end int) error {
		chunkIDs, err := s.saveEntityChunk(ctx, tenant, entities[start:end])
		if err != nil {
			return err
		}
		ids = append(ids, chunkIDs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// saveEntityChunk writes one chunk of entities and all their sources in a
// single transaction, so a failed chunk never leaves sources without their
// entity rows.
func (s *GraphDBStorage) saveEntityChunk(ctx context.Context, tenant string, chunk []common.Entity) ([]int64, error) {
	merged := mergeEntitiesByPublicID(chunk)
	if len(merged) == 0 {
		return nil, nil
	}
	logger.Debug("store: saving entity chunk", "entities", len(merged))

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	dbIDByPublicID, ids, err := s.upsertEntities(ctx, tx, tenant, merged)
	if err != nil {
		return nil, err
	}

	sources := flattenEntitySources(merged, dbIDByPublicID)
	err = store.ChunkRange(len(sources), entitySourceChunkSize, func(start, end int) error {
		return s.upsertEntitySources(ctx, tx, tenant, sources[start:end])
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("store: entity chunk committed", "entities", len(merged))
	return ids, tx.Commit(ctx)
}

// upsertEntities embeds and writes the merged entities, returning the db id
// per public id along with the ids in input order.
func (s *GraphDBStorage) upsertEntities(ctx context.Context, conn dbConn, tenant string, merged []common.Entity) (map[string]int64, []int64, error) {
	texts := make([][]byte, len(merged))
	for i, e := range merged {
		if e.ID == "" {
			return nil, nil, fmt.Errorf("entity public_id is empty")
		}
		texts[i] = []byte(e.Description)
	}
	logger.Debug("store: embedding entities", "count", len(texts))
	embs, err := store.GenerateEmbeddings(ctx, s.aiClient, texts)
	if err != nil {
		return nil, nil, err
	}

	publicIDs := make([]string, len(merged))
	names := make([]string, len(merged))
	types := make([]string, len(merged))
	descriptions := make([]string, len(merged))
	vectors := make([]pgvector.Vector, len(merged))
	for i, e := range merged {
		publicIDs[i], names[i], types[i] = e.ID, e.Name, e.Type
		descriptions[i] = e.Description
		vectors[i] = pgvector.NewVector(embs[i])
	}

	logger.Debug("store: upserting entities", "count", len(merged))
	rows, err := conn.Query(ctx, upsertEntitiesSQL,
		tenant, publicIDs, names, types, descriptions, vectors)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	dbIDByPublicID := make(map[string]int64, len(merged))
	ids := make([]int64, 0, len(merged))
	for rows.Next() {
		var id int64
		var publicID string
		if err := rows.Scan(&id, &publicID); err != nil {
			return nil, nil, err
		}
		dbIDByPublicID[publicID] = id
		ids = append(ids, id)
	}
	return dbIDByPublicID, ids, rows.Err()
}

// upsertEntitySources embeds and writes one chunk of source rows. Every row
// must resolve to a stored text unit; a miss means the units of its document
// were never saved and the batch is unusable.
func (s *GraphDBStorage) upsertEntitySources(ctx context.Context, conn dbConn, tenant string, part []entitySourceRow) error {
	logger.Debug("store: saving entity sources", "sources", len(part))

	unitPublicIDs := make([]string, len(part))
	for i, src := range part {
		unitPublicIDs[i] = src.unitPublicID
	}
	unitIDByPublicID, err := getUnitIDsByPublicIDs(ctx, conn, tenant, store.DedupeStrings(unitPublicIDs))
	if err != nil {
		return err
	}

	texts := make([][]byte, len(part))
	for i, src := range part {
		texts[i] = []byte(src.description)
	}
	logger.Debug("store: embedding entity sources", "count", len(texts))
	embs, err := store.GenerateEmbeddings(ctx, s.aiClient, texts)
	if err != nil {
		return err
	}

	publicIDs := make([]string, len(part))
	entityIDs := make([]int64, len(part))
	unitIDs := make([]int64, len(part))
	descriptions := make([]string, len(part))
	vectors := make([]pgvector.Vector, len(part))
	for i, src := range part {
		unitID, ok := unitIDByPublicID[src.unitPublicID]
		if !ok {
			return fmt.Errorf("missing text unit for source: unit_public_id=%s", src.unitPublicID)
		}
		publicIDs[i], entityIDs[i], unitIDs[i] = src.publicID, src.entityID, unitID
		descriptions[i] = src.description
		vectors[i] = pgvector.NewVector(embs[i])
	}

	logger.Debug("store: upserting entity sources", "count", len(part))
	_, err = conn.Exec(ctx, upsertEntitySourcesSQL,
		tenant, publicIDs, entityIDs, unitIDs, descriptions, vectors)
	return err
}

func (s *GraphDBStorage) findSimilarEntityIDs(
	ctx context.Context,
	conn dbConn,
	tenant string,
	embedding []float32,
	topk int32,
	floor float64,
) ([]int64, error) {
	rows, err := conn.Query(ctx, findSimilarEntitiesSQL, tenant, pgvector.NewVector(embedding), topk, floor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, topk)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type entitySourceRow struct {
	publicID     string
	entityID     int64
	unitPublicID string
	description  string
}

// mergeEntitiesByPublicID collapses repeated extractions of the same entity
// within one chunk. Later occurrences win field by field, sources accumulate,
// and entries without a public id are dropped.
func mergeEntitiesByPublicID(in []common.Entity) []common.Entity {
	out := make([]common.Entity, 0, len(in))
	at := make(map[string]int, len(in))
	for _, e := range in {
		if e.ID == "" {
			continue
		}
		idx, seen := at[e.ID]
		if !seen {
			at[e.ID] = len(out)
			out = append(out, e)
			continue
		}
		overlayEntity(&out[idx], e)
	}
	return out
}

// overlayEntity folds a repeated extraction into the entity already kept.
func overlayEntity(dst *common.Entity, src common.Entity) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Type != "" {
		dst.Type = src.Type
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	dst.Sources = append(dst.Sources, src.Sources...)
}

// flattenEntitySources collects one row per source public id across the
// chunk's entities. A source reported twice keeps its last version; sources
// whose entity failed to upsert, or that lack a unit, are skipped.
func flattenEntitySources(entities []common.Entity, dbIDByPublicID map[string]int64) []entitySourceRow {
	var rows []entitySourceRow
	at := make(map[string]int)

	for _, e := range entities {
		entityID, ok := dbIDByPublicID[e.ID]
		if !ok {
			continue
		}
		for _, src := range e.Sources {
			if src.ID == "" || src.Unit == nil || src.Unit.ID == "" {
				continue
			}
			row := entitySourceRow{
				publicID: src.ID, entityID: entityID,
				unitPublicID: src.Unit.ID, description: src.Description,
			}
			if idx, seen := at[src.ID]; seen {
				rows[idx] = row
				continue
			}
			at[src.ID] = len(rows)
			rows = append(rows, row)
		}
	}

	return rows
}
