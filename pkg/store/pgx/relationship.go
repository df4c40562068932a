package pgx

import (
	"context"
	"fmt"
	"slices"

	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	"github.com/meridian-hq/atlas/backend/pkg/store"

	"github.com/pgvector/pgvector-go"
)

const getEntityIDsByPublicIDsSQL = `
SELECT id, public_id
FROM entities
WHERE tenant_id = $1 AND public_id = ANY($2::text[])
`

const upsertRelationshipsSQL = `
INSERT INTO relationships (tenant_id, public_id, source_id, target_id, type, description, rank, embedding)
SELECT $1, r.public_id, r.source_id, r.target_id, r.type, r.description, r.rank, r.embedding
FROM unnest($2::text[], $3::bigint[], $4::bigint[], $5::text[], $6::text[], $7::float8[], $8::vector[])
	AS r(public_id, source_id, target_id, type, description, rank, embedding)
ON CONFLICT (public_id) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	target_id = EXCLUDED.target_id,
	type = EXCLUDED.type,
	description = EXCLUDED.description,
	rank = EXCLUDED.rank,
	embedding = EXCLUDED.embedding,
	updated_at = now()
RETURNING id, public_id
`

const upsertRelationshipSourcesSQL = `
INSERT INTO relationship_sources (tenant_id, public_id, relationship_id, unit_id, description, embedding)
SELECT $1, s.public_id, s.relationship_id, s.unit_id, s.description, s.embedding
FROM unnest($2::text[], $3::bigint[], $4::bigint[], $5::text[], $6::vector[])
	AS s(public_id, relationship_id, unit_id, description, embedding)
ON CONFLICT (public_id) DO UPDATE SET
	relationship_id = EXCLUDED.relationship_id,
	unit_id = EXCLUDED.unit_id,
	description = EXCLUDED.description,
	embedding = EXCLUDED.embedding
`

// The edge-cost subquery is rendered server-side with format(%L) so the
// tenant value is quoted as a literal inside the pgr_dijkstra SQL argument.
const pathBetweenEntitiesSQL = `
WITH route AS (
	SELECT *
	FROM pgr_dijkstra(
		format(
			'SELECT id, source_id AS source, target_id AS target, 1.0 / NULLIF(rank, 0) AS cost FROM relationships WHERE tenant_id = %L',
			$3::text
		),
		$1::bigint,
		$2::bigint,
		directed := false
	)
)
SELECT
	r.id,
	r.public_id,
	r.description,
	r.rank,
	r.source_id,
	r.target_id
FROM route rt
JOIN relationships r ON r.id = rt.edge
ORDER BY rt.path_seq
`

// SaveRelationships persists a batch of relationships and their sources.
// Each relationship is linked to its source and target entities by their
// public ids, which must already be saved.
func (s *GraphDBStorage) SaveRelationships(ctx context.Context, tenant string, relations []common.Relationship) ([]int64, error) {
	if len(relations) == 0 {
		return nil, nil
	}

	relChunk := 250
	sourceChunk := 500

	ids := make([]int64, 0, len(relations))

	err := store.ChunkRange(len(relations), relChunk, func(start, end int) error {
		merged := mergeRelationshipsByPublicID(relations[start:end])
		if len(merged) == 0 {
			return nil
		}

		logger.Debug("store: saving relationship chunk", "relationships", len(merged))

		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		entityPublicIDs := make([]string, 0, len(merged)*2)
		for _, r := range merged {
			if r.Source != nil {
				entityPublicIDs = append(entityPublicIDs, r.Source.ID)
			}
			if r.Target != nil {
				entityPublicIDs = append(entityPublicIDs, r.Target.ID)
			}
		}
		entityIDByPublicID, err := getEntityIDsByPublicIDs(ctx, tx, tenant, store.DedupeStrings(entityPublicIDs))
		if err != nil {
			return err
		}

		relInputs := make([][]byte, len(merged))
		for i := range merged {
			relInputs[i] = []byte(merged[i].Description)
		}
		logger.Debug("store: embedding relationships", "count", len(relInputs))
		relEmb, err := store.GenerateEmbeddings(ctx, s.aiClient, relInputs)
		if err != nil {
			return err
		}

		relPublicIDs := make([]string, 0, len(merged))
		sourceIDs := make([]int64, 0, len(merged))
		targetIDs := make([]int64, 0, len(merged))
		relTypes := make([]string, 0, len(merged))
		ranks := make([]float64, 0, len(merged))
		descriptions := make([]string, 0, len(merged))
		embeddings := make([]pgvector.Vector, 0, len(merged))
		for i, r := range merged {
			if r.ID == "" {
				return fmt.Errorf("relationship public_id is empty")
			}
			if r.Source == nil || r.Target == nil {
				return fmt.Errorf("relationship missing source/target: public_id=%s", r.ID)
			}
			sID, ok := entityIDByPublicID[r.Source.ID]
			if !ok {
				return fmt.Errorf("missing source entity: relationship=%s entity_public_id=%s", r.ID, r.Source.ID)
			}
			tID, ok := entityIDByPublicID[r.Target.ID]
			if !ok {
				return fmt.Errorf("missing target entity: relationship=%s entity_public_id=%s", r.ID, r.Target.ID)
			}
			relPublicIDs = append(relPublicIDs, r.ID)
			sourceIDs = append(sourceIDs, sID)
			targetIDs = append(targetIDs, tID)
			relTypes = append(relTypes, r.Type)
			ranks = append(ranks, r.Strength)
			descriptions = append(descriptions, r.Description)
			embeddings = append(embeddings, pgvector.NewVector(relEmb[i]))
		}

		logger.Debug("store: upserting relationships", "count", len(merged))
		rows, err := tx.Query(ctx, upsertRelationshipsSQL,
			tenant, relPublicIDs, sourceIDs, targetIDs, relTypes, descriptions, ranks, embeddings)
		if err != nil {
			return err
		}
		relIDByPublicID := make(map[string]int64, len(merged))
		for rows.Next() {
			var id int64
			var publicID string
			if err := rows.Scan(&id, &publicID); err != nil {
				rows.Close()
				return err
			}
			relIDByPublicID[publicID] = id
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		sources := flattenRelationshipSources(merged, relIDByPublicID)
		if len(sources) > 0 {
			err = store.ChunkRange(len(sources), sourceChunk, func(sStart, sEnd int) error {
				part := sources[sStart:sEnd]
				logger.Debug("store: saving relationship sources", "sources", len(part))

				unitPublicIDs := make([]string, 0, len(part))
				for _, src := range part {
					unitPublicIDs = append(unitPublicIDs, src.unitPublicID)
				}
				unitIDByPublicID, err := getUnitIDsByPublicIDs(ctx, tx, tenant, store.DedupeStrings(unitPublicIDs))
				if err != nil {
					return err
				}

				inputs := make([][]byte, len(part))
				for i := range part {
					inputs[i] = []byte(part[i].description)
				}
				logger.Debug("store: embedding relationship sources", "count", len(inputs))
				embs, err := store.GenerateEmbeddings(ctx, s.aiClient, inputs)
				if err != nil {
					return err
				}

				sPublicIDs := make([]string, 0, len(part))
				sRelIDs := make([]int64, 0, len(part))
				sUnitIDs := make([]int64, 0, len(part))
				sDescriptions := make([]string, 0, len(part))
				sEmbeddings := make([]pgvector.Vector, 0, len(part))
				for i := range part {
					unitID, ok := unitIDByPublicID[part[i].unitPublicID]
					if !ok {
						return fmt.Errorf("missing text unit for source: unit_public_id=%s", part[i].unitPublicID)
					}
					sPublicIDs = append(sPublicIDs, part[i].publicID)
					sRelIDs = append(sRelIDs, part[i].relationshipID)
					sUnitIDs = append(sUnitIDs, unitID)
					sDescriptions = append(sDescriptions, part[i].description)
					sEmbeddings = append(sEmbeddings, pgvector.NewVector(embs[i]))
				}

				logger.Debug("store: upserting relationship sources", "count", len(part))
				_, err = tx.Exec(ctx, upsertRelationshipSourcesSQL,
					tenant, sPublicIDs, sRelIDs, sUnitIDs, sDescriptions, sEmbeddings)
				return err
			})
			if err != nil {
				return err
			}
		}

		logger.Debug("store: relationship chunk committed", "relationships", len(merged))
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// getPathBetweenEntities finds the cheapest undirected path between two
// entities (pgrouting dijkstra; edge cost is the inverse relationship
// rank). Returns the relationship ids, the entity ids along the path, and
// the relationships themselves.
func (s *GraphDBStorage) getPathBetweenEntities(
	ctx context.Context,
	conn dbConn,
	sourceID int64,
	targetID int64,
	tenant string,
) ([]int64, []int64, []common.Relationship, error) {
	rows, err := conn.Query(ctx, pathBetweenEntitiesSQL, sourceID, targetID, tenant)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	relations := make([]common.Relationship, 0)
	entityIDs := make([]int64, 0)

	for rows.Next() {
		var id int64
		var srcID int64
		var tgtID int64
		var relation common.Relationship
		err := rows.Scan(
			&id,
			&relation.ID,
			&relation.Description,
			&relation.Strength,
			&srcID,
			&tgtID,
		)
		if err != nil {
			return nil, nil, nil, err
		}

		relations = append(relations, relation)
		ids = append(ids, id)
		if !slices.Contains(entityIDs, srcID) {
			entityIDs = append(entityIDs, srcID)
		}
		if !slices.Contains(entityIDs, tgtID) {
			entityIDs = append(entityIDs, tgtID)
		}
	}

	return ids, entityIDs, relations, rows.Err()
}

func getEntityIDsByPublicIDs(ctx context.Context, conn dbConn, tenant string, publicIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(publicIDs))
	if len(publicIDs) == 0 {
		return out, nil
	}

	rows, err := conn.Query(ctx, getEntityIDsByPublicIDsSQL, tenant, publicIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var publicID string
		if err := rows.Scan(&id, &publicID); err != nil {
			return nil, err
		}
		out[publicID] = id
	}
	return out, rows.Err()
}

type relationshipSourceRow struct {
	publicID       string
	relationshipID int64
	unitPublicID   string
	description    string
}

func mergeRelationshipsByPublicID(in []common.Relationship) []common.Relationship {
	byID := make(map[string]int, len(in))
	out := make([]common.Relationship, 0, len(in))
	for _, r := range in {
		if r.ID == "" {
			continue
		}
		if idx, ok := byID[r.ID]; ok {
			if r.Description != "" {
				out[idx].Description = r.Description
			}
			if r.Source != nil {
				out[idx].Source = r.Source
			}
			if r.Target != nil {
				out[idx].Target = r.Target
			}
			if r.Type != "" {
				out[idx].Type = r.Type
			}
			out[idx].Strength = r.Strength
			if len(r.Sources) > 0 {
				out[idx].Sources = append(out[idx].Sources, r.Sources...)
			}
			continue
		}
		byID[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

func flattenRelationshipSources(relations []common.Relationship, relIDByPublicID map[string]int64) []relationshipSourceRow {
	rows := make([]relationshipSourceRow, 0)
	indexByPublicID := make(map[string]int)
	for _, r := range relations {
		relID, ok := relIDByPublicID[r.ID]
		if !ok {
			continue
		}
		for _, src := range r.Sources {
			if src.ID == "" || src.Unit == nil || src.Unit.ID == "" {
				continue
			}
			row := relationshipSourceRow{
				publicID:       src.ID,
				relationshipID: relID,
				unitPublicID:   src.Unit.ID,
				description:    src.Description,
			}
			if idx, ok := indexByPublicID[row.publicID]; ok {
				rows[idx] = row
				continue
			}
			indexByPublicID[row.publicID] = len(rows)
			rows = append(rows, row)
		}
	}
	return rows
}
