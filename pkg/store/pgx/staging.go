package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	"github.com/meridian-hq/atlas/backend/pkg/store"
)

// Extraction workers stage their output per document batch instead of
// writing to the live graph. A single merge per correlation folds all
// batches in while the tenant lease is held, so concurrent uploads never
// interleave partial graphs.

const stageChunkSize = 1000

const insertStagedUnitsSQL = `
INSERT INTO staged_units (correlation_id, batch_id, tenant_id, data)
SELECT $1, $2, $3, d.data::jsonb
FROM unnest($4::text[]) AS d(data)
`

const insertStagedEntitiesSQL = `
INSERT INTO staged_entities (correlation_id, batch_id, tenant_id, data)
SELECT $1, $2, $3, d.data::jsonb
FROM unnest($4::text[]) AS d(data)
`

const insertStagedRelationshipsSQL = `
INSERT INTO staged_relationships (correlation_id, batch_id, tenant_id, data)
SELECT $1, $2, $3, d.data::jsonb
FROM unnest($4::text[]) AS d(data)
`

const getStagedUnitsSQL = `
SELECT data FROM staged_units WHERE correlation_id = $1 ORDER BY batch_id, id
`

const getStagedEntitiesSQL = `
SELECT data FROM staged_entities WHERE correlation_id = $1 ORDER BY batch_id, id
`

const getStagedRelationshipsSQL = `
SELECT data FROM staged_relationships WHERE correlation_id = $1 ORDER BY batch_id, id
`

// StageUnits stores extracted units for a later merge.
func (s *GraphDBStorage) StageUnits(ctx context.Context, correlationID string, batchID int, tenant string, units []*common.Unit) error {
	payloads := make([]string, 0, len(units))
	for _, u := range units {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshal staged unit: %w", err)
		}
		payloads = append(payloads, string(data))
	}
	return s.insertStaged(ctx, insertStagedUnitsSQL, correlationID, batchID, tenant, payloads)
}

// StageEntities stores extracted entities for a later merge.
func (s *GraphDBStorage) StageEntities(ctx context.Context, correlationID string, batchID int, tenant string, entities []common.Entity) error {
	payloads := make([]string, 0, len(entities))
	for i := range entities {
		data, err := json.Marshal(entities[i])
		if err != nil {
			return fmt.Errorf("marshal staged entity: %w", err)
		}
		payloads = append(payloads, string(data))
	}
	return s.insertStaged(ctx, insertStagedEntitiesSQL, correlationID, batchID, tenant, payloads)
}

// StageRelationships stores extracted relationships for a later merge.
func (s *GraphDBStorage) StageRelationships(ctx context.Context, correlationID string, batchID int, tenant string, relations []common.Relationship) error {
	payloads := make([]string, 0, len(relations))
	for i := range relations {
		data, err := json.Marshal(relations[i])
		if err != nil {
			return fmt.Errorf("marshal staged relationship: %w", err)
		}
		payloads = append(payloads, string(data))
	}
	return s.insertStaged(ctx, insertStagedRelationshipsSQL, correlationID, batchID, tenant, payloads)
}

func (s *GraphDBStorage) insertStaged(ctx context.Context, sql string, correlationID string, batchID int, tenant string, payloads []string) error {
	if len(payloads) == 0 {
		return nil
	}
	return store.ChunkRange(len(payloads), stageChunkSize, func(start, end int) error {
		_, err := s.conn.Exec(ctx, sql, correlationID, batchID, tenant, payloads[start:end])
		return err
	})
}

// MergeFromStaging folds every staged batch of a correlation into the live
// graph and runs the entity dedupe pass. The caller must hold the tenant
// lease. Staged rows are removed only after the whole merge succeeds, so a
// crashed merge can be retried.
func (s *GraphDBStorage) MergeFromStaging(ctx context.Context, tenant string, correlationID string) (*store.MergeResult, error) {
	units, err := s.getStagedUnits(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("load staged units: %w", err)
	}
	entities, err := s.getStagedEntities(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("load staged entities: %w", err)
	}
	relations, err := s.getStagedRelationships(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("load staged relationships: %w", err)
	}

	logger.Info("store: merging staged data",
		"correlation_id", correlationID,
		"units", len(units),
		"entities", len(entities),
		"relationships", len(relations))

	if _, err := s.SaveUnits(ctx, tenant, units); err != nil {
		return nil, fmt.Errorf("merge staged units: %w", err)
	}
	entityIDs, err := s.SaveEntities(ctx, tenant, entities)
	if err != nil {
		return nil, fmt.Errorf("merge staged entities: %w", err)
	}
	relationshipIDs, err := s.SaveRelationships(ctx, tenant, relations)
	if err != nil {
		return nil, fmt.Errorf("merge staged relationships: %w", err)
	}

	if err := s.DedupeAndMergeEntities(ctx, tenant); err != nil {
		return nil, fmt.Errorf("dedupe entities: %w", err)
	}

	if err := s.deleteStagedCorrelation(ctx, correlationID); err != nil {
		return nil, fmt.Errorf("clear staged data: %w", err)
	}

	logger.Info("store: staged merge complete",
		"correlation_id", correlationID,
		"entities", len(entityIDs),
		"relationships", len(relationshipIDs))

	return &store.MergeResult{
		UnitCount:       len(units),
		EntityIDs:       entityIDs,
		RelationshipIDs: relationshipIDs,
	}, nil
}

// DeleteStagedData removes one batch from all staging tables. Used to
// roll back a single failed document without touching the rest of the
// correlation.
func (s *GraphDBStorage) DeleteStagedData(ctx context.Context, correlationID string, batchID int) error {
	for _, table := range []string{"staged_units", "staged_entities", "staged_relationships"} {
		sql := fmt.Sprintf("DELETE FROM %s WHERE correlation_id = $1 AND batch_id = $2", table)
		if _, err := s.conn.Exec(ctx, sql, correlationID, batchID); err != nil {
			return err
		}
	}
	return nil
}

func (s *GraphDBStorage) deleteStagedCorrelation(ctx context.Context, correlationID string) error {
	for _, table := range []string{"staged_units", "staged_entities", "staged_relationships"} {
		sql := fmt.Sprintf("DELETE FROM %s WHERE correlation_id = $1", table)
		if _, err := s.conn.Exec(ctx, sql, correlationID); err != nil {
			return err
		}
	}
	return nil
}

func (s *GraphDBStorage) getStagedUnits(ctx context.Context, correlationID string) ([]*common.Unit, error) {
	rows, err := s.conn.Query(ctx, getStagedUnitsSQL, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make([]*common.Unit, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		unit := &common.Unit{}
		if err := json.Unmarshal(data, unit); err != nil {
			return nil, fmt.Errorf("unmarshal staged unit: %w", err)
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

func (s *GraphDBStorage) getStagedEntities(ctx context.Context, correlationID string) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, getStagedEntitiesSQL, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := make([]common.Entity, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var entity common.Entity
		if err := json.Unmarshal(data, &entity); err != nil {
			return nil, fmt.Errorf("unmarshal staged entity: %w", err)
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func (s *GraphDBStorage) getStagedRelationships(ctx context.Context, correlationID string) ([]common.Relationship, error) {
	rows, err := s.conn.Query(ctx, getStagedRelationshipsSQL, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	relations := make([]common.Relationship, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var relation common.Relationship
		if err := json.Unmarshal(data, &relation); err != nil {
			return nil, fmt.Errorf("unmarshal staged relationship: %w", err)
		}
		relations = append(relations, relation)
	}
	return relations, rows.Err()
}
