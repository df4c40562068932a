package pgx

import (
	"context"
	"fmt"

	"github.com/meridian-hq/atlas/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const getUnitIDsForDocumentSQL = `
SELECT id FROM units WHERE tenant_id = $1 AND document_id = $2
`

const getEntityIDsFromUnitsSQL = `
SELECT DISTINCT s.entity_id FROM entity_sources s WHERE s.unit_id = ANY($1::bigint[])
`

const getRelationshipIDsFromUnitsSQL = `
SELECT DISTINCT s.relationship_id FROM relationship_sources s WHERE s.unit_id = ANY($1::bigint[])
`

const deleteDocumentSQL = `
DELETE FROM documents WHERE tenant_id = $1 AND id = $2
`

const deleteUnitsForDocumentsSQL = `
DELETE FROM units WHERE tenant_id = $1 AND document_id = ANY($2::bigint[])
`

const deleteEntitiesWithoutSourcesSQL = `
DELETE FROM entities e
WHERE e.tenant_id = $1
	AND NOT EXISTS (SELECT 1 FROM entity_sources s WHERE s.entity_id = e.id)
`

const deleteRelationshipsWithoutSourcesSQL = `
DELETE FROM relationships r
WHERE r.tenant_id = $1
	AND NOT EXISTS (SELECT 1 FROM relationship_sources s WHERE s.relationship_id = r.id)
`

// DeleteDocumentData removes a document with its units and sources,
// drops entities and relationships that lost their last source, and
// regenerates descriptions for the survivors that were touched.
func (s *GraphDBStorage) DeleteDocumentData(ctx context.Context, tenant string, documentID int64) error {
	unitIDs, err := s.collectIDs(ctx, getUnitIDsForDocumentSQL, tenant, documentID)
	if err != nil {
		return fmt.Errorf("failed to get units for document: %w", err)
	}

	var affectedEntityIDs, affectedRelationshipIDs []int64
	if len(unitIDs) > 0 {
		affectedEntityIDs, err = s.collectIDs(ctx, getEntityIDsFromUnitsSQL, unitIDs)
		if err != nil {
			return fmt.Errorf("failed to get affected entities: %w", err)
		}
		affectedRelationshipIDs, err = s.collectIDs(ctx, getRelationshipIDsFromUnitsSQL, unitIDs)
		if err != nil {
			return fmt.Errorf("failed to get affected relationships: %w", err)
		}
	}

	logger.Debug("store: deleting document data",
		"document_id", documentID,
		"units", len(unitIDs),
		"entities", len(affectedEntityIDs),
		"relationships", len(affectedRelationshipIDs))

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteDocumentSQL, tenant, documentID); err != nil {
		return fmt.Errorf("failed to delete document %d: %w", documentID, err)
	}
	if _, err := tx.Exec(ctx, deleteEntitiesWithoutSourcesSQL, tenant); err != nil {
		return fmt.Errorf("failed to delete orphaned entities: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteRelationshipsWithoutSourcesSQL, tenant); err != nil {
		return fmt.Errorf("failed to delete orphaned relationships: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Debug("store: document and orphans deleted, regenerating descriptions")

	// Regeneration skips ids the orphan cleanup already removed.
	eg, gCtx := errgroup.WithContext(ctx)
	if len(affectedEntityIDs) > 0 {
		ids := affectedEntityIDs
		eg.Go(func() error {
			return s.GenerateEntityDescriptions(gCtx, ids)
		})
	}
	if len(affectedRelationshipIDs) > 0 {
		ids := affectedRelationshipIDs
		eg.Go(func() error {
			return s.GenerateRelationshipDescriptions(gCtx, ids)
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("failed to regenerate descriptions: %w", err)
	}

	logger.Debug("store: description regeneration done")

	return nil
}

// RollbackDocumentData strips the graph data of documents whose
// processing failed. The document rows stay so the failure remains
// visible; only units, sources, and resulting orphans go.
func (s *GraphDBStorage) RollbackDocumentData(ctx context.Context, tenant string, documentIDs []int64) error {
	if len(documentIDs) == 0 {
		return nil
	}

	logger.Debug("store: rolling back document data", "documents", len(documentIDs))

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteUnitsForDocumentsSQL, tenant, documentIDs); err != nil {
		return fmt.Errorf("failed to delete units: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteEntitiesWithoutSourcesSQL, tenant); err != nil {
		return fmt.Errorf("failed to delete orphaned entities: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteRelationshipsWithoutSourcesSQL, tenant); err != nil {
		return fmt.Errorf("failed to delete orphaned relationships: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *GraphDBStorage) collectIDs(ctx context.Context, sql string, args ...any) ([]int64, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
