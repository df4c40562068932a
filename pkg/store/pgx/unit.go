package pgx

import (
	"context"
	"fmt"

	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	"github.com/meridian-hq/atlas/backend/pkg/store"
)

const getDocumentIDsByPublicIDsSQL = `
SELECT id, public_id
FROM documents
WHERE tenant_id = $1 AND public_id = ANY($2::text[])
`

// Unit ids are content-derived, so two documents with identical content
// share them; the resolution picks the lowest row id deterministically.
const getUnitIDsByPublicIDsSQL = `
SELECT DISTINCT ON (public_id) id, public_id
FROM units
WHERE tenant_id = $1 AND public_id = ANY($2::text[])
ORDER BY public_id, id
`

const getUnitExcerptsSQL = `
SELECT DISTINCT ON (u.public_id) u.public_id, d.name, u.content
FROM units u
JOIN documents d ON d.id = u.document_id
WHERE u.tenant_id = $1 AND u.public_id = ANY($2::text[])
ORDER BY u.public_id, u.id
`

const upsertUnitsSQL = `
INSERT INTO units (tenant_id, document_id, public_id, chunk_index, chunk_type, section, start_pos, end_pos, content)
SELECT $1, d.document_id, d.public_id, d.chunk_index, d.chunk_type, d.section, d.start_pos, d.end_pos, d.content
FROM unnest(
	$2::bigint[], $3::text[], $4::int[], $5::text[], $6::text[], $7::int[], $8::int[], $9::text[]
) AS d(document_id, public_id, chunk_index, chunk_type, section, start_pos, end_pos, content)
ON CONFLICT (document_id, public_id) DO UPDATE SET
	chunk_index = EXCLUDED.chunk_index,
	chunk_type = EXCLUDED.chunk_type,
	section = EXCLUDED.section,
	start_pos = EXCLUDED.start_pos,
	end_pos = EXCLUDED.end_pos,
	content = EXCLUDED.content
RETURNING id
`

// SaveUnits persists a batch of text units in chunked transactions. Text
// units are the chunks of source documents that entities and relationships
// reference through their sources. Upserts are keyed on the content-derived
// unit id, so re-processing a document is idempotent.
func (s *GraphDBStorage) SaveUnits(ctx context.Context, tenant string, units []*common.Unit) ([]int64, error) {
	if len(units) == 0 {
		return nil, nil
	}

	logger.Debug("store: upserting text units", "units", len(units))

	docPublicIDs := make([]string, 0, len(units))
	for _, unit := range units {
		docPublicIDs = append(docPublicIDs, unit.DocumentID)
	}
	docIDByPublicID, err := s.getDocumentIDs(ctx, tenant, store.DedupeStrings(docPublicIDs))
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(units))
	chunkSize := 1000
	err = store.ChunkRange(len(units), chunkSize, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		count := end - start
		documentIDs := make([]int64, 0, count)
		publicIDs := make([]string, 0, count)
		indexes := make([]int32, 0, count)
		chunkTypes := make([]string, 0, count)
		sections := make([]string, 0, count)
		starts := make([]int32, 0, count)
		ends := make([]int32, 0, count)
		texts := make([]string, 0, count)
		for _, unit := range units[start:end] {
			docID, ok := docIDByPublicID[unit.DocumentID]
			if !ok {
				return fmt.Errorf("unknown document for unit: document_id=%s", unit.DocumentID)
			}
			chunkType := unit.Type
			if chunkType == "" {
				chunkType = common.UnitTypeText
			}
			documentIDs = append(documentIDs, docID)
			publicIDs = append(publicIDs, unit.ID)
			indexes = append(indexes, int32(unit.Index))
			chunkTypes = append(chunkTypes, chunkType)
			sections = append(sections, unit.Section)
			starts = append(starts, int32(unit.Start))
			ends = append(ends, int32(unit.End))
			texts = append(texts, unit.Text)
		}

		rows, err := tx.Query(ctx, upsertUnitsSQL,
			tenant, documentIDs, publicIDs, indexes, chunkTypes, sections, starts, ends, texts)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("store: text units upserted", "units", len(units), "chunks", (len(units)+chunkSize-1)/chunkSize)
	return ids, nil
}

func (s *GraphDBStorage) getDocumentIDs(ctx context.Context, tenant string, publicIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(publicIDs))
	if len(publicIDs) == 0 {
		return out, nil
	}

	rows, err := s.conn.Query(ctx, getDocumentIDsByPublicIDsSQL, tenant, publicIDs)
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

// GetUnitExcerpts returns the text of the units behind the given source ids
// together with the documents they come from. Unknown ids are skipped, and
// the output keeps the caller's ordering of source ids.
func (s *GraphDBStorage) GetUnitExcerpts(ctx context.Context, tenant string, sourceIDs []string) ([]store.UnitExcerpt, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, getUnitExcerptsSQL, tenant, sourceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]store.UnitExcerpt, len(sourceIDs))
	for rows.Next() {
		var excerpt store.UnitExcerpt
		if err := rows.Scan(&excerpt.SourceID, &excerpt.DocumentName, &excerpt.Content); err != nil {
			return nil, err
		}
		byID[excerpt.SourceID] = excerpt
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	excerpts := make([]store.UnitExcerpt, 0, len(byID))
	for _, id := range sourceIDs {
		if excerpt, ok := byID[id]; ok {
			excerpts = append(excerpts, excerpt)
		}
	}
	return excerpts, nil
}

func getUnitIDsByPublicIDs(ctx context.Context, conn dbConn, tenant string, publicIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(publicIDs))
	if len(publicIDs) == 0 {
		return out, nil
	}

	rows, err := conn.Query(ctx, getUnitIDsByPublicIDsSQL, tenant, publicIDs)
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
