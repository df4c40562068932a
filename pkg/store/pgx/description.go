package pgx

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/logger"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
)

const sourcePageSize = 100

const getEntityNamesByIDsSQL = `
SELECT id, name FROM entities WHERE id = ANY($1::bigint[]) ORDER BY id
`

const getRelationshipsWithEntityNamesByIDsSQL = `
SELECT r.id, se.name, te.name
FROM relationships r
JOIN entities se ON se.id = r.source_id
JOIN entities te ON te.id = r.target_id
WHERE r.id = ANY($1::bigint[])
ORDER BY r.id
`

const getEntitySourceDescriptionsBatchSQL = `
SELECT id, description
FROM entity_sources
WHERE entity_id = $1 AND id > $2
ORDER BY id
LIMIT $3
`

const getRelationshipSourceDescriptionsBatchSQL = `
SELECT id, description
FROM relationship_sources
WHERE relationship_id = $1 AND id > $2
ORDER BY id
LIMIT $3
`

const updateEntityDescriptionsSQL = `
UPDATE entities e
SET description = u.description, embedding = u.embedding, updated_at = now()
FROM unnest($1::bigint[], $2::text[], $3::vector[]) AS u(id, description, embedding)
WHERE e.id = u.id
`

const updateRelationshipDescriptionsSQL = `
UPDATE relationships r
SET description = u.description, embedding = u.embedding, updated_at = now()
FROM unnest($1::bigint[], $2::text[], $3::vector[]) AS u(id, description, embedding)
WHERE r.id = u.id
`

type sourceRow struct {
	ID          int64
	Description string
}

type descriptionUpdate struct {
	ID          int64
	Description string
	Embedding   pgvector.Vector
}

// GenerateEntityDescriptions summarizes each entity's sources into a
// fresh description and embedding. Sources are folded in batches so an
// entity with many mentions still produces one bounded AI prompt at a
// time.
func (s *GraphDBStorage) GenerateEntityDescriptions(ctx context.Context, entityIDs []int64) error {
	if len(entityIDs) == 0 {
		return nil
	}

	entities, err := s.getEntityNameRows(ctx, entityIDs)
	if err != nil {
		return err
	}
	logger.Debug("store: generating entity descriptions", "count", len(entities))

	updates, err := collectDescriptionUpdates(ctx, len(entities),
		func(ctx context.Context, i int) (descriptionUpdate, bool, error) {
			return s.buildUpdateFromSources(ctx, entities[i].ID, entities[i].Name, getEntitySourceDescriptionsBatchSQL)
		})
	if err != nil {
		return fmt.Errorf("failed to generate entity descriptions: %w", err)
	}
	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyDescriptionUpdates(ctx, updateEntityDescriptionsSQL, updates); err != nil {
		return fmt.Errorf("failed to update entity descriptions: %w", err)
	}
	return nil
}

// GenerateRelationshipDescriptions summarizes each relationship's sources
// into a fresh description and embedding.
func (s *GraphDBStorage) GenerateRelationshipDescriptions(ctx context.Context, relationshipIDs []int64) error {
	if len(relationshipIDs) == 0 {
		return nil
	}

	rels, err := s.getRelationshipNameRows(ctx, relationshipIDs)
	if err != nil {
		return err
	}
	logger.Debug("store: generating relationship descriptions", "count", len(rels))

	updates, err := collectDescriptionUpdates(ctx, len(rels),
		func(ctx context.Context, i int) (descriptionUpdate, bool, error) {
			label := fmt.Sprintf("%s -> %s", rels[i].SourceName, rels[i].TargetName)
			return s.buildUpdateFromSources(ctx, rels[i].ID, label, getRelationshipSourceDescriptionsBatchSQL)
		})
	if err != nil {
		return fmt.Errorf("failed to generate relationship descriptions: %w", err)
	}
	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyDescriptionUpdates(ctx, updateRelationshipDescriptionsSQL, updates); err != nil {
		return fmt.Errorf("failed to update relationship descriptions: %w", err)
	}
	return nil
}

type entityNameRow struct {
	ID   int64
	Name string
}

func (s *GraphDBStorage) getEntityNameRows(ctx context.Context, ids []int64) ([]entityNameRow, error) {
	rows, err := s.conn.Query(ctx, getEntityNamesByIDsSQL, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]entityNameRow, 0, len(ids))
	for rows.Next() {
		var r entityNameRow
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type relationshipNameRow struct {
	ID         int64
	SourceName string
	TargetName string
}

func (s *GraphDBStorage) getRelationshipNameRows(ctx context.Context, ids []int64) ([]relationshipNameRow, error) {
	rows, err := s.conn.Query(ctx, getRelationshipsWithEntityNamesByIDsSQL, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]relationshipNameRow, 0, len(ids))
	for rows.Next() {
		var r relationshipNameRow
		if err := rows.Scan(&r.ID, &r.SourceName, &r.TargetName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// collectDescriptionUpdates runs build for every index concurrently and
// gathers the updates it reports as usable.
func collectDescriptionUpdates(
	ctx context.Context,
	n int,
	build func(ctx context.Context, i int) (descriptionUpdate, bool, error),
) ([]descriptionUpdate, error) {
	var (
		mu      sync.Mutex
		updates = make([]descriptionUpdate, 0, n)
	)

	eg, gCtx := errgroup.WithContext(ctx)
	for i := range n {
		eg.Go(func() error {
			update, ok, err := build(gCtx, i)
			if err != nil || !ok {
				return err
			}
			mu.Lock()
			updates = append(updates, update)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return updates, nil
}

// buildUpdateFromSources summarizes the sources behind one entity or
// relationship and embeds the result. ok is false when there were no
// sources to summarize.
func (s *GraphDBStorage) buildUpdateFromSources(
	ctx context.Context,
	id int64,
	label string,
	batchSQL string,
) (descriptionUpdate, bool, error) {
	fetch := func(ctx context.Context, lastID int64) ([]sourceRow, error) {
		return s.fetchSourceDescriptions(ctx, batchSQL, id, lastID)
	}

	description, ok, err := s.summarizeSources(ctx, label, fetch)
	if err != nil || !ok {
		return descriptionUpdate{}, ok, err
	}

	embedding, err := s.aiClient.GenerateEmbedding(ctx, []byte(description))
	if err != nil {
		return descriptionUpdate{}, false, err
	}

	return descriptionUpdate{
		ID:          id,
		Description: description,
		Embedding:   pgvector.NewVector(embedding),
	}, true, nil
}

func (s *GraphDBStorage) fetchSourceDescriptions(ctx context.Context, sql string, parentID int64, lastID int64) ([]sourceRow, error) {
	rows, err := s.conn.Query(ctx, sql, parentID, lastID, int32(sourcePageSize))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]sourceRow, 0, sourcePageSize)
	for rows.Next() {
		var d sourceRow
		if err := rows.Scan(&d.ID, &d.Description); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// summarizeSources pages through the sources in keyset order.
// The first batch seeds the description; every further batch folds new
// material into the previous summary.
func (s *GraphDBStorage) summarizeSources(
	ctx context.Context,
	name string,
	fetch func(ctx context.Context, lastID int64) ([]sourceRow, error),
) (string, bool, error) {
	var (
		cursor      int64
		description string
		seen        bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}

		batch, err := fetch(ctx, cursor)
		if err != nil {
			return "", false, err
		}
		if len(batch) == 0 {
			return description, seen, nil
		}
		cursor = batch[len(batch)-1].ID

		texts := make([]string, len(batch))
		for i, src := range batch {
			texts[i] = src.Description
		}
		joined := strings.Join(texts, "\n\n")

		prompt := fmt.Sprintf(ai.DescPrompt, name, joined)
		if seen {
			prompt = fmt.Sprintf(ai.DescUpdatePrompt, name, description, joined)
		}
		seen = true

		res, err := s.aiClient.GenerateCompletion(ctx, prompt)
		if err != nil {
			return "", false, err
		}
		description = collapseWhitespace(res)
	}
}

func (s *GraphDBStorage) applyDescriptionUpdates(ctx context.Context, sql string, updates []descriptionUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	ids := make([]int64, len(updates))
	texts := make([]string, len(updates))
	vecs := make([]pgvector.Vector, len(updates))
	for i, u := range updates {
		ids[i], texts[i], vecs[i] = u.ID, u.Description, u.Embedding
	}

	_, err := s.conn.Exec(ctx, sql, ids, texts, vecs)
	return err
}

// collapseWhitespace flattens an AI reply to one line of
// single-spaced text.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
