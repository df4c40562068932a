package pgx

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

const dedupePassLimit = 3

const findSimilarEntityPairsSQL = `
SELECT
	a.id, a.public_id, a.name, a.type,
	b.id, b.public_id, b.name, b.type
FROM entities a
JOIN entities b ON b.tenant_id = a.tenant_id AND a.id < b.id
WHERE a.tenant_id = $1
	AND similarity(a.name, b.name) > 0.55
ORDER BY a.id, b.id
`

const getEntitiesWithSourceCountSQL = `
SELECT
	e.id, e.public_id, e.name, e.type, e.description,
	(SELECT COUNT(*) FROM entity_sources s WHERE s.entity_id = e.id) AS source_count
FROM entities e
WHERE e.id = ANY($1::bigint[])
ORDER BY e.id
`

const updateEntityNameSQL = `
UPDATE entities SET name = $2, updated_at = now() WHERE id = $1
`

const transferEntitySourcesSQL = `
UPDATE entity_sources SET entity_id = $2 WHERE entity_id = $1
`

const remapRelationshipSourceSQL = `
UPDATE relationships SET source_id = $2 WHERE source_id = $1 AND tenant_id = $3
`

const remapRelationshipTargetSQL = `
UPDATE relationships SET target_id = $2 WHERE target_id = $1 AND tenant_id = $3
`

const deleteEntityByIDSQL = `
DELETE FROM entities WHERE id = $1
`

const deleteSelfLoopRelationshipsSQL = `
DELETE FROM relationships WHERE tenant_id = $1 AND source_id = target_id
`

const findDuplicateRelationshipsSQL = `
SELECT r1.id, r2.id, r1.rank, r2.rank
FROM relationships r1
JOIN relationships r2
	ON r2.tenant_id = r1.tenant_id
	AND r2.source_id = r1.source_id
	AND r2.target_id = r1.target_id
	AND r2.type = r1.type
	AND r1.id < r2.id
WHERE r1.tenant_id = $1
ORDER BY r1.id, r2.id
`

const transferRelationshipSourcesSQL = `
UPDATE relationship_sources SET relationship_id = $2 WHERE relationship_id = $1
`

const updateRelationshipRankSQL = `
UPDATE relationships SET rank = $2, updated_at = now() WHERE id = $1
`

const deleteRelationshipByIDSQL = `
DELETE FROM relationships WHERE id = $1
`

// entityHalf is one side of a candidate duplicate pair.
type entityHalf struct {
	DBID     int64
	PublicID string
	Name     string
	Type     string
}

// entityPair is a candidate duplicate reported by the trigram scan.
type entityPair struct {
	A, B entityHalf
}

// entityRecord carries an entity row together with its database id and
// the number of source units that mention it.
type entityRecord struct {
	common.Entity
	DBID        int64
	SourceCount int
}

// mergeComponent is one planned merge: all DupeIDs are folded into
// CanonicalID, which is renamed to CanonicalName.
type mergeComponent struct {
	CanonicalID   int64
	CanonicalName string
	DupeIDs       []int64
}

// DedupeAndMergeEntities finds duplicate entities by name similarity,
// confirms them with the AI, and merges each confirmed group into a
// single canonical row. Runs up to dedupePassLimit passes with
// shuffled batch orders so duplicates split across AI batches still meet.
func (s *GraphDBStorage) DedupeAndMergeEntities(ctx context.Context, tenant string) error {
	for pass := 1; pass <= dedupePassLimit; pass++ {
		pairs, err := s.findSimilarEntityPairs(ctx, tenant)
		if err != nil {
			return fmt.Errorf("failed to find similar entities: %w", err)
		}
		if len(pairs) == 0 {
			logger.Debug("dedupe: no similar entity pairs", "pass", pass)
			return nil
		}

		groups := buildConnectedComponents(pairs)
		logger.Debug("dedupe: processing entity groups", "pass", pass, "groups", len(groups))

		anyMerged := false
		for _, group := range groups {
			if len(group) < 2 {
				continue
			}
			merged, err := s.dedupeEntityGroup(ctx, tenant, group, pass)
			if err != nil {
				return fmt.Errorf("failed to merge entities: %w", err)
			}
			anyMerged = anyMerged || merged
		}

		if err := s.dedupeRelationships(ctx, tenant); err != nil {
			return fmt.Errorf("failed to dedupe relationships: %w", err)
		}

		// Shuffled reruns only pay off when some group spans several AI
		// batches, and only while they keep finding merges.
		spansBatches := slices.ContainsFunc(groups, func(g []int64) bool {
			return len(g) > ai.DedupeBatchSize
		})
		if !spansBatches {
			logger.Debug("dedupe: every group fits one batch, converged", "pass", pass)
			return nil
		}
		if !anyMerged {
			logger.Warn("dedupe: pass produced no merges", "pass", pass)
			return nil
		}
	}

	logger.Warn("dedupe: stopped before convergence", "passes", dedupePassLimit)
	return nil
}

// findSimilarEntityPairs scans for entities with trigram-similar names.
func (s *GraphDBStorage) findSimilarEntityPairs(ctx context.Context, tenant string) ([]entityPair, error) {
	rows, err := s.conn.Query(ctx, findSimilarEntityPairsSQL, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []entityPair
	for rows.Next() {
		var p entityPair
		if err := rows.Scan(
			&p.A.DBID, &p.A.PublicID, &p.A.Name, &p.A.Type,
			&p.B.DBID, &p.B.PublicID, &p.B.Name, &p.B.Type,
		); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// buildConnectedComponents unions pairwise-similar entity ids into groups,
// so transitively similar entities land in the same group. Each group is
// sorted and groups are ordered by their smallest id.
func buildConnectedComponents(pairs []entityPair) [][]int64 {
	parent := make(map[int64]int64)

	find := func(x int64) int64 {
		if _, ok := parent[x]; !ok {
			parent[x] = x
			return x
		}
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for _, p := range pairs {
		ra, rb := find(p.A.DBID), find(p.B.DBID)
		if ra != rb {
			parent[ra] = rb
		}
	}

	byRoot := make(map[int64][]int64)
	for id := range parent {
		r := find(id)
		byRoot[r] = append(byRoot[r], id)
	}

	groups := make([][]int64, 0, len(byRoot))
	for _, ids := range byRoot {
		if len(ids) < 2 {
			continue
		}
		slices.Sort(ids)
		groups = append(groups, ids)
	}
	slices.SortFunc(groups, func(a, b []int64) int {
		return cmp.Compare(a[0], b[0])
	})
	return groups
}

// getEntityRecords fetches entity rows plus their source counts.
func (s *GraphDBStorage) getEntityRecords(ctx context.Context, ids []int64) ([]entityRecord, error) {
	rows, err := s.conn.Query(ctx, getEntitiesWithSourceCountSQL, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]entityRecord, 0, len(ids))
	for rows.Next() {
		var e entityRecord
		if err := rows.Scan(
			&e.DBID, &e.Entity.ID, &e.Entity.Name, &e.Entity.Type,
			&e.Entity.Description, &e.SourceCount,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) dedupeEntityGroup(
	ctx context.Context,
	tenant string,
	group []int64,
	pass int,
) (bool, error) {
	entities, err := s.getEntityRecords(ctx, group)
	if err != nil {
		return false, fmt.Errorf("failed to get entities: %w", err)
	}
	if len(entities) <= 1 {
		return false, nil
	}

	batchSize := ai.DedupeBatchSize
	ordered := orderRecordsForPass(entities, pass, batchSize)
	merged := false

	for i := 0; i < len(ordered); i += batchSize {
		end := min(i+batchSize, len(ordered))
		chunk := ordered[i:end]
		commonEntities := make([]common.Entity, len(chunk))
		for idx, e := range chunk {
			commonEntities[idx] = e.Entity
		}

		dupeResponse, err := ai.CallDedupeAI(ctx, commonEntities, s.aiClient, 3)
		if err != nil {
			return false, fmt.Errorf("AI dedupe failed: %w", err)
		}
		if !foundDuplicates(dupeResponse) {
			continue
		}

		plan := planEntityMergeComponents(chunk, dupeResponse)
		if len(plan) == 0 {
			continue
		}

		if err := s.applyEntityMerges(ctx, tenant, plan); err != nil {
			return false, err
		}
		merged = true
	}

	return merged, nil
}

func foundDuplicates(res *ai.DuplicatesResponse) bool {
	for _, group := range res.Duplicates {
		if len(group.Entities) > 1 {
			return true
		}
	}
	return false
}

// planEntityMergeComponents resolves the AI's duplicate groups against the
// fetched entity rows and plans the merges. Groups sharing a row are
// unioned into one component. Within a component only rows of the
// dominant type (by summed source count) are merged; the canonical row is
// the one with the most sources, ties broken by lowest id.
func planEntityMergeComponents(entities []entityRecord, res *ai.DuplicatesResponse) []mergeComponent {
	if res == nil || len(res.Duplicates) == 0 {
		return nil
	}

	indexesByName := make(map[string][]int)
	for i := range entities {
		key := dedupeName(entities[i].Name)
		if key == "" {
			continue
		}
		indexesByName[key] = append(indexesByName[key], i)
	}

	parent := make([]int, len(entities))
	for i := range parent {
		parent[i] = i
	}
	var find func(x int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(x, y int) {
		px, py := find(x), find(y)
		if px != py {
			parent[px] = py
		}
	}

	type matchedGroup struct {
		name    string
		members []int
	}
	matched := make([]matchedGroup, 0, len(res.Duplicates))
	for _, group := range res.Duplicates {
		if len(group.Entities) <= 1 {
			continue
		}
		seen := make(map[int]bool)
		members := make([]int, 0, len(group.Entities))
		for _, name := range group.Entities {
			key := dedupeName(name)
			if key == "" {
				continue
			}
			for _, idx := range indexesByName[key] {
				if !seen[idx] {
					seen[idx] = true
					members = append(members, idx)
				}
			}
		}
		if len(members) <= 1 {
			continue
		}
		for _, m := range members[1:] {
			union(members[0], m)
		}
		matched = append(matched, matchedGroup{name: group.Name, members: members})
	}
	if len(matched) == 0 {
		return nil
	}

	rowsByRoot := make(map[int][]int)
	namesByRoot := make(map[int][]string)
	for _, g := range matched {
		root := find(g.members[0])
		namesByRoot[root] = append(namesByRoot[root], g.name)
		for _, m := range g.members {
			if !slices.Contains(rowsByRoot[root], m) {
				rowsByRoot[root] = append(rowsByRoot[root], m)
			}
		}
	}

	plan := make([]mergeComponent, 0, len(rowsByRoot))
	for root, rowIdxs := range rowsByRoot {
		rows := make([]*entityRecord, 0, len(rowIdxs))
		for _, idx := range rowIdxs {
			rows = append(rows, &entities[idx])
		}
		slices.SortFunc(rows, func(a, b *entityRecord) int {
			return cmp.Compare(a.DBID, b.DBID)
		})

		groupType := dominantGroupType(rows)
		filtered := make([]*entityRecord, 0, len(rows))
		for _, e := range rows {
			if e.Type == groupType {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) <= 1 {
			continue
		}

		canonical := filtered[0]
		for _, e := range filtered[1:] {
			if e.SourceCount > canonical.SourceCount ||
				(e.SourceCount == canonical.SourceCount && e.DBID < canonical.DBID) {
				canonical = e
			}
		}

		dupeIDs := make([]int64, 0, len(filtered)-1)
		for _, e := range filtered {
			if e.DBID != canonical.DBID {
				dupeIDs = append(dupeIDs, e.DBID)
			}
		}
		slices.Sort(dupeIDs)

		plan = append(plan, mergeComponent{
			CanonicalID:   canonical.DBID,
			CanonicalName: chooseCanonicalName(namesByRoot[root], canonical.Name),
			DupeIDs:       dupeIDs,
		})
	}

	slices.SortFunc(plan, func(a, b mergeComponent) int {
		return cmp.Compare(a.CanonicalID, b.CanonicalID)
	})
	return plan
}

// chooseCanonicalName picks the most frequent AI-proposed name, ties
// broken by first proposal. Falls back to the canonical row's current
// name when the AI proposed nothing usable.
func chooseCanonicalName(aiNames []string, fallback string) string {
	counts := make(map[string]int)
	order := make([]string, 0, len(aiNames))
	for _, name := range aiNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := counts[name]; !ok {
			order = append(order, name)
		}
		counts[name]++
	}

	best := ""
	bestCount := 0
	for _, name := range order {
		if counts[name] > bestCount {
			best = name
			bestCount = counts[name]
		}
	}
	if best == "" {
		return fallback
	}
	return best
}

// applyEntityMerges executes a merge plan in one transaction: sources are
// transferred to the canonical entity, relationship endpoints remapped,
// duplicate rows deleted, and any self-loops produced by the remap
// removed.
func (s *GraphDBStorage) applyEntityMerges(ctx context.Context, tenant string, plan []mergeComponent) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, comp := range plan {
		if _, err := tx.Exec(ctx, updateEntityNameSQL, comp.CanonicalID, comp.CanonicalName); err != nil {
			return fmt.Errorf("failed to update canonical name: %w", err)
		}
		for _, dupeID := range comp.DupeIDs {
			if _, err := tx.Exec(ctx, transferEntitySourcesSQL, dupeID, comp.CanonicalID); err != nil {
				return fmt.Errorf("failed to transfer sources: %w", err)
			}
			if _, err := tx.Exec(ctx, remapRelationshipSourceSQL, dupeID, comp.CanonicalID, tenant); err != nil {
				return fmt.Errorf("failed to update relationship sources: %w", err)
			}
			if _, err := tx.Exec(ctx, remapRelationshipTargetSQL, dupeID, comp.CanonicalID, tenant); err != nil {
				return fmt.Errorf("failed to update relationship targets: %w", err)
			}
			if _, err := tx.Exec(ctx, deleteEntityByIDSQL, dupeID); err != nil {
				return fmt.Errorf("failed to delete duplicate entity: %w", err)
			}
		}
	}

	if _, err := tx.Exec(ctx, deleteSelfLoopRelationshipsSQL, tenant); err != nil {
		return fmt.Errorf("failed to delete self loops: %w", err)
	}

	return tx.Commit(ctx)
}

// orderRecordsForPass cycles through three batch orders so entities
// that once landed in different AI batches eventually share one: original
// order first, then a round-robin interleave, then a sort by normalized
// name and type.
func orderRecordsForPass(entities []entityRecord, pass int, batchSize int) []entityRecord {
	out := slices.Clone(entities)

	switch pass % 3 {
	case 1:
		return out
	case 2:
		return interleaveRecords(out, batchSize)
	}

	slices.SortFunc(out, func(a, b entityRecord) int {
		return cmp.Compare(
			dedupeKey(a.Name, a.Type),
			dedupeKey(b.Name, b.Type),
		)
	})
	return out
}

// interleaveRecords deals the entities round-robin across their
// batches: the first member of every batch comes before any second member.
func interleaveRecords(entities []entityRecord, batchSize int) []entityRecord {
	if batchSize <= 0 || batchSize >= len(entities) {
		return entities
	}

	out := make([]entityRecord, 0, len(entities))
	for pos := range batchSize {
		for i := pos; i < len(entities); i += batchSize {
			out = append(out, entities[i])
		}
	}
	return out
}

// dedupeName folds case and filler words so AI-returned names
// match stored names.
func dedupeName(value string) string {
	return strings.ToUpper(ai.NormalizeDedupeValue(value))
}

func dedupeKey(name, typ string) string {
	return dedupeName(name) + "|" + dedupeName(typ)
}

// dominantGroupType picks the dominant type of a merge group: most
// summed sources, then most rows, then lexicographically smallest.
func dominantGroupType(entities []*entityRecord) string {
	sources := make(map[string]int)
	members := make(map[string]int)
	for _, e := range entities {
		sources[e.Type] += e.SourceCount
		members[e.Type]++
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
		case members[typ] != members[best]:
			if members[typ] > members[best] {
				best = typ
			}
		case typ < best:
			best = typ
		}
	}
	return best
}

// relationshipDupe pairs a surviving relationship row with the newer row
// that will be folded into it.
type relationshipDupe struct {
	keepID   int64
	dropID   int64
	keepRank float64
	dropRank float64
}

// findDuplicateRelationshipPairs lists relationships sharing source,
// target and type. The rows are closed before it returns, so the caller
// may open a transaction on the same connection afterwards.
func (s *GraphDBStorage) findDuplicateRelationshipPairs(ctx context.Context, tenant string) ([]relationshipDupe, error) {
	rows, err := s.conn.Query(ctx, findDuplicateRelationshipsSQL, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dupes []relationshipDupe
	for rows.Next() {
		var d relationshipDupe
		if err := rows.Scan(&d.keepID, &d.dropID, &d.keepRank, &d.dropRank); err != nil {
			return nil, err
		}
		dupes = append(dupes, d)
	}
	return dupes, rows.Err()
}

// dedupeRelationships merges relationships that share source, target and
// type, keeping the older row and averaging the rank.
func (s *GraphDBStorage) dedupeRelationships(ctx context.Context, tenant string) error {
	dupes, err := s.findDuplicateRelationshipPairs(ctx, tenant)
	if err != nil {
		return err
	}
	if len(dupes) == 0 {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	dropped := make(map[int64]bool)
	for _, d := range dupes {
		if dropped[d.keepID] || dropped[d.dropID] {
			continue
		}

		if _, err := tx.Exec(ctx, transferRelationshipSourcesSQL, d.dropID, d.keepID); err != nil {
			return fmt.Errorf("failed to transfer relationship sources: %w", err)
		}
		if _, err := tx.Exec(ctx, updateRelationshipRankSQL, d.keepID, (d.keepRank+d.dropRank)/2); err != nil {
			return fmt.Errorf("failed to update relationship rank: %w", err)
		}
		if _, err := tx.Exec(ctx, deleteRelationshipByIDSQL, d.dropID); err != nil {
			return fmt.Errorf("failed to delete duplicate relationship: %w", err)
		}

		dropped[d.dropID] = true
	}

	return tx.Commit(ctx)
}
