package graph

import (
	"context"
	"fmt"
	"sync"

	gUtil "github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/loader"

	"golang.org/x/sync/errgroup"
)

// extractDocumentUnits runs extraction over every unit in parallel and folds
// the per-unit results, including the deterministic pattern sweep, into a
// single entity and relationship set.
func (g *GraphClient) extractDocumentUnits(
	ctx context.Context,
	file loader.GraphFile,
	units []*common.Unit,
	aiClient ai.GraphAIClient,
) ([]common.Entity, []common.Relationship, error) {
	entities := make([]common.Entity, 0)
	relations := make([]common.Relationship, 0)
	mergeMu := sync.Mutex{}

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelAiRequests)
	for _, unit := range units {
		u := unit
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return nil
			default:
				e, r, err := gUtil.Retry2WithContext(gCtx, g.maxRetries, func(ctx context.Context) ([]common.Entity, []common.Relationship, error) {
					return extractFromUnit(ctx, u, file, aiClient)
				})
				if err != nil {
					return fmt.Errorf("failed to extract entities and relationships from unit %s: %w", u.ID, err)
				}

				patternRels, err := augmentWithPatterns(u, e, r)
				if err != nil {
					return fmt.Errorf("failed to augment unit %s with pattern relationships: %w", u.ID, err)
				}
				r = append(r, patternRels...)

				mergeMu.Lock()
				entities, relations = mergeEntitiesAndRelations(entities, e, relations, r)
				mergeMu.Unlock()
				return nil
			}
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	return entities, relations, nil
}
