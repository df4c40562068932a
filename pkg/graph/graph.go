package graph

import (
	"context"
	"fmt"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/common"
	"github.com/meridian-hq/atlas/backend/pkg/loader"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

// DocumentGraph is the in-memory extraction result for a single document.
// The caller stages it under a correlation id; the store-side merge folds
// staged documents into the live graph.
type DocumentGraph struct {
	Units         []*common.Unit
	Entities      []common.Entity
	Relationships []common.Relationship
}

// ChunkDocument splits a document into token-bounded units using the
// client's configured strategy and encoder. Unit ids are derived from the
// document content, so re-chunking identical content yields identical ids.
func (g *GraphClient) ChunkDocument(ctx context.Context, file loader.GraphFile) ([]*common.Unit, error) {
	units, err := getUnitsFromText(ctx, file, g.tokenEncoder, g.strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to split document into units: %w", err)
	}

	logger.Debug("[Graph] Document chunked",
		"document_id", file.ID, "units", len(units), "strategy", string(g.strategy))

	return units, nil
}

// ExtractGraph builds the knowledge graph for one document's units:
// per-unit AI extraction with the pattern sweep, merged across units, then
// deduplicated within the document.
func (g *GraphClient) ExtractGraph(
	ctx context.Context,
	file loader.GraphFile,
	units []*common.Unit,
	aiClient ai.GraphAIClient,
) (*DocumentGraph, error) {
	if len(units) == 0 {
		return &DocumentGraph{}, nil
	}

	entities, relations, err := g.extractDocumentUnits(ctx, file, units, aiClient)
	if err != nil {
		return nil, err
	}

	logger.Debug("[Graph] Extraction completed",
		"document_id", file.ID, "entities", len(entities), "relationships", len(relations))

	dedupedEntities, dedupedRelations, err := g.dedupeGraph(ctx, entities, relations, aiClient)
	if err != nil {
		return nil, fmt.Errorf("failed to dedupe document entities: %w", err)
	}

	return &DocumentGraph{
		Units:         units,
		Entities:      dedupedEntities,
		Relationships: dedupedRelations,
	}, nil
}

// BuildDocumentGraph chunks a document and extracts its graph in one call.
// Callers that report progress per pipeline step use ChunkDocument and
// ExtractGraph directly.
func (g *GraphClient) BuildDocumentGraph(
	ctx context.Context,
	file loader.GraphFile,
	aiClient ai.GraphAIClient,
) (*DocumentGraph, error) {
	units, err := g.ChunkDocument(ctx, file)
	if err != nil {
		return nil, err
	}
	return g.ExtractGraph(ctx, file, units, aiClient)
}
