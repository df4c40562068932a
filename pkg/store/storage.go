package store

import (
	"context"
	"errors"

	"github.com/meridian-hq/atlas/backend/pkg/common"
)

// ErrEntityNotFound is returned by neighborhood lookups when the named
// entity does not exist in the tenant's graph.
var ErrEntityNotFound = errors.New("entity not found")

// EntityFilter narrows GetEntities results. Zero values mean "no filter";
// Limit <= 0 falls back to the implementation default.
type EntityFilter struct {
	Type   string
	Search string
	Limit  int
}

// EntityInfo is the read model for a graph entity, including how often it
// is mentioned across the tenant's documents.
type EntityInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Mentions    int    `json:"mentions"`
}

// RelationshipFilter narrows GetRelationships results.
type RelationshipFilter struct {
	Type  string
	Limit int
}

// RelationshipInfo is the read model for a graph edge.
type RelationshipInfo struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Strength    float64 `json:"strength"`
}

// GraphNode is a node in overview and neighborhood responses.
type GraphNode struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// GraphEdge is an edge in overview and neighborhood responses.
type GraphEdge struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Relationship string  `json:"relationship"`
	Confidence   float64 `json:"confidence"`
}

// Neighborhood is the subgraph around a single entity up to a bounded
// depth, plus the names of the documents its sources come from.
type Neighborhood struct {
	Center  string      `json:"center"`
	Nodes   []GraphNode `json:"nodes"`
	Edges   []GraphEdge `json:"edges"`
	Sources []string    `json:"sources"`
}

// GraphStats aggregates per-tenant graph counters.
type GraphStats struct {
	Documents     int            `json:"documents"`
	Chunks        int            `json:"chunks"`
	Entities      int            `json:"entities"`
	Relationships int            `json:"relationships"`
	EntityTypes   map[string]int `json:"entity_types"`
}

// GraphOverview is the ranked top-level view of a tenant's graph: the
// most-mentioned nodes, the edges between them, and the counters.
type GraphOverview struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
	Stats GraphStats  `json:"stats"`
}

// SourceDocument resolves a cited source id back to the document it
// came from.
type SourceDocument struct {
	SourceID   string `json:"source_id"`
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Metadata   string `json:"metadata,omitempty"`
}

// UnitExcerpt is a chunk's text together with the document it belongs to,
// used to surface the best-matching chunks behind an answer.
type UnitExcerpt struct {
	SourceID     string `json:"source_id"`
	DocumentName string `json:"document"`
	Content      string `json:"content"`
}

// MergeResult reports what a staging merge touched, so the caller can
// kick off description generation for the affected rows.
type MergeResult struct {
	UnitCount       int
	EntityIDs       []int64
	RelationshipIDs []int64
}

// GraphStorage defines the interface for persisting and querying knowledge
// graphs. Every method is tenant-scoped; graph rows never cross tenant
// boundaries. Writes happen in two phases: extraction workers stage data
// under a correlation id, and a single merge (guarded by the tenant lease)
// folds the staged batches into the live graph.
type GraphStorage interface {
	SaveUnits(ctx context.Context, tenant string, units []*common.Unit) ([]int64, error)
	SaveEntities(ctx context.Context, tenant string, entities []common.Entity) ([]int64, error)
	SaveRelationships(ctx context.Context, tenant string, relations []common.Relationship) ([]int64, error)

	StageUnits(ctx context.Context, correlationID string, batchID int, tenant string, units []*common.Unit) error
	StageEntities(ctx context.Context, correlationID string, batchID int, tenant string, entities []common.Entity) error
	StageRelationships(ctx context.Context, correlationID string, batchID int, tenant string, relations []common.Relationship) error
	MergeFromStaging(ctx context.Context, tenant string, correlationID string) (*MergeResult, error)
	DeleteStagedData(ctx context.Context, correlationID string, batchID int) error

	GenerateEntityDescriptions(ctx context.Context, entityIDs []int64) error
	GenerateRelationshipDescriptions(ctx context.Context, relationshipIDs []int64) error

	GetEntities(ctx context.Context, tenant string, filter EntityFilter) ([]EntityInfo, error)
	GetEntityNeighborhood(ctx context.Context, tenant string, name string, depth int) (*Neighborhood, error)
	GetRelationships(ctx context.Context, tenant string, filter RelationshipFilter) ([]RelationshipInfo, error)
	GetGraphOverview(ctx context.Context, tenant string, limit int) (*GraphOverview, error)
	GetGraphStats(ctx context.Context, tenant string) (*GraphStats, error)
	GetDocumentsFromSourceIDs(ctx context.Context, tenant string, sourceIDs []string) ([]SourceDocument, error)
	GetUnitExcerpts(ctx context.Context, tenant string, sourceIDs []string) ([]UnitExcerpt, error)

	GetLocalQueryContext(ctx context.Context, query string, embedding []float32, tenant string) (string, error)
	GetGlobalQueryContext(ctx context.Context, query string, embedding []float32, tenant string) (string, error)

	DeleteDocumentData(ctx context.Context, tenant string, documentID int64) error
	RollbackDocumentData(ctx context.Context, tenant string, documentIDs []int64) error
}
