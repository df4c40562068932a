package query

import (
	"context"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
)

// GraphQueryClient defines the interface for answering questions over a
// tenant's knowledge graph. Local queries build context around the entities
// the question names; global queries build context from the most prominent
// entities and relationships of the whole graph. Each mode has a blocking
// and a streaming variant.
type GraphQueryClient interface {
	QueryLocal(ctx context.Context, msgs []ai.ChatMessage) (string, error)
	QueryStreamLocal(ctx context.Context, msgs []ai.ChatMessage) (<-chan ai.StreamEvent, error)

	QueryGlobal(ctx context.Context, msgs []ai.ChatMessage) (string, error)
	QueryStreamGlobal(ctx context.Context, msgs []ai.ChatMessage) (<-chan ai.StreamEvent, error)
}
