package pgx

import (
	"context"
	"fmt"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

// QueryGlobal answers a corpus-level question. Unlike local queries that
// focus on the entities the question names, global queries build context from
// the most prominent entities and strongest relationships of the whole graph.
// Returns a "no data" response if no relevant context is found.
func (c *BaseQueryClient) QueryGlobal(
	ctx context.Context,
	msgs []ai.ChatMessage,
) (string, error) {
	if len(msgs) == 0 {
		return "", errNoMessages
	}
	query := msgs[len(msgs)-1].Message

	embedding, err := c.embedQuery(ctx, query)
	if err != nil {
		return "", err
	}

	queryContext, err := c.storageClient.GetGlobalQueryContext(ctx, query, embedding, c.tenantID)
	if err != nil {
		return "", err
	}

	// If no relevant context found, generate a "no data" response instead of hallucinating
	if queryContext == "" {
		return c.generateNoDataResponse(ctx, query)
	}

	prompt := fmt.Sprintf(ai.QueryPrompt, queryContext)
	resp, err := c.aiClient.GenerateChat(ctx, msgs, c.generateOptions(prompt)...)
	if err != nil {
		return "", fmt.Errorf("failed to generate answer from AI:\n%w", err)
	}

	return resp, nil
}

// QueryStreamGlobal performs a streaming global query across the knowledge
// graph. It emits progress events and content chunks as they become
// available. Like QueryGlobal, it aggregates context from the graph's most
// prominent records to answer broader questions.
func (c *BaseQueryClient) QueryStreamGlobal(
	ctx context.Context,
	msgs []ai.ChatMessage,
) (<-chan ai.StreamEvent, error) {
	if len(msgs) == 0 {
		return nil, errNoMessages
	}

	out := make(chan ai.StreamEvent, 10)

	go func() {
		defer close(out)

		out <- ai.StreamEvent{Type: "step", Step: "db_query"}

		query := msgs[len(msgs)-1].Message

		embedding, err := c.embedQuery(ctx, query)
		if err != nil {
			logger.Error("Failed to embed query", "err", err)
			return
		}

		queryContext, err := c.storageClient.GetGlobalQueryContext(ctx, query, embedding, c.tenantID)
		if err != nil {
			logger.Error("Failed to build global query context", "err", err)
			return
		}

		// If no relevant context found, generate a "no data" response instead of hallucinating
		if queryContext == "" {
			noDataResp, err := c.generateNoDataResponse(ctx, query)
			if err != nil {
				return
			}
			out <- ai.StreamEvent{Type: "content", Content: noDataResp}
			return
		}

		prompt := fmt.Sprintf(ai.QueryPrompt, queryContext)
		resp, err := c.aiClient.GenerateChatStream(ctx, msgs, c.generateOptions(prompt)...)
		if err != nil {
			logger.Error("Failed to start answer stream", "err", err)
			return
		}

		for event := range resp {
			out <- event
		}
	}()

	return out, nil
}
