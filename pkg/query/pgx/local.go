package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

var errNoMessages = errors.New("query requires at least one message")

// QueryLocal answers a question using entity-focused retrieval. The question
// is embedded, context is built around the entities it names and their graph
// neighborhood, and the answer is generated from that context. If no relevant
// context is found, it returns a "no data" response rather than hallucinating.
func (c *BaseQueryClient) QueryLocal(
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

	queryContext, err := c.storageClient.GetLocalQueryContext(ctx, query, embedding, c.tenantID)
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

// QueryStreamLocal performs a streaming local query against the knowledge
// graph. It emits progress events and content chunks as they become
// available. Like QueryLocal, it returns a "no data" response if no relevant
// context is found. The channel closes when the answer is complete or the
// query fails.
func (c *BaseQueryClient) QueryStreamLocal(
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

		queryContext, err := c.storageClient.GetLocalQueryContext(ctx, query, embedding, c.tenantID)
		if err != nil {
			logger.Error("Failed to build local query context", "err", err)
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
