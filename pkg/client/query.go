package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/store"
)

// Query modes. Local answers from the question's graph neighborhood, global
// from community overviews across the whole tenant graph.
const (
	ModeLocal  = "local"
	ModeGlobal = "global"
)

// AskRequest is a question against a tenant's knowledge graph. History
// carries prior turns of the conversation; the server treats it as context
// only and does not persist it.
type AskRequest struct {
	Question string           `json:"question"`
	TenantID string           `json:"tenant_id,omitempty"`
	Mode     string           `json:"mode,omitempty"`
	History  []ai.ChatMessage `json:"history,omitempty"`
}

// AskSources describes the retrieval behind an answer.
type AskSources struct {
	VectorMatches int                    `json:"vector_matches"`
	GraphEntities int                    `json:"graph_entities"`
	TopChunks     []store.UnitExcerpt    `json:"top_chunks"`
	Documents     []store.SourceDocument `json:"documents"`
}

// AskResponse is a complete answer with its sources.
type AskResponse struct {
	Question string     `json:"question"`
	Answer   string     `json:"answer"`
	Sources  AskSources `json:"sources"`
	Status   string     `json:"status"`
}

// Stream event types emitted by AskStream.
const (
	StreamEventStep    = "step"
	StreamEventContent = "content"
	StreamEventSources = "sources"
	StreamEventDone    = "done"
)

// StreamEvent is one decoded line of an /ask/stream response. Content events
// carry answer text with citation markers already stripped; sources events
// carry the documents cited so far, with the final one holding the full
// retrieval summary.
type StreamEvent struct {
	Type    string      `json:"type"`
	Step    string      `json:"step,omitempty"`
	Content string      `json:"content,omitempty"`
	Sources *AskSources `json:"sources,omitempty"`
}

// Ask runs a query and waits for the complete answer.
func (c *Client) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	req.TenantID = c.tenant(req.TenantID)
	var out AskResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/ask", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AskStream runs a query and returns a channel of decoded stream events.
// The channel is closed after the done event, on a decode error, or when ctx
// is cancelled. Errors during setup are returned directly; once streaming
// has begun, a truncated stream simply ends without a done event.
func (c *Client) AskStream(ctx context.Context, req AskRequest) (<-chan StreamEvent, error) {
	req.TenantID = c.tenant(req.TenantID)
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.sendRetry(ctx, http.MethodPost, "/api/ask/stream", nil, payload, contentTypeJSON)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		dec := json.NewDecoder(resp.Body)
		for {
			var ev StreamEvent
			if err := dec.Decode(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == StreamEventDone {
				return
			}
		}
	}()
	return events, nil
}
