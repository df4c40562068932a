package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/internal/server/util"
	"github.com/meridian-hq/atlas/backend/internal/validate"
	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	"github.com/meridian-hq/atlas/backend/pkg/query"
	qc "github.com/meridian-hq/atlas/backend/pkg/query/pgx"
	"github.com/meridian-hq/atlas/backend/pkg/store"
	graphstorage "github.com/meridian-hq/atlas/backend/pkg/store/pgx"
)

const (
	maxQuestionLength = 2000
	minQuestionLength = 3

	topChunkCount    = 3
	topChunkMaxRunes = 300
)

type askRequest struct {
	Question string           `json:"question" validate:"required"`
	TenantID string           `json:"tenant_id"`
	Mode     string           `json:"mode" validate:"omitempty,oneof=local global"`
	History  []ai.ChatMessage `json:"history"`
}

type askSources struct {
	VectorMatches int                    `json:"vector_matches"`
	GraphEntities int                    `json:"graph_entities"`
	TopChunks     []store.UnitExcerpt    `json:"top_chunks"`
	Documents     []store.SourceDocument `json:"documents"`
}

// buildSources condenses a query trace into the source summary returned with
// an answer: how much was retrieved, the best chunks, and the documents
// behind the citations.
func buildSources(c echo.Context, storageClient *graphstorage.GraphDBStorage, trace *query.QueryTrace, tenantID, answer string) askSources {
	ctx := c.Request().Context()
	snapshot := trace.Snapshot()

	sources := askSources{
		VectorMatches: len(snapshot.ConsideredSourceIDs),
		GraphEntities: len(snapshot.QueriedEntityIDs),
		TopChunks:     make([]store.UnitExcerpt, 0, topChunkCount),
		Documents:     make([]store.SourceDocument, 0),
	}

	excerpts, err := storageClient.GetUnitExcerpts(ctx, tenantID, snapshot.UsedSourceIDs)
	if err != nil {
		logger.Error("Failed to load unit excerpts", "err", err)
	}
	for _, excerpt := range excerpts {
		if len(sources.TopChunks) == topChunkCount {
			break
		}
		if runes := []rune(excerpt.Content); len(runes) > topChunkMaxRunes {
			excerpt.Content = string(runes[:topChunkMaxRunes]) + "..."
		}
		sources.TopChunks = append(sources.TopChunks, excerpt)
	}

	citationIDs := util.ExtractCitationIDs(answer)
	if len(citationIDs) > 0 {
		documents, err := storageClient.GetDocumentsFromSourceIDs(ctx, tenantID, citationIDs)
		if err != nil {
			logger.Error("Failed to resolve citations", "err", err)
		} else {
			sources.Documents = documents
		}
	}

	return sources
}

// AskHandler answers a question against the tenant's knowledge graph. Local
// mode retrieves entity-centered context, global mode community summaries.
func AskHandler(c echo.Context) error {
	type askResponse struct {
		Question string     `json:"question"`
		Answer   string     `json:"answer"`
		Sources  askSources `json:"sources"`
		Status   string     `json:"status"`
	}

	data := new(askRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	question := validate.SanitizeText(data.Question, maxQuestionLength)
	if len([]rune(question)) < minQuestionLength {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Question must be at least 3 characters long"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	tenantID, err := middleware.ResolveTenant(user, data.TenantID)
	if err != nil {
		if errors.Is(err, middleware.ErrTenantForbidden) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Tenant id required"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	trace := query.NewQueryTrace()
	storageClient, err := graphstorage.NewGraphDBStorageWithConnection(
		ctx, app.DBConn, app.AiClient, []string{question},
		graphstorage.WithTracer(trace),
	)
	if err != nil {
		logger.Error("Failed to create graph storage", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	messages := append(append([]ai.ChatMessage{}, data.History...), ai.ChatMessage{
		Role:    "user",
		Message: question,
	})

	queryClient := qc.NewGraphQueryClient(app.AiClient, storageClient, tenantID, nil)

	var answer string
	switch data.Mode {
	case "global":
		answer, err = queryClient.QueryGlobal(ctx, messages)
	default:
		answer, err = queryClient.QueryLocal(ctx, messages)
	}
	if err != nil || answer == "" {
		logger.Error("Graph query failed", "tenant", tenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, askResponse{
		Question: question,
		Answer:   answer,
		Sources:  buildSources(c, storageClient, trace, tenantID, answer),
		Status:   "success",
	})
}

// AskStreamHandler is AskHandler over a flushed stream of JSON lines. Content
// arrives incrementally with citation markers stripped; each newly cited
// document is pushed as a sources event so names can render while the answer
// is still streaming.
func AskStreamHandler(c echo.Context) error {
	type streamEvent struct {
		Type    string      `json:"type"`
		Step    string      `json:"step,omitempty"`
		Content string      `json:"content,omitempty"`
		Sources *askSources `json:"sources,omitempty"`
	}

	data := new(askRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	question := validate.SanitizeText(data.Question, maxQuestionLength)
	if len([]rune(question)) < minQuestionLength {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Question must be at least 3 characters long"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	tenantID, err := middleware.ResolveTenant(user, data.TenantID)
	if err != nil {
		if errors.Is(err, middleware.ErrTenantForbidden) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Tenant id required"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	trace := query.NewQueryTrace()
	storageClient, err := graphstorage.NewGraphDBStorageWithConnection(
		ctx, app.DBConn, app.AiClient, []string{question},
		graphstorage.WithTracer(trace),
	)
	if err != nil {
		logger.Error("Failed to create graph storage", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	messages := append(append([]ai.ChatMessage{}, data.History...), ai.ChatMessage{
		Role:    "user",
		Message: question,
	})

	queryClient := qc.NewGraphQueryClient(app.AiClient, storageClient, tenantID, nil)

	var contentChan <-chan ai.StreamEvent
	switch data.Mode {
	case "global":
		contentChan, err = queryClient.QueryStreamGlobal(ctx, messages)
	default:
		contentChan, err = queryClient.QueryStreamLocal(ctx, messages)
	}
	if err != nil {
		logger.Error("Graph query failed", "tenant", tenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c.Response().WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Response())

	writeEvent := func(event streamEvent) error {
		if err := enc.Encode(event); err != nil {
			return err
		}
		c.Response().Flush()
		return nil
	}

	var answer strings.Builder
	foundIDs := make(map[string]bool)
	foundDocuments := make([]store.SourceDocument, 0)
	parser := util.StreamCitationParser{}

	onContent := func(content string) error {
		return writeEvent(streamEvent{Type: "content", Content: content})
	}
	onCitation := func(id string) error {
		if foundIDs[id] {
			return nil
		}
		foundIDs[id] = true

		documents, err := storageClient.GetDocumentsFromSourceIDs(ctx, tenantID, []string{id})
		if err != nil {
			logger.Error("Failed to resolve citation", "id", id, "err", err)
			return nil
		}
		foundDocuments = append(foundDocuments, documents...)
		return writeEvent(streamEvent{Type: "sources", Sources: &askSources{Documents: foundDocuments}})
	}

	for event := range contentChan {
		switch event.Type {
		case "step":
			if err := writeEvent(streamEvent{Type: "step", Step: event.Step}); err != nil {
				return err
			}
		case "content":
			answer.WriteString(event.Content)
			if err := parser.Consume(event.Content, onContent, onCitation); err != nil {
				return err
			}
		}
	}
	if err := parser.Flush(onContent); err != nil {
		return err
	}

	sources := buildSources(c, storageClient, trace, tenantID, answer.String())
	if err := writeEvent(streamEvent{Type: "sources", Sources: &sources}); err != nil {
		return err
	}
	return writeEvent(streamEvent{Type: "done"})
}
