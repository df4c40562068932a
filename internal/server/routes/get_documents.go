package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/internal/storage"
	"github.com/meridian-hq/atlas/backend/internal/timing"
	"github.com/meridian-hq/atlas/backend/internal/util"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

// GetDocumentsHandler lists the tenant's documents. Documents still moving
// through the pipeline carry their batch's progress, shared across every
// document with the same correlation id.
func GetDocumentsHandler(c echo.Context) error {
	type documentsQuery struct {
		TenantID string `query:"tenant_id"`
	}
	type documentEntry struct {
		db.Document
		Progress *util.PipelineProgress `json:"progress,omitempty"`
	}
	type documentsResponse struct {
		Documents []documentEntry `json:"documents"`
		Count     int             `json:"count"`
	}

	data := new(documentsQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
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
	q := db.New(app.DBConn)

	documents, err := q.ListDocuments(ctx, tenantID)
	if err != nil {
		logger.Error("Failed to list documents", "tenant", tenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	progressCache := make(map[string]*util.PipelineProgress)
	progressFor := func(correlationID string) *util.PipelineProgress {
		if progress, ok := progressCache[correlationID]; ok {
			return progress
		}

		stateCounts, err := q.CountDocumentStates(ctx, tenantID, correlationID)
		if err != nil {
			logger.Error("Failed to count document states", "correlation_id", correlationID, "err", err)
			progressCache[correlationID] = nil
			return nil
		}

		counts := util.PipelineCounts{}
		for _, stateCount := range stateCounts {
			switch stateCount.State {
			case db.DocumentStatePending:
				counts.Pending = stateCount.Count
			case db.DocumentStateChunking:
				counts.Chunking = stateCount.Count
			case db.DocumentStateExtracting:
				counts.Extracting = stateCount.Count
			case db.DocumentStateMerging:
				counts.Merging = stateCount.Count
			case db.DocumentStateDescribing:
				counts.Describing = stateCount.Count
			case db.DocumentStateCompleted:
				counts.Completed = stateCount.Count
			case db.DocumentStateFailed:
				counts.Failed = stateCount.Count
			default:
				continue
			}
			counts.Total += stateCount.Count
		}

		percentage := util.CalculatePipelinePercentage(counts)
		if estimate, err := timing.PredictPipelineTime(ctx, counts.Total, app.DBConn); err == nil && estimate > 0 {
			counts.EstimatedDuration = estimate
			counts.RemainingDuration = estimate * int64(100-percentage) / 100
		}

		progress := util.BuildPipelineProgress(counts)
		progressCache[correlationID] = &progress
		return &progress
	}

	entries := make([]documentEntry, 0, len(documents))
	for _, document := range documents {
		entry := documentEntry{Document: document}
		switch document.State {
		case db.DocumentStatePending, db.DocumentStateChunking, db.DocumentStateExtracting,
			db.DocumentStateMerging, db.DocumentStateDescribing:
			if document.CorrelationID != nil {
				entry.Progress = progressFor(*document.CorrelationID)
			}
		}
		entries = append(entries, entry)
	}

	// A document listing means someone just landed in the workspace. Warm the
	// model so their first question does not pay the load latency.
	aiClient := app.AiClient
	go func() {
		_ = aiClient.LoadModel(context.Background())
	}()

	return c.JSON(http.StatusOK, documentsResponse{Documents: entries, Count: len(entries)})
}

// GetDocumentDownloadHandler returns a short-lived presigned link to the
// stored file. URL-sourced documents have no stored file.
func GetDocumentDownloadHandler(c echo.Context) error {
	type downloadQuery struct {
		ID       int64  `param:"id" validate:"required,numeric"`
		TenantID string `query:"tenant_id"`
	}

	data := new(downloadQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
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
	q := db.New(app.DBConn)

	document, err := q.GetDocument(ctx, tenantID, data.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Document not found"})
		}
		logger.Error("Failed to load document", "document_id", data.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if document.FileKey == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Document has no stored file"})
	}

	link, err := storage.GetDownloadLink(ctx, app.S3, document.FileKey)
	if err != nil {
		logger.Error("Failed to presign download link", "document_id", data.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, map[string]string{"url": link})
}
