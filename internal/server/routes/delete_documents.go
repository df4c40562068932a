package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/internal/queue"
	"github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

// DeleteDocumentHandler marks a document for deletion and hands the actual
// cleanup to the worker. Once a document is deleting it can no longer be
// claimed for ingestion.
func DeleteDocumentHandler(c echo.Context) error {
	type deleteParams struct {
		ID       int64  `param:"id" validate:"required,numeric"`
		TenantID string `query:"tenant_id"`
	}

	data := new(deleteParams)
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
	if document.State == db.DocumentStateDeleting {
		return c.JSON(http.StatusAccepted, map[string]string{"message": "Deletion already in progress"})
	}

	if err := q.SetDocumentState(ctx, tenantID, document.ID, db.DocumentStateDeleting); err != nil {
		logger.Error("Failed to mark document deleting", "document_id", document.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	payload, err := json.Marshal(queue.DeleteMessage{
		TenantID:   tenantID,
		DocumentID: document.ID,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if err := queue.PublishFIFO(app.Queue, queue.DeleteQueue, payload); err != nil {
		logger.Error("Failed to publish delete message", "document_id", document.ID, "err", err)
		if resetErr := q.SetDocumentState(ctx, tenantID, document.ID, document.State); resetErr != nil {
			logger.Warn("Failed to restore document state", "document_id", document.ID, "err", resetErr)
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"message": "Document deletion queued"})
}
