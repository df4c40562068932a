package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/internal/queue"
	"github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/internal/storage"
	"github.com/meridian-hq/atlas/backend/internal/validate"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

type uploadedDocument struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
}

type rejectedFile struct {
	Filename string   `json:"filename"`
	Issues   []string `json:"issues"`
}

type uploadResponse struct {
	Message       string             `json:"message"`
	CorrelationID string             `json:"correlation_id"`
	Documents     []uploadedDocument `json:"documents"`
	Rejected      []rejectedFile     `json:"rejected,omitempty"`
}

// publishIngest enqueues one ingest message for a batch of pending documents
// sharing a correlation id. On a publish failure the documents are marked
// failed so they do not sit in pending forever.
func publishIngest(c echo.Context, tenantID, correlationID, source string, documentIDs []int64) error {
	msg := queue.IngestMessage{
		CorrelationID: correlationID,
		TenantID:      tenantID,
		DocumentIDs:   documentIDs,
		Source:        source,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ch := c.(*middleware.AppContext).App.Queue
	if err := queue.PublishFIFO(ch, queue.IngestQueue, payload); err != nil {
		ctx := c.Request().Context()
		q := db.New(c.(*middleware.AppContext).App.DBConn)
		for _, id := range documentIDs {
			if failErr := q.SetDocumentFailed(ctx, tenantID, id, "failed to enqueue for processing"); failErr != nil {
				logger.Warn("Failed to mark document failed", "document_id", id, "err", failErr)
			}
		}
		return err
	}
	return nil
}

// UploadDocumentsHandler accepts a multipart batch of files, stores the valid
// ones, and queues them for ingestion as one batch. Invalid files are
// reported per file; a batch with no valid file is rejected outright.
func UploadDocumentsHandler(c echo.Context) error {
	type uploadBody struct {
		TenantID string `form:"tenant_id"`
	}

	data := new(uploadBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	uploads := form.File["files"]
	if len(uploads) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No files provided"})
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

	correlationID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	accepted := make([]uploadedDocument, 0, len(uploads))
	rejected := make([]rejectedFile, 0)
	documentIDs := make([]int64, 0, len(uploads))

	for _, file := range uploads {
		if issues := validate.CheckUpload(file.Filename, file.Size); len(issues) > 0 {
			rejected = append(rejected, rejectedFile{Filename: file.Filename, Issues: issues})
			continue
		}

		src, err := file.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Could not open file"})
		}
		defer src.Close()

		publicID, err := gonanoid.New()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}

		name := validate.SanitizeFilename(file.Filename)
		key, err := storage.PutFile(ctx, app.S3, tenantID, name, publicID, src)
		if err != nil {
			logger.Error("Failed to upload file", "filename", name, "err", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}

		document, err := q.CreateDocument(ctx, db.CreateDocumentParams{
			TenantID:      tenantID,
			PublicID:      publicID,
			Name:          name,
			FileKey:       key,
			Source:        db.DocumentSourceUpload,
			SizeBytes:     file.Size,
			CorrelationID: correlationID,
		})
		if err != nil {
			logger.Error("Failed to create document", "filename", name, "err", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}

		accepted = append(accepted, uploadedDocument{
			DocumentID: document.ID,
			Filename:   document.Name,
			Status:     document.State,
		})
		documentIDs = append(documentIDs, document.ID)
	}

	if len(accepted) == 0 {
		return c.JSON(http.StatusBadRequest, uploadResponse{
			Message:  "No valid files in upload",
			Rejected: rejected,
		})
	}

	if err := publishIngest(c, tenantID, correlationID, db.DocumentSourceUpload, documentIDs); err != nil {
		logger.Error("Failed to publish ingest message", "correlation_id", correlationID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, uploadResponse{
		Message:       "Upload accepted for processing",
		CorrelationID: correlationID,
		Documents:     accepted,
		Rejected:      rejected,
	})
}

// UploadURLHandler registers a web page for ingestion. The worker fetches the
// URL and extracts its readable text, so nothing is stored in S3 here.
func UploadURLHandler(c echo.Context) error {
	type uploadURLBody struct {
		URL      string `json:"url" validate:"required,url"`
		TenantID string `json:"tenant_id"`
	}

	data := new(uploadURLBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	parsed, err := url.Parse(data.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid URL"})
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
	q := db.New(c.(*middleware.AppContext).App.DBConn)

	correlationID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	publicID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	sourceURL := data.URL
	document, err := q.CreateDocument(ctx, db.CreateDocumentParams{
		TenantID:      tenantID,
		PublicID:      publicID,
		Name:          validate.SanitizeText(data.URL, 200),
		Source:        db.DocumentSourceURL,
		SourceURL:     &sourceURL,
		CorrelationID: correlationID,
	})
	if err != nil {
		logger.Error("Failed to create document", "url", data.URL, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	if err := publishIngest(c, tenantID, correlationID, db.DocumentSourceURL, []int64{document.ID}); err != nil {
		logger.Error("Failed to publish ingest message", "correlation_id", correlationID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, uploadResponse{
		Message:       "URL accepted for processing",
		CorrelationID: correlationID,
		Documents: []uploadedDocument{{
			DocumentID: document.ID,
			Filename:   document.Name,
			Status:     document.State,
		}},
	})
}
