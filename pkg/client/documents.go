package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ProgressStep reports per-state document counts as "done/total" strings for
// the pipeline stages that have started.
type ProgressStep struct {
	Pending    string `json:"pending,omitempty"`
	Chunking   string `json:"chunking,omitempty"`
	Extracting string `json:"extracting,omitempty"`
	Merging    string `json:"merging,omitempty"`
	Describing string `json:"describing,omitempty"`
	Completed  string `json:"completed,omitempty"`
	Failed     string `json:"failed,omitempty"`
}

// Progress describes where an upload batch sits in the processing pipeline.
type Progress struct {
	Step              *ProgressStep `json:"step,omitempty"`
	Percentage        *int32        `json:"percentage,omitempty"`
	EstimatedDuration *int64        `json:"estimated_duration_ms,omitempty"`
	TimeRemaining     *int64        `json:"time_remaining_ms,omitempty"`
}

// Document mirrors the server's document representation. Progress is only
// present while the document is being processed.
type Document struct {
	ID        int64     `json:"document_id"`
	TenantID  string    `json:"tenant_id"`
	PublicID  string    `json:"public_id"`
	Filename  string    `json:"filename"`
	Source    string    `json:"source"`
	SourceURL *string   `json:"source_url,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	Metadata  *string   `json:"metadata,omitempty"`
	Status    string    `json:"status"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Progress  *Progress `json:"progress,omitempty"`
}

// UploadedDocument is one accepted file of an upload batch.
type UploadedDocument struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
}

// RejectedFile is one file refused during upload validation.
type RejectedFile struct {
	Filename string   `json:"filename"`
	Issues   []string `json:"issues"`
}

// UploadResult reports an accepted upload batch. CorrelationID groups the
// batch for progress tracking.
type UploadResult struct {
	Message       string             `json:"message"`
	CorrelationID string             `json:"correlation_id"`
	Documents     []UploadedDocument `json:"documents"`
	Rejected      []RejectedFile     `json:"rejected,omitempty"`
}

// UploadFile names one file for Upload.
type UploadFile struct {
	Name   string
	Reader io.Reader
}

// Upload sends files as a multipart batch for ingestion. The whole batch is
// buffered in memory so the request can be replayed after a token refresh.
func (c *Client) Upload(ctx context.Context, tenantID string, files ...UploadFile) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to upload")
	}

	buf := new(bytes.Buffer)
	form := multipart.NewWriter(buf)
	if tenant := c.tenant(tenantID); tenant != "" {
		if err := form.WriteField("tenant_id", tenant); err != nil {
			return nil, fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	for _, file := range files {
		part, err := form.CreateFormFile("files", file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to build upload form: %w", err)
		}
		if _, err := io.Copy(part, file.Reader); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}

	var out UploadResult
	if err := c.doBytes(ctx, http.MethodPost, "/api/upload", nil, buf.Bytes(), form.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadURL queues a web page for ingestion.
func (c *Client) UploadURL(ctx context.Context, tenantID, pageURL string) (*UploadResult, error) {
	body := map[string]string{"url": pageURL}
	if tenant := c.tenant(tenantID); tenant != "" {
		body["tenant_id"] = tenant
	}

	var out UploadResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload/url", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Documents lists the tenant's documents, newest first.
func (c *Client) Documents(ctx context.Context, tenantID string) ([]Document, error) {
	q := url.Values{}
	if tenant := c.tenant(tenantID); tenant != "" {
		q.Set("tenant_id", tenant)
	}

	var out struct {
		Documents []Document `json:"documents"`
		Count     int        `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/documents", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// DownloadLink returns a short-lived presigned URL for a stored document.
func (c *Client) DownloadLink(ctx context.Context, tenantID string, documentID int64) (string, error) {
	q := url.Values{}
	if tenant := c.tenant(tenantID); tenant != "" {
		q.Set("tenant_id", tenant)
	}

	var out struct {
		URL string `json:"url"`
	}
	path := "/api/documents/" + strconv.FormatInt(documentID, 10) + "/download"
	if err := c.doJSON(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// DeleteDocument queues a document and its extracted graph data for
// deletion. Deleting an already deleting document is accepted and a no-op.
func (c *Client) DeleteDocument(ctx context.Context, tenantID string, documentID int64) error {
	q := url.Values{}
	if tenant := c.tenant(tenantID); tenant != "" {
		q.Set("tenant_id", tenant)
	}
	path := "/api/documents/" + strconv.FormatInt(documentID, 10)
	return c.doJSON(ctx, http.MethodDelete, path, q, nil, nil)
}
