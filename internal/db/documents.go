package db

import "context"

const createDocumentSQL = `
INSERT INTO documents (tenant_id, public_id, name, file_key, source, source_url, size_bytes, metadata, state, correlation_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)
RETURNING id, tenant_id, public_id, name, file_key, source, source_url, size_bytes, metadata, state, error, correlation_id, created_at, updated_at
`

const getDocumentSQL = `
SELECT id, tenant_id, public_id, name, file_key, source, source_url, size_bytes, metadata, state, error, correlation_id, created_at, updated_at
FROM documents
WHERE tenant_id = $1 AND id = $2
`

const listDocumentsSQL = `
SELECT id, tenant_id, public_id, name, file_key, source, source_url, size_bytes, metadata, state, error, correlation_id, created_at, updated_at
FROM documents
WHERE tenant_id = $1
ORDER BY created_at DESC, id DESC
`

// The claim only succeeds on a pending document, so two workers racing on
// the same message settle on one owner via pgx.ErrNoRows for the loser.
const tryStartDocumentProcessingSQL = `
UPDATE documents
SET state = 'chunking', error = NULL, updated_at = now()
WHERE tenant_id = $1 AND id = $2 AND state = 'pending'
RETURNING id, tenant_id, public_id, name, file_key, source, source_url, size_bytes, metadata, state, error, correlation_id, created_at, updated_at
`

const setDocumentStateSQL = `
UPDATE documents
SET state = $3, updated_at = now()
WHERE tenant_id = $1 AND id = $2
`

const setDocumentFailedSQL = `
UPDATE documents
SET state = 'failed', error = $3, updated_at = now()
WHERE tenant_id = $1 AND id = $2
`

const countDocumentStatesSQL = `
SELECT state, COUNT(*)
FROM documents
WHERE tenant_id = $1 AND ($2 = '' OR correlation_id = $2)
GROUP BY state
`

const resetDocumentsToPendingSQL = `
UPDATE documents
SET state = 'pending', error = NULL, updated_at = now()
WHERE tenant_id = $1 AND id = ANY($2::bigint[]) AND state NOT IN ('completed', 'deleting')
`

const getStaleDocumentsSQL = `
SELECT id, tenant_id, public_id, name, file_key, source, source_url, size_bytes, metadata, state, error, correlation_id, created_at, updated_at
FROM documents
WHERE state IN ('chunking', 'extracting', 'merging', 'describing')
	AND updated_at < now() - interval '30 minutes'
ORDER BY tenant_id, correlation_id, id
`

type CreateDocumentParams struct {
	TenantID      string
	PublicID      string
	Name          string
	FileKey       string
	Source        string
	SourceURL     *string
	SizeBytes     int64
	Metadata      *string
	CorrelationID string
}

type DocumentStateCount struct {
	State string
	Count int64
}

func scanDocument(row interface{ Scan(dest ...any) error }) (Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.TenantID, &d.PublicID, &d.Name, &d.FileKey,
		&d.Source, &d.SourceURL, &d.SizeBytes, &d.Metadata,
		&d.State, &d.Error, &d.CorrelationID, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (q *Queries) CreateDocument(ctx context.Context, params CreateDocumentParams) (Document, error) {
	return scanDocument(q.db.QueryRow(ctx, createDocumentSQL,
		params.TenantID, params.PublicID, params.Name, params.FileKey,
		params.Source, params.SourceURL, params.SizeBytes, params.Metadata,
		params.CorrelationID,
	))
}

func (q *Queries) GetDocument(ctx context.Context, tenantID string, id int64) (Document, error) {
	return scanDocument(q.db.QueryRow(ctx, getDocumentSQL, tenantID, id))
}

func (q *Queries) ListDocuments(ctx context.Context, tenantID string) ([]Document, error) {
	rows, err := q.db.Query(ctx, listDocumentsSQL, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	documents := make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		documents = append(documents, d)
	}
	return documents, rows.Err()
}

// TryStartDocumentProcessing claims a pending document for the pipeline.
// Returns pgx.ErrNoRows when another worker already claimed it or the
// document is gone.
func (q *Queries) TryStartDocumentProcessing(ctx context.Context, tenantID string, id int64) (Document, error) {
	return scanDocument(q.db.QueryRow(ctx, tryStartDocumentProcessingSQL, tenantID, id))
}

func (q *Queries) SetDocumentState(ctx context.Context, tenantID string, id int64, state string) error {
	_, err := q.db.Exec(ctx, setDocumentStateSQL, tenantID, id, state)
	return err
}

func (q *Queries) SetDocumentFailed(ctx context.Context, tenantID string, id int64, errMsg string) error {
	_, err := q.db.Exec(ctx, setDocumentFailedSQL, tenantID, id, errMsg)
	return err
}

// ResetDocumentsToPending puts in-flight or failed documents back into the
// pending state so a retried ingest message can reclaim them. Completed and
// deleting documents are left alone.
func (q *Queries) ResetDocumentsToPending(ctx context.Context, tenantID string, ids []int64) error {
	_, err := q.db.Exec(ctx, resetDocumentsToPendingSQL, tenantID, ids)
	return err
}

// GetStaleDocuments lists documents that have sat in an in-flight state for
// over 30 minutes, which happens when a worker dies between claiming a
// document and acking the message.
func (q *Queries) GetStaleDocuments(ctx context.Context) ([]Document, error) {
	rows, err := q.db.Query(ctx, getStaleDocumentsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	documents := make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		documents = append(documents, d)
	}
	return documents, rows.Err()
}

// CountDocumentStates tallies documents per pipeline state for a tenant,
// optionally narrowed to one ingest batch via its correlation id.
func (q *Queries) CountDocumentStates(ctx context.Context, tenantID, correlationID string) ([]DocumentStateCount, error) {
	rows, err := q.db.Query(ctx, countDocumentStatesSQL, tenantID, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]DocumentStateCount, 0)
	for rows.Next() {
		var c DocumentStateCount
		if err := rows.Scan(&c.State, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
