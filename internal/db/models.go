package db

import "time"

// Document pipeline states. A document moves pending → chunking → extracting
// → merging → describing → completed, or lands in failed with an error
// message. Deletion marks it deleting until the worker has removed its data.
const (
	DocumentStatePending    = "pending"
	DocumentStateChunking   = "chunking"
	DocumentStateExtracting = "extracting"
	DocumentStateMerging    = "merging"
	DocumentStateDescribing = "describing"
	DocumentStateCompleted  = "completed"
	DocumentStateFailed     = "failed"
	DocumentStateDeleting   = "deleting"
)

// Document ingest sources.
const (
	DocumentSourceUpload = "upload"
	DocumentSourceURL    = "url"
)

type User struct {
	ID           int64     `json:"user_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	TenantID     string    `json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
}

type Tenant struct {
	ID        string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type RefreshToken struct {
	ID        int64     `json:"id"`
	TokenHash string    `json:"-"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

type Document struct {
	ID            int64     `json:"document_id"`
	TenantID      string    `json:"tenant_id"`
	PublicID      string    `json:"public_id"`
	Name          string    `json:"filename"`
	FileKey       string    `json:"-"`
	Source        string    `json:"source"`
	SourceURL     *string   `json:"source_url,omitempty"`
	SizeBytes     int64     `json:"size_bytes"`
	Metadata      *string   `json:"metadata,omitempty"`
	State         string    `json:"status"`
	Error         *string   `json:"error,omitempty"`
	CorrelationID *string   `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"-"`
}
