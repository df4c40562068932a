package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/internal/storage"
	"github.com/meridian-hq/atlas/backend/pkg/ai"
	"github.com/meridian-hq/atlas/backend/pkg/leaselock"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	graphstorage "github.com/meridian-hq/atlas/backend/pkg/store/pgx"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
)

// inFlightStates are the pipeline states a document passes through between
// being claimed and completing.
var inFlightStates = map[string]bool{
	db.DocumentStateChunking:   true,
	db.DocumentStateExtracting: true,
	db.DocumentStateMerging:    true,
	db.DocumentStateDescribing: true,
}

// ProcessDeleteMessage removes one document and its graph contribution:
// wait out any still-running siblings from the same ingest batch, then
// under the tenant lease drop the document's units, prune entities and
// relationships that lose their last source, and regenerate descriptions
// for the survivors. The stored file is deleted last, best effort.
func ProcessDeleteMessage(
	ctx context.Context,
	s3Client *awss3.Client,
	aiClient ai.GraphAIClient,
	ch *amqp091.Channel,
	conn *pgxpool.Pool,
	msg string,
) error {
	data := new(DeleteMessage)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return err
	}
	if data.TenantID == "" || data.DocumentID == 0 {
		logger.Warn("[Queue] Dropping delete message without tenant or document")
		return nil
	}

	q := db.New(conn)

	document, err := q.GetDocument(ctx, data.TenantID, data.DocumentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			logger.Warn("[Queue] Document already deleted",
				"tenant", data.TenantID, "document_id", data.DocumentID)
			return nil
		}
		return err
	}

	// If the document's ingest batch is still running, its siblings hold
	// staged rows that reference shared entities. Let the batch settle
	// before pulling the document out from under it.
	if document.CorrelationID != nil && *document.CorrelationID != "" {
		for {
			counts, err := q.CountDocumentStates(ctx, data.TenantID, *document.CorrelationID)
			if err != nil {
				return fmt.Errorf("failed to check sibling documents before delete: %w", err)
			}
			inFlight := int64(0)
			for _, c := range counts {
				if inFlightStates[c.State] {
					inFlight += c.Count
				}
			}
			if inFlight == 0 {
				break
			}
			logger.Info("[Queue] Delete waiting for in-flight siblings",
				"tenant", data.TenantID, "document_id", data.DocumentID, "in_flight", inFlight)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}

	storageClient, err := graphstorage.NewGraphDBStorageWithConnection(ctx, conn, aiClient, []string{})
	if err != nil {
		return err
	}

	start := time.Now()
	lockClient := leaselock.New(conn)
	lease, err := lockClient.Acquire(ctx, "tenant:"+data.TenantID, leaselock.Options{
		TTL:         10 * time.Minute,
		RenewEvery:  4 * time.Minute,
		Wait:        true,
		TokenPrefix: fmt.Sprintf("delete/%s/", data.TenantID),
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()

	if err := storageClient.DeleteDocumentData(lease.Context, data.TenantID, data.DocumentID); err != nil {
		return err
	}

	logger.Info("[Queue] Delete and regenerate completed",
		"tenant", data.TenantID, "document_id", data.DocumentID,
		"duration_sec", time.Since(start).Seconds())

	if document.FileKey != "" {
		if err := storage.DeleteFile(ctx, s3Client, document.FileKey); err != nil {
			logger.Warn("[Queue] Failed to delete stored file", "file_key", document.FileKey, "err", err)
		}
	}

	event, _ := json.Marshal(map[string]any{
		"tenant_id":   data.TenantID,
		"document_id": data.DocumentID,
	})
	if pubErr := PublishTopic(ch, "documents.deleted", event); pubErr != nil {
		logger.Warn("[Queue] Failed to publish delete event", "err", pubErr)
	}

	return nil
}
