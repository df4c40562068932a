package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
)

// RecoverStaleDocuments resets documents stuck in an in-flight state and
// republishes their ingest messages. A document goes stale when a worker
// dies between claiming it and acking the message: the redelivered message
// finds no pending documents and drops through, so without this sweep the
// document would sit in chunking forever. Runs once at worker startup.
func RecoverStaleDocuments(
	ctx context.Context,
	ch *amqp091.Channel,
	conn *pgxpool.Pool,
) error {
	q := db.New(conn)

	staleDocuments, err := q.GetStaleDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stale documents: %w", err)
	}

	if len(staleDocuments) == 0 {
		logger.Debug("[Queue] No stale documents found")
		return nil
	}

	logger.Info("[Queue] Found stale documents", "count", len(staleDocuments))

	// Stale documents are ordered by tenant and correlation id, so one pass
	// rebuilds the original ingest batches.
	type batchKey struct {
		tenantID      string
		correlationID string
	}
	batches := make(map[batchKey][]int64)
	order := make([]batchKey, 0)
	for _, document := range staleDocuments {
		correlationID := ""
		if document.CorrelationID != nil {
			correlationID = *document.CorrelationID
		}
		key := batchKey{tenantID: document.TenantID, correlationID: correlationID}
		if _, ok := batches[key]; !ok {
			order = append(order, key)
		}
		batches[key] = append(batches[key], document.ID)
	}

	for _, key := range order {
		ids := batches[key]

		if err := q.ResetDocumentsToPending(ctx, key.tenantID, ids); err != nil {
			logger.Error("[Queue] Failed to reset stale documents",
				"tenant", key.tenantID, "correlation_id", key.correlationID, "err", err)
			continue
		}

		msgBytes, err := json.Marshal(IngestMessage{
			CorrelationID: key.correlationID,
			TenantID:      key.tenantID,
			DocumentIDs:   ids,
		})
		if err != nil {
			logger.Error("[Queue] Failed to marshal recovery message",
				"tenant", key.tenantID, "correlation_id", key.correlationID, "err", err)
			continue
		}

		if err := PublishFIFO(ch, IngestQueue, msgBytes); err != nil {
			logger.Error("[Queue] Failed to republish stale documents",
				"tenant", key.tenantID, "correlation_id", key.correlationID, "err", err)
			continue
		}

		logger.Info("[Queue] Recovered stale documents",
			"tenant", key.tenantID, "correlation_id", key.correlationID, "documents", len(ids))
	}

	return nil
}

// ResetDocumentsForRetry puts the documents of a failed ingest message back
// into the pending state so the retried message can reclaim them. Delete
// messages carry no claim, so they need no reset.
func ResetDocumentsForRetry(
	ctx context.Context,
	conn *pgxpool.Pool,
	queueName string,
	msgBody []byte,
) {
	if queueName != IngestQueue {
		return
	}

	var data IngestMessage
	if err := json.Unmarshal(msgBody, &data); err != nil {
		return
	}
	if data.TenantID == "" || len(data.DocumentIDs) == 0 {
		return
	}

	q := db.New(conn)
	if err := q.ResetDocumentsToPending(ctx, data.TenantID, data.DocumentIDs); err != nil {
		logger.Warn("[Queue] Failed to reset documents for retry",
			"tenant", data.TenantID, "correlation_id", data.CorrelationID, "err", err)
	}
}
