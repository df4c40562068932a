package timing

import (
	"context"

	"github.com/meridian-hq/atlas/backend/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Stat types recorded per pipeline step. Amount counts the documents a
// step processed, so the prediction scales by historical per-document
// cost.
const (
	StatChunk    = "chunk"
	StatExtract  = "extract"
	StatStage    = "stage"
	StatMerge    = "merge"
	StatDescribe = "describe"
)

// PipelineStats lists every recorded step in execution order.
var PipelineStats = []string{StatChunk, StatExtract, StatStage, StatMerge, StatDescribe}

func AddProcessingTime(
	ctx context.Context,
	tenantID, statType string,
	amount, durationMs int64,
	conn *pgxpool.Pool,
) error {
	q := db.New(conn)

	return q.AddProcessTime(ctx, db.AddProcessTimeParams{
		TenantID:   tenantID,
		StatType:   statType,
		Amount:     int32(amount),
		DurationMs: durationMs,
	})
}

func PredictProcessingTime(ctx context.Context, statType string, amount int64, conn *pgxpool.Pool) (int64, error) {
	q := db.New(conn)

	return q.PredictProcessTime(ctx, statType, amount)
}

// PredictPipelineTime estimates the full pipeline duration for amount items
// by summing the per-step estimates. Steps without history contribute zero.
func PredictPipelineTime(ctx context.Context, amount int64, conn *pgxpool.Pool) (int64, error) {
	q := db.New(conn)

	var total int64
	for _, statType := range PipelineStats {
		ms, err := q.PredictProcessTime(ctx, statType, amount)
		if err != nil {
			return 0, err
		}
		total += ms
	}
	return total, nil
}
