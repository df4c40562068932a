package db

import "context"

const addProcessTimeSQL = `
INSERT INTO process_times (tenant_id, stat_type, amount, duration_ms)
VALUES ($1, $2, $3, $4)
`

// Prediction extrapolates from the per-item cost of the most recent runs,
// across all tenants, so a fresh tenant still gets an estimate.
const predictProcessTimeSQL = `
SELECT COALESCE(CEIL(AVG(duration_ms::float8 / GREATEST(amount, 1)) * $2), 0)::bigint
FROM (
	SELECT duration_ms, amount
	FROM process_times
	WHERE stat_type = $1
	ORDER BY created_at DESC
	LIMIT 50
) recent
`

type AddProcessTimeParams struct {
	TenantID   string
	StatType   string
	Amount     int32
	DurationMs int64
}

func (q *Queries) AddProcessTime(ctx context.Context, params AddProcessTimeParams) error {
	_, err := q.db.Exec(ctx, addProcessTimeSQL,
		params.TenantID, params.StatType, params.Amount, params.DurationMs)
	return err
}

// PredictProcessTime estimates how long amount items of statType will take,
// in milliseconds. Returns 0 when no history exists yet.
func (q *Queries) PredictProcessTime(ctx context.Context, statType string, amount int64) (int64, error) {
	var ms int64
	err := q.db.QueryRow(ctx, predictProcessTimeSQL, statType, amount).Scan(&ms)
	return ms, err
}
