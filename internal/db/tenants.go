package db

import "context"

const createTenantSQL = `
INSERT INTO tenants (id, name)
VALUES ($1, $2)
RETURNING id, name, created_at
`

const getTenantSQL = `
SELECT id, name, created_at
FROM tenants
WHERE id = $1
`

const listTenantStatsSQL = `
SELECT t.id, t.name, t.created_at,
	(SELECT COUNT(*) FROM users u WHERE u.tenant_id = t.id),
	(SELECT COUNT(*) FROM documents d WHERE d.tenant_id = t.id)
FROM tenants t
WHERE $1 = '' OR t.id = $1
ORDER BY t.id
`

type CreateTenantParams struct {
	ID   string
	Name string
}

// TenantStatsRow is a tenant plus its user and document counts.
type TenantStatsRow struct {
	Tenant
	Users     int64 `json:"users"`
	Documents int64 `json:"documents"`
}

func (q *Queries) CreateTenant(ctx context.Context, params CreateTenantParams) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx, createTenantSQL, params.ID, params.Name).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	return t, err
}

func (q *Queries) GetTenant(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	err := q.db.QueryRow(ctx, getTenantSQL, id).Scan(&t.ID, &t.Name, &t.CreatedAt)
	return t, err
}

// ListTenantStats returns every tenant with usage counts, or just one when
// tenantID is non-empty.
func (q *Queries) ListTenantStats(ctx context.Context, tenantID string) ([]TenantStatsRow, error) {
	rows, err := q.db.Query(ctx, listTenantStatsSQL, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]TenantStatsRow, 0)
	for rows.Next() {
		var row TenantStatsRow
		if err := rows.Scan(&row.ID, &row.Name, &row.CreatedAt, &row.Users, &row.Documents); err != nil {
			return nil, err
		}
		stats = append(stats, row)
	}
	return stats, rows.Err()
}
