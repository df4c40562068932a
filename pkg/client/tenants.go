package client

import (
	"context"
	"net/http"
	"time"
)

// Tenant mirrors the server's tenant representation.
type Tenant struct {
	ID        string    `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TenantStats is a tenant with its user and document counts.
type TenantStats struct {
	Tenant
	Users     int64 `json:"users"`
	Documents int64 `json:"documents"`
}

// CreateTenant provisions a new tenant. Requires tenant management
// permission; the id must be 3-50 word characters.
func (c *Client) CreateTenant(ctx context.Context, id, name string) (*Tenant, error) {
	var out struct {
		Message string  `json:"message"`
		Tenant  *Tenant `json:"tenant"`
	}
	body := map[string]string{"tenant_id": id, "name": name}
	if err := c.doJSON(ctx, http.MethodPost, "/api/tenants", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Tenant, nil
}

// Tenants lists tenants with usage counts. Admins see all tenants, other
// roles only their own.
func (c *Client) Tenants(ctx context.Context) ([]TenantStats, error) {
	var out struct {
		Tenants []TenantStats `json:"tenants"`
		Count   int           `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/tenants", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Tenants, nil
}
