package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/meridian-hq/atlas/backend/pkg/store"
)

// EntitiesRequest filters the entity listing. Zero values are omitted and
// the server applies its defaults.
type EntitiesRequest struct {
	TenantID string
	Type     string
	Search   string
	Limit    int
}

// Entities lists extracted entities, most mentioned first.
func (c *Client) Entities(ctx context.Context, req EntitiesRequest) ([]store.EntityInfo, error) {
	q := url.Values{}
	if tenant := c.tenant(req.TenantID); tenant != "" {
		q.Set("tenant_id", tenant)
	}
	if req.Type != "" {
		q.Set("type", req.Type)
	}
	if req.Search != "" {
		q.Set("search", req.Search)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	var out struct {
		Entities []store.EntityInfo `json:"entities"`
		Count    int                `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/entities", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

// EntityNeighborhood returns the subgraph around a named entity up to the
// given depth (1 or 2; 0 means the server default). A missing entity
// surfaces as an APIError with status 404.
func (c *Client) EntityNeighborhood(ctx context.Context, name string, depth int) (*store.Neighborhood, error) {
	q := url.Values{}
	if tenant := c.tenant(""); tenant != "" {
		q.Set("tenant_id", tenant)
	}
	if depth > 0 {
		q.Set("depth", strconv.Itoa(depth))
	}

	var out store.Neighborhood
	path := "/api/entities/" + url.PathEscape(name) + "/neighborhood"
	if err := c.doJSON(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RelationshipsRequest filters the relationship listing.
type RelationshipsRequest struct {
	TenantID string
	Type     string
	Limit    int
}

// Relationships lists extracted relationships, strongest first.
func (c *Client) Relationships(ctx context.Context, req RelationshipsRequest) ([]store.RelationshipInfo, error) {
	q := url.Values{}
	if tenant := c.tenant(req.TenantID); tenant != "" {
		q.Set("tenant_id", tenant)
	}
	if req.Type != "" {
		q.Set("type", req.Type)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	var out struct {
		Relationships []store.RelationshipInfo `json:"relationships"`
		Count         int                      `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/relationships", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Relationships, nil
}

// GraphOverview returns the most connected part of the tenant graph for
// visualization, limited to at most limit nodes (0 means the server default).
func (c *Client) GraphOverview(ctx context.Context, limit int) (*store.GraphOverview, error) {
	q := url.Values{}
	if tenant := c.tenant(""); tenant != "" {
		q.Set("tenant_id", tenant)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out store.GraphOverview
	if err := c.doJSON(ctx, http.MethodGet, "/api/graph/overview", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns aggregate counts for the tenant graph.
func (c *Client) Stats(ctx context.Context) (*store.GraphStats, error) {
	q := url.Values{}
	if tenant := c.tenant(""); tenant != "" {
		q.Set("tenant_id", tenant)
	}

	var out store.GraphStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/stats", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
