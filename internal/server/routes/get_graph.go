package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
	"github.com/meridian-hq/atlas/backend/pkg/store"
	graphstorage "github.com/meridian-hq/atlas/backend/pkg/store/pgx"
)

// newGraphStorage builds a storage client for plain graph reads, which need
// no query messages and no tracer.
func newGraphStorage(c echo.Context) (*graphstorage.GraphDBStorage, error) {
	app := c.(*middleware.AppContext).App
	return graphstorage.NewGraphDBStorageWithConnection(c.Request().Context(), app.DBConn, app.AiClient, nil)
}

// GetEntitiesHandler lists a tenant's entities ordered by mention count.
func GetEntitiesHandler(c echo.Context) error {
	type entitiesQuery struct {
		TenantID string `query:"tenant_id"`
		Type     string `query:"type"`
		Search   string `query:"search"`
		Limit    int    `query:"limit" validate:"omitempty,min=1,max=500"`
	}
	type entitiesResponse struct {
		Entities []store.EntityInfo `json:"entities"`
		Count    int                `json:"count"`
	}

	data := new(entitiesQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	tenantID, err := middleware.ResolveTenant(user, data.TenantID)
	if err != nil {
		if errors.Is(err, middleware.ErrTenantForbidden) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Tenant id required"})
	}

	storageClient, err := newGraphStorage(c)
	if err != nil {
		logger.Error("Failed to create graph storage", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	entities, err := storageClient.GetEntities(c.Request().Context(), tenantID, store.EntityFilter{
		Type:   data.Type,
		Search: data.Search,
		Limit:  data.Limit,
	})
	if err != nil {
		logger.Error("Failed to list entities", "tenant", tenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, entitiesResponse{Entities: entities, Count: len(entities)})
}

// GetEntityNeighborhoodHandler returns the subgraph around one entity up to
// the requested depth.
func GetEntityNeighborhoodHandler(c echo.Context) error {
	type neighborhoodQuery struct {
		Name     string `param:"name" validate:"required"`
		TenantID string `query:"tenant_id"`
		Depth    int    `query:"depth" validate:"omitempty,min=1,max=2"`
	}

	data := new(neighborhoodQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	tenantID, err := middleware.ResolveTenant(user, data.TenantID)
	if err != nil {
		if errors.Is(err, middleware.ErrTenantForbidden) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Tenant id required"})
	}

	depth := data.Depth
	if depth == 0 {
		depth = 2
	}

	storageClient, err := newGraphStorage(c)
	if err != nil {
		logger.Error("Failed to create graph storage", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	neighborhood, err := storageClient.GetEntityNeighborhood(c.Request().Context(), tenantID, data.Name, depth)
	if err != nil {
		if errors.Is(err, store.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
		}
		logger.Error("Failed to load entity neighborhood", "tenant", tenantID, "entity", data.Name, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, neighborhood)
}

// GetRelationshipsHandler lists a tenant's relationships ordered by strength.
func GetRelationshipsHandler(c echo.Context) error {
	type relationshipsQuery struct {
		TenantID string `query:"tenant_id"`
		Type     string `query:"type"`
		Limit    int    `query:"limit" validate:"omitempty,min=1,max=500"`
	}
	type relationshipsResponse struct {
		Relationships []store.RelationshipInfo `json:"relationships"`
		Count         int                      `json:"count"`
	}

	data := new(relationshipsQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	tenantID, err := middleware.ResolveTenant(user, data.TenantID)
	if err != nil {
		if errors.Is(err, middleware.ErrTenantForbidden) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Tenant id required"})
	}

	storageClient, err := newGraphStorage(c)
	if err != nil {
		logger.Error("Failed to create graph storage", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	relationships, err := storageClient.GetRelationships(c.Request().Context(), tenantID, store.RelationshipFilter{
		Type:  data.Type,
		Limit: data.Limit,
	})
	if err != nil {
		logger.Error("Failed to list relationships", "tenant", tenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, relationshipsResponse{Relationships: relationships, Count: len(relationships)})
}

// GetGraphOverviewHandler returns the most-mentioned nodes, the edges between
// them, and the tenant's graph stats in one response.
func GetGraphOverviewHandler(c echo.Context) error {
	type overviewQuery struct {
		TenantID string `query:"tenant_id"`
		Limit    int    `query:"limit" validate:"omitempty,min=1,max=200"`
	}

	data := new(overviewQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	tenantID, err := middleware.ResolveTenant(user, data.TenantID)
	if err != nil {
		if errors.Is(err, middleware.ErrTenantForbidden) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Tenant id required"})
	}

	storageClient, err := newGraphStorage(c)
	if err != nil {
		logger.Error("Failed to create graph storage", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	overview, err := storageClient.GetGraphOverview(c.Request().Context(), tenantID, data.Limit)
	if err != nil {
		logger.Error("Failed to load graph overview", "tenant", tenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, overview)
}

// GetStatsHandler returns the tenant's graph counts.
func GetStatsHandler(c echo.Context) error {
	type statsQuery struct {
		TenantID string `query:"tenant_id"`
	}

	data := new(statsQuery)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	tenantID, err := middleware.ResolveTenant(user, data.TenantID)
	if err != nil {
		if errors.Is(err, middleware.ErrTenantForbidden) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Tenant id required"})
	}

	storageClient, err := newGraphStorage(c)
	if err != nil {
		logger.Error("Failed to create graph storage", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	stats, err := storageClient.GetGraphStats(c.Request().Context(), tenantID)
	if err != nil {
		logger.Error("Failed to load graph stats", "tenant", tenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, stats)
}
