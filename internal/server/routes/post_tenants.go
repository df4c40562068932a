package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/internal/validate"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

// CreateTenantHandler provisions a new tenant. Graph data, documents, and
// users are isolated per tenant, so this is an admin-only operation.
func CreateTenantHandler(c echo.Context) error {
	type createTenantBody struct {
		TenantID string `json:"tenant_id" validate:"required,tenant_id"`
		Name     string `json:"name" validate:"required"`
	}
	type createTenantResponse struct {
		Message string     `json:"message"`
		Tenant  *db.Tenant `json:"tenant"`
	}

	data := new(createTenantBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	q := db.New(c.(*middleware.AppContext).App.DBConn)

	tenant, err := q.CreateTenant(ctx, db.CreateTenantParams{
		ID:   data.TenantID,
		Name: validate.SanitizeText(data.Name, 100),
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "Tenant already exists"})
		}
		logger.Error("Failed to create tenant", "tenant", data.TenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusCreated, createTenantResponse{
		Message: "Tenant created successfully",
		Tenant:  &tenant,
	})
}
