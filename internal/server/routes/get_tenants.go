package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

// GetTenantsHandler lists tenants with usage counts. Admins see every
// tenant; everyone else sees only their own.
func GetTenantsHandler(c echo.Context) error {
	type tenantsResponse struct {
		Tenants []db.TenantStatsRow `json:"tenants"`
		Count   int                 `json:"count"`
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	filter := ""
	if !middleware.IsAdmin(user) {
		filter = user.TenantID
	}

	ctx := c.Request().Context()
	q := db.New(c.(*middleware.AppContext).App.DBConn)

	tenants, err := q.ListTenantStats(ctx, filter)
	if err != nil {
		logger.Error("Failed to list tenants", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, tenantsResponse{Tenants: tenants, Count: len(tenants)})
}
