package routes

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

// MeHandler returns the authenticated identity. The database row wins over
// token claims when it exists; master-key and external-IdP identities answer
// from the claims alone.
func MeHandler(c echo.Context) error {
	type meResponse struct {
		UserID      int64    `json:"user_id"`
		Email       string   `json:"email"`
		Name        string   `json:"name"`
		Role        string   `json:"role"`
		TenantID    string   `json:"tenant_id"`
		Permissions []string `json:"permissions"`
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	resp := meResponse{
		UserID:      user.UserID,
		Email:       user.Email,
		Role:        user.Role,
		TenantID:    user.TenantID,
		Permissions: user.Permissions,
	}
	if user.Master {
		resp.Name = "master"
		return c.JSON(http.StatusOK, resp)
	}

	ctx := c.Request().Context()
	q := db.New(c.(*middleware.AppContext).App.DBConn)

	row, err := q.GetUserByID(ctx, user.UserID)
	switch {
	case err == nil:
		resp.Email = row.Email
		resp.Name = row.Name
		resp.Role = row.Role
		resp.TenantID = row.TenantID
	case errors.Is(err, pgx.ErrNoRows):
		// No local row for external-IdP identities; claims are authoritative.
	default:
		logger.Error("Failed to load user", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, resp)
}
