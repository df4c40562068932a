package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/meridian-hq/atlas/backend/internal/auth"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware authenticates the request from its bearer token. The master
// API key short-circuits as an admin identity with every permission; anything
// else is verified as a JWT, against the JWKS keyset when one is configured
// and the local secret otherwise.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		app := c.(*AppContext).App

		if app.MasterAPIKey != "" && token == app.MasterAPIKey {
			c.(*AppContext).User = &AppUser{
				UserID:      app.MasterUserID,
				Role:        auth.RoleAdmin,
				Permissions: auth.AllPermissions,
				Master:      true,
			}
			return next(c)
		}

		var claims *auth.Claims
		var err error
		if app.Key != nil {
			claims, err = auth.VerifyToken(token, (*app.Key).Keyfunc)
		} else {
			claims, err = auth.VerifyAccessToken(app.AuthSecret, token)
		}
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		userID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid user ID"})
		}

		role := claims.Role
		if role == "" {
			role = auth.RoleUser
		}
		permissions := claims.Permissions
		if len(permissions) == 0 {
			permissions = auth.PermissionsForRole(role)
		}

		c.(*AppContext).User = &AppUser{
			UserID:      userID,
			Email:       claims.Email,
			Role:        role,
			TenantID:    claims.TenantID,
			Permissions: permissions,
		}

		return next(c)
	}
}
