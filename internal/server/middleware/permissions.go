package middleware

import (
	"errors"
	"net/http"
	"slices"

	"github.com/meridian-hq/atlas/backend/internal/auth"

	"github.com/labstack/echo/v4"
)

// ErrTenantRequired is returned by ResolveTenant when no tenant can be
// derived for the request.
var ErrTenantRequired = errors.New("tenant id is required")

// ErrTenantForbidden is returned by ResolveTenant when the user requested a
// tenant they cannot access.
var ErrTenantForbidden = errors.New("access to this tenant is forbidden")

// HasPermission reports whether the user carries the given permission.
func HasPermission(user *AppUser, permission string) bool {
	return user != nil && slices.Contains(user.Permissions, permission)
}

// HasAnyPermission reports whether the user carries at least one of the
// given permissions.
func HasAnyPermission(user *AppUser, permissions ...string) bool {
	return slices.ContainsFunc(permissions, func(p string) bool {
		return HasPermission(user, p)
	})
}

// IsAdmin reports whether the user holds the admin role.
func IsAdmin(user *AppUser) bool {
	return user != nil && user.Role == auth.RoleAdmin
}

// CanAccessTenant reports whether the user may operate on the tenant.
// Admins (the master key identity included) reach every tenant; everyone
// else is confined to their own.
func CanAccessTenant(user *AppUser, tenantID string) bool {
	return user != nil && (IsAdmin(user) || user.TenantID == tenantID)
}

// ResolveTenant picks the tenant a request operates on: the explicitly
// requested one if the user may access it, falling back to the user's own.
// Admin identities without a tenant of their own must request one.
func ResolveTenant(user *AppUser, requested string) (string, error) {
	if user == nil {
		return "", ErrTenantForbidden
	}
	if requested != "" {
		if !CanAccessTenant(user, requested) {
			return "", ErrTenantForbidden
		}
		return requested, nil
	}
	if user.TenantID == "" {
		return "", ErrTenantRequired
	}
	return user.TenantID, nil
}

// requireUser wraps a handler so it only runs for an authenticated user
// passing the check. Anonymous requests get 401, failed checks get 403 with
// the denied message.
func requireUser(check func(user *AppUser) bool, denied string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			switch {
			case user == nil:
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			case !check(user):
				return c.JSON(http.StatusForbidden, map[string]string{"error": denied})
			default:
				return next(c)
			}
		}
	}
}

// RequirePermission rejects requests whose user lacks the permission.
func RequirePermission(permission string) echo.MiddlewareFunc {
	return requireUser(func(user *AppUser) bool {
		return HasPermission(user, permission)
	}, "Forbidden: missing permission "+permission)
}

// RequireAnyPermission rejects requests whose user holds none of the
// given permissions.
func RequireAnyPermission(permissions ...string) echo.MiddlewareFunc {
	return requireUser(func(user *AppUser) bool {
		return HasAnyPermission(user, permissions...)
	}, "Forbidden: missing required permission")
}
