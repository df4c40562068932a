package middleware

import (
	"errors"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/meridian-hq/atlas/backend/internal/auth"
)

func TestResolveTenant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		user      *AppUser
		requested string
		want      string
		wantErr   error
	}{
		{
			name:    "nil user rejected",
			user:    nil,
			wantErr: ErrTenantForbidden,
		},
		{
			name: "own tenant implied",
			user: &AppUser{Role: auth.RoleUser, TenantID: "acme"},
			want: "acme",
		},
		{
			name:      "own tenant requested",
			user:      &AppUser{Role: auth.RoleUser, TenantID: "acme"},
			requested: "acme",
			want:      "acme",
		},
		{
			name:      "foreign tenant rejected",
			user:      &AppUser{Role: auth.RoleUser, TenantID: "acme"},
			requested: "globex",
			wantErr:   ErrTenantForbidden,
		},
		{
			name:      "admin reaches any tenant",
			user:      &AppUser{Role: auth.RoleAdmin, TenantID: "ops"},
			requested: "globex",
			want:      "globex",
		},
		{
			name:    "admin without tenant must request one",
			user:    &AppUser{Role: auth.RoleAdmin},
			wantErr: ErrTenantRequired,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveTenant(tc.user, tc.requested)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("unexpected error: got %v want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected tenant: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestCanAccessTenant(t *testing.T) {
	t.Parallel()

	admin := &AppUser{Role: auth.RoleAdmin, TenantID: "ops"}
	user := &AppUser{Role: auth.RoleUser, TenantID: "acme"}

	if !CanAccessTenant(admin, "globex") {
		t.Fatal("admin must reach foreign tenants")
	}
	if !CanAccessTenant(user, "acme") {
		t.Fatal("user must reach their own tenant")
	}
	if CanAccessTenant(user, "globex") {
		t.Fatal("user must not reach foreign tenants")
	}
	if CanAccessTenant(nil, "acme") {
		t.Fatal("nil user must not reach any tenant")
	}
}

func TestRequirePermission(t *testing.T) {
	app := &App{}

	tests := []struct {
		name       string
		user       *AppUser
		permission string
		wantStatus int
	}{
		{
			name:       "no user",
			user:       nil,
			permission: auth.PermissionGraphView,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing permission",
			user:       &AppUser{Permissions: []string{auth.PermissionGraphQuery}},
			permission: auth.PermissionTenantManage,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "granted permission",
			user:       &AppUser{Permissions: []string{auth.PermissionGraphView}},
			permission: auth.PermissionGraphView,
			wantStatus: http.StatusOK,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cc, rec := newTestContext(t, app, "")
			cc.User = tc.user

			handler := RequirePermission(tc.permission)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})
			if err := handler(cc); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tc.wantStatus {
				t.Fatalf("unexpected status: got %d want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestHasAnyPermission(t *testing.T) {
	t.Parallel()

	user := &AppUser{Permissions: []string{auth.PermissionGraphView}}
	if !HasAnyPermission(user, auth.PermissionTenantManage, auth.PermissionGraphView) {
		t.Fatal("expected a match on the second permission")
	}
	if HasAnyPermission(user, auth.PermissionTenantManage, auth.PermissionUserManage) {
		t.Fatal("expected no match")
	}
	if HasAnyPermission(nil, auth.PermissionGraphView) {
		t.Fatal("nil user must have no permissions")
	}
}
