package middleware

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/meridian-hq/atlas/backend/internal/auth"
)

func newTestContext(t *testing.T, app *App, authorization string) (*AppContext, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	return &AppContext{Context: e.NewContext(req, rec), App: app}, rec
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	app := &App{AuthSecret: []byte("test-secret")}
	cc, rec := newTestContext(t, app, "")

	called := false
	err := AuthMiddleware(func(c echo.Context) error {
		called = true
		return nil
	})(cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatal("next handler must not run without a token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_MasterKey(t *testing.T) {
	app := &App{AuthSecret: []byte("test-secret"), MasterAPIKey: "master-key", MasterUserID: 1}
	cc, rec := newTestContext(t, app, "Bearer master-key")

	if err := AuthMiddleware(okHandler)(cc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if cc.User == nil {
		t.Fatal("expected a user on the context")
	}
	if !cc.User.Master {
		t.Fatal("expected the master identity")
	}
	if cc.User.Role != auth.RoleAdmin {
		t.Fatalf("unexpected role: got %q want %q", cc.User.Role, auth.RoleAdmin)
	}
	if !reflect.DeepEqual(cc.User.Permissions, auth.AllPermissions) {
		t.Fatalf("unexpected permissions: got %v", cc.User.Permissions)
	}
}

func TestAuthMiddleware_LocalToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := auth.MintAccessToken(secret, "42", "dev@example.com", auth.RoleUser, "acme")
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	app := &App{AuthSecret: secret}
	cc, rec := newTestContext(t, app, "Bearer "+token)

	if err := AuthMiddleware(okHandler)(cc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	if cc.User == nil {
		t.Fatal("expected a user on the context")
	}
	if cc.User.UserID != 42 {
		t.Fatalf("unexpected user id: got %d want %d", cc.User.UserID, 42)
	}
	if cc.User.Email != "dev@example.com" {
		t.Fatalf("unexpected email: %q", cc.User.Email)
	}
	if cc.User.TenantID != "acme" {
		t.Fatalf("unexpected tenant: %q", cc.User.TenantID)
	}
	if cc.User.Master {
		t.Fatal("local token must not yield the master identity")
	}
	if !reflect.DeepEqual(cc.User.Permissions, auth.PermissionsForRole(auth.RoleUser)) {
		t.Fatalf("unexpected permissions: got %v", cc.User.Permissions)
	}
}

func TestAuthMiddleware_RejectsForeignSignature(t *testing.T) {
	token, err := auth.MintAccessToken([]byte("other-secret"), "42", "dev@example.com", auth.RoleUser, "acme")
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	app := &App{AuthSecret: []byte("test-secret")}
	cc, rec := newTestContext(t, app, "Bearer "+token)

	if err := AuthMiddleware(okHandler)(cc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusUnauthorized)
	}
	if cc.User != nil {
		t.Fatal("invalid token must not set a user")
	}
}

func TestAuthMiddleware_RejectsRefreshToken(t *testing.T) {
	secret := []byte("test-secret")
	refresh, _, _, err := auth.MintRefreshToken(secret, "42")
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	app := &App{AuthSecret: secret}
	cc, rec := newTestContext(t, app, "Bearer "+refresh)

	if err := AuthMiddleware(okHandler)(cc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusUnauthorized)
	}
}
