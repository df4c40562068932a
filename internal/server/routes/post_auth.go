package routes

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/meridian-hq/atlas/backend/internal/auth"
	"github.com/meridian-hq/atlas/backend/internal/db"
	"github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/internal/validate"
	"github.com/meridian-hq/atlas/backend/pkg/logger"
)

type tokenResponse struct {
	User         *db.User `json:"user"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
}

// issueTokens mints an access/refresh pair for the user and persists the
// refresh token hash so it can be rotated and revoked later.
func issueTokens(ctx context.Context, q *db.Queries, secret []byte, user db.User) (tokenResponse, error) {
	pair, err := auth.MintTokenPair(secret, strconv.FormatInt(user.ID, 10), user.Email, user.Role, user.TenantID)
	if err != nil {
		return tokenResponse{}, err
	}
	if _, err := q.CreateRefreshToken(ctx, db.CreateRefreshTokenParams{
		TokenHash: auth.HashToken(pair.RefreshToken),
		UserID:    user.ID,
		ExpiresAt: pair.RefreshExpiresAt,
	}); err != nil {
		return tokenResponse{}, err
	}

	return tokenResponse{
		User:         &user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// RegisterHandler creates a new user account in the requested tenant and
// signs it in. Accounts always start with the user role; admins are
// provisioned out of band.
func RegisterHandler(c echo.Context) error {
	type registerBody struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
		Name     string `json:"name" validate:"required"`
		TenantID string `json:"tenant_id"`
	}

	data := new(registerBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	email := strings.ToLower(strings.TrimSpace(data.Email))
	if !validate.Email(email) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid email address"})
	}
	if issues := validate.Password(data.Password); len(issues) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": strings.Join(issues, ". ")})
	}

	tenantID := data.TenantID
	if tenantID == "" {
		tenantID = "default"
	}
	if !validate.TenantID(tenantID) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid tenant id"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	q := db.New(app.DBConn)

	if _, err := q.GetTenant(ctx, tenantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unknown tenant"})
		}
		logger.Error("Failed to load tenant", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	hash, err := auth.HashPassword(data.Password)
	if err != nil {
		logger.Error("Failed to hash password", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	user, err := q.CreateUser(ctx, db.CreateUserParams{
		Email:        email,
		PasswordHash: hash,
		Name:         validate.SanitizeText(data.Name, 100),
		Role:         auth.RoleUser,
		TenantID:     tenantID,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "Email is already registered"})
		}
		logger.Error("Failed to create user", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	resp, err := issueTokens(ctx, q, app.AuthSecret, user)
	if err != nil {
		logger.Error("Failed to issue tokens", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusCreated, resp)
}

// LoginHandler exchanges email and password for a token pair. Unknown email
// and wrong password produce the same response.
func LoginHandler(c echo.Context) error {
	type loginBody struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	data := new(loginBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	q := db.New(app.DBConn)

	user, err := q.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(data.Email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		logger.Error("Failed to load user", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if !auth.CheckPassword(user.PasswordHash, data.Password) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
	}

	resp, err := issueTokens(ctx, q, app.AuthSecret, user)
	if err != nil {
		logger.Error("Failed to issue tokens", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, resp)
}

// RefreshTokenHandler rotates a refresh token: the presented token is
// revoked and a new pair is minted. A replayed, expired, or revoked token
// gets a 401.
func RefreshTokenHandler(c echo.Context) error {
	type refreshBody struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	data := new(refreshBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	q := db.New(app.DBConn)

	claims, err := auth.VerifyRefreshToken(app.AuthSecret, data.RefreshToken)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid refresh token"})
	}

	// Single use: revoking the presented token is the replay check. A token
	// that exists but was already revoked has been replayed, so the user's
	// remaining sessions are revoked too.
	tokenHash := auth.HashToken(data.RefreshToken)
	if err := q.RevokeRefreshToken(ctx, tokenHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if stored, lookupErr := q.GetRefreshToken(ctx, tokenHash); lookupErr == nil && stored.Revoked {
				logger.Warn("Replayed refresh token, revoking user sessions", "user_id", stored.UserID)
				if revokeErr := q.RevokeUserRefreshTokens(ctx, stored.UserID); revokeErr != nil {
					logger.Error("Failed to revoke user refresh tokens", "err", revokeErr)
				}
			}
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid refresh token"})
		}
		logger.Error("Failed to revoke refresh token", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid refresh token"})
	}
	user, err := q.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid refresh token"})
		}
		logger.Error("Failed to load user", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	resp, err := issueTokens(ctx, q, app.AuthSecret, user)
	if err != nil {
		logger.Error("Failed to issue tokens", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, resp)
}

// LogoutHandler revokes the presented refresh token. Revoking a token that
// is already gone still succeeds.
func LogoutHandler(c echo.Context) error {
	type logoutBody struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	data := new(logoutBody)
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

	if err := q.RevokeRefreshToken(ctx, auth.HashToken(data.RefreshToken)); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		logger.Error("Failed to revoke refresh token", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out"})
}
