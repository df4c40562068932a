package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// User mirrors the server's user representation.
type User struct {
	ID        int64     `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthResponse is returned by Register, Login and Refresh. The contained
// tokens are also stored on the client for subsequent calls.
type AuthResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Profile is the authenticated identity reported by Me, including the
// effective permissions derived from the role.
type Profile struct {
	UserID      int64    `json:"user_id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	TenantID    string   `json:"tenant_id"`
	Permissions []string `json:"permissions"`
}

// RegisterRequest creates a new account. TenantID falls back to the client's
// configured tenant, and the server defaults it to "default" when empty.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	TenantID string `json:"tenant_id,omitempty"`
}

// authCall posts credentials to an /auth endpoint and stores the returned
// session. It deliberately bypasses the 401-refresh retry: these endpoints
// mint tokens, they do not consume them.
func (c *Client) authCall(ctx context.Context, path string, in any) (*AuthResponse, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	resp, err := c.send(ctx, http.MethodPost, path, nil, payload, contentTypeJSON)
	if err != nil {
		return nil, err
	}
	var out AuthResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	c.setTokens(out.AccessToken, out.RefreshToken)
	return &out, nil
}

// Register creates an account and starts a session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	if req.TenantID == "" {
		req.TenantID = c.tenantID
	}
	return c.authCall(ctx, "/auth/register", req)
}

// Login authenticates with email and password and starts a session.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.authCall(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Refresh rotates the session using the stored refresh token. The presented
// refresh token is single use; the client keeps the replacement pair.
func (c *Client) Refresh(ctx context.Context) (*AuthResponse, error) {
	tokens := c.Tokens()
	if tokens.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	return c.authCall(ctx, "/auth/refresh", map[string]string{
		"refresh_token": tokens.RefreshToken,
	})
}

// Logout revokes the stored refresh token and clears the session.
func (c *Client) Logout(ctx context.Context) error {
	tokens := c.Tokens()
	if tokens.RefreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}
	err := c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, nil)
	if err != nil {
		return err
	}
	c.setTokens("", "")
	return nil
}

// Me returns the authenticated identity and its permissions.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
