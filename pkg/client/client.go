// Package client is a thin Go wrapper over the Atlas REST API. It mirrors
// the server's endpoints with typed requests and responses, attaches bearer
// tokens, and transparently refreshes an expired access token once before
// surfacing a 401.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const contentTypeJSON = "application/json"

// Tokens holds the bearer credentials of an authenticated session. Callers
// that persist sessions across restarts can read them via Client.Tokens and
// seed a new client with WithTokens.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Client talks to an Atlas server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tenantID   string

	mu     sync.RWMutex
	tokens Tokens
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Use this to set
// timeouts or transports; note that a client-level timeout also cuts off
// AskStream bodies, so prefer per-call contexts for streamed requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTenant sets the tenant forwarded on every tenant-scoped call unless
// the call overrides it.
func WithTenant(tenantID string) Option {
	return func(c *Client) {
		c.tenantID = tenantID
	}
}

// WithTokens seeds the client with an existing session.
func WithTokens(access, refresh string) Option {
	return func(c *Client) {
		c.tokens = Tokens{AccessToken: access, RefreshToken: refresh}
	}
}

// New creates a client for the Atlas server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tokens returns the current session tokens.
func (c *Client) Tokens() Tokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

func (c *Client) setTokens(access, refresh string) {
	c.mu.Lock()
	c.tokens = Tokens{AccessToken: access, RefreshToken: refresh}
	c.mu.Unlock()
}

// tenant resolves the tenant for a call: an explicit override wins over the
// client-level default.
func (c *Client) tenant(override string) string {
	if override != "" {
		return override
	}
	return c.tenantID
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// decodeAPIError drains the response body into an APIError. The server
// reports errors as {"error": "..."} and some accepted-with-warnings
// responses as {"message": "..."}.
func decodeAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		msg = payload.Error
		if msg == "" {
			msg = payload.Message
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// send performs a single HTTP round trip with the session's bearer token
// attached. The payload is a fully built body so retries can replay it.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, contentType string) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if tokens := c.Tokens(); tokens.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// sendRetry performs send and, when the server answers 401 and a refresh
// token is available, rotates the session once and replays the request. A
// failed refresh surfaces the original 401; a second 401 surfaces as is.
func (c *Client) sendRetry(ctx context.Context, method, path string, query url.Values, payload []byte, contentType string) (*http.Response, error) {
	resp, err := c.send(ctx, method, path, query, payload, contentType)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || c.Tokens().RefreshToken == "" {
		return resp, nil
	}

	apiErr := decodeAPIError(resp)
	resp.Body.Close()

	if _, err := c.Refresh(ctx); err != nil {
		return nil, apiErr
	}
	return c.send(ctx, method, path, query, payload, contentType)
}

// decodeResponse closes the body and unmarshals a 2xx response into out.
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doJSON marshals in (when non-nil), performs the request with the refresh
// retry, and unmarshals the response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var payload []byte
	var contentType string
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		contentType = contentTypeJSON
	}
	return c.doBytes(ctx, method, path, query, payload, contentType, out)
}

func (c *Client) doBytes(ctx context.Context, method, path string, query url.Values, payload []byte, contentType string, out any) error {
	resp, err := c.sendRetry(ctx, method, path, query, payload, contentType)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}
