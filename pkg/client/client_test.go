package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
)

func TestClientLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/login" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if body["email"] != "dev@example.com" || body["password"] != "Secret123" {
			t.Fatalf("unexpected credentials: %v", body)
		}
		json.NewEncoder(w).Encode(AuthResponse{
			User:         &User{ID: 7, Email: "dev@example.com", Role: "user", TenantID: "acme"},
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "bearer",
			ExpiresIn:    1800,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Login(context.Background(), "dev@example.com", "Secret123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.User == nil || resp.User.ID != 7 {
		t.Fatalf("unexpected user: %+v", resp.User)
	}

	tokens := c.Tokens()
	if tokens.AccessToken != "access-1" || tokens.RefreshToken != "refresh-1" {
		t.Fatalf("tokens not stored: %+v", tokens)
	}
}

func TestClientRefreshesOnceOn401(t *testing.T) {
	statsCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/stats":
			statsCalls++
			if r.Header.Get("Authorization") == "Bearer fresh-access" {
				fmt.Fprint(w, `{"documents": 3, "entities": 12}`)
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error": "Unauthorized"}`)
		case "/auth/refresh":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode refresh body: %v", err)
			}
			if body["refresh_token"] != "stale-refresh" {
				t.Fatalf("unexpected refresh token: %q", body["refresh_token"])
			}
			json.NewEncoder(w).Encode(AuthResponse{
				AccessToken:  "fresh-access",
				RefreshToken: "fresh-refresh",
			})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithTokens("stale-access", "stale-refresh"))
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Documents != 3 || stats.Entities != 12 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if statsCalls != 2 {
		t.Fatalf("unexpected number of stats calls: got %d want 2", statsCalls)
	}

	tokens := c.Tokens()
	if tokens.AccessToken != "fresh-access" || tokens.RefreshToken != "fresh-refresh" {
		t.Fatalf("tokens not rotated: %+v", tokens)
	}
}

func TestClientSecondUnauthorizedSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			json.NewEncoder(w).Encode(AuthResponse{AccessToken: "a2", RefreshToken: "r2"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": "Unauthorized"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTokens("a1", "r1"))
	_, err := c.Stats(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Unauthorized" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestClientDecodesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": "Entity not found"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTokens("a", ""))
	_, err := c.EntityNeighborhood(context.Background(), "ghost", 1)
	if !IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Entity not found" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientAskForwardsTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ask" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("unexpected authorization header: %q", got)
		}
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if req.TenantID != "acme" {
			t.Fatalf("unexpected tenant: %q", req.TenantID)
		}
		if len(req.History) != 1 || req.History[0].Role != "assistant" {
			t.Fatalf("unexpected history: %+v", req.History)
		}
		json.NewEncoder(w).Encode(AskResponse{
			Question: req.Question,
			Answer:   "42",
			Status:   "success",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, WithTenant("acme"), WithTokens("token", ""))
	resp, err := c.Ask(context.Background(), AskRequest{
		Question: "what is the answer",
		History:  []ai.ChatMessage{{Role: "assistant", Message: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "42" {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
}

func TestClientAskStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"type": "step", "step": "Querying the knowledge graph"}`)
		fmt.Fprintln(w, `{"type": "content", "content": "The answer "}`)
		fmt.Fprintln(w, `{"type": "content", "content": "is 42."}`)
		fmt.Fprintln(w, `{"type": "sources", "sources": {"vector_matches": 5, "graph_entities": 2, "top_chunks": [], "documents": []}}`)
		fmt.Fprintln(w, `{"type": "done"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTokens("token", ""))
	events, err := c.AskStream(context.Background(), AskRequest{Question: "what is the answer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var types []string
	var answer strings.Builder
	var sources *AskSources
	for ev := range events {
		types = append(types, ev.Type)
		if ev.Type == StreamEventContent {
			answer.WriteString(ev.Content)
		}
		if ev.Type == StreamEventSources {
			sources = ev.Sources
		}
	}

	wantTypes := []string{"step", "content", "content", "sources", "done"}
	if !reflect.DeepEqual(types, wantTypes) {
		t.Fatalf("unexpected event types: got %v want %v", types, wantTypes)
	}
	if answer.String() != "The answer is 42." {
		t.Fatalf("unexpected answer: %q", answer.String())
	}
	if sources == nil || sources.VectorMatches != 5 {
		t.Fatalf("unexpected sources: %+v", sources)
	}
}

func TestClientUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("tenant_id"); got != "acme" {
			t.Fatalf("unexpected tenant field: %q", got)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 {
			t.Fatalf("unexpected file count: got %d want 2", len(files))
		}
		if files[0].Filename != "notes.txt" || files[1].Filename != "report.md" {
			t.Fatalf("unexpected filenames: %s, %s", files[0].Filename, files[1].Filename)
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(UploadResult{
			Message:       "Upload accepted for processing",
			CorrelationID: "corr-1",
			Documents: []UploadedDocument{
				{DocumentID: 1, Filename: "notes.txt", Status: "pending"},
				{DocumentID: 2, Filename: "report.md", Status: "pending"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, WithTenant("acme"), WithTokens("token", ""))
	result, err := c.Upload(context.Background(), "",
		UploadFile{Name: "notes.txt", Reader: strings.NewReader("some notes")},
		UploadFile{Name: "report.md", Reader: strings.NewReader("# report")},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CorrelationID != "corr-1" || len(result.Documents) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClientEntitiesQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("tenant_id") != "acme" || q.Get("type") != "person" || q.Get("limit") != "10" {
			t.Fatalf("unexpected query: %v", q)
		}
		fmt.Fprint(w, `{"entities": [{"name": "Ada", "type": "person", "mentions": 4}], "count": 1}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTenant("acme"), WithTokens("token", ""))
	entities, err := c.Entities(context.Background(), EntitiesRequest{Type: "person", Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "Ada" {
		t.Fatalf("unexpected entities: %+v", entities)
	}
}

func TestClientDownloadLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/documents/42/download" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"url": "https://files.example.com/acme/abc.pdf?signed"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTokens("token", ""))
	link, err := c.DownloadLink(context.Background(), "acme", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(link, "https://files.example.com/") {
		t.Fatalf("unexpected link: %q", link)
	}
}

func TestClientLogoutClearsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/logout" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"message": "Logged out"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTokens("access", "refresh"))
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens := c.Tokens(); tokens.AccessToken != "" || tokens.RefreshToken != "" {
		t.Fatalf("tokens not cleared: %+v", tokens)
	}
}
