package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mailsync-backend/internal/app"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/database"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	cfg := &config.Config{
		DatabaseDriver:   "sqlite",
		DatabaseURL:      ":memory:",
		JWTSecret:        "test-secret",
		JWTAccessExpiry:  time.Minute,
		JWTRefreshExpiry: time.Hour,
		SyncLockTTL:      time.Minute,
		SyncRateLimit:    time.Hour,
	}
	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c, err := app.New(context.Background(), cfg, db)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return NewHandler(c).Engine()
}

func do(t *testing.T, r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func register(t *testing.T, r http.Handler) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "secret123",
		"name":     "Alice",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.AccessToken == "" {
		t.Fatalf("register: no access token in %s", w.Body.String())
	}
	return resp.AccessToken
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	r := newTestEngine(t)

	if w := do(t, r, http.MethodGet, "/api/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}
}

func TestRoutes_RequireAuth(t *testing.T) {
	r := newTestEngine(t)

	paths := []string{"/api/emails", "/api/threads", "/api/sync/status", "/api/tasks", "/api/accounts"}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			if w := do(t, r, http.MethodGet, p, "", nil); w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if w := do(t, r, http.MethodGet, p, "not-a-jwt", nil); w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 for bad token, got %d", w.Code)
			}
		})
	}
}

func TestRoutes_EmptyMirror(t *testing.T) {
	r := newTestEngine(t)
	token := register(t, r)

	w := do(t, r, http.MethodGet, "/api/emails?limit=10", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("emails: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var emails struct {
		Emails []json.RawMessage `json:"emails"`
		Limit  int               `json:"limit"`
		Total  int64             `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &emails); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if emails.Emails == nil || len(emails.Emails) != 0 || emails.Limit != 10 || emails.Total != 0 {
		t.Fatalf("unexpected response %s", w.Body.String())
	}

	if w := do(t, r, http.MethodGet, "/api/emails/missing", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("email by id: expected 404, got %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/sync/status", token, nil); w.Code != http.StatusOK {
		t.Fatalf("sync status: expected 200, got %d", w.Code)
	}
}

func TestRoutes_SyncWithoutGoogleAccount(t *testing.T) {
	r := newTestEngine(t)
	token := register(t, r)

	w := do(t, r, http.MethodPost, "/api/sync", token, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a linked account, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/api/sync", token, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on immediate retry, got %d", w.Code)
	}
}

func TestRoutes_TaskLifecycle(t *testing.T) {
	r := newTestEngine(t)
	token := register(t, r)

	w := do(t, r, http.MethodPost, "/api/tasks", token, map[string]interface{}{
		"title":    "Reply to Bob",
		"priority": "high",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var task struct {
		ID       string `json:"id"`
		Priority string `json:"priority"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil || task.ID == "" {
		t.Fatalf("create: bad body %s", w.Body.String())
	}

	w = do(t, r, http.MethodPatch, "/api/tasks/"+task.ID+"/status", token, map[string]string{"status": "completed"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/api/tasks/from-email/missing", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("from-email: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	if w := do(t, r, http.MethodDelete, "/api/tasks/"+task.ID, token, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/tasks/"+task.ID, token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", w.Code)
	}
}
