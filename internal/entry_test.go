package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/casefile/internal/sse"
	"github.com/starford/casefile/internal/testutil"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Vault.Path = filepath.Join(dir, "vault")
	cfg.Cache.Path = filepath.Join(dir, "data", "cache.db")
	cfg.Sessions.Path = filepath.Join(dir, "data", "sessions.db")
	return cfg
}

func TestOpenWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	app, err := Open(context.Background(), cfg, testutil.Logger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer app.Close()

	if app.Service == nil || app.Engine == nil || app.Source == nil {
		t.Fatalf("app = %+v", app)
	}
	if err := app.Service.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
}

func TestOpenRejectsBadRulesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Validation.Rules = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := Open(context.Background(), cfg, testutil.Logger()); err == nil {
		t.Fatal("expected error for missing rules file")
	}
}

func TestRouterHealthAndAPI(t *testing.T) {
	cfg := testConfig(t)
	app, err := Open(context.Background(), cfg, testutil.Logger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer app.Close()

	broker := sse.NewBroker(time.Millisecond)
	defer broker.Close()
	h := newRouter(cfg, app.Service, broker)

	for _, path := range []string{"/health/live", "/health/ready", "/api/sessions", "/api/cache/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d: %s", path, w.Code, w.Body.String())
		}
	}
}

func TestRouterEnforcesAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = AuthConfig{Mode: AuthModeToken, Token: "secret"}
	app, err := Open(context.Background(), cfg, testutil.Logger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer app.Close()

	broker := sse.NewBroker(time.Millisecond)
	defer broker.Close()
	h := newRouter(cfg, app.Service, broker)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("without token = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health should stay open, got %d", w.Code)
	}
}
