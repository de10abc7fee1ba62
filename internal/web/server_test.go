package web

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(cfg ServerConfig) *Server {
	cfg.Host = "127.0.0.1"
	cfg.Logger = testLogger()
	return NewServer(cfg)
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(ServerConfig{})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(ServerConfig{})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ghostrider_uptime_seconds") {
		t.Errorf("expected uptime metric, got %s", rec.Body.String())
	}
}

func TestServer_OAuthStart_NotConfigured(t *testing.T) {
	s := newTestServer(ServerConfig{})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google/start", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without client id, got %d", rec.Code)
	}
}

func TestServer_OAuthStart_RedirectsWithState(t *testing.T) {
	s := newTestServer(ServerConfig{
		Gmail: OAuthApp{
			ClientID:     "cid",
			ClientSecret: "secret",
			RedirectURI:  "http://127.0.0.1:8080/oauth/google/callback",
		},
	})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google/start", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("expected state parameter in redirect")
	}
	if loc.Query().Get("access_type") != "offline" {
		t.Error("expected offline access for google")
	}
	if !s.consumeState(state) {
		t.Error("issued state should be consumable once")
	}
	if s.consumeState(state) {
		t.Error("state must not be reusable")
	}
}

func TestServer_Callback_RejectsUnknownState(t *testing.T) {
	s := newTestServer(ServerConfig{
		Gmail: OAuthApp{ClientID: "cid", ClientSecret: "secret"},
	})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/oauth/google/callback?state=forged&code=x", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", rec.Code)
	}
}
