package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mintya/autoproxy/internal/proxy"
)

type fakeDoer struct {
	status int
	body   string
}

func (d fakeDoer) Do(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: d.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(d.body)),
	}, nil
}

func newTestServer(t *testing.T, auth AuthConfig) (*Server, *proxy.Registry) {
	t.Helper()
	registry, err := proxy.NewRegistry([]proxy.Provider{
		{Name: "a", Token: "tok-a-0123456789", BaseURL: "https://a.example.com", Preferred: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	selector := proxy.NewSelector(registry, 100)
	forwarder := proxy.NewForwarder(registry, selector, proxy.WithClient(fakeDoer{status: 200, body: `{"ok":true}`}))

	srv := NewServer(Config{Auth: auth}, registry, forwarder)
	return srv, registry
}

func TestHandleHealth_AlwaysOK(t *testing.T) {
	srv, _ := newTestServer(t, AuthConfig{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleForward_PassesThroughToSelectedProvider(t *testing.T) {
	srv, _ := newTestServer(t, AuthConfig{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"hello":"world"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Fatalf("body = %q, want passthrough body", rec.Body.String())
	}
}

func TestStatus_NotMountedWithoutAuthConfig(t *testing.T) {
	srv, _ := newTestServer(t, AuthConfig{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// With no admin auth configured, /status isn't mounted as an admin
	// route at all; it falls through to the forward-proxy catch-all.
	if rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), "window_count") {
		t.Fatal("expected /status to NOT be the admin handler when auth is unconfigured")
	}
}

func TestStatus_RequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, AuthConfig{BearerToken: "admin-secret"})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without credentials", rec.Code)
	}
}

func TestStatus_MasksTokenAndReturnsSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, AuthConfig{BearerToken: "admin-secret"})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "tok-a-0123456789") {
		t.Fatalf("raw token leaked into /status response: %s", body)
	}
	if !strings.Contains(body, "****") {
		t.Fatalf("expected masked token marker in response: %s", body)
	}
}

func TestSetPreferred_UpdatesRegistry(t *testing.T) {
	srv, registry := newTestServer(t, AuthConfig{BearerToken: "admin-secret"})
	_ = registry.SetPreferred // sanity: registry is reachable from the test
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/status/preferred/a", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if registry.PreferredName() != "a" {
		t.Fatalf("PreferredName() = %q, want a", registry.PreferredName())
	}
}

func TestMetrics_ExposesProviderScoreGauge(t *testing.T) {
	srv, _ := newTestServer(t, AuthConfig{})
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "autoproxy_provider_score") {
		t.Fatalf("expected autoproxy_provider_score in metrics output")
	}
}
