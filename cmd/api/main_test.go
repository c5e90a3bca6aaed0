package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"tailoredletters/internal/auth"
	"tailoredletters/internal/config"
	"tailoredletters/internal/confirm"
	"tailoredletters/internal/core"
	"tailoredletters/internal/db"
	"tailoredletters/internal/generate"
	"tailoredletters/internal/types"
)

// buildTestServer wires a server the way run() does, minus the MongoDB
// connection and provider clients, so routing and middleware can be
// exercised without external dependencies.
func buildTestServer(t *testing.T) *core.Server {
	t.Helper()
	setTestEnv(t)

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, types.RealClock{})
	srv.Authenticator = &auth.TokenAuthenticator{Issuer: issuer}

	accounts := &db.AccountRepo{}
	registerRoutes(srv, routeDeps{
		auth:      auth.NewService(auth.ServiceConfig{Issuer: issuer, Logger: logger}),
		accounts:  accounts,
		poller:    confirm.NewPoller(accounts, logger),
		letters:   generate.NewService(accounts, nil, logger),
		clientURL: cfg.Server.ClientURL,
		logger:    logger,
	})
	srv.MountRoutes()
	return srv
}

// TestHealthEndpoint verifies the wired server answers GET /health with 200
// when no health checker is configured.
func TestHealthEndpoint(t *testing.T) {
	srv := buildTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET /health: got status %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("GET /health: got status=%q, want 'ok'", resp["status"])
	}
}

// TestProtectedRoutesRequireAuth verifies the account, billing, and letters
// surfaces sit behind RequireAuth.
func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv := buildTestServer(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/account"},
		{http.MethodPost, "/v1/billing/checkout"},
		{http.MethodPost, "/v1/generate"},
	}

	for _, route := range routes {
		req := httptest.NewRequest(route.method, route.path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: got status %d, want 401", route.method, route.path, rec.Code)
		}
	}
}

// TestWebhookAnswers503WhenUnconfigured verifies the webhook route is still
// mounted without Stripe credentials so deliveries get a retryable 503
// instead of a 404.
func TestWebhookAnswers503WhenUnconfigured(t *testing.T) {
	srv := buildTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("POST /v1/webhooks/stripe: got status %d, want 503", rec.Code)
	}
}

// TestNewLogger verifies that the logger factory handles various log levels.
func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		t.Run(level, func(t *testing.T) {
			if newLogger(level) == nil {
				t.Fatalf("newLogger(%q) returned nil", level)
			}
		})
	}
}

// setTestEnv sets the minimal environment variables required by
// config.LoadConfig. It uses t.Setenv to ensure cleanup after the test.
func setTestEnv(t *testing.T) {
	t.Helper()

	t.Setenv("APP_ENV", "local")
	t.Setenv("PORT", "8080")
	t.Setenv("CLIENT_URL", "http://localhost:3000")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "local-dev-jwt-secret-minimum-32-chars-long")
}
