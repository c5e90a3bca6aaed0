package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"tailoredletters/internal/config"
	"tailoredletters/internal/types"
)

type stubAuthenticator struct {
	actor *types.Actor
	err   error
}

func (s *stubAuthenticator) ResolveToken(_ context.Context, _ string) (*types.Actor, error) {
	return s.actor, s.err
}

func newTestServer(t *testing.T, authn Authenticator) *Server {
	t.Helper()
	srv, err := NewServer(&config.Config{}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.Authenticator = authn
	return srv
}

func doAuthRequest(t *testing.T, srv *Server, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	var gotActor *types.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := types.GetActor(r.Context()); ok {
			gotActor = &actor
		}
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
	if authHeader != "" {
		r.Header.Set("Authorization", authHeader)
	}

	srv.RequireAuth(next).ServeHTTP(w, r)
	_ = gotActor
	return w
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	srv := newTestServer(t, &stubAuthenticator{})

	w := doAuthRequest(t, srv, "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	var body APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeAuthTokenMissing) {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestRequireAuth_MalformedScheme(t *testing.T) {
	srv := newTestServer(t, &stubAuthenticator{})

	w := doAuthRequest(t, srv, "Basic dXNlcjpwYXNz")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	srv := newTestServer(t, &stubAuthenticator{
		err: types.NewAppError(types.ErrCodeAuthTokenExpired, "token expired", nil),
	})

	w := doAuthRequest(t, srv, "Bearer some.jwt.token")

	var body APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeAuthTokenExpired) {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestRequireAuth_ValidTokenInjectsActor(t *testing.T) {
	srv := newTestServer(t, &stubAuthenticator{
		actor: &types.Actor{ID: "acc-1", Email: "user@example.com", Type: types.ActorTypeUser},
	})

	var gotEmail string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := types.GetActor(r.Context())
		if !ok {
			t.Error("actor missing from context")
		}
		gotEmail = actor.Email
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
	r.Header.Set("Authorization", "Bearer some.jwt.token")
	srv.RequireAuth(next).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotEmail != "user@example.com" {
		t.Errorf("actor email = %q", gotEmail)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"Bearer   abc123  ", "abc123"},
		{"Token abc123", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := extractBearerToken(tc.in); got != tc.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
