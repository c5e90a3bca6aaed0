package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tailoredletters/internal/core"
	"tailoredletters/internal/types"
)

type fakeAuthService struct {
	account *types.Account
	token   string
	err     error

	gotEmail    string
	gotPassword string
}

func (f *fakeAuthService) Register(_ context.Context, email, _, password string) (*types.Account, string, error) {
	f.gotEmail = email
	f.gotPassword = password
	return f.account, f.token, f.err
}

func (f *fakeAuthService) Login(_ context.Context, email, password string) (*types.Account, string, error) {
	f.gotEmail = email
	f.gotPassword = password
	return f.account, f.token, f.err
}

func testAccount() *types.Account {
	return &types.Account{
		ID:            "acc-1",
		Email:         "user@example.com",
		Name:          "Ada",
		SelectedPlan:  types.PlanFree,
		LetterCount:   5,
		PaymentStatus: types.PaymentStatusNone,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewReader([]byte(body)))
	r.Header.Set("Content-Type", "application/json")
	handler(w, r)
	return w
}

func TestRegister_Created(t *testing.T) {
	svc := &fakeAuthService{account: testAccount(), token: "jwt-token"}
	h := NewAuthHandler(svc, core.NewValidator(nil), nil)

	w := postJSON(t, h.HandleRegister, "/v1/auth/register",
		`{"email":"user@example.com","name":"Ada","password":"secret123"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}

	var body struct {
		Data authResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Data.Token != "jwt-token" {
		t.Errorf("token = %q", body.Data.Token)
	}
	if body.Data.Account.LetterCount != 5 {
		t.Errorf("letter count = %d", body.Data.Account.LetterCount)
	}
	if body.Data.Account.SelectedPlan != "free" {
		t.Errorf("plan = %q", body.Data.Account.SelectedPlan)
	}
}

func TestRegister_ValidationFailure(t *testing.T) {
	svc := &fakeAuthService{}
	h := NewAuthHandler(svc, core.NewValidator(nil), nil)

	w := postJSON(t, h.HandleRegister, "/v1/auth/register",
		`{"email":"not-an-email","name":"Ada","password":"short"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if svc.gotEmail != "" {
		t.Error("invalid request must not reach the service")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := &fakeAuthService{
		err: types.NewAppError(types.ErrCodeConflictEmail, "an account with this email already exists", nil),
	}
	h := NewAuthHandler(svc, core.NewValidator(nil), nil)

	w := postJSON(t, h.HandleRegister, "/v1/auth/register",
		`{"email":"user@example.com","name":"Ada","password":"secret123"}`)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestLogin_OK(t *testing.T) {
	svc := &fakeAuthService{account: testAccount(), token: "jwt-token"}
	h := NewAuthHandler(svc, core.NewValidator(nil), nil)

	w := postJSON(t, h.HandleLogin, "/v1/auth/login",
		`{"email":"user@example.com","password":"secret123"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if svc.gotPassword != "secret123" {
		t.Errorf("service got password %q", svc.gotPassword)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &fakeAuthService{
		err: types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil),
	}
	h := NewAuthHandler(svc, core.NewValidator(nil), nil)

	w := postJSON(t, h.HandleLogin, "/v1/auth/login",
		`{"email":"user@example.com","password":"wrong"}`)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	var body core.APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeAuthInvalidCreds) {
		t.Errorf("code = %q", body.Error.Code)
	}
}
