package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"tailoredletters/internal/core"
	"tailoredletters/internal/generate"
	"tailoredletters/internal/types"
)

type fakeLetterService struct {
	letter *generate.Letter
	err    error

	gotEmail    string
	gotJob      string
	gotLanguage string
}

func (f *fakeLetterService) Generate(_ context.Context, email, jobDescription, language string) (*generate.Letter, error) {
	f.gotEmail = email
	f.gotJob = jobDescription
	f.gotLanguage = language
	return f.letter, f.err
}

const testJobDescription = "Backend engineer building payment reconciliation pipelines in Go."

func TestGenerate_OK(t *testing.T) {
	svc := &fakeLetterService{
		letter: &generate.Letter{Text: "Dear hiring manager,", LettersRemaining: 4},
	}
	h := NewGenerateHandler(svc, core.NewValidator(nil), nil)

	w := authedPost(t, h.HandleGenerate, "/v1/generate",
		`{"job_description":"`+testJobDescription+`","language":"French"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if svc.gotEmail != "user@example.com" {
		t.Errorf("email = %q", svc.gotEmail)
	}
	if svc.gotJob != testJobDescription {
		t.Errorf("job description = %q", svc.gotJob)
	}
	if svc.gotLanguage != "French" {
		t.Errorf("language = %q", svc.gotLanguage)
	}

	var body struct {
		Data generate.Letter `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Data.Text != "Dear hiring manager," {
		t.Errorf("letter = %q", body.Data.Text)
	}
	if body.Data.LettersRemaining != 4 {
		t.Errorf("remaining = %d", body.Data.LettersRemaining)
	}
}

func TestGenerate_ShortJobDescription(t *testing.T) {
	svc := &fakeLetterService{}
	h := NewGenerateHandler(svc, core.NewValidator(nil), nil)

	w := authedPost(t, h.HandleGenerate, "/v1/generate",
		`{"job_description":"too short"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if svc.gotJob != "" {
		t.Error("invalid request must not reach the service")
	}
}

func TestGenerate_QuotaExhausted(t *testing.T) {
	svc := &fakeLetterService{
		err: types.NewAppError(types.ErrCodeQuotaLettersExhausted, "no letters remaining", nil),
	}
	h := NewGenerateHandler(svc, core.NewValidator(nil), nil)

	w := authedPost(t, h.HandleGenerate, "/v1/generate",
		`{"job_description":"`+testJobDescription+`"}`)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}

	var body core.APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeQuotaLettersExhausted) {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestGenerate_BackendNotConfigured(t *testing.T) {
	svc := &fakeLetterService{
		err: types.NewAppError(types.ErrCodeUpstreamNotConfigured, "letter generation is not configured", nil),
	}
	h := NewGenerateHandler(svc, core.NewValidator(nil), nil)

	w := authedPost(t, h.HandleGenerate, "/v1/generate",
		`{"job_description":"`+testJobDescription+`"}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
