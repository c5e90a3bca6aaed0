package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tailoredletters/internal/core"
	"tailoredletters/internal/generate"
	"tailoredletters/internal/types"
)

// LetterService is the slice of the generation service the handler needs.
type LetterService interface {
	Generate(ctx context.Context, email, jobDescription, language string) (*generate.Letter, error)
}

// GenerateHandler serves cover letter generation.
type GenerateHandler struct {
	service   LetterService
	validator *core.Validator
	logger    *slog.Logger
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(service LetterService, validator *core.Validator, logger *slog.Logger) *GenerateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateHandler{
		service:   service,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the generation endpoint. Caller wraps it in auth.
func (h *GenerateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/generate", h.HandleGenerate)
}

// generateRequest is the request DTO for POST /generate.
type generateRequest struct {
	JobDescription string `json:"job_description" validate:"required,min=20,max=20000"`
	Language       string `json:"language" validate:"omitempty,max=40"`
}

// HandleGenerate drafts a cover letter for the authenticated account. Quota
// errors answer 402; the account's remaining balance rides along with the
// letter on success.
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req generateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	letter, err := h.service.Generate(r.Context(), actor.Email, req.JobDescription, req.Language)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, letter)
}
