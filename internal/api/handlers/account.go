package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tailoredletters/internal/core"
	"tailoredletters/internal/reconcile"
	"tailoredletters/internal/types"
)

// AccountStore is the slice of the account repository the handler needs.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*types.Account, error)
	UpdateProfile(ctx context.Context, email, name, studies string, experiences []string) (*types.Account, error)
}

// Resyncer re-checks the payment provider for entitlements the webhook has
// not delivered yet. It is nil when the provider is not configured; the
// handler answers 503 in that case.
type Resyncer interface {
	Resync(ctx context.Context, email string) (reconcile.Result, error)
}

// AccountHandler serves the authenticated account surface.
type AccountHandler struct {
	store     AccountStore
	resyncer  Resyncer
	validator *core.Validator
	logger    *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(store AccountStore, resyncer Resyncer, validator *core.Validator, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{
		store:     store,
		resyncer:  resyncer,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the account endpoints. Caller wraps them in auth.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Get("/account", h.HandleGet)
	r.Put("/account", h.HandleUpdate)
	r.Post("/account/resync", h.HandleResync)
}

// accountResponse is the client-facing account view. The password hash and
// the reconciliation bookkeeping fields never leave the server.
type accountResponse struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	SelectedPlan        string     `json:"selected_plan"`
	LetterCount         int        `json:"letter_count"`
	PaymentStatus       string     `json:"payment_status"`
	LastPaymentDate     *time.Time `json:"last_payment_date,omitempty"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date,omitempty"`
	Studies             string     `json:"studies,omitempty"`
	Experiences         []string   `json:"experiences,omitempty"`
}

func toAccountResponse(account *types.Account) *accountResponse {
	return &accountResponse{
		ID:                  account.ID,
		Email:               account.Email,
		Name:                account.Name,
		SelectedPlan:        string(account.SelectedPlan),
		LetterCount:         account.LetterCount,
		PaymentStatus:       string(account.PaymentStatus),
		LastPaymentDate:     account.LastPaymentDate,
		SubscriptionEndDate: account.SubscriptionEndDate,
		Studies:             account.Studies,
		Experiences:         account.Experiences,
	}
}

// updateProfileRequest is the request DTO for PUT /account.
type updateProfileRequest struct {
	Name        string   `json:"name" validate:"required,min=1,max=120"`
	Studies     string   `json:"studies" validate:"max=2000"`
	Experiences []string `json:"experiences" validate:"max=50,dive,max=2000"`
}

// resyncResponse is returned by POST /account/resync.
type resyncResponse struct {
	Outcome string           `json:"outcome"`
	Account *accountResponse `json:"account"`
}

// HandleGet returns the authenticated account.
func (h *AccountHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	account, err := h.store.GetByEmail(r.Context(), actor.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, toAccountResponse(account))
}

// HandleUpdate updates the profile fields used for letter generation.
func (h *AccountHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req updateProfileRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	account, err := h.store.UpdateProfile(r.Context(), actor.Email, req.Name, req.Studies, req.Experiences)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, toAccountResponse(account))
}

// HandleResync asks the provider for a succeeded payment the account has not
// absorbed and applies it through the regular reconciliation path. Used by
// the client when the confirmation poll times out.
func (h *AccountHandler) HandleResync(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	// Resync needs the payment provider; without credentials it is nil.
	if h.resyncer == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeUpstreamNotConfigured,
			"payments are not configured",
			nil,
		))
		return
	}

	result, err := h.resyncer.Resync(r.Context(), actor.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// Return the fresh account state so the client can render the new plan
	// without a second round trip.
	account, err := h.store.GetByEmail(r.Context(), actor.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, resyncResponse{
		Outcome: string(result.Outcome),
		Account: toAccountResponse(account),
	})
}
