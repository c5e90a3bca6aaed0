package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tailoredletters/internal/billing"
	"tailoredletters/internal/confirm"
	"tailoredletters/internal/core"
	"tailoredletters/internal/external"
	"tailoredletters/internal/types"
)

// CheckoutStarter is the slice of the Stripe client the billing handler needs.
type CheckoutStarter interface {
	CreateCheckoutSession(ctx context.Context, params external.CheckoutParams) (*external.CheckoutSession, error)
}

// PaymentAwaiter blocks until the purchased plan is reconciled onto the
// account or the poll window closes.
type PaymentAwaiter interface {
	Await(ctx context.Context, email, sessionID string, plan types.PlanTier) (confirm.Result, error)
}

// BillingHandler serves checkout initiation and payment confirmation.
type BillingHandler struct {
	checkout  CheckoutStarter // nil when Stripe is not configured
	awaiter   PaymentAwaiter
	clientURL string
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(
	checkout CheckoutStarter,
	awaiter PaymentAwaiter,
	clientURL string,
	validator *core.Validator,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		checkout:  checkout,
		awaiter:   awaiter,
		clientURL: clientURL,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the billing endpoints. Caller wraps them in auth.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.HandleCheckout)
	r.Post("/billing/confirm", h.HandleConfirm)
}

// checkoutRequest is the request DTO for POST /billing/checkout. AmountCents
// is optional; when present it is cross-checked against the server-side price
// so a tampered client cannot buy a premium plan at a basic price.
type checkoutRequest struct {
	Plan        string `json:"plan" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"omitempty,gt=0"`
}

// confirmRequest is the request DTO for POST /billing/confirm. Plan is the
// plan from the CheckoutIntent the client is waiting on; confirmation
// compares the account against it so a payment completed before this
// checkout cannot read as confirmation of it.
type confirmRequest struct {
	SessionID string `json:"session_id" validate:"required,max=256"`
	Plan      string `json:"plan" validate:"required"`
}

// confirmResponse is returned by POST /billing/confirm.
type confirmResponse struct {
	Status    string           `json:"status"`
	SessionID string           `json:"session_id"`
	Account   *accountResponse `json:"account,omitempty"`
}

// HandleCheckout validates the requested plan, prices it server-side, and
// creates a Stripe checkout session.
func (h *BillingHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	if h.checkout == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeUpstreamNotConfigured,
			"payments are not configured",
			nil,
		))
		return
	}

	var req checkoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	plan, ok := types.ParsePlanTier(req.Plan)
	if !ok || !plan.Paid() {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			"plan must be a purchasable tier",
			nil,
			map[string]any{"plan": req.Plan},
		))
		return
	}

	amount, ok := billing.AmountForPlan(plan)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPlan, "plan has no price", nil))
		return
	}
	if req.AmountCents != 0 && req.AmountCents != amount {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationAmountPlan,
			"amount does not match the selected plan",
			nil,
			map[string]any{"plan": string(plan), "expected_cents": amount, "got_cents": req.AmountCents},
		))
		return
	}

	session, err := h.checkout.CreateCheckoutSession(r.Context(), external.CheckoutParams{
		Plan:        plan,
		AmountCents: amount,
		Currency:    "usd",
		Email:       actor.Email,
		SuccessURL:  h.clientURL + "/payment-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   h.clientURL + "/pricing",
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"email", actor.Email,
		"plan", plan,
		"session_id", session.ID,
	)

	core.JSON(w, r, http.StatusCreated, types.CheckoutIntent{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		Plan:        plan,
		AmountCents: amount,
		InitiatedAt: time.Now().UTC(),
	})
}

// HandleConfirm polls until the plan purchased by the given checkout session
// is visible on the account. A timed-out poll is still a 200: the status
// field tells the client to fall back to resync.
func (h *BillingHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req confirmRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	plan, ok := types.ParsePlanTier(req.Plan)
	if !ok || !plan.Paid() {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			"plan must be a purchasable tier",
			nil,
			map[string]any{"plan": req.Plan},
		))
		return
	}

	result, err := h.awaiter.Await(r.Context(), actor.Email, req.SessionID, plan)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := confirmResponse{
		Status:    string(result.Status),
		SessionID: result.SessionID,
	}
	if result.Account != nil {
		resp.Account = toAccountResponse(result.Account)
	}
	core.JSON(w, r, http.StatusOK, resp)
}
