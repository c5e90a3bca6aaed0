// Package reconcile turns verified payment events into entitlement writes.
// It owns the correlation chain (event -> account email), the pricing step,
// and the idempotent apply, so webhook delivery and manual resync share one
// code path.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tailoredletters/internal/auth"
	"tailoredletters/internal/billing"
	"tailoredletters/internal/external"
	"tailoredletters/internal/types"
)

// Outcome describes what a reconciliation pass did.
type Outcome string

const (
	// OutcomeApplied means the entitlement was written for the first time.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the payment had already been applied; no-op.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeNoPayment means resync found no succeeded payment to apply.
	OutcomeNoPayment Outcome = "no_payment"
)

// Result carries the outcome of a reconciliation pass for logging and
// response building.
type Result struct {
	Outcome     Outcome
	Email       string
	PaymentID   string
	Entitlement types.Entitlement
}

// PaymentLookup is the slice of the Stripe client the reconciler needs.
type PaymentLookup interface {
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*external.PaymentIntent, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*external.CheckoutSession, error)
	GetCustomer(ctx context.Context, customerID string) (*external.Customer, error)
	LatestSucceededPayment(ctx context.Context, email string) (*external.PaymentIntent, error)
}

// EntitlementStore is the slice of the account repository the reconciler
// writes through.
type EntitlementStore interface {
	GetByEmail(ctx context.Context, email string) (*types.Account, error)
	ApplyEntitlement(ctx context.Context, email, paymentID string, ent types.Entitlement, paidAt time.Time) (types.ApplyOutcome, error)
}

// Reconciler applies payment events to accounts.
type Reconciler struct {
	payments PaymentLookup
	store    EntitlementStore
	email    external.EmailSender // nil when email is not configured
	clock    types.Clock
	logger   *slog.Logger
}

// Config holds the dependencies for creating a Reconciler.
type Config struct {
	Payments PaymentLookup
	Store    EntitlementStore
	Email    external.EmailSender
	Clock    types.Clock
	Logger   *slog.Logger
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		payments: cfg.Payments,
		store:    cfg.Store,
		email:    cfg.Email,
		clock:    clock,
		logger:   logger,
	}
}

// Reconcile processes one payment event end to end:
//
//  1. Enrich: fill missing facts (amount, customer, receipt email) from the
//     payment intent when the event came from a checkout session.
//  2. Correlate: resolve the account email through the fallback chain.
//  3. Price: map the charged amount to an entitlement; unknown amounts are
//     rejected, never defaulted.
//  4. Apply: write the entitlement idempotently keyed on the payment ID.
//  5. Notify: on first application, send a confirmation email without
//     blocking or failing the reconciliation.
//
// Error codes decide the webhook response class: reconcile_* and validation_*
// errors are permanent rejections, internal_*/upstream_* are transient and
// ask the provider to redeliver.
func (r *Reconciler) Reconcile(ctx context.Context, event types.PaymentEvent) (Result, error) {
	if err := r.enrich(ctx, &event); err != nil {
		return Result{}, err
	}

	if event.PaymentID == "" {
		return Result{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"payment event carries no payment intent ID",
			nil,
			map[string]any{"event_id": event.EventID},
		)
	}

	email, err := r.resolveEmail(ctx, &event)
	if err != nil {
		return Result{}, err
	}

	ent, err := billing.ResolveAmount(event.AmountCents)
	if err != nil {
		return Result{}, err
	}

	// The plan hint from metadata is advisory only. A mismatch means the
	// client-side plan selection and the charged amount disagree; the amount
	// wins, but it is worth a trace.
	if event.PlanHint != "" {
		if hinted, ok := types.ParsePlanTier(event.PlanHint); !ok || hinted != ent.Plan {
			r.logger.WarnContext(ctx, "plan hint disagrees with charged amount",
				"payment_id", event.PaymentID,
				"plan_hint", event.PlanHint,
				"priced_plan", ent.Plan,
				"amount_cents", event.AmountCents,
			)
		}
	}

	outcome, err := r.store.ApplyEntitlement(ctx, email, event.PaymentID, ent, event.OccurredAt)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Outcome:     OutcomeDuplicate,
		Email:       email,
		PaymentID:   event.PaymentID,
		Entitlement: ent,
	}
	if outcome == types.ApplyOutcomeApplied {
		result.Outcome = OutcomeApplied
		r.logger.InfoContext(ctx, "entitlement applied",
			"payment_id", event.PaymentID,
			"email", email,
			"plan", ent.Plan,
			"letters", ent.LetterQuota,
		)
		r.sendConfirmation(ctx, email, ent)
	} else {
		r.logger.InfoContext(ctx, "duplicate payment event ignored",
			"payment_id", event.PaymentID,
			"email", email,
		)
	}

	return result, nil
}

// Resync checks the provider for a succeeded payment the account has not
// absorbed yet and funnels it through the same Reconcile path. Safe to call
// any number of times; the idempotent apply does the deduplication.
func (r *Reconciler) Resync(ctx context.Context, email string) (Result, error) {
	email = auth.CanonicalizeEmail(email)

	// Make sure the account exists before touching the provider.
	if _, err := r.store.GetByEmail(ctx, email); err != nil {
		return Result{}, err
	}

	intent, err := r.payments.LatestSucceededPayment(ctx, email)
	if err != nil {
		return Result{}, err
	}
	if intent == nil {
		return Result{Outcome: OutcomeNoPayment, Email: email}, nil
	}

	return r.Reconcile(ctx, types.PaymentEvent{
		PaymentID:     intent.ID,
		AmountCents:   intent.AmountCents,
		Currency:      intent.Currency,
		MetadataEmail: intent.Metadata["user_email"],
		ReceiptEmail:  intent.ReceiptEmail,
		CustomerID:    intent.CustomerID,
		PlanHint:      intent.Metadata["plan"],
		OccurredAt:    intent.CreatedAt,
	})
}

// enrich fills in facts a checkout-origin event may be missing by loading the
// underlying payment intent. payment_intent.succeeded events arrive complete
// and skip the lookup.
func (r *Reconciler) enrich(ctx context.Context, event *types.PaymentEvent) error {
	if event.PaymentID == "" && event.SessionID != "" {
		session, err := r.payments.GetCheckoutSession(ctx, event.SessionID)
		if err != nil {
			return err
		}
		event.PaymentID = session.PaymentIntentID
		if event.AmountCents == 0 {
			event.AmountCents = session.AmountCents
		}
		if event.CustomerID == "" {
			event.CustomerID = session.CustomerID
		}
		if event.MetadataEmail == "" {
			event.MetadataEmail = session.Metadata["user_email"]
		}
	}

	if event.PaymentID != "" && event.AmountCents == 0 {
		intent, err := r.payments.GetPaymentIntent(ctx, event.PaymentID)
		if err != nil {
			return err
		}
		event.AmountCents = intent.AmountCents
		if event.Currency == "" {
			event.Currency = intent.Currency
		}
		if event.ReceiptEmail == "" {
			event.ReceiptEmail = intent.ReceiptEmail
		}
		if event.CustomerID == "" {
			event.CustomerID = intent.CustomerID
		}
		if event.MetadataEmail == "" {
			event.MetadataEmail = intent.Metadata["user_email"]
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = intent.CreatedAt
		}
	}

	return nil
}

// resolveEmail walks the correlation fallback chain in order of trust:
// checkout metadata, payment receipt email, the Stripe customer record, and
// finally the checkout session. A payment that resolves to no email at all is
// a permanent rejection; redelivering it cannot help.
func (r *Reconciler) resolveEmail(ctx context.Context, event *types.PaymentEvent) (string, error) {
	if event.MetadataEmail != "" {
		return auth.CanonicalizeEmail(event.MetadataEmail), nil
	}
	if event.ReceiptEmail != "" {
		return auth.CanonicalizeEmail(event.ReceiptEmail), nil
	}

	if event.CustomerID != "" {
		customer, err := r.payments.GetCustomer(ctx, event.CustomerID)
		if err != nil {
			return "", err
		}
		if customer.Email != "" {
			return auth.CanonicalizeEmail(customer.Email), nil
		}
	}

	if event.SessionID != "" {
		session, err := r.payments.GetCheckoutSession(ctx, event.SessionID)
		if err != nil {
			return "", err
		}
		if session.CustomerEmail != "" {
			return auth.CanonicalizeEmail(session.CustomerEmail), nil
		}
		if session.ClientReferenceID != "" {
			return auth.CanonicalizeEmail(session.ClientReferenceID), nil
		}
	}

	return "", types.NewAppErrorWithDetails(
		types.ErrCodeReconcileNoCustomer,
		"payment event could not be correlated to an account email",
		nil,
		map[string]any{"payment_id": event.PaymentID, "event_id": event.EventID},
	)
}

// sendConfirmation emails the customer that their plan is active. Delivery is
// fire-and-forget: the entitlement is already committed and a failed email
// must not turn the webhook response into a retry.
func (r *Reconciler) sendConfirmation(ctx context.Context, email string, ent types.Entitlement) {
	if r.email == nil {
		return
	}

	// Detach from the request context so the webhook response does not race
	// the email delivery.
	sendCtx := context.WithoutCancel(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(sendCtx, 15*time.Second)
		defer cancel()

		msg := external.EmailMessage{
			To:      email,
			Subject: fmt.Sprintf("Your %s is active", ent.Plan.DisplayName()),
			PlainText: fmt.Sprintf(
				"Thanks for your purchase!\n\nYour %s is now active with %d cover letters.\n\nThe Tailored Letters team",
				ent.Plan.DisplayName(), ent.LetterQuota,
			),
		}
		if _, err := r.email.Send(sendCtx, msg); err != nil {
			r.logger.Warn("confirmation email failed",
				"email", email,
				"plan", ent.Plan,
				"error", err,
			)
		}
	}()
}
