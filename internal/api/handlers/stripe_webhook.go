package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tailoredletters/internal/core"
	"tailoredletters/internal/external"
	"tailoredletters/internal/reconcile"
	"tailoredletters/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload
// (64 KB). Stripe webhook payloads are small; this limit protects against
// abuse.
const maxWebhookBodySize = 64 * 1024

// PaymentReconciler is the slice of the reconciler the webhook handler needs.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, event types.PaymentEvent) (reconcile.Result, error)
}

// StripeWebhookHandler handles asynchronous payment events from Stripe.
// It is unauthenticated (no JWT) but verifies the provider signature.
//
// The response status is the retry contract with Stripe:
//   - 2xx: the event was absorbed (applied, duplicate, or irrelevant type) —
//     do not redeliver.
//   - 4xx: the event is permanently unprocessable (bad signature, no
//     correlatable account, unknown amount) — redelivery cannot help.
//   - 5xx: a transient failure (database, Stripe lookups) — please redeliver.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler PaymentReconciler
	secret     string
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	reconciler PaymentReconciler,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. This is separate from
// the billing routes because webhook routes are public (no auth middleware).
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// webhookAck is the success response body. Stripe ignores it; it exists for
// log correlation when replaying deliveries by hand.
type webhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// Handle processes one webhook delivery: read, verify, parse, reconcile.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	paymentEvent, relevant, err := event.toPaymentEvent()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "malformed webhook event object",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"malformed event payload",
			err,
		))
		return
	}
	if !relevant {
		h.logger.DebugContext(r.Context(), "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		core.JSON(w, r, http.StatusOK, webhookAck{Received: true, Outcome: "ignored"})
		return
	}

	result, err := h.reconciler.Reconcile(r.Context(), paymentEvent)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "webhook reconciliation failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		// The AppError code picks the status class: reconcile_* and
		// validation_* reject permanently, internal_*/upstream_* ask Stripe
		// to redeliver.
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			core.Error(w, r, appErr)
			return
		}
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "reconciliation failed", err))
		return
	}

	core.JSON(w, r, http.StatusOK, webhookAck{Received: true, Outcome: string(result.Outcome)})
}

// ---------------------------------------------------------------------------
// Stripe Event Parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal representation of a Stripe webhook event.
// We avoid importing the full stripe.Event type to keep the handler decoupled
// from the stripe-go library and to make testing straightforward.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// stripeEventData wraps the event data object.
type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripePaymentIntentObj holds the fields consumed from a
// payment_intent.succeeded event's data object.
type stripePaymentIntentObj struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Customer     string            `json:"customer"`
	ReceiptEmail string            `json:"receipt_email"`
	Metadata     map[string]string `json:"metadata"`
}

// stripeCheckoutSessionObj holds the fields consumed from a
// checkout.session.completed event's data object.
type stripeCheckoutSessionObj struct {
	ID                string            `json:"id"`
	PaymentIntent     string            `json:"payment_intent"`
	Customer          string            `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

// toPaymentEvent maps the wire event to the domain payment event. The second
// return is false for event types the pipeline does not consume. A consumed
// event type whose data object does not parse is an error, not an ignore:
// the payload passed signature verification, so a broken object means a
// malformed delivery, and acknowledging it would silently drop a payment.
func (e *stripeWebhookEvent) toPaymentEvent() (types.PaymentEvent, bool, error) {
	switch e.Type {
	case external.EventPaymentIntentSucceeded, external.EventCheckoutSessionComplete:
	default:
		return types.PaymentEvent{}, false, nil
	}

	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return types.PaymentEvent{}, false, fmt.Errorf("parsing event data: %w", err)
	}

	occurredAt := time.Unix(e.Created, 0).UTC()

	switch e.Type {
	case external.EventPaymentIntentSucceeded:
		var intent stripePaymentIntentObj
		if err := json.Unmarshal(data.Object, &intent); err != nil {
			return types.PaymentEvent{}, false, fmt.Errorf("parsing payment intent object: %w", err)
		}
		return types.PaymentEvent{
			PaymentID:     intent.ID,
			EventID:       e.ID,
			AmountCents:   intent.Amount,
			Currency:      intent.Currency,
			MetadataEmail: intent.Metadata["user_email"],
			ReceiptEmail:  intent.ReceiptEmail,
			CustomerID:    intent.Customer,
			PlanHint:      intent.Metadata["plan"],
			OccurredAt:    occurredAt,
		}, true, nil

	case external.EventCheckoutSessionComplete:
		var session stripeCheckoutSessionObj
		if err := json.Unmarshal(data.Object, &session); err != nil {
			return types.PaymentEvent{}, false, fmt.Errorf("parsing checkout session object: %w", err)
		}
		event := types.PaymentEvent{
			PaymentID:     session.PaymentIntent,
			EventID:       e.ID,
			AmountCents:   session.AmountTotal,
			Currency:      session.Currency,
			MetadataEmail: session.Metadata["user_email"],
			CustomerID:    session.Customer,
			SessionID:     session.ID,
			PlanHint:      session.Metadata["plan"],
			OccurredAt:    occurredAt,
		}
		if event.MetadataEmail == "" && session.CustomerDetails != nil {
			event.MetadataEmail = session.CustomerDetails.Email
		}
		if event.MetadataEmail == "" {
			event.MetadataEmail = session.ClientReferenceID
		}
		return event, true, nil

	default:
		return types.PaymentEvent{}, false, nil
	}
}
