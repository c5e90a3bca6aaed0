package external

import (
	"context"
	"time"

	"tailoredletters/internal/types"
)

// Stripe event types the webhook pipeline consumes. Everything else is
// acknowledged and ignored.
const (
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
	EventCheckoutSessionComplete = "checkout.session.completed"
)

// WebhookVerifier validates webhook payload signatures before any parsing.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// EmailMessage is a single transactional email with inline plain-text content.
type EmailMessage struct {
	To        string
	ToName    string
	Subject   string
	PlainText string
}

// EmailSender delivers transactional email. Send returns the provider message
// ID on success.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// GenerationInput carries everything the text backend needs to draft a letter.
type GenerationInput struct {
	Plan           types.PlanTier
	ApplicantName  string
	Studies        string
	Experiences    []string
	JobDescription string
	Language       string
}

// LetterGenerator produces cover letter text from structured applicant data.
type LetterGenerator interface {
	Generate(ctx context.Context, input GenerationInput) (string, error)
}

// PaymentIntent is the subset of Stripe's payment intent object the
// reconciler consumes.
type PaymentIntent struct {
	ID           string
	Status       string
	AmountCents  int64
	Currency     string
	CustomerID   string
	ReceiptEmail string
	Metadata     map[string]string
	CreatedAt    time.Time
}

// CheckoutSession is the subset of Stripe's checkout session object needed
// for correlation and confirmation polling.
type CheckoutSession struct {
	ID                string
	URL               string
	PaymentStatus     string
	PaymentIntentID   string
	CustomerID        string
	CustomerEmail     string
	ClientReferenceID string
	AmountCents       int64
	Currency          string
	Metadata          map[string]string
}

// Customer is the subset of Stripe's customer object used for email fallback.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// CheckoutParams describes a checkout session to create. The amount is always
// supplied by the server-side pricing table, never by the client.
type CheckoutParams struct {
	Plan        types.PlanTier
	AmountCents int64
	Currency    string
	Email       string
	SuccessURL  string
	CancelURL   string
}
