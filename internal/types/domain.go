// Package types defines the shared domain model, error taxonomy, and context
// helpers for the Tailored Letters platform.
package types

import (
	"strings"
	"time"
)

// PlanTier identifies a subscription plan.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanBasic   PlanTier = "basic"
	PlanPremium PlanTier = "premium"
)

// ParsePlanTier normalizes a plan name into a PlanTier. It accepts both the
// canonical short form ("basic") and the display form used by checkout
// metadata ("Basic Plan"), case-insensitively. Returns false for anything
// unrecognized; callers must never guess a tier.
func ParsePlanTier(s string) (PlanTier, bool) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.TrimSuffix(normalized, " plan")
	switch normalized {
	case string(PlanFree):
		return PlanFree, true
	case string(PlanBasic):
		return PlanBasic, true
	case string(PlanPremium):
		return PlanPremium, true
	default:
		return "", false
	}
}

// DisplayName returns the human-facing plan name used in checkout line items
// and confirmation emails (e.g., "Basic Plan").
func (p PlanTier) DisplayName() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:]) + " Plan"
}

// Paid reports whether the tier requires payment.
func (p PlanTier) Paid() bool {
	return p == PlanBasic || p == PlanPremium
}

// PaymentStatus tracks whether an account has a reconciled payment on record.
type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = "none"
	PaymentStatusCompleted PaymentStatus = "completed"
)

// Account is the user document persisted in the account store.
//
// Invariants:
//   - LetterCount never goes negative; decrements are conditional on a
//     positive remaining count.
//   - SelectedPlan and LetterCount are always written together in a single
//     update so a reader never observes a mixed state.
//   - LastProcessedPaymentID is the idempotency key for entitlement
//     application; a payment ID is applied at most once per account.
type Account struct {
	ID                     string        `bson:"_id" json:"id"`
	Email                  string        `bson:"email" json:"email"`
	Name                   string        `bson:"name" json:"name"`
	PasswordHash           string        `bson:"password_hash" json:"-"`
	SelectedPlan           PlanTier      `bson:"selected_plan" json:"selected_plan"`
	LetterCount            int           `bson:"letter_count" json:"letter_count"`
	PaymentStatus          PaymentStatus `bson:"payment_status" json:"payment_status"`
	LastPaymentDate        *time.Time    `bson:"last_payment_date,omitempty" json:"last_payment_date,omitempty"`
	SubscriptionEndDate    *time.Time    `bson:"subscription_end_date,omitempty" json:"subscription_end_date,omitempty"`
	LastProcessedPaymentID string        `bson:"last_processed_payment_id,omitempty" json:"-"`
	Studies                string        `bson:"studies,omitempty" json:"studies,omitempty"`
	Experiences            []string      `bson:"experiences,omitempty" json:"experiences,omitempty"`
	CreatedAt              time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt              time.Time     `bson:"updated_at" json:"updated_at"`
}

// Entitlement is what a payment (or registration) grants an account: the plan
// tier, a full replacement letter quota, and an optional subscription window.
type Entitlement struct {
	Plan        PlanTier
	LetterQuota int
	Duration    time.Duration // zero for the free tier (no expiry window)
}

// PaymentEvent is the normalized set of facts extracted from a verified
// payment notification, independent of which provider event type carried
// them. The correlation fields are ordered candidates; resolution walks them
// in declared priority and never guesses.
type PaymentEvent struct {
	// PaymentID is the provider payment identifier used as the idempotency key.
	PaymentID string
	// EventID is the provider event identifier, for log correlation only.
	EventID string

	AmountCents int64
	Currency    string

	// Correlation candidates, in resolution order.
	MetadataEmail string // metadata.user_email set at checkout initiation
	ReceiptEmail  string // receipt_email / customer_details.email
	CustomerID    string // provider customer reference
	SessionID     string // checkout session reference

	// PlanHint is the advisory plan name from checkout metadata. It is
	// cross-checked against the amount-derived plan but never trusted.
	PlanHint string

	OccurredAt time.Time
}

// ApplyOutcome reports the result of an entitlement application attempt.
type ApplyOutcome int

const (
	// ApplyOutcomeApplied means the entitlement was written to the account.
	ApplyOutcomeApplied ApplyOutcome = iota
	// ApplyOutcomeDuplicate means the payment ID was already applied; the
	// attempt was an idempotent no-op.
	ApplyOutcomeDuplicate
)

// CheckoutIntent is the ephemeral record returned to a client that initiated
// a checkout. It is not persisted; the session ID doubles as the support
// correlation handle if confirmation later times out.
type CheckoutIntent struct {
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	Plan        PlanTier  `json:"plan"`
	AmountCents int64     `json:"amount_cents"`
	InitiatedAt time.Time `json:"initiated_at"`
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now, normalized to UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
