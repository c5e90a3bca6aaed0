// Package confirm implements the client-facing payment confirmation poller:
// after checkout, the browser lands on the success page and the API polls the
// account until the webhook-applied entitlement becomes visible.
package confirm

import (
	"context"
	"log/slog"
	"time"

	"tailoredletters/internal/types"
)

// Status is the terminal state of a confirmation poll.
type Status string

const (
	// StatusConfirmed means the entitlement showed up within the window.
	StatusConfirmed Status = "confirmed"
	// StatusTimedOut means the window elapsed without the payment landing.
	// The payment may still arrive later; the client should offer resync.
	StatusTimedOut Status = "timed_out"
)

// Result is what a confirmation poll resolved to.
type Result struct {
	Status    Status
	SessionID string
	Account   *types.Account
}

// AccountReader is the read-only slice of the account repository the poller
// needs.
type AccountReader interface {
	GetByEmail(ctx context.Context, email string) (*types.Account, error)
}

// Poller repeatedly checks whether a payment has been reconciled onto the
// account. Polling is bounded: 5 attempts, 3 seconds apart, matching the
// webhook delivery latency Stripe exhibits in practice.
type Poller struct {
	store    AccountReader
	attempts int
	interval time.Duration
	after    func(time.Duration) <-chan time.Time
	logger   *slog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithAfterFunc overrides the timer used between attempts. For tests.
func WithAfterFunc(after func(time.Duration) <-chan time.Time) Option {
	return func(p *Poller) {
		p.after = after
	}
}

// WithSchedule overrides the attempt count and interval.
func WithSchedule(attempts int, interval time.Duration) Option {
	return func(p *Poller) {
		p.attempts = attempts
		p.interval = interval
	}
}

// NewPoller creates a Poller with the default schedule.
func NewPoller(store AccountReader, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		store:    store,
		attempts: 5,
		interval: 3 * time.Second,
		after:    time.After,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Await polls the account until the entitlement purchased at checkout is
// visible, the schedule is exhausted, or the context is cancelled. A
// completed payment status alone is not enough: an account that paid before
// would satisfy it forever, so the plan on the account must also match the
// plan the checkout was for. sessionID is carried through to the result
// purely for client-side correlation.
func (p *Poller) Await(ctx context.Context, email, sessionID string, plan types.PlanTier) (Result, error) {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		account, err := p.store.GetByEmail(ctx, email)
		if err != nil {
			return Result{}, err
		}

		if account.PaymentStatus == types.PaymentStatusCompleted && account.SelectedPlan == plan {
			p.logger.InfoContext(ctx, "payment confirmed",
				"email", email,
				"session_id", sessionID,
				"plan", plan,
				"attempt", attempt,
			)
			return Result{
				Status:    StatusConfirmed,
				SessionID: sessionID,
				Account:   account,
			}, nil
		}

		if attempt == p.attempts {
			break
		}

		select {
		case <-p.after(p.interval):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	p.logger.WarnContext(ctx, "payment confirmation timed out",
		"email", email,
		"session_id", sessionID,
		"attempts", p.attempts,
	)
	return Result{Status: StatusTimedOut, SessionID: sessionID}, nil
}
