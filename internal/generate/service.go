// Package generate implements the letter generation gate: quota check,
// backend call, and credit consumption, in that order.
package generate

import (
	"context"
	"log/slog"

	"tailoredletters/internal/external"
	"tailoredletters/internal/types"
)

// AccountStore is the slice of the account repository the gate needs.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*types.Account, error)
	ConsumeCredit(ctx context.Context, email string) (int, error)
}

// Letter is a generated cover letter plus the quota state after generation.
type Letter struct {
	Text             string `json:"letter"`
	LettersRemaining int    `json:"letters_remaining"`
}

// Service gates letter generation behind the account's remaining quota.
type Service struct {
	store   AccountStore
	backend external.LetterGenerator // nil when generation is not configured
	logger  *slog.Logger
}

// NewService creates the generation service.
func NewService(store AccountStore, backend external.LetterGenerator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		backend: backend,
		logger:  logger,
	}
}

// Generate produces a cover letter for the account:
//
//  1. Precheck the quota so an exhausted account never costs a backend call.
//  2. Call the backend with profile data and the job description; the model
//     tier follows the account's plan.
//  3. Consume one credit only after the backend succeeded, so a failed
//     generation never burns quota. The decrement is conditional on a
//     positive balance; losing a race to the last credit is tolerated and
//     the letter is still returned.
func (s *Service) Generate(ctx context.Context, email, jobDescription, language string) (*Letter, error) {
	if s.backend == nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamNotConfigured,
			"letter generation is not configured",
			nil,
		)
	}

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if account.LetterCount <= 0 {
		return nil, types.NewAppError(
			types.ErrCodeQuotaLettersExhausted,
			"no letters remaining on the current plan",
			nil,
		)
	}

	text, err := s.backend.Generate(ctx, external.GenerationInput{
		Plan:           account.SelectedPlan,
		ApplicantName:  account.Name,
		Studies:        account.Studies,
		Experiences:    account.Experiences,
		JobDescription: jobDescription,
		Language:       language,
	})
	if err != nil {
		return nil, err
	}

	remaining, err := s.store.ConsumeCredit(ctx, email)
	if err != nil {
		// The letter already exists; losing the race to the last credit or
		// hitting a store error must not discard it. Log and return with the
		// best-known remaining count.
		s.logger.WarnContext(ctx, "credit consumption failed after generation",
			"email", email,
			"error", err,
		)
		remaining = 0
	}

	s.logger.InfoContext(ctx, "letter generated",
		"email", email,
		"plan", account.SelectedPlan,
		"letters_remaining", remaining,
	)
	return &Letter{Text: text, LettersRemaining: remaining}, nil
}
