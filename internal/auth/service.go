package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"tailoredletters/internal/billing"
	"tailoredletters/internal/types"
)

// AccountStore defines the data access methods needed by the Service.
type AccountStore interface {
	Create(ctx context.Context, account *types.Account) error
	GetByEmail(ctx context.Context, email string) (*types.Account, error)
}

// Service implements registration and login.
type Service struct {
	store  AccountStore
	issuer *TokenIssuer
	hasher PasswordHasher
	logger *slog.Logger
}

// ServiceConfig holds the dependencies for creating a Service.
type ServiceConfig struct {
	Store  AccountStore
	Issuer *TokenIssuer
	Hasher PasswordHasher
	Logger *slog.Logger
}

// NewService creates the auth service. If Hasher is nil the production
// bcrypt hasher is used.
func NewService(cfg ServiceConfig) *Service {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = &bcryptHasher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  cfg.Store,
		issuer: cfg.Issuer,
		hasher: hasher,
		logger: logger,
	}
}

// Register creates a new account on the free tier and returns it with a
// signed access token. The email is canonicalized before it becomes the
// account key; a duplicate surfaces as conflict_email_exists.
func (s *Service) Register(ctx context.Context, email, name, password string) (*types.Account, string, error) {
	email = CanonicalizeEmail(email)

	hash, err := s.hasher.GenerateFromPassword(password)
	if err != nil {
		return nil, "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}

	free := billing.FreeEntitlement()
	account := &types.Account{
		ID:            uuid.NewString(),
		Email:         email,
		Name:          name,
		PasswordHash:  hash,
		SelectedPlan:  free.Plan,
		LetterCount:   free.LetterQuota,
		PaymentStatus: types.PaymentStatusNone,
	}

	if err := s.store.Create(ctx, account); err != nil {
		return nil, "", err
	}

	token, err := s.issuer.Issue(account.ID, account.Email)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("account registered", "account_id", account.ID, "email", email)
	return account, token, nil
}

// Login verifies credentials and returns the account with a fresh token.
// Unknown emails and wrong passwords both produce the same generic error.
func (s *Service) Login(ctx context.Context, email, password string) (*types.Account, string, error) {
	email = CanonicalizeEmail(email)

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundAccount {
			return nil, "", errInvalidCreds()
		}
		return nil, "", err
	}

	if err := s.hasher.CompareHashAndPassword(account.PasswordHash, password); err != nil {
		return nil, "", errInvalidCreds()
	}

	token, err := s.issuer.Issue(account.ID, account.Email)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("user logged in", "account_id", account.ID, "email", email)
	return account, token, nil
}
