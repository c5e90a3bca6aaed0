package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"tailoredletters/internal/types"
)

// accountsCollection is the collection name for account documents.
const accountsCollection = "users"

// AccountRepo is the MongoDB-backed account repository. All entitlement and
// quota writes are expressed as single conditional updates so concurrent
// webhook deliveries and generation requests cannot corrupt the invariants.
type AccountRepo struct {
	col    *mongo.Collection
	clock  types.Clock
	logger *slog.Logger
}

// NewAccountRepo creates an AccountRepo over the given database.
func NewAccountRepo(database *mongo.Database, clock types.Clock, logger *slog.Logger) *AccountRepo {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountRepo{
		col:    database.Collection(accountsCollection),
		clock:  clock,
		logger: logger,
	}
}

// EnsureIndexes creates the unique email index. Called once at startup;
// creation is idempotent.
func (r *AccountRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to ensure account indexes", err)
	}
	return nil
}

// Create inserts a new account document. A duplicate email maps to
// conflict_email_exists so registration can answer 409.
func (r *AccountRepo) Create(ctx context.Context, account *types.Account) error {
	now := r.clock.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	if _, err := r.col.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.NewAppError(
				types.ErrCodeConflictEmail,
				"an account with this email already exists",
				err,
			)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create account", err)
	}
	return nil
}

// GetByEmail loads the account for the given canonical email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*types.Account, error) {
	var account types.Account
	err := r.col.FindOne(ctx, bson.M{"email": email}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundAccount,
				"account not found",
				err,
			)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load account", err)
	}
	return &account, nil
}

// UpdateProfile updates the client-editable profile fields and returns the
// updated document. Entitlement fields are deliberately not reachable from
// this path.
func (r *AccountRepo) UpdateProfile(ctx context.Context, email, name, studies string, experiences []string) (*types.Account, error) {
	update := bson.M{"$set": bson.M{
		"name":        name,
		"studies":     studies,
		"experiences": experiences,
		"updated_at":  r.clock.Now(),
	}}

	var account types.Account
	err := r.col.FindOneAndUpdate(
		ctx,
		bson.M{"email": email},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update profile", err)
	}
	return &account, nil
}

// ApplyEntitlement writes the entitlement purchased by paymentID onto the
// account in a single conditional update:
//
//	filter:  {email, last_processed_payment_id != paymentID}
//	update:  $set {plan, quota, payment fields, last_processed_payment_id}
//
// The filter makes the write idempotent per payment ID: a redelivered event
// matches zero documents and reports ApplyOutcomeDuplicate. The plan and
// quota are always replaced together so no reader observes a mixed state.
func (r *AccountRepo) ApplyEntitlement(
	ctx context.Context,
	email string,
	paymentID string,
	ent types.Entitlement,
	paidAt time.Time,
) (types.ApplyOutcome, error) {
	now := r.clock.Now()
	if paidAt.IsZero() {
		paidAt = now
	}

	set := bson.M{
		"selected_plan":             ent.Plan,
		"letter_count":              ent.LetterQuota,
		"payment_status":            types.PaymentStatusCompleted,
		"last_payment_date":         paidAt,
		"last_processed_payment_id": paymentID,
		"updated_at":                now,
	}
	if ent.Duration > 0 {
		set["subscription_end_date"] = paidAt.Add(ent.Duration)
	}

	filter := bson.M{
		"email":                     email,
		"last_processed_payment_id": bson.M{"$ne": paymentID},
	}

	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to apply entitlement", err)
	}
	if res.MatchedCount == 1 {
		return types.ApplyOutcomeApplied, nil
	}

	// Zero matches: either the account does not exist or the payment was
	// already applied. A follow-up read distinguishes the two.
	account, err := r.GetByEmail(ctx, email)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundAccount {
			return 0, types.NewAppErrorWithDetails(
				types.ErrCodeReconcileAccountMissing,
				"payment references an email with no account",
				nil,
				map[string]any{"payment_id": paymentID},
			)
		}
		return 0, err
	}

	if account.LastProcessedPaymentID == paymentID {
		return types.ApplyOutcomeDuplicate, nil
	}

	// The document changed between the update and the read. Extremely rare;
	// surface as a store error so the provider redelivers.
	return 0, types.NewAppError(
		types.ErrCodeInternalDB,
		"entitlement application raced with a concurrent write",
		nil,
	)
}

// ConsumeCredit decrements the remaining letter count by one, conditional on
// a positive balance, and returns the new remaining count. The condition
// guarantees the count never goes negative under concurrent generation
// requests: whichever request loses the race gets quota_letters_exhausted.
func (r *AccountRepo) ConsumeCredit(ctx context.Context, email string) (int, error) {
	update := bson.M{
		"$inc": bson.M{"letter_count": -1},
		"$set": bson.M{"updated_at": r.clock.Now()},
	}

	var account types.Account
	err := r.col.FindOneAndUpdate(
		ctx,
		bson.M{"email": email, "letter_count": bson.M{"$gt": 0}},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&account)
	if err == nil {
		return account.LetterCount, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to consume letter credit", err)
	}

	// No match: distinguish a missing account from an exhausted quota.
	if _, lookupErr := r.GetByEmail(ctx, email); lookupErr != nil {
		return 0, lookupErr
	}
	return 0, types.NewAppError(
		types.ErrCodeQuotaLettersExhausted,
		"no letters remaining on the current plan",
		nil,
	)
}
