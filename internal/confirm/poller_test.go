package confirm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailoredletters/internal/types"
)

// sequenceReader returns canned accounts per call.
type sequenceReader struct {
	results []*types.Account
	errs    []error
	calls   int
}

func (s *sequenceReader) GetByEmail(_ context.Context, _ string) (*types.Account, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	if s.errs != nil && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.results[i], nil
}

// instantAfter fires timers immediately and counts waits.
func instantAfter(waits *int) func(time.Duration) <-chan time.Time {
	return func(time.Duration) <-chan time.Time {
		*waits++
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
}

func pending() *types.Account {
	return &types.Account{Email: "buyer@example.com", PaymentStatus: types.PaymentStatusNone}
}

func completed() *types.Account {
	return &types.Account{
		Email:         "buyer@example.com",
		PaymentStatus: types.PaymentStatusCompleted,
		SelectedPlan:  types.PlanBasic,
		LetterCount:   20,
	}
}

func TestAwait_ConfirmsOnceEntitlementLands(t *testing.T) {
	reader := &sequenceReader{
		results: []*types.Account{pending(), pending(), completed()},
	}
	var waits int
	poller := NewPoller(reader, nil, WithAfterFunc(instantAfter(&waits)))

	result, err := poller.Await(context.Background(), "buyer@example.com", "cs_1", types.PlanBasic)
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, result.Status)
	assert.Equal(t, "cs_1", result.SessionID)
	require.NotNil(t, result.Account)
	assert.Equal(t, types.PlanBasic, result.Account.SelectedPlan)
	assert.Equal(t, 3, reader.calls)
	assert.Equal(t, 2, waits, "poller must sleep between attempts, not after success")
}

func TestAwait_TimesOutAfterSchedule(t *testing.T) {
	reader := &sequenceReader{results: []*types.Account{pending()}}
	var waits int
	poller := NewPoller(reader, nil, WithAfterFunc(instantAfter(&waits)))

	result, err := poller.Await(context.Background(), "buyer@example.com", "cs_2", types.PlanBasic)
	require.NoError(t, err)

	assert.Equal(t, StatusTimedOut, result.Status)
	assert.Equal(t, "cs_2", result.SessionID)
	assert.Nil(t, result.Account)
	assert.Equal(t, 5, reader.calls, "default schedule is 5 attempts")
	assert.Equal(t, 4, waits, "no wait after the final attempt")
}

func TestAwait_ImmediateConfirmationSkipsWaiting(t *testing.T) {
	reader := &sequenceReader{results: []*types.Account{completed()}}
	var waits int
	poller := NewPoller(reader, nil, WithAfterFunc(instantAfter(&waits)))

	result, err := poller.Await(context.Background(), "buyer@example.com", "cs_3", types.PlanBasic)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Status)
	assert.Equal(t, 1, reader.calls)
	assert.Zero(t, waits)
}

func TestAwait_PriorPurchaseDoesNotConfirmUpgrade(t *testing.T) {
	// The account completed a basic purchase earlier; the poll is for a
	// premium upgrade that never lands. The stale completed status must not
	// read as confirmation.
	reader := &sequenceReader{results: []*types.Account{completed()}}
	var waits int
	poller := NewPoller(reader, nil, WithAfterFunc(instantAfter(&waits)))

	result, err := poller.Await(context.Background(), "buyer@example.com", "cs_premium_upgrade", types.PlanPremium)
	require.NoError(t, err)

	assert.Equal(t, StatusTimedOut, result.Status)
	assert.Equal(t, 5, reader.calls, "must keep polling past the stale entitlement")
}

func TestAwait_ConfirmsUpgradeOnceApplied(t *testing.T) {
	upgraded := &types.Account{
		Email:         "buyer@example.com",
		PaymentStatus: types.PaymentStatusCompleted,
		SelectedPlan:  types.PlanPremium,
		LetterCount:   40,
	}
	reader := &sequenceReader{
		results: []*types.Account{completed(), completed(), upgraded},
	}
	var waits int
	poller := NewPoller(reader, nil, WithAfterFunc(instantAfter(&waits)))

	result, err := poller.Await(context.Background(), "buyer@example.com", "cs_premium_upgrade", types.PlanPremium)
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, result.Status)
	require.NotNil(t, result.Account)
	assert.Equal(t, types.PlanPremium, result.Account.SelectedPlan)
	assert.Equal(t, 3, reader.calls)
}

func TestAwait_ContextCancellation(t *testing.T) {
	reader := &sequenceReader{results: []*types.Account{pending()}}
	poller := NewPoller(reader, nil) // real 3s timer; ctx cancels first

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := poller.Await(ctx, "buyer@example.com", "cs_4", types.PlanBasic)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAwait_StoreErrorPropagates(t *testing.T) {
	storeErr := types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	reader := &sequenceReader{
		results: []*types.Account{nil},
		errs:    []error{storeErr},
	}
	poller := NewPoller(reader, nil)

	_, err := poller.Await(context.Background(), "ghost@example.com", "cs_5", types.PlanBasic)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundAccount, appErr.Code)
}

func TestAwait_CustomSchedule(t *testing.T) {
	reader := &sequenceReader{results: []*types.Account{pending()}}
	var waits int
	poller := NewPoller(reader, nil,
		WithAfterFunc(instantAfter(&waits)),
		WithSchedule(2, time.Millisecond),
	)

	result, err := poller.Await(context.Background(), "buyer@example.com", "cs_6", types.PlanBasic)
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, result.Status)
	assert.Equal(t, 2, reader.calls)
}
