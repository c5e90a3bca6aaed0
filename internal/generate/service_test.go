package generate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailoredletters/internal/external"
	"tailoredletters/internal/types"
)

type fakeStore struct {
	account     *types.Account
	getErr      error
	remaining   int
	consumeErr  error
	consumeHits int
}

func (f *fakeStore) GetByEmail(_ context.Context, _ string) (*types.Account, error) {
	return f.account, f.getErr
}

func (f *fakeStore) ConsumeCredit(_ context.Context, _ string) (int, error) {
	f.consumeHits++
	return f.remaining, f.consumeErr
}

type fakeBackend struct {
	text  string
	err   error
	calls int
	input external.GenerationInput
}

func (f *fakeBackend) Generate(_ context.Context, input external.GenerationInput) (string, error) {
	f.calls++
	f.input = input
	return f.text, f.err
}

func basicAccount(letters int) *types.Account {
	return &types.Account{
		Email:        "user@example.com",
		Name:         "Ada",
		SelectedPlan: types.PlanBasic,
		LetterCount:  letters,
		Studies:      "CS",
		Experiences:  []string{"backend engineer"},
	}
}

func TestGenerate_Success(t *testing.T) {
	store := &fakeStore{account: basicAccount(5), remaining: 4}
	backend := &fakeBackend{text: "Dear hiring manager, ..."}
	svc := NewService(store, backend, nil)

	letter, err := svc.Generate(context.Background(), "user@example.com", "Go developer role", "English")
	require.NoError(t, err)

	assert.Equal(t, "Dear hiring manager, ...", letter.Text)
	assert.Equal(t, 4, letter.LettersRemaining)
	assert.Equal(t, 1, store.consumeHits)
	assert.Equal(t, types.PlanBasic, backend.input.Plan)
	assert.Equal(t, "Go developer role", backend.input.JobDescription)
	assert.Equal(t, []string{"backend engineer"}, backend.input.Experiences)
}

func TestGenerate_ExhaustedQuotaSkipsBackend(t *testing.T) {
	store := &fakeStore{account: basicAccount(0)}
	backend := &fakeBackend{text: "should not be called"}
	svc := NewService(store, backend, nil)

	_, err := svc.Generate(context.Background(), "user@example.com", "job", "")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeQuotaLettersExhausted, appErr.Code)
	assert.Zero(t, backend.calls, "exhausted quota must not cost a backend call")
	assert.Zero(t, store.consumeHits)
}

func TestGenerate_BackendFailurePreservesQuota(t *testing.T) {
	store := &fakeStore{account: basicAccount(3)}
	backend := &fakeBackend{err: types.NewAppError(types.ErrCodeUpstreamGeneration, "backend down", nil)}
	svc := NewService(store, backend, nil)

	_, err := svc.Generate(context.Background(), "user@example.com", "job", "")
	require.Error(t, err)
	assert.Zero(t, store.consumeHits, "failed generation must not burn a credit")
}

func TestGenerate_ConsumeRaceStillReturnsLetter(t *testing.T) {
	store := &fakeStore{
		account:    basicAccount(1),
		consumeErr: types.NewAppError(types.ErrCodeQuotaLettersExhausted, "no letters remaining", nil),
	}
	backend := &fakeBackend{text: "letter text"}
	svc := NewService(store, backend, nil)

	letter, err := svc.Generate(context.Background(), "user@example.com", "job", "")
	require.NoError(t, err, "the generated letter outranks the lost decrement race")
	assert.Equal(t, "letter text", letter.Text)
	assert.Zero(t, letter.LettersRemaining)
}

func TestGenerate_NilBackend(t *testing.T) {
	store := &fakeStore{account: basicAccount(3)}
	svc := NewService(store, nil, nil)

	_, err := svc.Generate(context.Background(), "user@example.com", "job", "")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamNotConfigured, appErr.Code)
}

func TestGenerate_UnknownAccount(t *testing.T) {
	store := &fakeStore{getErr: types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)}
	backend := &fakeBackend{}
	svc := NewService(store, backend, nil)

	_, err := svc.Generate(context.Background(), "ghost@example.com", "job", "")
	require.Error(t, err)
	assert.Zero(t, backend.calls)
}
