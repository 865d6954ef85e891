package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetBalance(ctx context.Context, ownerID int) (*BalanceSnapshot, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BalanceSnapshot), args.Error(1)
}

func (m *MockRepository) Deduct(ctx context.Context, ownerID int, amount int64, generationID, description string) ([]CreditTransaction, error) {
	args := m.Called(ctx, ownerID, amount, generationID, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]CreditTransaction), args.Error(1)
}

func (m *MockRepository) Refund(ctx context.Context, generationID string) (int64, error) {
	args := m.Called(ctx, generationID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) GrantPurchasedLot(ctx context.Context, conf PurchaseConfirmation) (*CreditLot, bool, error) {
	args := m.Called(ctx, conf)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*CreditLot), args.Bool(1), args.Error(2)
}

func (m *MockRepository) AdminAdjust(ctx context.Context, ownerID int, amount int64, reason string, adminID int) ([]CreditTransaction, error) {
	args := m.Called(ctx, ownerID, amount, reason, adminID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]CreditTransaction), args.Error(1)
}

func (m *MockRepository) GetTransactions(ctx context.Context, ownerID int, limit, offset int) ([]CreditTransaction, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]CreditTransaction), args.Error(1)
}

func (m *MockRepository) ExpireLots(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func TestCheckSufficientCredits(t *testing.T) {
	tests := []struct {
		name          string
		balance       int64
		amount        int64
		wantOK        bool
		wantAvailable int64
	}{
		{name: "enough", balance: 50, amount: 10, wantOK: true, wantAvailable: 50},
		{name: "exact", balance: 10, amount: 10, wantOK: true, wantAvailable: 10},
		{name: "short", balance: 9, amount: 10, wantOK: false, wantAvailable: 9},
		{name: "zero balance", balance: 0, amount: 10, wantOK: false, wantAvailable: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			repo.On("GetBalance", mock.Anything, 7).
				Return(&BalanceSnapshot{TotalCredits: tt.balance}, nil)

			svc := NewService(repo)
			ok, available, err := svc.CheckSufficientCredits(context.Background(), 7, tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantAvailable, available)
		})
	}
}

func TestDeduct_RetriesOnConflict(t *testing.T) {
	repo := new(MockRepository)
	conflict := fmt.Errorf("%w: deadlock detected", ErrConflict)
	entries := []CreditTransaction{{ID: 1, Amount: -10}}

	repo.On("Deduct", mock.Anything, 7, int64(10), "gen-1", "plan generation").
		Return(nil, conflict).Twice()
	repo.On("Deduct", mock.Anything, 7, int64(10), "gen-1", "plan generation").
		Return(entries, nil).Once()

	svc := NewService(repo)
	got, err := svc.Deduct(context.Background(), 7, 10, "gen-1", "plan generation")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	repo.AssertNumberOfCalls(t, "Deduct", 3)
}

func TestDeduct_GivesUpAfterMaxRetries(t *testing.T) {
	repo := new(MockRepository)
	conflict := fmt.Errorf("%w: serialization failure", ErrConflict)

	repo.On("Deduct", mock.Anything, 7, int64(10), "gen-1", "plan generation").
		Return(nil, conflict)

	svc := NewService(repo)
	_, err := svc.Deduct(context.Background(), 7, 10, "gen-1", "plan generation")
	require.ErrorIs(t, err, ErrConflict)
	repo.AssertNumberOfCalls(t, "Deduct", maxConflictRetries+1)
}

func TestDeduct_InsufficientIsNotRetried(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Deduct", mock.Anything, 7, int64(10), "gen-1", "plan generation").
		Return(nil, &InsufficientCreditsError{Required: 10, Available: 4})

	svc := NewService(repo)
	_, err := svc.Deduct(context.Background(), 7, 10, "gen-1", "plan generation")

	var insufficient *InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(10), insufficient.Required)
	assert.Equal(t, int64(4), insufficient.Available)
	repo.AssertNumberOfCalls(t, "Deduct", 1)
}

func TestDeduct_InconsistencyIsNotRetried(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Deduct", mock.Anything, 7, int64(10), "gen-1", "plan generation").
		Return(nil, ErrLedgerInconsistency)

	svc := NewService(repo)
	_, err := svc.Deduct(context.Background(), 7, 10, "gen-1", "plan generation")
	require.ErrorIs(t, err, ErrLedgerInconsistency)
	repo.AssertNumberOfCalls(t, "Deduct", 1)
}

func TestRefund_NothingToRefundIsNoError(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Refund", mock.Anything, "gen-1").Return(int64(0), nil).Once()

	svc := NewService(repo)
	require.NoError(t, svc.Refund(context.Background(), "gen-1"))
	repo.AssertExpectations(t)
}

func TestRefund_RetriesOnConflict(t *testing.T) {
	repo := new(MockRepository)
	conflict := fmt.Errorf("%w: deadlock detected", ErrConflict)

	repo.On("Refund", mock.Anything, "gen-1").Return(int64(0), conflict).Once()
	repo.On("Refund", mock.Anything, "gen-1").Return(int64(30), nil).Once()

	svc := NewService(repo)
	require.NoError(t, svc.Refund(context.Background(), "gen-1"))
	repo.AssertNumberOfCalls(t, "Refund", 2)
}

func TestDeduct_ContextCancelledDuringBackoff(t *testing.T) {
	repo := new(MockRepository)
	conflict := fmt.Errorf("%w: deadlock detected", ErrConflict)
	repo.On("Deduct", mock.Anything, 7, int64(10), "gen-1", "plan generation").
		Return(nil, conflict)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	svc := NewService(repo)
	_, err := svc.Deduct(ctx, 7, 10, "gen-1", "plan generation")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrConflict))
}

func TestAdminAdjust_PassesThrough(t *testing.T) {
	repo := new(MockRepository)
	entries := []CreditTransaction{{ID: 9, Amount: 25, Type: TxTypeManualAdjustment}}
	repo.On("AdminAdjust", mock.Anything, 7, int64(25), "goodwill", 1).
		Return(entries, nil).Once()

	svc := NewService(repo)
	got, err := svc.AdminAdjust(context.Background(), 7, 25, "goodwill", 1)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
	repo.AssertExpectations(t)
}

func TestExpireLots_PassesThrough(t *testing.T) {
	repo := new(MockRepository)
	repo.On("ExpireLots", mock.Anything).Return(int64(2), nil).Once()

	svc := NewService(repo)
	expired, err := svc.ExpireLots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), expired)
}
