package milestone

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fieldwatch/internal/types"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*Milestone, error) {
	args := m.Called(ctx, id)
	if ms, ok := args.Get(0).(*Milestone); ok {
		return ms, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepo) UpdateStatus(ctx context.Context, id string, expectedVersion int64, to Status) (int64, error) {
	args := m.Called(ctx, id, expectedVersion, to)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepo) SetPayout(ctx context.Context, id string, status PayoutStatus, transferID string) error {
	args := m.Called(ctx, id, status, transferID)
	return args.Error(0)
}

type mockPayouts struct {
	mock.Mock
}

func (m *mockPayouts) ReleaseMilestonePayout(ctx context.Context, req PayoutRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

var (
	farmer = types.Actor{ID: "farmer_1", Role: types.RoleFarmer}
	admin  = types.Actor{ID: "admin_1", Role: types.RoleAdmin}
)

func newMilestone(status Status) *Milestone {
	return &Milestone{
		ID:                "ms_1",
		FarmerID:          farmer.ID,
		Title:             "Plant cover crop",
		Status:            status,
		PayoutAmountCents: 25000,
		PayoutCurrency:    "usd",
		PayoutAccountID:   "acct_123",
		PayoutStatus:      PayoutNone,
		Version:           3,
	}
}

func appCode(t *testing.T, err error) types.ErrorCode {
	t.Helper()
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code
}

func TestService_Get_NormalizesLegacyStatus(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, nil, nil)
	ctx := t.Context()

	repo.On("GetByID", ctx, "ms_1").Return(newMilestone("Completed"), nil)

	v, err := svc.Get(ctx, admin, "ms_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingVerification, v.Status)
	assert.Equal(t, "Completed", v.RawStatus)
	assert.Equal(t, []Status{StatusVerified, StatusRejected}, v.AllowedTransitions)
	assert.True(t, v.CompletedForReport)
	assert.False(t, v.Terminal)
}

func TestService_Get_FarmerCannotSeeOthers(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, nil, nil)
	ctx := t.Context()

	repo.On("GetByID", ctx, "ms_1").Return(newMilestone(StatusInProgress), nil)

	_, err := svc.Get(ctx, types.Actor{ID: "someone_else", Role: types.RoleFarmer}, "ms_1")
	assert.Equal(t, types.ErrCodeNotFoundMilestone, appCode(t, err))
}

func TestService_Transition_FarmerSubmits(t *testing.T) {
	repo := new(mockRepo)
	payouts := new(mockPayouts)
	svc := NewService(repo, payouts, nil)
	ctx := t.Context()

	repo.On("GetByID", ctx, "ms_1").Return(newMilestone("in progress"), nil)
	repo.On("UpdateStatus", ctx, "ms_1", int64(3), StatusPendingVerification).Return(int64(4), nil)

	v, err := svc.Transition(ctx, farmer, "ms_1", "submitted")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingVerification, v.Status)
	assert.Equal(t, int64(4), v.Version)
	assert.Empty(t, v.AllowedTransitions)

	repo.AssertExpectations(t)
	payouts.AssertNotCalled(t, "ReleaseMilestonePayout", mock.Anything, mock.Anything)
}

func TestService_Transition_VerifyReleasesPayout(t *testing.T) {
	repo := new(mockRepo)
	payouts := new(mockPayouts)
	svc := NewService(repo, payouts, nil)
	ctx := t.Context()

	repo.On("GetByID", ctx, "ms_1").Return(newMilestone(StatusPendingVerification), nil)
	repo.On("UpdateStatus", ctx, "ms_1", int64(3), StatusVerified).Return(int64(4), nil)
	payouts.On("ReleaseMilestonePayout", ctx, PayoutRequest{
		MilestoneID:    "ms_1",
		AmountCents:    25000,
		Currency:       "usd",
		DestinationAcc: "acct_123",
	}).Return("tr_999", nil)
	repo.On("SetPayout", ctx, "ms_1", PayoutPaid, "tr_999").Return(nil)

	v, err := svc.Transition(ctx, admin, "ms_1", StatusVerified)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, v.Status)
	assert.Equal(t, PayoutPaid, v.PayoutStatus)
	assert.Equal(t, "tr_999", v.PayoutTransferID)
	assert.True(t, v.Terminal)

	repo.AssertExpectations(t)
	payouts.AssertExpectations(t)
}

func TestService_Transition_PayoutFailureKeepsVerified(t *testing.T) {
	repo := new(mockRepo)
	payouts := new(mockPayouts)
	svc := NewService(repo, payouts, nil)
	ctx := t.Context()

	repo.On("GetByID", ctx, "ms_1").Return(newMilestone(StatusPendingVerification), nil)
	repo.On("UpdateStatus", ctx, "ms_1", int64(3), StatusVerified).Return(int64(4), nil)
	payouts.On("ReleaseMilestonePayout", ctx, mock.Anything).
		Return("", &types.RemoteServiceError{Service: "stripe", Status: 503, Message: "unavailable"})
	repo.On("SetPayout", ctx, "ms_1", PayoutFailed, "").Return(nil)

	v, err := svc.Transition(ctx, admin, "ms_1", StatusVerified)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, v.Status)
	assert.Equal(t, PayoutFailed, v.PayoutStatus)
	repo.AssertExpectations(t)
}

func TestService_Transition_NoAmountSkipsPayout(t *testing.T) {
	repo := new(mockRepo)
	payouts := new(mockPayouts)
	svc := NewService(repo, payouts, nil)
	ctx := t.Context()

	m := newMilestone(StatusPendingVerification)
	m.PayoutAmountCents = 0
	repo.On("GetByID", ctx, "ms_1").Return(m, nil)
	repo.On("UpdateStatus", ctx, "ms_1", int64(3), StatusVerified).Return(int64(4), nil)
	repo.On("SetPayout", ctx, "ms_1", PayoutSkipped, "").Return(nil)

	v, err := svc.Transition(ctx, admin, "ms_1", StatusVerified)
	require.NoError(t, err)
	assert.Equal(t, PayoutSkipped, v.PayoutStatus)
	payouts.AssertNotCalled(t, "ReleaseMilestonePayout", mock.Anything, mock.Anything)
}

func TestService_Transition_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		actor    types.Actor
		current  Status
		to       Status
		wantCode types.ErrorCode
	}{
		{"unknown target", admin, StatusPendingVerification, "approved-ish", types.ErrCodeValidationInvalidStatus},
		{"farmer cannot verify", farmer, StatusPendingVerification, StatusVerified, types.ErrCodePermissionTransition},
		{"farmer cannot skip", farmer, StatusInProgress, StatusSkipped, types.ErrCodePermissionTransition},
		{"admin cannot verify unsubmitted", admin, StatusInProgress, StatusVerified, types.ErrCodePermissionTransition},
		{"verified is terminal", admin, StatusVerified, StatusRejected, types.ErrCodeConflictTerminal},
		{"legacy approved is terminal", admin, "approved", StatusRejected, types.ErrCodeConflictTerminal},
		{"skipped is terminal", farmer, StatusSkipped, StatusInProgress, types.ErrCodeConflictTerminal},
		{"unknown role", types.Actor{ID: "x", Role: "guest"}, StatusNotStarted, StatusInProgress, types.ErrCodePermissionRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockRepo)
			svc := NewService(repo, nil, nil)
			ctx := t.Context()
			repo.On("GetByID", ctx, "ms_1").Return(newMilestone(tt.current), nil).Maybe()

			_, err := svc.Transition(ctx, tt.actor, "ms_1", tt.to)
			assert.Equal(t, tt.wantCode, appCode(t, err))
			repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestService_Transition_ConcurrentModification(t *testing.T) {
	repo := new(mockRepo)
	svc := NewService(repo, nil, nil)
	ctx := t.Context()

	repo.On("GetByID", ctx, "ms_1").Return(newMilestone(StatusNotStarted), nil)
	repo.On("UpdateStatus", ctx, "ms_1", int64(3), StatusInProgress).
		Return(int64(0), types.NewAppError(types.ErrCodeConflictConcurrent, "milestone changed", nil))

	_, err := svc.Transition(ctx, farmer, "ms_1", StatusInProgress)
	assert.Equal(t, types.ErrCodeConflictConcurrent, appCode(t, err))
}

func TestService_RetryPayout(t *testing.T) {
	t.Run("admin retries failed payout", func(t *testing.T) {
		repo := new(mockRepo)
		payouts := new(mockPayouts)
		svc := NewService(repo, payouts, nil)
		ctx := t.Context()

		m := newMilestone(StatusVerified)
		m.PayoutStatus = PayoutFailed
		repo.On("GetByID", ctx, "ms_1").Return(m, nil)
		payouts.On("ReleaseMilestonePayout", ctx, mock.Anything).Return("tr_1", nil)
		repo.On("SetPayout", ctx, "ms_1", PayoutPaid, "tr_1").Return(nil)

		v, err := svc.RetryPayout(ctx, admin, "ms_1")
		require.NoError(t, err)
		assert.Equal(t, PayoutPaid, v.PayoutStatus)
	})

	t.Run("already paid is a no-op", func(t *testing.T) {
		repo := new(mockRepo)
		payouts := new(mockPayouts)
		svc := NewService(repo, payouts, nil)
		ctx := t.Context()

		m := newMilestone(StatusVerified)
		m.PayoutStatus = PayoutPaid
		repo.On("GetByID", ctx, "ms_1").Return(m, nil)

		_, err := svc.RetryPayout(ctx, admin, "ms_1")
		require.NoError(t, err)
		payouts.AssertNotCalled(t, "ReleaseMilestonePayout", mock.Anything, mock.Anything)
	})

	t.Run("farmer forbidden", func(t *testing.T) {
		svc := NewService(new(mockRepo), nil, nil)
		_, err := svc.RetryPayout(t.Context(), farmer, "ms_1")
		assert.Equal(t, types.ErrCodePermissionRole, appCode(t, err))
	})

	t.Run("not verified", func(t *testing.T) {
		repo := new(mockRepo)
		svc := NewService(repo, nil, nil)
		ctx := t.Context()
		repo.On("GetByID", ctx, "ms_1").Return(newMilestone(StatusRejected), nil)

		_, err := svc.RetryPayout(ctx, admin, "ms_1")
		assert.Equal(t, types.ErrCodeValidationInvalidStatus, appCode(t, err))
	})
}
