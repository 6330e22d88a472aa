package limits

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/txfeed/service/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCompute_Buttons(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		verified bool
		want     *Button
	}{
		{"no application, unverified", StatusNone, false, &Button{"Confirm your number", ActionVerifyNumber}},
		{"no application, verified", StatusNone, true, &Button{"Begin application", ActionBeginApplication}},
		{"in review", StatusInReview, true, nil},
		{"approved", StatusApproved, true, nil},
		{"incomplete", StatusIncomplete, true, &Button{"Resume application", ActionBeginApplication}},
		{"incomplete, unverified", StatusIncomplete, false, &Button{"Resume application", ActionVerifyNumber}},
		{"denied", StatusDenied, true, &Button{"Begin application", ActionBeginApplication}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Compute(Input{DailyLimit: d("500"), Status: tt.status, NumberVerified: tt.verified})
			assert.Equal(t, tt.want, s.Button)
		})
	}
}

func TestCompute_Application(t *testing.T) {
	s := Compute(Input{DailyLimit: d("500")})
	assert.Nil(t, s.Application)

	s = Compute(Input{DailyLimit: d("500"), Status: StatusDenied})
	require.NotNil(t, s.Application)
	assert.Equal(t, "Application denied", s.Application.Title)
	assert.Equal(t, "denied", s.Application.Icon)
}

func TestCompute_UnlimitedImpliesApproved(t *testing.T) {
	s := Compute(Input{DailyLimit: d("100000000"), Status: StatusInReview, NumberVerified: true})
	assert.True(t, s.Unlimited)
	require.NotNil(t, s.Application)
	assert.Equal(t, StatusApproved, s.Application.Status)
	assert.Nil(t, s.Button)

	s = Compute(Input{DailyLimit: UnlimitedThreshold})
	assert.False(t, s.Unlimited, "the threshold itself is still a limit")
}

func TestRemaining(t *testing.T) {
	assert.True(t, d("375.5").Equal(Remaining(d("500"), d("124.5"))))
	assert.True(t, d("375.5").Equal(Remaining(d("500"), d("-124.5"))))
	assert.True(t, decimal.Zero.Equal(Remaining(d("500"), d("700"))))
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusInReview, StatusIncomplete, StatusDenied, StatusApproved} {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("Pending")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

// mockStore is a testify mock of Store.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetLimitRequest(ctx context.Context, address string) (*db.LimitRequest, error) {
	args := m.Called(ctx, address)
	lr, _ := args.Get(0).(*db.LimitRequest)
	return lr, args.Error(1)
}

func (m *mockStore) PutLimitRequest(ctx context.Context, address, status string) (*db.LimitRequest, error) {
	args := m.Called(ctx, address, status)
	lr, _ := args.Get(0).(*db.LimitRequest)
	return lr, args.Error(1)
}

func (m *mockStore) SumOutgoingSince(ctx context.Context, wallet, currency string, since time.Time) (decimal.Decimal, error) {
	args := m.Called(ctx, wallet, currency, since)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

const addr = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func newTestService(store Store) *Service {
	s := NewService(store, d("500"), "USDC", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestService_Screen(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	store.On("GetLimitRequest", ctx, addr).Return(&db.LimitRequest{Address: addr, Status: "Incomplete"}, nil)
	store.On("SumOutgoingSince", ctx, addr, "USDC", time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)).Return(d("120"), nil)

	s, err := newTestService(store).Screen(ctx, addr, true)
	require.NoError(t, err)

	assert.True(t, d("380").Equal(s.Remaining))
	assert.Equal(t, "USDC", s.Currency)
	require.NotNil(t, s.Application)
	assert.Equal(t, StatusIncomplete, s.Application.Status)
	store.AssertExpectations(t)
}

func TestService_ScreenWithoutApplication(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	store.On("GetLimitRequest", ctx, addr).Return(nil, db.ErrNotFound)
	store.On("SumOutgoingSince", ctx, addr, "USDC", mock.Anything).Return(decimal.Zero, nil)

	s, err := newTestService(store).Screen(ctx, addr, false)
	require.NoError(t, err)
	assert.Nil(t, s.Application)
	assert.Equal(t, ActionVerifyNumber, s.Button.Action)
}

func TestService_ScreenStoreError(t *testing.T) {
	ctx := context.Background()
	store := &mockStore{}
	store.On("GetLimitRequest", ctx, addr).Return(nil, errors.New("connection refused"))

	_, err := newTestService(store).Screen(ctx, addr, true)
	assert.Error(t, err)
}

func TestService_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("records an in-review application", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetLimitRequest", ctx, addr).Return(nil, db.ErrNotFound).Once()
		store.On("PutLimitRequest", ctx, addr, "InReview").Return(&db.LimitRequest{Address: addr, Status: "InReview"}, nil)
		store.On("GetLimitRequest", ctx, addr).Return(&db.LimitRequest{Address: addr, Status: "InReview"}, nil)
		store.On("SumOutgoingSince", ctx, addr, "USDC", mock.Anything).Return(decimal.Zero, nil)

		s, err := newTestService(store).Apply(ctx, addr, true)
		require.NoError(t, err)
		require.NotNil(t, s.Application)
		assert.Equal(t, StatusInReview, s.Application.Status)
		assert.Nil(t, s.Button)
		store.AssertExpectations(t)
	})

	t.Run("requires a verified number", func(t *testing.T) {
		_, err := newTestService(&mockStore{}).Apply(ctx, addr, false)
		assert.ErrorIs(t, err, ErrNumberNotVerified)
	})

	t.Run("rejects a duplicate application", func(t *testing.T) {
		store := &mockStore{}
		store.On("GetLimitRequest", ctx, addr).Return(&db.LimitRequest{Address: addr, Status: "InReview"}, nil)

		_, err := newTestService(store).Apply(ctx, addr, true)
		assert.ErrorIs(t, err, ErrAlreadyApplied)
		store.AssertNotCalled(t, "PutLimitRequest", mock.Anything, mock.Anything, mock.Anything)
	})
}
