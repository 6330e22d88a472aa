package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/txfeed/service/banklink"
	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/feed"
	natspkg "github.com/brojonat/txfeed/service/nats"
	"github.com/brojonat/txfeed/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

const (
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	otherParty = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	testSig1   = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"
	testSig2   = "2TgM4N8qCMqLvfR8dxqTQgKygPNzT5KQkN5b5sT7eZPEkdxyLTXGnNQB3j7KG4DPFg5Qez5yNJBQRQ5r7DDnFfjG"
)

// Mock Solana Client
type MockSolanaClient struct {
	mock.Mock
}

func (m *MockSolanaClient) GetTransfersSince(ctx context.Context, params solana.GetTransfersSinceParams) ([]*solana.Transfer, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*solana.Transfer), args.Error(1)
}

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetWallet(ctx context.Context, address, network string) (*db.Wallet, error) {
	args := m.Called(ctx, address, network)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Wallet), args.Error(1)
}

func (m *MockStore) UpdateWalletCursor(ctx context.Context, address, network string, signature *string, pollTime time.Time) (*db.Wallet, error) {
	args := m.Called(ctx, address, network, signature, pollTime)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Wallet), args.Error(1)
}

func (m *MockStore) ListRecords(ctx context.Context, params db.ListRecordsParams) ([]feed.Record, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]feed.Record), args.Error(1)
}

func (m *MockStore) UpsertRecord(ctx context.Context, wallet string, r feed.Record) (bool, error) {
	args := m.Called(ctx, wallet, r)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) FailStalePending(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) CreateBankAccount(ctx context.Context, params db.CreateBankAccountParams) (*db.BankAccount, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.BankAccount), args.Error(1)
}

func (m *MockStore) MarkBankAccountLinked(ctx context.Context, workflowID, externalID string) (*db.BankAccount, error) {
	args := m.Called(ctx, workflowID, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.BankAccount), args.Error(1)
}

func (m *MockStore) MarkBankAccountFailed(ctx context.Context, workflowID, reason string) (*db.BankAccount, error) {
	args := m.Called(ctx, workflowID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.BankAccount), args.Error(1)
}

// Mock bank linker
type MockBankLinker struct {
	mock.Mock
}

func (m *MockBankLinker) ExchangePlaidAccessToken(ctx context.Context, id banklink.Identity, publicToken string) (string, error) {
	args := m.Called(ctx, id, publicToken)
	return args.String(0), args.Error(1)
}

func (m *MockBankLinker) CreateFinclusiveBankAccount(ctx context.Context, id banklink.Identity, plaidAccessToken string) (string, error) {
	args := m.Called(ctx, id, plaidAccessToken)
	return args.String(0), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestActivities(store StoreInterface, sol SolanaClientInterface, pub PublisherInterface, bank BankLinker) *Activities {
	return NewActivities(store, map[string]SolanaClientInterface{"mainnet": sol}, pub, bank, nil, testLogger())
}

func settledRecord(hash string, status feed.Status) feed.Record {
	return feed.Record{
		Kind:      feed.KindTokenTransfer,
		Hash:      hash,
		Timestamp: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
		Status:    status,
		Transfer: &feed.Transfer{
			Type:    feed.TransferReceived,
			Address: otherParty,
			Amount:  feed.Amount{Value: decimal.NewFromInt(1), CurrencyCode: "SOL"},
		},
	}
}

func TestActivities_GetWalletCursor(t *testing.T) {
	ctx := context.Background()
	last := testSig2

	t.Run("registered wallet", func(t *testing.T) {
		store := &MockStore{}
		store.On("GetWallet", ctx, testWallet, "mainnet").Return(&db.Wallet{Address: testWallet, LastSignature: &last}, nil)
		store.On("ListRecords", ctx, db.ListRecordsParams{WalletAddress: testWallet, Limit: maxKnown}).
			Return([]feed.Record{
				settledRecord("a", feed.StatusComplete),
				settledRecord("b", feed.StatusPending),
				settledRecord("c", feed.StatusFailed),
			}, nil)

		result, err := newTestActivities(store, nil, nil, nil).GetWalletCursor(ctx, GetWalletCursorInput{Address: testWallet, Network: "mainnet"})
		require.NoError(t, err)
		require.NotNil(t, result.LastSignature)
		assert.Equal(t, testSig2, *result.LastSignature)
		assert.Equal(t, []string{"a", "c"}, result.Known, "pending records stay fetchable")
	})

	t.Run("unregistered wallet", func(t *testing.T) {
		store := &MockStore{}
		store.On("GetWallet", ctx, testWallet, "mainnet").Return(nil, db.ErrNotFound)
		store.On("ListRecords", ctx, mock.Anything).Return([]feed.Record{}, nil)

		result, err := newTestActivities(store, nil, nil, nil).GetWalletCursor(ctx, GetWalletCursorInput{Address: testWallet, Network: "mainnet"})
		require.NoError(t, err)
		assert.Nil(t, result.LastSignature)
		assert.NotNil(t, result.Known)
		assert.Empty(t, result.Known)
	})

	t.Run("store error", func(t *testing.T) {
		store := &MockStore{}
		store.On("GetWallet", ctx, testWallet, "mainnet").Return(nil, errors.New("connection refused"))

		_, err := newTestActivities(store, nil, nil, nil).GetWalletCursor(ctx, GetWalletCursorInput{Address: testWallet, Network: "mainnet"})
		assert.Error(t, err)
	})
}

func TestActivities_FetchRecords(t *testing.T) {
	ctx := context.Background()
	wallet := solanago.MustPublicKeyFromBase58(testWallet)
	other := solanago.MustPublicKeyFromBase58(otherParty)
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	sol := &MockSolanaClient{}
	sol.On("GetTransfersSince", ctx, mock.MatchedBy(func(p solana.GetTransfersSinceParams) bool {
		return p.Wallet.Equals(wallet) && p.Limit == 100 && p.LastSignature != nil &&
			p.LastSignature.String() == testSig2 && len(p.Known) == 1
	})).Return([]*solana.Transfer{
		{Signature: testSig1, BlockTime: at, Amount: 1_000_000_000, Decimals: 9, Source: &other, Destination: &wallet, Memo: "hi"},
		{Signature: "metadata-only", BlockTime: at},
	}, nil)

	last := testSig2
	result, err := newTestActivities(nil, sol, nil, nil).FetchRecords(ctx, FetchRecordsInput{
		Address:       testWallet,
		Network:       "mainnet",
		LastSignature: &last,
		Known:         []string{"x"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Records, 1)
	assert.Equal(t, testSig1, result.Records[0].Hash)
	assert.Equal(t, feed.TransferReceived, result.Records[0].Transfer.Type)
	require.NotNil(t, result.NewestSignature)
	assert.Equal(t, testSig1, *result.NewestSignature)
	sol.AssertExpectations(t)
}

func TestActivities_FetchRecordsRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	acts := newTestActivities(nil, &MockSolanaClient{}, nil, nil)

	tests := []struct {
		name  string
		input FetchRecordsInput
	}{
		{"invalid wallet", FetchRecordsInput{Address: "nope", Network: "mainnet"}},
		{"unknown network", FetchRecordsInput{Address: testWallet, Network: "testnet"}},
		{"invalid signature", FetchRecordsInput{Address: testWallet, Network: "mainnet", LastSignature: stringPtr("bad")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := acts.FetchRecords(ctx, tt.input)
			var appErr *temporalsdk.ApplicationError
			require.ErrorAs(t, err, &appErr)
			assert.True(t, appErr.NonRetryable())
		})
	}
}

func TestActivities_StoreRecords(t *testing.T) {
	ctx := context.Background()
	r1 := settledRecord(testSig1, feed.StatusComplete)
	r2 := settledRecord(testSig2, feed.StatusComplete)
	newest := testSig1

	store := &MockStore{}
	store.On("UpsertRecord", ctx, testWallet, r1).Return(true, nil)
	store.On("UpsertRecord", ctx, testWallet, r2).Return(false, nil)
	store.On("UpdateWalletCursor", ctx, testWallet, "mainnet", &newest, mock.AnythingOfType("time.Time")).
		Return(nil, db.ErrNotFound)

	pub := natspkg.NewMockPublisher()
	result, err := newTestActivities(store, nil, pub, nil).StoreRecords(ctx, StoreRecordsInput{
		Address:         testWallet,
		Network:         "mainnet",
		Records:         []feed.Record{r1, r2},
		NewestSignature: &newest,
	})
	require.NoError(t, err, "cursor failures do not fail the activity")

	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Updated)

	events := pub.GetPublishedEventsForWallet(testWallet)
	require.Len(t, events, 2)
	assert.Equal(t, natspkg.SourceChain, events[0].Source)
	assert.Equal(t, testSig1, events[0].Record.Hash)
	store.AssertExpectations(t)
}

func TestActivities_StoreRecordsFailures(t *testing.T) {
	ctx := context.Background()
	r1 := settledRecord(testSig1, feed.StatusComplete)

	t.Run("store error fails the activity", func(t *testing.T) {
		store := &MockStore{}
		store.On("UpsertRecord", ctx, testWallet, r1).Return(false, errors.New("disk full"))

		pub := natspkg.NewMockPublisher()
		_, err := newTestActivities(store, nil, pub, nil).StoreRecords(ctx, StoreRecordsInput{Address: testWallet, Records: []feed.Record{r1}})
		assert.Error(t, err)
		assert.Zero(t, pub.GetPublishedEventCount())
	})

	t.Run("publish error is best effort", func(t *testing.T) {
		store := &MockStore{}
		store.On("UpsertRecord", ctx, testWallet, r1).Return(true, nil)
		store.On("UpdateWalletCursor", ctx, testWallet, "mainnet", (*string)(nil), mock.Anything).Return(&db.Wallet{}, nil)

		pub := natspkg.NewMockPublisher()
		pub.SetPublishBatchError(errors.New("nats down"))
		result, err := newTestActivities(store, nil, pub, nil).StoreRecords(ctx, StoreRecordsInput{Address: testWallet, Network: "mainnet", Records: []feed.Record{r1}})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Inserted)
	})
}

func TestActivities_ExpireStandby(t *testing.T) {
	ctx := context.Background()
	before := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

	store := &MockStore{}
	store.On("FailStalePending", ctx, before).Return(int64(3), nil)

	result, err := newTestActivities(store, nil, nil, nil).ExpireStandby(ctx, ExpireStandbyInput{Before: before})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Expired)
}

func TestActivities_BankSync(t *testing.T) {
	ctx := context.Background()
	id := banklink.Identity{AccountMTWAddress: "0xmtw", WalletAddress: testWallet}
	input := LinkBankAccountInput{Identity: id, PublicToken: "public"}

	prevBackoff := accountBackoff
	accountBackoff = time.Millisecond
	t.Cleanup(func() { accountBackoff = prevBackoff })

	t.Run("exchange and open", func(t *testing.T) {
		bank := &MockBankLinker{}
		bank.On("ExchangePlaidAccessToken", ctx, id, "public").Return("access", nil)
		bank.On("CreateFinclusiveBankAccount", ctx, id, "access").Return("fin-1", nil)

		accountID, err := newTestActivities(&MockStore{}, nil, nil, bank).LinkBankAccount(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, "fin-1", accountID)
		bank.AssertExpectations(t)
	})

	t.Run("rejected public token is not retried", func(t *testing.T) {
		bank := &MockBankLinker{}
		bank.On("ExchangePlaidAccessToken", ctx, id, "public").
			Return("", &banklink.APIError{Op: "exchange", StatusCode: 400, Message: "bad token"})

		_, err := newTestActivities(&MockStore{}, nil, nil, bank).LinkBankAccount(ctx, input)
		var appErr *temporalsdk.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
		bank.AssertNotCalled(t, "CreateFinclusiveBankAccount", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("exchange server errors are retried", func(t *testing.T) {
		bank := &MockBankLinker{}
		bank.On("ExchangePlaidAccessToken", ctx, id, "public").
			Return("", &banklink.APIError{Op: "exchange", StatusCode: 503})

		_, err := newTestActivities(&MockStore{}, nil, nil, bank).LinkBankAccount(ctx, input)
		var apiErr *banklink.APIError
		require.ErrorAs(t, err, &apiErr)
		var appErr *temporalsdk.ApplicationError
		assert.False(t, errors.As(err, &appErr))
	})

	t.Run("account creation retries with the same access token", func(t *testing.T) {
		bank := &MockBankLinker{}
		bank.On("ExchangePlaidAccessToken", ctx, id, "public").Return("access", nil).Once()
		bank.On("CreateFinclusiveBankAccount", ctx, id, "access").
			Return("", &banklink.APIError{Op: "create", StatusCode: 503}).Once()
		bank.On("CreateFinclusiveBankAccount", ctx, id, "access").Return("fin-2", nil).Once()

		accountID, err := newTestActivities(&MockStore{}, nil, nil, bank).LinkBankAccount(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, "fin-2", accountID)
		bank.AssertNumberOfCalls(t, "ExchangePlaidAccessToken", 1)
		bank.AssertNumberOfCalls(t, "CreateFinclusiveBankAccount", 2)
	})

	t.Run("spent token stops activity retries", func(t *testing.T) {
		bank := &MockBankLinker{}
		bank.On("ExchangePlaidAccessToken", ctx, id, "public").Return("access-secret", nil).Once()
		bank.On("CreateFinclusiveBankAccount", ctx, id, "access-secret").
			Return("", &banklink.APIError{Op: "create", StatusCode: 503})

		_, err := newTestActivities(&MockStore{}, nil, nil, bank).LinkBankAccount(ctx, input)
		var appErr *temporalsdk.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
		assert.NotContains(t, err.Error(), "access-secret")
		bank.AssertNumberOfCalls(t, "CreateFinclusiveBankAccount", accountAttempts)
	})

	t.Run("disabled", func(t *testing.T) {
		_, err := newTestActivities(&MockStore{}, nil, nil, nil).LinkBankAccount(ctx, LinkBankAccountInput{Identity: id})
		var appErr *temporalsdk.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
	})

	t.Run("records outcome", func(t *testing.T) {
		store := &MockStore{}
		store.On("CreateBankAccount", ctx, db.CreateBankAccountParams{Address: testWallet, WorkflowID: "wf-1"}).
			Return(&db.BankAccount{WorkflowID: "wf-1", Status: db.BankAccountPending}, nil)
		store.On("MarkBankAccountLinked", ctx, "wf-1", "fin-1").Return(&db.BankAccount{Status: db.BankAccountLinked}, nil)
		store.On("MarkBankAccountFailed", ctx, "wf-2", "bad token").Return(&db.BankAccount{Status: db.BankAccountFailed}, nil)
		acts := newTestActivities(store, nil, nil, nil)

		require.NoError(t, acts.BeginBankSync(ctx, BeginBankSyncInput{WalletAddress: testWallet, WorkflowID: "wf-1"}))
		require.NoError(t, acts.FinishBankSync(ctx, FinishBankSyncInput{WorkflowID: "wf-1", BankAccountID: "fin-1"}))
		require.NoError(t, acts.FinishBankSync(ctx, FinishBankSyncInput{WorkflowID: "wf-2", Error: "bad token"}))
		store.AssertExpectations(t)
	})
}

func stringPtr(s string) *string {
	return &s
}
