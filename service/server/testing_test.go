package server

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/feed"
	natspkg "github.com/brojonat/txfeed/service/nats"
	"github.com/brojonat/txfeed/service/temporal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

const (
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	testPeer   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

// fakeStore is an in-memory Store. Setting listErr makes ListRecords fail.
type fakeStore struct {
	mu           sync.Mutex
	records      map[string][]feed.Record
	wallets      map[string]*db.Wallet
	recipients   feed.RecipientMap
	bankAccounts map[string]*db.BankAccount

	listErr    error
	lookupErr  error
	pingErr    error
	listCalls  int
	lastParams db.ListRecordsParams
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:      make(map[string][]feed.Record),
		wallets:      make(map[string]*db.Wallet),
		recipients:   feed.RecipientMap{},
		bankAccounts: make(map[string]*db.BankAccount),
	}
}

func (s *fakeStore) setListErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

func (s *fakeStore) Ping(ctx context.Context) error {
	return s.pingErr
}

func (s *fakeStore) ListRecords(ctx context.Context, params db.ListRecordsParams) ([]feed.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	s.lastParams = params
	if s.listErr != nil {
		return nil, s.listErr
	}

	all := append([]feed.Record(nil), s.records[params.WalletAddress]...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })

	out := []feed.Record{}
	for i := int(params.Offset); i < len(all) && len(out) < int(params.Limit); i++ {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *fakeStore) GetRecord(ctx context.Context, wallet, hash string) (feed.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records[wallet] {
		if r.Hash == hash {
			return r, nil
		}
	}
	return feed.Record{}, db.ErrNotFound
}

func (s *fakeStore) UpsertRecord(ctx context.Context, wallet string, r feed.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.records[wallet] {
		if existing.Hash == r.Hash {
			s.records[wallet][i] = r
			return false, nil
		}
	}
	s.records[wallet] = append(s.records[wallet], r)
	return true, nil
}

func (s *fakeStore) LookupRecipients(ctx context.Context, addresses []string) (feed.RecipientMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	out := feed.RecipientMap{}
	for _, a := range addresses {
		if r, ok := s.recipients[a]; ok {
			out[a] = r
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertRecipient(ctx context.Context, r feed.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[r.Address] = r
	return nil
}

func walletKey(address, network string) string {
	return network + "/" + address
}

func (s *fakeStore) CreateWallet(ctx context.Context, params db.CreateWalletParams) (*db.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	w, ok := s.wallets[walletKey(params.Address, params.Network)]
	if !ok {
		w = &db.Wallet{Address: params.Address, Network: params.Network, CreatedAt: now}
		s.wallets[walletKey(params.Address, params.Network)] = w
	}
	w.PollInterval = params.PollInterval
	w.Status = params.Status
	w.UpdatedAt = now
	cp := *w
	return &cp, nil
}

func (s *fakeStore) GetWallet(ctx context.Context, address, network string) (*db.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletKey(address, network)]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *fakeStore) ListWallets(ctx context.Context) ([]*db.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Wallet
	for _, w := range s.wallets {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *fakeStore) DeleteWallet(ctx context.Context, address, network string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wallets, walletKey(address, network))
	return nil
}

func (s *fakeStore) GetBankAccountByWorkflow(ctx context.Context, workflowID string) (*db.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ba, ok := s.bankAccounts[workflowID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return ba, nil
}

func (s *fakeStore) addRecords(wallet string, records ...feed.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[wallet] = append(s.records[wallet], records...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store     *fakeStore
	scheduler *temporal.MockScheduler
	nats      *natspkg.MockPublisher
	server    *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     newFakeStore(),
		scheduler: temporal.NewMockScheduler(),
		nats:      natspkg.NewMockPublisher(),
	}
	srv, err := New(":0", Deps{
		Store:      env.store,
		Scheduler:  env.scheduler,
		Starter:    env.scheduler,
		Publisher:  env.nats,
		Subscriber: env.nats,
		Logger:     testLogger(),
		Presenter:  feed.NewPresenter(nil, feed.WithClock(func() time.Time { return testNow })),
		PageSize:   50,
	})
	require.NoError(t, err)
	env.server = srv
	return env
}

func transferRecord(hash string, at time.Time, value string) feed.Record {
	return feed.Record{
		Kind:      feed.KindTokenTransfer,
		Hash:      hash,
		Timestamp: at,
		Status:    feed.StatusComplete,
		Transfer: &feed.Transfer{
			Type:    feed.TransferReceived,
			Address: testPeer,
			Comment: "coffee",
			Amount:  feed.Amount{Value: decimal.RequireFromString(value), CurrencyCode: "USDC"},
		},
	}
}

func exchangeRecord(hash string, at time.Time, value string) feed.Record {
	return feed.Record{
		Kind:      feed.KindTokenExchange,
		Hash:      hash,
		Timestamp: at,
		Status:    feed.StatusComplete,
		Exchange: &feed.Exchange{
			Amount:      feed.Amount{Value: decimal.RequireFromString(value), CurrencyCode: "SOL"},
			MakerAmount: feed.Amount{Value: decimal.RequireFromString(value), CurrencyCode: "SOL"},
			TakerAmount: feed.Amount{Value: decimal.RequireFromString("150"), CurrencyCode: "USDC"},
		},
	}
}
