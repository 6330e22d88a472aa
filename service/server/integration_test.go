package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/brojonat/txfeed/client"
	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/feed"
	"github.com/brojonat/txfeed/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Store = (*db.Store)(nil)

// TestClientRoundTrip drives the server through the public client.
func TestClientRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	c := client.NewClient(ts.URL, &http.Client{Timeout: 5 * time.Second}, testLogger())
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	t.Run("register wallet", func(t *testing.T) {
		w, err := c.Register(ctx, testWallet, "mainnet", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, w.PollInterval)

		interval, ok := env.scheduler.GetScheduleInterval(testWallet, "mainnet")
		require.True(t, ok)
		assert.Equal(t, time.Minute, interval)

		wallets, err := c.List(ctx)
		require.NoError(t, err)
		require.Len(t, wallets, 1)
		assert.Equal(t, testWallet, wallets[0].Address)
	})

	t.Run("empty feed", func(t *testing.T) {
		f, err := c.Feed(ctx, testWallet, client.FeedOptions{})
		require.NoError(t, err)
		assert.Equal(t, feed.StateEmpty, f.State)
	})

	t.Run("standby then feed", func(t *testing.T) {
		_, err := c.UpsertRecipient(ctx, feed.Recipient{Address: testPeer, DisplayName: "Alice"})
		require.NoError(t, err)

		rec, err := c.Standby(ctx, testWallet, feed.Record{
			Kind:      feed.KindTokenTransfer,
			Timestamp: testNow.Add(-time.Hour),
			Transfer: &feed.Transfer{
				Type:    feed.TransferSent,
				Address: testPeer,
				Comment: "lunch",
				Amount:  feed.Amount{Value: decimal.NewFromInt(-12), CurrencyCode: "USDC"},
			},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, rec.Hash)
		assert.Equal(t, feed.StatusPending, rec.Status)

		_, err = c.Standby(ctx, testWallet, *rec)
		assert.True(t, client.IsConflict(err))

		f, err := c.Feed(ctx, testWallet, client.FeedOptions{})
		require.NoError(t, err)
		require.Equal(t, feed.StateSectioned, f.State)
		items := f.AllItems()
		require.Len(t, items, 1)
		assert.Equal(t, "Alice", items[0].Title)
		assert.Equal(t, feed.StatusPending, items[0].Status)

		page, err := c.Records(ctx, testWallet, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Count)
	})

	t.Run("bank sync", func(t *testing.T) {
		b, err := c.StartBankSync(ctx, client.BankSyncRequest{WalletAddress: testWallet, PublicToken: "tok"})
		require.NoError(t, err)

		status, err := c.BankSyncStatus(ctx, b.WorkflowID)
		require.NoError(t, err)
		assert.Equal(t, db.BankAccountPending, status.Status)
	})

	t.Run("unregister wallet", func(t *testing.T) {
		require.NoError(t, c.Unregister(ctx, testWallet, "mainnet"))

		_, err := c.Get(ctx, testWallet, "mainnet")
		assert.True(t, client.IsNotFound(err))

		err = c.Unregister(ctx, testWallet, "mainnet")
		assert.True(t, client.IsNotFound(err))
	})
}

// TestServerWithPostgres runs the round trip against a real database when
// TEST_DATABASE_URL is set.
func TestServerWithPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	store := db.NewStore(pool)
	require.NoError(t, store.Migrate(ctx))
	_, err = pool.Exec(ctx, "TRUNCATE TABLE records, wallets, recipients CASCADE")
	require.NoError(t, err)

	srv, err := New(":0", Deps{
		Store:     store,
		Scheduler: temporal.NewMockScheduler(),
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := client.NewClient(ts.URL, nil, testLogger())
	require.NoError(t, c.Health(ctx))

	_, err = c.Register(ctx, testWallet, "devnet", 0)
	require.NoError(t, err)

	for i, v := range []string{"5", "7"} {
		_, err := store.UpsertRecord(ctx, testWallet, transferRecord("pg-sig-"+v, time.Now().Add(-time.Duration(i)*time.Minute), v))
		require.NoError(t, err)
	}

	f, err := c.Feed(ctx, testWallet, client.FeedOptions{Context: feed.ContextExchangeDetail})
	require.NoError(t, err)
	assert.Equal(t, feed.StateFlat, f.State)
	require.Len(t, f.Items, 2)
	assert.Equal(t, "pg-sig-5", f.Items[0].Hash)

	w, err := c.Get(ctx, testWallet, "devnet")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, w.PollInterval)
}
