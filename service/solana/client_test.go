package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu           sync.Mutex
	signatures   []*rpc.TransactionSignature
	transactions map[string]*rpc.GetTransactionResult
	sigErr       error
	txErrs       []error // returned by successive GetTransaction calls
	lastOpts     *rpc.GetSignaturesForAddressOpts
	txCalls      int
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOpts = opts
	if m.sigErr != nil {
		return nil, m.sigErr
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++
	if len(m.txErrs) > 0 {
		err := m.txErrs[0]
		m.txErrs = m.txErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.transactions[signature.String()], nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(mock, nil, logger)
	c.RequestDelay = 0
	c.Backoff = time.Millisecond
	return c
}

func TestGetTransfersSince(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			signatureAt(sig1, now),
			signatureAt(sig2, now.Add(-10*time.Second)),
			signatureAt(sig3, now.Add(-20*time.Second)),
		},
		transactions: map[string]*rpc.GetTransactionResult{
			sig1.String(): systemTransferTx(t, walletA, walletB, 10, ""),
			sig2.String(): systemTransferTx(t, walletB, walletA, 20, "refund"),
		},
	}

	client := newTestClient(mock)
	transfers, err := client.GetTransfersSince(ctx, GetTransfersSinceParams{Wallet: walletA, Limit: 10})
	require.NoError(t, err)
	require.Len(t, transfers, 3)

	assert.Equal(t, sig1.String(), transfers[0].Signature)
	assert.Equal(t, uint64(10), transfers[0].Amount)
	assert.Equal(t, sig2.String(), transfers[1].Signature)
	assert.Equal(t, "refund", transfers[1].Memo)
	assert.Equal(t, sig3.String(), transfers[2].Signature)
	assert.False(t, transfers[2].HasTransfer(), "missing details fall back to metadata")

	require.NotNil(t, mock.lastOpts.Limit)
	assert.Equal(t, 10, *mock.lastOpts.Limit)
	assert.True(t, mock.lastOpts.Until.IsZero())
}

func TestGetTransfersSince_UntilAndKnown(t *testing.T) {
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			signatureAt(sig1, time.Now()),
			signatureAt(sig2, time.Now()),
		},
		transactions: map[string]*rpc.GetTransactionResult{
			sig1.String(): systemTransferTx(t, walletA, walletB, 10, ""),
		},
	}

	client := newTestClient(mock)
	last := sig3
	transfers, err := client.GetTransfersSince(context.Background(), GetTransfersSinceParams{
		Wallet:        walletA,
		LastSignature: &last,
		Limit:         5,
		Known:         []string{sig2.String()},
	})
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, sig1.String(), transfers[0].Signature)
	assert.Equal(t, sig3, mock.lastOpts.Until)
	assert.Equal(t, 1, mock.txCalls)
}

func TestGetTransfersSince_SignaturesError(t *testing.T) {
	client := newTestClient(&mockRPCClient{sigErr: errors.New("rpc unavailable")})

	_, err := client.GetTransfersSince(context.Background(), GetTransfersSinceParams{Wallet: walletA, Limit: 1})
	assert.Error(t, err)
}

func TestGetTransfersSince_RetriesTransaction(t *testing.T) {
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{signatureAt(sig1, time.Now())},
		transactions: map[string]*rpc.GetTransactionResult{
			sig1.String(): systemTransferTx(t, walletA, walletB, 7, ""),
		},
		txErrs: []error{errors.New("429 Too Many Requests"), nil},
	}

	client := newTestClient(mock)
	transfers, err := client.GetTransfersSince(context.Background(), GetTransfersSinceParams{Wallet: walletA, Limit: 1})
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, uint64(7), transfers[0].Amount)
	assert.Equal(t, 2, mock.txCalls)
}

func TestGetTransfersSince_GivesUpAfterMaxAttempts(t *testing.T) {
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{signatureAt(sig1, time.Now())},
		txErrs:     []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")},
	}

	client := newTestClient(mock)
	transfers, err := client.GetTransfersSince(context.Background(), GetTransfersSinceParams{Wallet: walletA, Limit: 1})
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.False(t, transfers[0].HasTransfer())
	assert.Equal(t, 3, mock.txCalls)
}

func TestGetTransfersSince_Cancelled(t *testing.T) {
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{signatureAt(sig1, time.Now()), signatureAt(sig2, time.Now())},
	}
	client := newTestClient(mock)
	client.RequestDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetTransfersSince(ctx, GetTransfersSinceParams{Wallet: walletA, Limit: 2})
	assert.ErrorIs(t, err, context.Canceled)
}
