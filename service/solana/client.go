package solana

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/txfeed/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Client fetches and parses wallet transfers.
type Client struct {
	rpc     RPCClient
	logger  *slog.Logger
	metrics *metrics.Metrics

	// RequestDelay spaces GetTransaction calls to stay under RPC rate limits.
	RequestDelay time.Duration
	// MaxAttempts bounds GetTransaction retries.
	MaxAttempts int
	// Backoff is the first retry delay; it doubles per attempt and is
	// doubled again for rate-limit errors.
	Backoff time.Duration
}

// NewClient creates a new Solana client. If metrics is nil, no metrics will
// be recorded.
func NewClient(rpcClient RPCClient, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		RequestDelay: 600 * time.Millisecond,
		MaxAttempts:  3,
		Backoff:      time.Second,
	}
}

// GetTransfersSinceParams contains parameters for fetching transfers.
type GetTransfersSinceParams struct {
	Wallet        solana.PublicKey
	LastSignature *solana.Signature
	Limit         int
	// Known signatures are skipped without fetching their details.
	Known []string
}

// GetTransfersSince returns the wallet's transfers newer than LastSignature,
// newest first. If LastSignature is nil, the most recent transfers are
// returned. A transaction whose details cannot be fetched or parsed is
// returned with signature metadata only.
func (c *Client) GetTransfersSince(ctx context.Context, params GetTransfersSinceParams) ([]*Transfer, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit: &params.Limit,
	}
	if params.LastSignature != nil {
		opts.Until = *params.LastSignature
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"wallet", params.Wallet.String(),
		"limit", params.Limit,
		"until", params.LastSignature,
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, params.Wallet, opts)
	c.metrics.RecordRPCCall("GetSignaturesForAddress", status(err), time.Since(start).Seconds())
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"wallet", params.Wallet.String(),
			"error", err,
		)
		return nil, err
	}

	known := make(map[string]struct{}, len(params.Known))
	for _, sig := range params.Known {
		known[sig] = struct{}{}
	}

	transfers := make([]*Transfer, 0, len(signatures))
	for i, sig := range signatures {
		if _, ok := known[sig.Signature.String()]; ok {
			c.metrics.RecordRecordsSkipped("already_fetched", 1)
			continue
		}

		if i > 0 && c.RequestDelay > 0 {
			if err := sleep(ctx, c.RequestDelay); err != nil {
				return nil, err
			}
		}

		result, err := c.getTransaction(ctx, sig.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.WarnContext(ctx, "failed to get transaction details after retries, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transfers = append(transfers, signatureToDomain(sig))
			continue
		}

		t, err := parseTransferFromResult(sig, result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to parse transaction, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			c.metrics.RecordRecordsSkipped("parse_error", 1)
			transfers = append(transfers, signatureToDomain(sig))
			continue
		}

		transfers = append(transfers, t)
	}

	c.logger.InfoContext(ctx, "fetched and parsed transfers",
		"wallet", params.Wallet.String(),
		"signatures", len(signatures),
		"count", len(transfers),
	)

	return transfers, nil
}

// getTransaction fetches one transaction with retries, falling back to the
// legacy encoding when the node cannot serve a versioned transaction.
func (c *Client) getTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		result *rpc.GetTransactionResult
		err    error
	)
	for attempt := range attempts {
		result, err = c.callGetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		})
		if err == nil {
			return result, nil
		}

		if strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") {
			c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
				"signature", sig.String(),
			)
			result, err = c.callGetTransaction(ctx, sig, &rpc.GetTransactionOpts{
				Encoding: solana.EncodingBase64,
			})
			if err == nil {
				return result, nil
			}
		}

		if attempt == attempts-1 {
			break
		}

		backoff := c.Backoff << uint(attempt)
		if strings.Contains(err.Error(), "429") {
			c.metrics.RecordRateLimitHit("GetTransaction")
			backoff *= 2
		}
		c.logger.WarnContext(ctx, "failed to get transaction on attempt",
			"signature", sig.String(),
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, err
}

func (c *Client) callGetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	start := time.Now()
	result, err := c.rpc.GetTransaction(ctx, sig, opts)
	c.metrics.RecordRPCCall("GetTransaction", status(err), time.Since(start).Seconds())
	return result, err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
