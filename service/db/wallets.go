package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Wallet is a wallet address whose feed is ingested from the chain.
type Wallet struct {
	Address       string
	Network       string // "mainnet" or "devnet"
	PollInterval  time.Duration
	LastPollTime  *time.Time
	LastSignature *string // newest ingested signature, nil before the first poll
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateWalletParams contains the parameters for registering a wallet.
type CreateWalletParams struct {
	Address      string
	Network      string
	PollInterval time.Duration
	Status       string
}

const walletColumns = `address, network, poll_interval, last_poll_time, last_signature, status, created_at, updated_at`

// CreateWallet registers a wallet for ingestion. Registering an existing
// wallet updates its poll interval and status.
func (s *Store) CreateWallet(ctx context.Context, params CreateWalletParams) (*Wallet, error) {
	if params.Status == "" {
		params.Status = "active"
	}
	q := `
		INSERT INTO wallets (address, network, poll_interval, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address, network) DO UPDATE SET
			poll_interval = EXCLUDED.poll_interval,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING ` + walletColumns

	w, err := scanWallet(s.pool.QueryRow(ctx, q,
		params.Address, params.Network, pgIntervalFromDuration(params.PollInterval), params.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return w, nil
}

// GetWallet retrieves a wallet by address and network.
func (s *Store) GetWallet(ctx context.Context, address, network string) (*Wallet, error) {
	q := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1 AND network = $2`
	w, err := scanWallet(s.pool.QueryRow(ctx, q, address, network))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// ListWallets retrieves all registered wallets.
func (s *Store) ListWallets(ctx context.Context) ([]*Wallet, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// UpdateWalletCursor records a completed poll and, when signature is non-nil,
// the newest signature ingested.
func (s *Store) UpdateWalletCursor(ctx context.Context, address, network string, signature *string, pollTime time.Time) (*Wallet, error) {
	q := `
		UPDATE wallets SET
			last_poll_time = $3,
			last_signature = COALESCE($4, last_signature),
			updated_at = NOW()
		WHERE address = $1 AND network = $2
		RETURNING ` + walletColumns

	w, err := scanWallet(s.pool.QueryRow(ctx, q, address, network,
		pgtype.Timestamptz{Time: pollTime, Valid: true}, pgtextFromStringPtr(signature)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// DeleteWallet removes a wallet from ingestion. Its records are kept.
func (s *Store) DeleteWallet(ctx context.Context, address, network string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM wallets WHERE address = $1 AND network = $2`, address, network)
	return err
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	var (
		w        Wallet
		interval pgtype.Interval
		lastPoll pgtype.Timestamptz
		lastSig  pgtype.Text
	)
	err := row.Scan(&w.Address, &w.Network, &interval, &lastPoll, &lastSig, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.PollInterval = durationFromPgInterval(interval)
	w.LastPollTime = timePtrFromPgTimestamptz(lastPoll)
	w.LastSignature = stringPtrFromPgtext(lastSig)
	return &w, nil
}
