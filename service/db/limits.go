package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// LimitRequest is a wallet's application to raise its daily send limit.
type LimitRequest struct {
	Address     string
	Status      string
	RequestedAt time.Time
	UpdatedAt   time.Time
}

// GetLimitRequest returns the raise-limit request of a wallet, or ErrNotFound
// if the wallet never applied.
func (s *Store) GetLimitRequest(ctx context.Context, address string) (*LimitRequest, error) {
	var lr LimitRequest
	err := s.pool.QueryRow(ctx, `
		SELECT address, status, requested_at, updated_at
		FROM limit_requests WHERE address = $1`, address).
		Scan(&lr.Address, &lr.Status, &lr.RequestedAt, &lr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get limit request: %w", err)
	}
	return &lr, nil
}

// PutLimitRequest creates or updates the raise-limit request of a wallet.
// requested_at is kept from the first application.
func (s *Store) PutLimitRequest(ctx context.Context, address, status string) (*LimitRequest, error) {
	var lr LimitRequest
	err := s.pool.QueryRow(ctx, `
		INSERT INTO limit_requests (address, status)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING address, status, requested_at, updated_at`, address, status).
		Scan(&lr.Address, &lr.Status, &lr.RequestedAt, &lr.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to put limit request: %w", err)
	}
	return &lr, nil
}
