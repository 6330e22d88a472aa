package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/txfeed/service/feed"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

//go:embed schema/schema.sql
var schemaSQL string

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ListRecordsParams contains pagination parameters.
type ListRecordsParams struct {
	WalletAddress string
	Limit         int32
	Offset        int32
}

const recordColumns = `hash, kind, status, block_time, transfer_type, counterparty, comment,
	amount::text, currency, maker_amount::text, maker_currency, taker_amount::text, taker_currency`

// UpsertRecord stores a record for a wallet. A record that already exists is
// updated in place, which is how a chain-confirmed record replaces its
// standby entry. Returns true when a new row was inserted.
func (s *Store) UpsertRecord(ctx context.Context, wallet string, r feed.Record) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, err
	}

	var (
		transferType, counterparty, comment                    *string
		amount                                                 feed.Amount
		makerAmount, makerCurrency, takerAmount, takerCurrency *string
	)
	switch r.Kind {
	case feed.KindTokenTransfer:
		t := r.Transfer
		typ := string(t.Type)
		transferType = &typ
		counterparty = &t.Address
		if t.Comment != "" {
			comment = &t.Comment
		}
		amount = t.Amount
	case feed.KindTokenExchange:
		e := r.Exchange
		amount = e.Amount
		makerAmount = decimalText(e.MakerAmount.Value)
		makerCurrency = &e.MakerAmount.CurrencyCode
		takerAmount = decimalText(e.TakerAmount.Value)
		takerCurrency = &e.TakerAmount.CurrencyCode
	}

	const q = `
		INSERT INTO records (wallet_address, hash, kind, status, block_time, transfer_type,
			counterparty, comment, amount, currency, maker_amount, maker_currency,
			taker_amount, taker_currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11::numeric, $12, $13::numeric, $14)
		ON CONFLICT (wallet_address, hash) DO UPDATE SET
			status = EXCLUDED.status,
			block_time = EXCLUDED.block_time,
			comment = COALESCE(EXCLUDED.comment, records.comment),
			updated_at = NOW()
		RETURNING (xmax = 0)`

	var inserted bool
	err := s.pool.QueryRow(ctx, q,
		wallet, r.Hash, r.Kind.String(), string(r.Status), r.Timestamp,
		transferType, counterparty, comment,
		amount.Value.String(), amount.CurrencyCode,
		makerAmount, makerCurrency, takerAmount, takerCurrency,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert record %s: %w", r.Hash, err)
	}
	return inserted, nil
}

// GetRecord retrieves one record of a wallet by hash.
func (s *Store) GetRecord(ctx context.Context, wallet, hash string) (feed.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM records WHERE wallet_address = $1 AND hash = $2`
	r, err := scanRecord(s.pool.QueryRow(ctx, q, wallet, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return feed.Record{}, ErrNotFound
	}
	return r, err
}

// ListRecords returns a wallet's records, most recent first. The result is
// never nil, so callers can tell "no records" from "not fetched".
func (s *Store) ListRecords(ctx context.Context, params ListRecordsParams) ([]feed.Record, error) {
	q := `SELECT ` + recordColumns + `
		FROM records
		WHERE wallet_address = $1
		ORDER BY block_time DESC, hash
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, q, params.WalletAddress, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []feed.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

// CountRecords counts the records stored for a wallet.
func (s *Store) CountRecords(ctx context.Context, wallet string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE wallet_address = $1`, wallet).Scan(&n)
	return n, err
}

// SumOutgoingSince totals the absolute value of a wallet's outgoing transfers
// in one currency since the given time. Failed records are excluded.
func (s *Store) SumOutgoingSince(ctx context.Context, wallet, currency string, since time.Time) (decimal.Decimal, error) {
	const q = `
		SELECT COALESCE(SUM(-amount), 0)::text
		FROM records
		WHERE wallet_address = $1
		  AND kind = 'TokenTransfer'
		  AND currency = $2
		  AND amount < 0
		  AND status <> 'Failed'
		  AND block_time >= $3`

	var total string
	if err := s.pool.QueryRow(ctx, q, wallet, currency, since).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum outgoing transfers: %w", err)
	}
	return decimal.NewFromString(total)
}

// FailStalePending marks standby records created before the cutoff as
// Failed. Returns the number of records updated.
func (s *Store) FailStalePending(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE records SET status = 'Failed', updated_at = NOW()
		WHERE status = 'Pending' AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (feed.Record, error) {
	var (
		hash, kind, status                                     string
		blockTime                                              time.Time
		transferType, counterparty, comment                    *string
		amount, currency                                       string
		makerAmount, makerCurrency, takerAmount, takerCurrency *string
	)
	err := row.Scan(&hash, &kind, &status, &blockTime, &transferType, &counterparty, &comment,
		&amount, &currency, &makerAmount, &makerCurrency, &takerAmount, &takerCurrency)
	if err != nil {
		return feed.Record{}, err
	}

	k, err := feed.ParseKind(kind)
	if err != nil {
		return feed.Record{}, fmt.Errorf("record %s: %w", hash, err)
	}
	st, err := feed.ParseStatus(status)
	if err != nil {
		return feed.Record{}, fmt.Errorf("record %s: %w", hash, err)
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return feed.Record{}, fmt.Errorf("record %s: invalid amount: %w", hash, err)
	}

	r := feed.Record{Kind: k, Hash: hash, Timestamp: blockTime, Status: st}
	primary := feed.Amount{Value: value, CurrencyCode: currency}

	switch k {
	case feed.KindTokenTransfer:
		r.Transfer = &feed.Transfer{
			Type:    feed.TransferType(deref(transferType)),
			Address: deref(counterparty),
			Comment: deref(comment),
			Amount:  primary,
		}
	case feed.KindTokenExchange:
		maker, err := amountFromText(makerAmount, makerCurrency)
		if err != nil {
			return feed.Record{}, fmt.Errorf("record %s: maker amount: %w", hash, err)
		}
		taker, err := amountFromText(takerAmount, takerCurrency)
		if err != nil {
			return feed.Record{}, fmt.Errorf("record %s: taker amount: %w", hash, err)
		}
		r.Exchange = &feed.Exchange{Amount: primary, MakerAmount: maker, TakerAmount: taker}
	}
	return r, nil
}

func amountFromText(value, currency *string) (feed.Amount, error) {
	if value == nil {
		return feed.Amount{CurrencyCode: deref(currency)}, nil
	}
	d, err := decimal.NewFromString(*value)
	if err != nil {
		return feed.Amount{}, err
	}
	return feed.Amount{Value: d, CurrencyCode: deref(currency)}, nil
}

func decimalText(d decimal.Decimal) *string {
	s := d.String()
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgIntervalFromDuration(d time.Duration) pgtype.Interval {
	return pgtype.Interval{
		Microseconds: d.Microseconds(),
		Valid:        true,
	}
}

func durationFromPgInterval(i pgtype.Interval) time.Duration {
	if !i.Valid {
		return 0
	}
	return time.Duration(i.Microseconds)*time.Microsecond +
		time.Duration(i.Days)*24*time.Hour
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
