package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Bank account sync states.
const (
	BankAccountPending = "pending"
	BankAccountLinked  = "linked"
	BankAccountFailed  = "failed"
)

// BankAccount tracks one bank-linking attempt and its outcome.
type BankAccount struct {
	ID           uuid.UUID
	Address      string
	WorkflowID   string
	ExternalID   *string
	Institution  *string
	Status       string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateBankAccountParams contains the parameters for starting a bank link.
type CreateBankAccountParams struct {
	Address     string
	WorkflowID  string
	Institution *string
}

const bankAccountColumns = `id::text, address, workflow_id, external_id, institution, status, error_message, created_at, updated_at`

// CreateBankAccount records a pending bank link. Creating the same workflow
// twice returns the existing row.
func (s *Store) CreateBankAccount(ctx context.Context, params CreateBankAccountParams) (*BankAccount, error) {
	q := `
		INSERT INTO bank_accounts (id, address, workflow_id, institution, status)
		VALUES ($1::uuid, $2, $3, $4, $5)
		ON CONFLICT (workflow_id) DO UPDATE SET updated_at = bank_accounts.updated_at
		RETURNING ` + bankAccountColumns

	ba, err := scanBankAccount(s.pool.QueryRow(ctx, q,
		uuid.New().String(), params.Address, params.WorkflowID,
		pgtextFromStringPtr(params.Institution), BankAccountPending))
	if err != nil {
		return nil, fmt.Errorf("failed to create bank account: %w", err)
	}
	return ba, nil
}

// MarkBankAccountLinked stores the provider's account id for a workflow.
func (s *Store) MarkBankAccountLinked(ctx context.Context, workflowID, externalID string) (*BankAccount, error) {
	q := `
		UPDATE bank_accounts SET
			external_id = $2, status = $3, error_message = NULL, updated_at = NOW()
		WHERE workflow_id = $1
		RETURNING ` + bankAccountColumns
	return s.updateBankAccount(ctx, q, workflowID, externalID, BankAccountLinked)
}

// MarkBankAccountFailed records why a bank link failed.
func (s *Store) MarkBankAccountFailed(ctx context.Context, workflowID, reason string) (*BankAccount, error) {
	q := `
		UPDATE bank_accounts SET
			error_message = $2, status = $3, updated_at = NOW()
		WHERE workflow_id = $1
		RETURNING ` + bankAccountColumns
	return s.updateBankAccount(ctx, q, workflowID, reason, BankAccountFailed)
}

// GetBankAccountByWorkflow retrieves the bank link started by a workflow.
func (s *Store) GetBankAccountByWorkflow(ctx context.Context, workflowID string) (*BankAccount, error) {
	q := `SELECT ` + bankAccountColumns + ` FROM bank_accounts WHERE workflow_id = $1`
	ba, err := scanBankAccount(s.pool.QueryRow(ctx, q, workflowID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ba, err
}

// ListBankAccounts retrieves all bank links of a wallet, newest first.
func (s *Store) ListBankAccounts(ctx context.Context, address string) ([]*BankAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bankAccountColumns+` FROM bank_accounts WHERE address = $1 ORDER BY created_at DESC`, address)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*BankAccount
	for rows.Next() {
		ba, err := scanBankAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, ba)
	}
	return accounts, rows.Err()
}

func (s *Store) updateBankAccount(ctx context.Context, q, workflowID, value, status string) (*BankAccount, error) {
	ba, err := scanBankAccount(s.pool.QueryRow(ctx, q, workflowID, value, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update bank account: %w", err)
	}
	return ba, nil
}

func scanBankAccount(row pgx.Row) (*BankAccount, error) {
	var (
		ba                       BankAccount
		id                       string
		externalID, inst, errMsg pgtype.Text
	)
	err := row.Scan(&id, &ba.Address, &ba.WorkflowID, &externalID, &inst, &ba.Status, &errMsg, &ba.CreatedAt, &ba.UpdatedAt)
	if err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid bank account id %q: %w", id, err)
	}
	ba.ID = parsed
	ba.ExternalID = stringPtrFromPgtext(externalID)
	ba.Institution = stringPtrFromPgtext(inst)
	ba.ErrorMessage = stringPtrFromPgtext(errMsg)
	return &ba, nil
}
