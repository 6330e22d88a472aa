package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/txfeed/service/banklink"
	"github.com/brojonat/txfeed/service/db"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// BankLinker is the in-house-liquidity API used to link bank accounts.
type BankLinker interface {
	ExchangePlaidAccessToken(ctx context.Context, id banklink.Identity, publicToken string) (string, error)
	CreateFinclusiveBankAccount(ctx context.Context, id banklink.Identity, plaidAccessToken string) (string, error)
}

// SyncBankAccountInput starts linking a bank account to a wallet.
type SyncBankAccountInput struct {
	WalletAddress     string  `json:"wallet_address"`
	AccountMTWAddress string  `json:"account_mtw_address"`
	PublicToken       string  `json:"public_token"`
	Institution       *string `json:"institution,omitempty"`
}

// SyncBankAccountResult is the outcome of a bank link.
type SyncBankAccountResult struct {
	WorkflowID    string  `json:"workflow_id"`
	Status        string  `json:"status"`
	BankAccountID *string `json:"bank_account_id,omitempty"`
	Error         *string `json:"error,omitempty"`
}

// BeginBankSyncInput contains parameters for the BeginBankSync activity.
type BeginBankSyncInput struct {
	WalletAddress string  `json:"wallet_address"`
	WorkflowID    string  `json:"workflow_id"`
	Institution   *string `json:"institution,omitempty"`
}

// LinkBankAccountInput contains parameters for the LinkBankAccount activity.
type LinkBankAccountInput struct {
	Identity    banklink.Identity `json:"identity"`
	PublicToken string            `json:"public_token"`
}

// FinishBankSyncInput records the outcome of a bank link.
type FinishBankSyncInput struct {
	WorkflowID    string `json:"workflow_id"`
	BankAccountID string `json:"bank_account_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// BeginBankSync records a pending bank link for the workflow.
func (a *Activities) BeginBankSync(ctx context.Context, input BeginBankSyncInput) (err error) {
	defer a.timeActivity("BeginBankSync", time.Now(), &err)

	if _, err := a.store.CreateBankAccount(ctx, db.CreateBankAccountParams{
		Address:     input.WalletAddress,
		WorkflowID:  input.WorkflowID,
		Institution: input.Institution,
	}); err != nil {
		return fmt.Errorf("failed to record bank sync: %w", err)
	}
	return nil
}

// accountAttempts bounds account creation within one LinkBankAccount call.
// The public token is single use, so once it has been exchanged the activity
// cannot be retried as a whole.
var (
	accountAttempts = 3
	accountBackoff  = time.Second
)

// LinkBankAccount trades the Plaid public token for an access token and opens
// the Finclusive account with it. The access token never leaves the activity,
// so it is not recorded in workflow history.
func (a *Activities) LinkBankAccount(ctx context.Context, input LinkBankAccountInput) (id string, err error) {
	defer a.timeActivity("LinkBankAccount", time.Now(), &err)

	if a.bank == nil {
		return "", bankDisabledError()
	}
	accessToken, err := a.bank.ExchangePlaidAccessToken(ctx, input.Identity, input.PublicToken)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to exchange plaid token", "wallet", input.Identity.WalletAddress, "error", err)
		return "", classifyBankError(err)
	}

	for attempt := 1; ; attempt++ {
		id, err = a.bank.CreateFinclusiveBankAccount(ctx, input.Identity, accessToken)
		if err == nil {
			return id, nil
		}
		a.logger.ErrorContext(ctx, "failed to create bank account",
			"wallet", input.Identity.WalletAddress,
			"attempt", attempt,
			"error", err,
		)
		if !retryableBankError(err) || attempt >= accountAttempts {
			return "", spentTokenError(err)
		}
		select {
		case <-ctx.Done():
			return "", spentTokenError(ctx.Err())
		case <-time.After(accountBackoff * time.Duration(attempt)):
		}
	}
}

// FinishBankSync marks the bank link linked, or failed when Error is set.
func (a *Activities) FinishBankSync(ctx context.Context, input FinishBankSyncInput) (err error) {
	defer a.timeActivity("FinishBankSync", time.Now(), &err)

	if input.Error != "" {
		_, err = a.store.MarkBankAccountFailed(ctx, input.WorkflowID, input.Error)
		a.metrics.RecordBankSync(db.BankAccountFailed)
	} else {
		_, err = a.store.MarkBankAccountLinked(ctx, input.WorkflowID, input.BankAccountID)
		a.metrics.RecordBankSync(db.BankAccountLinked)
	}
	if err != nil {
		return fmt.Errorf("failed to finish bank sync: %w", err)
	}
	a.logger.InfoContext(ctx, "bank sync finished", "workflow_id", input.WorkflowID, "failed", input.Error != "")
	return nil
}

// spentTokenError stops activity retries after the public token was used.
func spentTokenError(err error) error {
	return temporalsdk.NewNonRetryableApplicationError("failed to create bank account: "+err.Error(), "BankLinkFailed", err)
}

func bankDisabledError() error {
	return temporalsdk.NewNonRetryableApplicationError(banklink.ErrDisabled.Error(), "BankLinkDisabled", banklink.ErrDisabled)
}

// classifyBankError stops retries for client errors the IHL API will repeat.
func classifyBankError(err error) error {
	if !retryableBankError(err) {
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), "BankLinkRejected", err)
	}
	return err
}

func retryableBankError(err error) bool {
	var apiErr *banklink.APIError
	return !errors.As(err, &apiErr) || apiErr.Retryable()
}

func bankIdentity(input SyncBankAccountInput) banklink.Identity {
	return banklink.Identity{
		AccountMTWAddress: input.AccountMTWAddress,
		WalletAddress:     input.WalletAddress,
	}
}
