package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/txfeed/service/limits"
)

// Limits fetches the raise-limit screen of a wallet.
func (c *Client) Limits(ctx context.Context, address string, numberVerified bool) (*limits.Screen, error) {
	path := fmt.Sprintf("/api/v1/limits/%s?verified=%s", url.PathEscape(address), strconv.FormatBool(numberVerified))

	var s limits.Screen
	if err := c.do(ctx, http.MethodGet, path, nil, &s, http.StatusOK); err != nil {
		return nil, err
	}
	return &s, nil
}

// RequestLimit submits a raise-limit application and returns the updated
// screen.
func (c *Client) RequestLimit(ctx context.Context, address string, numberVerified bool) (*limits.Screen, error) {
	path := fmt.Sprintf("/api/v1/limits/%s/request", url.PathEscape(address))
	body := map[string]bool{"number_verified": numberVerified}

	var s limits.Screen
	if err := c.do(ctx, http.MethodPost, path, body, &s, http.StatusAccepted); err != nil {
		return nil, err
	}
	c.logger.Debug("limit request submitted", "address", address)
	return &s, nil
}

// BankSyncRequest starts linking a bank account to a wallet.
type BankSyncRequest struct {
	WalletAddress     string `json:"wallet_address"`
	AccountMTWAddress string `json:"account_mtw_address,omitempty"`
	PublicToken       string `json:"public_token"`
	Institution       string `json:"institution,omitempty"`
}

// BankSync is the state of a bank account sync.
type BankSync struct {
	WorkflowID    string     `json:"workflow_id"`
	WalletAddress string     `json:"wallet_address,omitempty"`
	Status        string     `json:"status"`
	BankAccountID *string    `json:"bank_account_id,omitempty"`
	Institution   *string    `json:"institution,omitempty"`
	Error         *string    `json:"error,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// Done reports whether the sync reached a terminal status.
func (b *BankSync) Done() bool {
	return b.Status == "linked" || b.Status == "failed"
}

// StartBankSync starts the bank sync workflow and returns its initial state.
func (c *Client) StartBankSync(ctx context.Context, req BankSyncRequest) (*BankSync, error) {
	var b BankSync
	if err := c.do(ctx, http.MethodPost, "/api/v1/bank-accounts/sync", req, &b, http.StatusAccepted); err != nil {
		return nil, err
	}
	c.logger.Debug("bank sync started", "wallet", req.WalletAddress, "workflow_id", b.WorkflowID)
	return &b, nil
}

// BankSyncStatus polls the state of a bank sync.
func (c *Client) BankSyncStatus(ctx context.Context, workflowID string) (*BankSync, error) {
	var b BankSync
	path := "/api/v1/bank-accounts/sync/" + url.PathEscape(workflowID)
	if err := c.do(ctx, http.MethodGet, path, nil, &b, http.StatusOK); err != nil {
		return nil, err
	}
	return &b, nil
}

// AwaitBankSync polls a bank sync every interval until it is done or ctx
// expires.
func (c *Client) AwaitBankSync(ctx context.Context, workflowID string, interval time.Duration) (*BankSync, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		b, err := c.BankSyncStatus(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if b.Done() {
			return b, nil
		}
		select {
		case <-ctx.Done():
			return b, ctx.Err()
		case <-ticker.C:
		}
	}
}
