package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Wallet represents a registered wallet that the server ingests records for.
type Wallet struct {
	Address       string        `json:"address"`
	Network       string        `json:"network"`
	PollInterval  time.Duration `json:"poll_interval"`
	LastPollTime  *time.Time    `json:"last_poll_time,omitempty"`
	LastSignature *string       `json:"last_signature,omitempty"`
	Status        string        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Register tells the server to start ingesting records for a wallet. A zero
// pollInterval uses the server default. Registering an existing wallet
// updates its interval.
func (c *Client) Register(ctx context.Context, address, network string, pollInterval time.Duration) (*Wallet, error) {
	reqBody := map[string]string{
		"address": address,
		"network": network,
	}
	if pollInterval > 0 {
		reqBody["poll_interval"] = pollInterval.String()
	}

	var resp walletResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/wallets", reqBody, &resp, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}

	c.logger.Debug("wallet registered", "address", address, "network", network, "poll_interval", pollInterval)
	return responseToWallet(&resp)
}

// Unregister tells the server to stop ingesting records for a wallet.
func (c *Client) Unregister(ctx context.Context, address, network string) error {
	path := fmt.Sprintf("/api/v1/wallets/%s?network=%s", url.PathEscape(address), url.QueryEscape(network))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, http.StatusNoContent); err != nil {
		return err
	}

	c.logger.Debug("wallet unregistered", "address", address, "network", network)
	return nil
}

// Get retrieves the registration details for a specific wallet.
func (c *Client) Get(ctx context.Context, address, network string) (*Wallet, error) {
	path := fmt.Sprintf("/api/v1/wallets/%s", url.PathEscape(address))
	if network != "" {
		path += "?network=" + url.QueryEscape(network)
	}

	var resp walletResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return responseToWallet(&resp)
}

// List retrieves all registered wallets.
func (c *Client) List(ctx context.Context) ([]*Wallet, error) {
	var response struct {
		Wallets []walletResponse `json:"wallets"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/wallets", nil, &response, http.StatusOK); err != nil {
		return nil, err
	}

	wallets := make([]*Wallet, len(response.Wallets))
	for i := range response.Wallets {
		wallet, err := responseToWallet(&response.Wallets[i])
		if err != nil {
			return nil, fmt.Errorf("failed to parse wallet %s: %w", response.Wallets[i].Address, err)
		}
		wallets[i] = wallet
	}
	return wallets, nil
}

// walletResponse is the API response format for a wallet.
// The server returns poll_interval as a string (e.g. "30s").
type walletResponse struct {
	Address       string     `json:"address"`
	Network       string     `json:"network"`
	PollInterval  string     `json:"poll_interval"`
	LastPollTime  *time.Time `json:"last_poll_time,omitempty"`
	LastSignature *string    `json:"last_signature,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func responseToWallet(resp *walletResponse) (*Wallet, error) {
	pollInterval, err := time.ParseDuration(resp.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval %q: %w", resp.PollInterval, err)
	}

	return &Wallet{
		Address:       resp.Address,
		Network:       resp.Network,
		PollInterval:  pollInterval,
		LastPollTime:  resp.LastPollTime,
		LastSignature: resp.LastSignature,
		Status:        resp.Status,
		CreatedAt:     resp.CreatedAt,
		UpdatedAt:     resp.UpdatedAt,
	}, nil
}
