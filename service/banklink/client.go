// Package banklink talks to the in-house-liquidity (IHL) API that links a
// user's bank account: a Plaid public token is exchanged for an access token,
// which is then used to open a Finclusive bank account.
package banklink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/txfeed/service/config"
	"github.com/golang-jwt/jwt/v5"
)

// ErrDisabled is returned when no IHL URL is configured.
var ErrDisabled = errors.New("bank linking is not configured")

// APIError is a non-2xx response from the IHL API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: ihl returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: ihl returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Identity names the account a request is made for.
type Identity struct {
	AccountMTWAddress string `json:"accountMTWAddress"`
	WalletAddress     string `json:"walletAddress"`
}

// Client calls the IHL API with short-lived HS256 bearer tokens.
type Client struct {
	baseURL    string
	signingKey []byte
	tokenTTL   time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates an IHL client. If httpClient is nil, one with the
// configured timeout is used.
func NewClient(cfg config.BankLinkConfig, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("bank link signing key is required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		signingKey: []byte(cfg.SigningKey),
		tokenTTL:   ttl,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// ExchangePlaidAccessToken trades a Plaid Link public token for an access token.
func (c *Client) ExchangePlaidAccessToken(ctx context.Context, id Identity, publicToken string) (string, error) {
	body := struct {
		Identity
		PublicToken string `json:"publicToken"`
	}{id, publicToken}

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.post(ctx, "exchange plaid access token", "/plaid/access-token/exchange", id, body, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("exchange plaid access token: response has no access token")
	}

	c.logger.DebugContext(ctx, "exchanged plaid public token", "wallet", id.WalletAddress)
	return resp.AccessToken, nil
}

// CreateFinclusiveBankAccount opens a bank account funded through the given
// Plaid access token. Returns the IHL identifier of the account, which may be
// empty when the API does not report one.
func (c *Client) CreateFinclusiveBankAccount(ctx context.Context, id Identity, plaidAccessToken string) (string, error) {
	body := struct {
		Identity
		PlaidAccessToken string `json:"plaidAccessToken"`
	}{id, plaidAccessToken}

	var resp struct {
		BankAccountID string `json:"bankAccountId"`
	}
	if err := c.post(ctx, "create bank account", "/account/bank-account", id, body, &resp); err != nil {
		return "", err
	}

	c.logger.InfoContext(ctx, "created bank account",
		"wallet", id.WalletAddress,
		"bank_account_id", resp.BankAccountID,
	)
	return resp.BankAccountID, nil
}

// token signs a bearer token for the wallet.
func (c *Client) token(id Identity) (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"sub": id.WalletAddress,
		"mtw": id.AccountMTWAddress,
		"iat": now.Unix(),
		"exp": now.Add(c.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.signingKey)
}

func (c *Client) post(ctx context.Context, op, path string, id Identity, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	token, err := c.token(id)
	if err != nil {
		return fmt.Errorf("%s: failed to sign token: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseErrorResponse(op, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

func parseErrorResponse(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &errResp) == nil {
		switch {
		case errResp.Error != "":
			msg = errResp.Error
		case errResp.Message != "":
			msg = errResp.Message
		}
	}
	return &APIError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}
