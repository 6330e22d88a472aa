package banklink

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/txfeed/service/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-signing-key"

var testIdentity = Identity{
	AccountMTWAddress: "0xmtw",
	WalletAddress:     "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(config.BankLinkConfig{
		BaseURL:    srv.URL + "/",
		SigningKey: testKey,
		TokenTTL:   time.Minute,
	}, srv.Client(), nil)
	require.NoError(t, err)
	return c
}

// verifyToken checks the bearer token and returns its subject.
func verifyToken(t *testing.T, r *http.Request) string {
	t.Helper()
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(testKey), nil
	})
	require.NoError(t, err)
	sub, err := token.Claims.GetSubject()
	require.NoError(t, err)
	return sub
}

func TestExchangePlaidAccessToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/plaid/access-token/exchange", r.URL.Path)
		assert.Equal(t, testIdentity.WalletAddress, verifyToken(t, r))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "public-sandbox-123", body["publicToken"])
		assert.Equal(t, "0xmtw", body["accountMTWAddress"])
		assert.Equal(t, testIdentity.WalletAddress, body["walletAddress"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accessToken":"access-sandbox-456"}`))
	})

	token, err := c.ExchangePlaidAccessToken(t.Context(), testIdentity, "public-sandbox-123")
	require.NoError(t, err)
	assert.Equal(t, "access-sandbox-456", token)
}

func TestExchangePlaidAccessToken_EmptyToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := c.ExchangePlaidAccessToken(t.Context(), testIdentity, "public")
	assert.Error(t, err)
}

func TestCreateFinclusiveBankAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account/bank-account", r.URL.Path)
		verifyToken(t, r)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "access-sandbox-456", body["plaidAccessToken"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"bankAccountId":"fin-789"}`))
	})

	id, err := c.CreateFinclusiveBankAccount(t.Context(), testIdentity, "access-sandbox-456")
	require.NoError(t, err)
	assert.Equal(t, "fin-789", id)
}

func TestCreateFinclusiveBankAccount_EmptyBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	id, err := c.CreateFinclusiveBankAccount(t.Context(), testIdentity, "access")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestClient_APIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, `{"error":"invalid public token"}`, "invalid public token", false},
		{"unauthorized", http.StatusUnauthorized, `{"message":"token expired"}`, "token expired", false},
		{"rate limited", http.StatusTooManyRequests, `slow down`, "slow down", true},
		{"server error", http.StatusBadGateway, ``, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.ExchangePlaidAccessToken(t.Context(), testIdentity, "public")
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.retryable, apiErr.Retryable())
		})
	}
}

func TestClient_TokenExpiry(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	c.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }

	raw, err := c.token(testIdentity)
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(raw, claims)
	require.NoError(t, err)

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	want := time.Date(2026, 10, 17, 12, 1, 0, 0, time.UTC)
	assert.True(t, want.Equal(exp.Time), "exp %v", exp.Time)
}

func TestNewClient_Disabled(t *testing.T) {
	_, err := NewClient(config.BankLinkConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewClient(config.BankLinkConfig{BaseURL: "http://ihl"}, nil, nil)
	assert.Error(t, err)
}
