package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/feed"
	"github.com/brojonat/txfeed/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxCommentLength   = 280
	minPollInterval    = 10 * time.Second
	maxPollInterval    = 24 * time.Hour
	maxListLimit       = 1000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleRegisterWallet returns a handler that registers a wallet for ingestion
// and creates or updates its Temporal schedule.
// POST /api/v1/wallets
func handleRegisterWallet(store Store, scheduler temporal.Scheduler, defaultInterval time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Address      string `json:"address"`
			Network      string `json:"network"` // "mainnet" or "devnet"
			PollInterval string `json:"poll_interval"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		if err := validateAddress(req.Address); err != nil {
			logger.Debug("invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateNetwork(req.Network); err != nil {
			logger.Debug("invalid network", "network", req.Network, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		pollInterval := defaultInterval
		if req.PollInterval != "" {
			parsed, err := time.ParseDuration(req.PollInterval)
			if err != nil {
				logger.Debug("invalid poll interval", "interval", req.PollInterval, "error", err)
				writeError(w, "invalid poll_interval: must be a valid duration (e.g. '30s', '1m')", http.StatusBadRequest)
				return
			}
			pollInterval = parsed
		}
		if err := validatePollInterval(pollInterval); err != nil {
			logger.Debug("invalid poll interval value", "interval", pollInterval, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		statusCode := http.StatusCreated
		if _, err := store.GetWallet(r.Context(), req.Address, req.Network); err == nil {
			statusCode = http.StatusOK
		} else if !errors.Is(err, db.ErrNotFound) {
			logger.Error("failed to check wallet existence", "address", req.Address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		wallet, err := store.CreateWallet(r.Context(), db.CreateWalletParams{
			Address:      req.Address,
			Network:      req.Network,
			PollInterval: pollInterval,
			Status:       "active",
		})
		if err != nil {
			logger.Error("failed to create wallet", "address", req.Address, "error", err)
			writeError(w, "failed to register wallet", http.StatusInternalServerError)
			return
		}

		if err := scheduler.UpsertWalletSchedule(r.Context(), req.Address, req.Network, pollInterval); err != nil {
			logger.Error("failed to upsert schedule", "address", req.Address, "network", req.Network, "error", err)

			// Only roll back a wallet this request created.
			if statusCode == http.StatusCreated {
				if delErr := store.DeleteWallet(r.Context(), req.Address, req.Network); delErr != nil {
					logger.Error("failed to rollback wallet creation", "address", req.Address, "error", delErr)
				}
			}
			writeError(w, "failed to schedule wallet ingestion", http.StatusInternalServerError)
			return
		}

		logger.Info("wallet registered",
			"address", wallet.Address,
			"network", wallet.Network,
			"poll_interval", wallet.PollInterval,
			"updated", statusCode == http.StatusOK,
		)
		writeJSON(w, walletToResponse(wallet), statusCode)
	})
}

// handleUnregisterWallet returns a handler that deletes a wallet's schedule
// and then the wallet. Stored records are kept.
// DELETE /api/v1/wallets/{address}?network={network}
func handleUnregisterWallet(store Store, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		network := r.URL.Query().Get("network")

		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateNetwork(network); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if _, err := store.GetWallet(r.Context(), address, network); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "wallet not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to check wallet existence", "address", address, "network", network, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Schedule first: a wallet row without a schedule is harmless, a
		// schedule without a wallet row fails every run.
		if err := scheduler.DeleteWalletSchedule(r.Context(), address, network); err != nil {
			logger.Error("failed to delete schedule", "address", address, "network", network, "error", err)
			writeError(w, "failed to delete schedule for wallet", http.StatusInternalServerError)
			return
		}

		if err := store.DeleteWallet(r.Context(), address, network); err != nil {
			logger.Error("failed to delete wallet", "address", address, "network", network, "error", err)
			writeError(w, "failed to unregister wallet", http.StatusInternalServerError)
			return
		}

		logger.Info("wallet unregistered", "address", address, "network", network)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetWallet returns a handler that retrieves a registered wallet.
// GET /api/v1/wallets/{address}?network={network}
func handleGetWallet(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		network := r.URL.Query().Get("network")
		if network == "" {
			network = "mainnet"
		}

		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateNetwork(network); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		wallet, err := store.GetWallet(r.Context(), address, network)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get wallet", "address", address, "network", network, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, walletToResponse(wallet), http.StatusOK)
	})
}

// handleListWallets returns a handler that lists all registered wallets.
// GET /api/v1/wallets
func handleListWallets(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallets, err := store.ListWallets(r.Context())
		if err != nil {
			logger.Error("failed to list wallets", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]walletResponse, len(wallets))
		for i, wallet := range wallets {
			resp[i] = walletToResponse(wallet)
		}

		writeJSON(w, map[string]interface{}{
			"wallets": resp,
		}, http.StatusOK)
	})
}

// handleListRecords returns a handler that lists the stored records of a wallet.
// GET /api/v1/records?wallet_address=ADDRESS&limit=N&offset=N
func handleListRecords(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		walletAddress := query.Get("wallet_address")

		if walletAddress == "" {
			writeError(w, "wallet_address query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(walletAddress); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseLimit(query.Get("limit"), 100)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		records, err := store.ListRecords(r.Context(), db.ListRecordsParams{
			WalletAddress: walletAddress,
			Limit:         limit,
			Offset:        offset,
		})
		if err != nil {
			logger.Error("failed to list records", "wallet", walletAddress, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("records listed", "wallet", walletAddress, "count", len(records))

		writeJSON(w, map[string]interface{}{
			"records": records,
			"count":   len(records),
			"limit":   limit,
			"offset":  offset,
		}, http.StatusOK)
	})
}

// handleUpsertRecipient returns a handler that stores the display metadata of
// a counterparty address.
// PUT /api/v1/recipients/{address}
func handleUpsertRecipient(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if address == "" || len(address) > maxAddressLength {
			writeError(w, "invalid address", http.StatusBadRequest)
			return
		}

		var req feed.Recipient
		if !decodeBody(w, r, &req, logger) {
			return
		}
		req.Address = address
		if strings.TrimSpace(req.DisplayName) == "" {
			writeError(w, "displayName is required", http.StatusBadRequest)
			return
		}

		if err := store.UpsertRecipient(r.Context(), req); err != nil {
			logger.Error("failed to upsert recipient", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, req, http.StatusOK)
	})
}

// walletResponse is the JSON response format for a wallet.
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

func walletToResponse(w *db.Wallet) walletResponse {
	return walletResponse{
		Address:       w.Address,
		Network:       w.Network,
		PollInterval:  w.PollInterval.String(),
		LastPollTime:  w.LastPollTime,
		LastSignature: w.LastSignature,
		Status:        w.Status,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

// decodeBody decodes a size-limited JSON body into v. It writes the error
// response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Debug("failed to decode request body", "path", r.URL.Path, "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// parseLimit parses a limit query parameter in [1, maxListLimit].
func parseLimit(s string, def int32) (int32, error) {
	if s == "" {
		return def, nil
	}
	var parsed int
	if _, err := fmt.Sscanf(s, "%d", &parsed); err != nil {
		return 0, errorf("invalid limit parameter: must be an integer")
	}
	if parsed < 1 {
		return 0, errorf("limit must be at least 1")
	}
	if parsed > maxListLimit {
		return 0, errorf("limit cannot exceed %d", maxListLimit)
	}
	return int32(parsed), nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// validateNetwork validates a network parameter.
func validateNetwork(network string) error {
	if network == "" {
		return errorf("network is required")
	}

	if network != "mainnet" && network != "devnet" {
		return errorf("invalid network: must be 'mainnet' or 'devnet'")
	}

	return nil
}

// validatePollInterval validates a poll interval for reasonable bounds.
func validatePollInterval(interval time.Duration) error {
	if interval <= 0 {
		return errorf("poll_interval must be positive")
	}

	if interval < minPollInterval {
		return errorf("poll_interval must be at least %v", minPollInterval)
	}

	if interval > maxPollInterval {
		return errorf("poll_interval cannot exceed %v", maxPollInterval)
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
