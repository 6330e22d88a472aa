package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/limits"
	"github.com/brojonat/txfeed/service/metrics"
	"github.com/brojonat/txfeed/service/temporal"
)

// handleGetLimits returns a handler that serves the raise-limit screen.
// GET /api/v1/limits/{address}?verified=true|false
func handleGetLimits(svc *limits.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		verified, err := parseVerified(r.URL.Query().Get("verified"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		screen, err := svc.Screen(r.Context(), address, verified)
		if err != nil {
			logger.Error("failed to load limits", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, screen, http.StatusOK)
	})
}

// handleRequestLimit returns a handler that submits a raise-limit application.
// POST /api/v1/limits/{address}/request
func handleRequestLimit(svc *limits.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req struct {
			NumberVerified bool `json:"number_verified"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		screen, err := svc.Apply(r.Context(), address, req.NumberVerified)
		switch {
		case errors.Is(err, limits.ErrNumberNotVerified):
			writeError(w, err.Error(), http.StatusForbidden)
			return
		case errors.Is(err, limits.ErrAlreadyApplied):
			writeError(w, err.Error(), http.StatusConflict)
			return
		case err != nil:
			logger.Error("failed to submit limit request", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, screen, http.StatusAccepted)
	})
}

func parseVerified(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, errorf("invalid verified parameter: must be a boolean")
	}
	return v, nil
}

// handleStartBankSync returns a handler that starts the bank account sync
// workflow. The workflow ID is returned for polling.
// POST /api/v1/bank-accounts/sync
func handleStartBankSync(starter temporal.WorkflowStarter, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WalletAddress     string `json:"wallet_address"`
			AccountMTWAddress string `json:"account_mtw_address"`
			PublicToken       string `json:"public_token"`
			Institution       string `json:"institution"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		if err := validateAddress(req.WalletAddress); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.AccountMTWAddress != "" {
			if err := validateAddress(req.AccountMTWAddress); err != nil {
				writeError(w, "invalid account_mtw_address: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		if strings.TrimSpace(req.PublicToken) == "" {
			writeError(w, "public_token is required", http.StatusBadRequest)
			return
		}

		input := temporal.SyncBankAccountInput{
			WalletAddress:     req.WalletAddress,
			AccountMTWAddress: req.AccountMTWAddress,
			PublicToken:       req.PublicToken,
		}
		if req.Institution != "" {
			input.Institution = &req.Institution
		}

		workflowID, err := starter.StartBankSync(r.Context(), input)
		if err != nil {
			logger.Error("failed to start bank sync", "wallet", req.WalletAddress, "error", err)
			m.RecordBankSync("start_failed")
			writeError(w, "failed to start bank account sync", http.StatusInternalServerError)
			return
		}
		m.RecordBankSync("started")

		logger.Info("bank sync started", "wallet", req.WalletAddress, "workflow_id", workflowID)
		writeJSON(w, map[string]string{
			"workflow_id": workflowID,
			"status":      db.BankAccountPending,
		}, http.StatusAccepted)
	})
}

// bankAccountResponse is the JSON response format for a bank sync.
type bankAccountResponse struct {
	WorkflowID    string    `json:"workflow_id"`
	WalletAddress string    `json:"wallet_address"`
	Status        string    `json:"status"`
	BankAccountID *string   `json:"bank_account_id,omitempty"`
	Institution   *string   `json:"institution,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// handleGetBankSync returns a handler that reports the state of a bank sync.
// A sync whose workflow has not recorded its first step yet is reported as
// pending.
// GET /api/v1/bank-accounts/sync/{workflow_id}
func handleGetBankSync(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workflowID := r.PathValue("workflow_id")
		if !strings.HasPrefix(workflowID, "bank-sync-") || len(workflowID) > 128 {
			writeError(w, "invalid workflow_id", http.StatusBadRequest)
			return
		}

		ba, err := store.GetBankAccountByWorkflow(r.Context(), workflowID)
		if errors.Is(err, db.ErrNotFound) {
			writeJSON(w, map[string]string{
				"workflow_id": workflowID,
				"status":      db.BankAccountPending,
			}, http.StatusOK)
			return
		}
		if err != nil {
			logger.Error("failed to get bank account", "workflow_id", workflowID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, bankAccountResponse{
			WorkflowID:    ba.WorkflowID,
			WalletAddress: ba.Address,
			Status:        ba.Status,
			BankAccountID: ba.ExternalID,
			Institution:   ba.Institution,
			Error:         ba.ErrorMessage,
			CreatedAt:     ba.CreatedAt,
			UpdatedAt:     ba.UpdatedAt,
		}, http.StatusOK)
	})
}
