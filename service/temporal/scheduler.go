package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for wallet ingestion.
// Each wallet gets its own schedule that triggers the IngestWalletWorkflow.
type Scheduler interface {
	// UpsertWalletSchedule creates the schedule of a wallet, or updates its
	// interval if it already exists.
	UpsertWalletSchedule(ctx context.Context, address, network string, interval time.Duration) error

	// DeleteWalletSchedule deletes the schedule for a wallet.
	// This stops the wallet from being ingested.
	DeleteWalletSchedule(ctx context.Context, address, network string) error
}

// WorkflowStarter starts one-off workflows.
type WorkflowStarter interface {
	// StartIngest runs IngestWalletWorkflow once, outside the schedule.
	StartIngest(ctx context.Context, address, network string) (string, error)

	// StartBankSync starts a SyncBankAccountWorkflow and returns its ID.
	StartBankSync(ctx context.Context, input SyncBankAccountInput) (string, error)
}

// scheduleID returns the Temporal schedule ID for a wallet.
func scheduleID(address, network string) string {
	return "ingest-wallet-" + network + "-" + address
}
