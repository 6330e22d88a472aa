package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/feed"
	"github.com/brojonat/txfeed/service/metrics"
	natspkg "github.com/brojonat/txfeed/service/nats"
	"github.com/brojonat/txfeed/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// IngestWalletInput identifies the wallet to ingest.
type IngestWalletInput struct {
	Address string `json:"address"`
	Network string `json:"network"` // "mainnet" or "devnet"
	// Limit bounds the signatures fetched per run. Zero means 100.
	Limit int `json:"limit,omitempty"`
	// StandbyTTL is how long a standby record may stay pending. Zero means one hour.
	StandbyTTL time.Duration `json:"standby_ttl,omitempty"`
}

// IngestWalletResult summarizes one ingestion run.
type IngestWalletResult struct {
	Address         string    `json:"address"`
	Fetched         int       `json:"fetched"`
	Inserted        int       `json:"inserted"`
	Updated         int       `json:"updated"`
	Skipped         int       `json:"skipped"`
	Expired         int64     `json:"expired"`
	NewestSignature *string   `json:"newest_signature,omitempty"`
	PollTime        time.Time `json:"poll_time"`
	Error           *string   `json:"error,omitempty"`
}

// GetWalletCursorInput contains parameters for the GetWalletCursor activity.
type GetWalletCursorInput struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// GetWalletCursorResult holds where the previous run stopped.
type GetWalletCursorResult struct {
	LastSignature *string `json:"last_signature,omitempty"`
	// Known are hashes of settled records. Pending records are left out so
	// that their chain confirmation is fetched and replaces them.
	Known []string `json:"known"`
}

// FetchRecordsInput contains parameters for the FetchRecords activity.
type FetchRecordsInput struct {
	Address       string   `json:"address"`
	Network       string   `json:"network"`
	LastSignature *string  `json:"last_signature,omitempty"`
	Known         []string `json:"known"`
	Limit         int      `json:"limit"`
}

// FetchRecordsResult contains the wallet's new feed records, newest first.
type FetchRecordsResult struct {
	Records         []feed.Record `json:"records"`
	Fetched         int           `json:"fetched"`
	Skipped         int           `json:"skipped"` // transactions that are not transfers of this wallet
	NewestSignature *string       `json:"newest_signature,omitempty"`
}

// StoreRecordsInput contains parameters for the StoreRecords activity.
type StoreRecordsInput struct {
	Address         string        `json:"address"`
	Network         string        `json:"network"`
	Records         []feed.Record `json:"records"`
	NewestSignature *string       `json:"newest_signature,omitempty"`
}

// StoreRecordsResult contains the result of storing records.
type StoreRecordsResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"` // existing rows, typically confirmed standby records
}

// ExpireStandbyInput contains parameters for the ExpireStandby activity.
type ExpireStandbyInput struct {
	Before time.Time `json:"before"`
}

// ExpireStandbyResult contains the number of standby records marked failed.
type ExpireStandbyResult struct {
	Expired int64 `json:"expired"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	GetWallet(ctx context.Context, address, network string) (*db.Wallet, error)
	UpdateWalletCursor(ctx context.Context, address, network string, signature *string, pollTime time.Time) (*db.Wallet, error)
	ListRecords(ctx context.Context, params db.ListRecordsParams) ([]feed.Record, error)
	UpsertRecord(ctx context.Context, wallet string, r feed.Record) (bool, error)
	FailStalePending(ctx context.Context, before time.Time) (int64, error)
	CreateBankAccount(ctx context.Context, params db.CreateBankAccountParams) (*db.BankAccount, error)
	MarkBankAccountLinked(ctx context.Context, workflowID, externalID string) (*db.BankAccount, error)
	MarkBankAccountFailed(ctx context.Context, workflowID, reason string) (*db.BankAccount, error)
}

// SolanaClientInterface defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type SolanaClientInterface interface {
	GetTransfersSince(ctx context.Context, params solana.GetTransfersSinceParams) ([]*solana.Transfer, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishRecordBatch(ctx context.Context, events []*natspkg.RecordEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	solana    map[string]SolanaClientInterface // by network
	publisher PublisherInterface
	bank      BankLinker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// publisher, bank and m may be nil.
func NewActivities(
	store StoreInterface,
	solanaClients map[string]SolanaClientInterface,
	publisher PublisherInterface,
	bank BankLinker,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		solana:    solanaClients,
		publisher: publisher,
		bank:      bank,
		metrics:   m,
		logger:    logger,
	}
}

// maxKnown bounds the settled hashes handed to the fetcher.
const maxKnown = 1000

// GetWalletCursor loads the last ingested signature and the settled record
// hashes of a wallet. An unregistered wallet starts from the chain head.
func (a *Activities) GetWalletCursor(ctx context.Context, input GetWalletCursorInput) (result *GetWalletCursorResult, err error) {
	defer a.timeActivity("GetWalletCursor", time.Now(), &err)

	result = &GetWalletCursorResult{Known: []string{}}

	w, err := a.store.GetWallet(ctx, input.Address, input.Network)
	switch {
	case errors.Is(err, db.ErrNotFound):
		a.logger.InfoContext(ctx, "wallet not registered, ingesting from chain head", "address", input.Address)
	case err != nil:
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	default:
		result.LastSignature = w.LastSignature
	}

	records, err := a.store.ListRecords(ctx, db.ListRecordsParams{WalletAddress: input.Address, Limit: maxKnown})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	for _, r := range records {
		if r.Status != feed.StatusPending {
			result.Known = append(result.Known, r.Hash)
		}
	}

	a.logger.DebugContext(ctx, "loaded wallet cursor",
		"address", input.Address,
		"last_signature", result.LastSignature,
		"known", len(result.Known),
	)
	return result, nil
}

// FetchRecords fetches new transfers of a wallet from the chain and converts
// them to feed records. Transactions that move nothing to or from the wallet
// are skipped.
func (a *Activities) FetchRecords(ctx context.Context, input FetchRecordsInput) (result *FetchRecordsResult, err error) {
	defer a.timeActivity("FetchRecords", time.Now(), &err)

	wallet, err := solana.ParseWallet(input.Address)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidWallet", err)
	}

	client, ok := a.solana[input.Network]
	if !ok {
		err := fmt.Errorf("no solana client for network %q", input.Network)
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidNetwork", err)
	}

	var lastSig *solanago.Signature
	if input.LastSignature != nil {
		sig, err := solanago.SignatureFromBase58(*input.LastSignature)
		if err != nil {
			return nil, temporalsdk.NewNonRetryableApplicationError("invalid last signature", "InvalidSignature", err)
		}
		lastSig = &sig
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}

	transfers, err := client.GetTransfersSince(ctx, solana.GetTransfersSinceParams{
		Wallet:        wallet,
		LastSignature: lastSig,
		Limit:         limit,
		Known:         input.Known,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch transfers", "address", input.Address, "error", err)
		return nil, fmt.Errorf("failed to fetch transfers: %w", err)
	}

	result = &FetchRecordsResult{Records: []feed.Record{}, Fetched: len(transfers)}
	if len(transfers) > 0 {
		newest := transfers[0].Signature
		result.NewestSignature = &newest
	}

	for _, t := range transfers {
		r, err := solana.ToRecord(wallet, t)
		switch {
		case errors.Is(err, solana.ErrNoTransfer):
			result.Skipped++
			a.metrics.RecordRecordsSkipped("no_transfer", 1)
			continue
		case errors.Is(err, solana.ErrNotParticipant):
			result.Skipped++
			a.metrics.RecordRecordsSkipped("not_participant", 1)
			continue
		case err != nil:
			return nil, fmt.Errorf("failed to convert transfer %s: %w", t.Signature, err)
		}
		result.Records = append(result.Records, r)
	}

	a.logger.InfoContext(ctx, "fetched records",
		"address", input.Address,
		"fetched", result.Fetched,
		"records", len(result.Records),
		"skipped", result.Skipped,
		"newest_signature", result.NewestSignature,
	)
	return result, nil
}

// StoreRecords upserts records and advances the wallet cursor. Each stored
// record is announced on NATS; publishing is best-effort.
func (a *Activities) StoreRecords(ctx context.Context, input StoreRecordsInput) (result *StoreRecordsResult, err error) {
	defer a.timeActivity("StoreRecords", time.Now(), &err)

	result = &StoreRecordsResult{}
	events := make([]*natspkg.RecordEvent, 0, len(input.Records))

	for _, r := range input.Records {
		inserted, err := a.store.UpsertRecord(ctx, input.Address, r)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to store record", "hash", r.Hash, "error", err)
			return nil, fmt.Errorf("failed to store record %s: %w", r.Hash, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
		a.metrics.RecordRecordsIngested(r.Kind.String(), 1)
		events = append(events, natspkg.NewRecordEvent(input.Address, natspkg.SourceChain, r))
	}

	if _, err := a.store.UpdateWalletCursor(ctx, input.Address, input.Network, input.NewestSignature, time.Now()); err != nil {
		// Records are stored; the next run re-reads from the old cursor.
		a.logger.WarnContext(ctx, "failed to update wallet cursor",
			"address", input.Address,
			"network", input.Network,
			"error", err,
		)
	}

	if len(events) > 0 && a.publisher != nil {
		if err := a.publisher.PublishRecordBatch(ctx, events); err != nil {
			a.logger.ErrorContext(ctx, "failed to publish records to NATS",
				"address", input.Address,
				"count", len(events),
				"error", err,
			)
		}
	}

	a.logger.InfoContext(ctx, "stored records",
		"address", input.Address,
		"inserted", result.Inserted,
		"updated", result.Updated,
	)
	return result, nil
}

// ExpireStandby marks standby records that were never confirmed as failed.
func (a *Activities) ExpireStandby(ctx context.Context, input ExpireStandbyInput) (result *ExpireStandbyResult, err error) {
	defer a.timeActivity("ExpireStandby", time.Now(), &err)

	n, err := a.store.FailStalePending(ctx, input.Before)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "expired standby records", "count", n, "before", input.Before)
		a.metrics.RecordStandby("expired")
	}
	return &ExpireStandbyResult{Expired: n}, nil
}

func (a *Activities) timeActivity(name string, start time.Time, err *error) {
	a.metrics.RecordActivityDuration(name, time.Since(start).Seconds(), *err)
}
