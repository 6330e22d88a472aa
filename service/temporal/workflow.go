package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/txfeed/service/db"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const defaultStandbyTTL = time.Hour

// IngestWalletWorkflow pulls a wallet's new chain transfers into its feed.
// It is triggered by a Temporal schedule at the wallet's poll interval.
//
// The workflow performs these steps:
// 1. Load the wallet cursor and settled record hashes (GetWalletCursor)
// 2. Fetch new transfers and convert them to records (FetchRecords)
// 3. Upsert the records, publish them and advance the cursor (StoreRecords)
// 4. Fail standby records that were never confirmed (ExpireStandby)
func IngestWalletWorkflow(ctx workflow.Context, input IngestWalletInput) (*IngestWalletResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("IngestWalletWorkflow started", "address", input.Address, "network", input.Network)

	result := &IngestWalletResult{
		Address:  input.Address,
		PollTime: workflow.Now(ctx),
	}
	fail := func(step string, err error) (*IngestWalletResult, error) {
		errMsg := fmt.Sprintf("%s: %v", step, err)
		result.Error = &errMsg
		return result, fmt.Errorf("%s: %w", step, err)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var cursor *GetWalletCursorResult
	err := workflow.ExecuteActivity(ctx, a.GetWalletCursor, GetWalletCursorInput{
		Address: input.Address,
		Network: input.Network,
	}).Get(ctx, &cursor)
	if err != nil {
		return fail("failed to load wallet cursor", err)
	}

	var fetched *FetchRecordsResult
	err = workflow.ExecuteActivity(ctx, a.FetchRecords, FetchRecordsInput{
		Address:       input.Address,
		Network:       input.Network,
		LastSignature: cursor.LastSignature,
		Known:         cursor.Known,
		Limit:         input.Limit,
	}).Get(ctx, &fetched)
	if err != nil {
		return fail("failed to fetch records", err)
	}

	result.Fetched = fetched.Fetched
	result.Skipped = fetched.Skipped
	result.NewestSignature = fetched.NewestSignature

	var stored *StoreRecordsResult
	err = workflow.ExecuteActivity(ctx, a.StoreRecords, StoreRecordsInput{
		Address:         input.Address,
		Network:         input.Network,
		Records:         fetched.Records,
		NewestSignature: fetched.NewestSignature,
	}).Get(ctx, &stored)
	if err != nil {
		return fail("failed to store records", err)
	}
	result.Inserted = stored.Inserted
	result.Updated = stored.Updated

	ttl := input.StandbyTTL
	if ttl <= 0 {
		ttl = defaultStandbyTTL
	}
	var expired *ExpireStandbyResult
	err = workflow.ExecuteActivity(ctx, a.ExpireStandby, ExpireStandbyInput{
		Before: workflow.Now(ctx).Add(-ttl),
	}).Get(ctx, &expired)
	if err != nil {
		// Ingestion succeeded; expiry runs again on the next poll.
		logger.Warn("failed to expire standby records", "error", err)
	} else {
		result.Expired = expired.Expired
	}

	logger.Info("IngestWalletWorkflow completed",
		"address", input.Address,
		"fetched", result.Fetched,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
	)
	return result, nil
}

// SyncBankAccountWorkflow links a bank account through LinkBankAccount and
// records the outcome so the status endpoint can report it.
func SyncBankAccountWorkflow(ctx workflow.Context, input SyncBankAccountInput) (*SyncBankAccountResult, error) {
	logger := workflow.GetLogger(ctx)
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID
	logger.Info("SyncBankAccountWorkflow started", "wallet", input.WalletAddress, "workflow_id", workflowID)

	result := &SyncBankAccountResult{WorkflowID: workflowID, Status: db.BankAccountPending}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})

	err := workflow.ExecuteActivity(ctx, a.BeginBankSync, BeginBankSyncInput{
		WalletAddress: input.WalletAddress,
		WorkflowID:    workflowID,
		Institution:   input.Institution,
	}).Get(ctx, nil)
	if err != nil {
		errMsg := err.Error()
		result.Status = db.BankAccountFailed
		result.Error = &errMsg
		return result, fmt.Errorf("failed to record bank sync: %w", err)
	}

	id := bankIdentity(input)

	var bankAccountID string
	err = workflow.ExecuteActivity(ctx, a.LinkBankAccount, LinkBankAccountInput{
		Identity:    id,
		PublicToken: input.PublicToken,
	}).Get(ctx, &bankAccountID)

	finish := FinishBankSyncInput{WorkflowID: workflowID, BankAccountID: bankAccountID}
	if err != nil {
		finish.Error = err.Error()
	}
	if ferr := workflow.ExecuteActivity(ctx, a.FinishBankSync, finish).Get(ctx, nil); ferr != nil {
		logger.Error("failed to record bank sync outcome", "error", ferr)
		if err == nil {
			err = ferr
		}
	}

	if err != nil {
		errMsg := err.Error()
		result.Status = db.BankAccountFailed
		result.Error = &errMsg
		return result, err
	}

	result.Status = db.BankAccountLinked
	if bankAccountID != "" {
		result.BankAccountID = &bankAccountID
	}
	logger.Info("SyncBankAccountWorkflow completed", "wallet", input.WalletAddress, "bank_account_id", bankAccountID)
	return result, nil
}
