package temporal

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func newWorkflowEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	// Register before mocking so mocks match by function.
	activities := &Activities{}
	register(env, activities)
	return env, activities
}

func TestIngestWalletWorkflow(t *testing.T) {
	input := IngestWalletInput{Address: testWallet, Network: "mainnet"}
	record := settledRecord(testSig1, feed.StatusComplete)
	newest := testSig1

	tests := []struct {
		name          string
		setup         func(env *testsuite.TestWorkflowEnvironment, acts *Activities)
		expectedError bool
		validate      func(*testing.T, *IngestWalletResult)
	}{
		{
			name: "new records are stored",
			setup: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.GetWalletCursor, mock.Anything, GetWalletCursorInput{Address: testWallet, Network: "mainnet"}).
					Return(&GetWalletCursorResult{LastSignature: stringPtr(testSig2), Known: []string{"old"}}, nil)
				env.OnActivity(acts.FetchRecords, mock.Anything, mock.MatchedBy(func(in FetchRecordsInput) bool {
					return in.LastSignature != nil && *in.LastSignature == testSig2 && len(in.Known) == 1
				})).Return(&FetchRecordsResult{
					Records:         []feed.Record{record},
					Fetched:         2,
					Skipped:         1,
					NewestSignature: &newest,
				}, nil)
				env.OnActivity(acts.StoreRecords, mock.Anything, mock.MatchedBy(func(in StoreRecordsInput) bool {
					return len(in.Records) == 1 && in.Records[0].Hash == testSig1 && *in.NewestSignature == testSig1
				})).Return(&StoreRecordsResult{Inserted: 1}, nil)
				env.OnActivity(acts.ExpireStandby, mock.Anything, mock.Anything).
					Return(&ExpireStandbyResult{Expired: 2}, nil)
			},
			validate: func(t *testing.T, r *IngestWalletResult) {
				assert.Equal(t, testWallet, r.Address)
				assert.Equal(t, 2, r.Fetched)
				assert.Equal(t, 1, r.Inserted)
				assert.Equal(t, 1, r.Skipped)
				assert.Equal(t, int64(2), r.Expired)
				require.NotNil(t, r.NewestSignature)
				assert.Equal(t, testSig1, *r.NewestSignature)
				assert.Nil(t, r.Error)
			},
		},
		{
			name: "expiry failure does not fail ingestion",
			setup: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.GetWalletCursor, mock.Anything, mock.Anything).Return(&GetWalletCursorResult{Known: []string{}}, nil)
				env.OnActivity(acts.FetchRecords, mock.Anything, mock.Anything).Return(&FetchRecordsResult{Records: []feed.Record{}}, nil)
				env.OnActivity(acts.StoreRecords, mock.Anything, mock.Anything).Return(&StoreRecordsResult{}, nil)
				env.OnActivity(acts.ExpireStandby, mock.Anything, mock.Anything).
					Return(nil, temporalsdk.NewNonRetryableApplicationError("db down", "test", nil))
			},
			validate: func(t *testing.T, r *IngestWalletResult) {
				assert.Zero(t, r.Fetched)
				assert.Zero(t, r.Expired)
				assert.Nil(t, r.Error)
			},
		},
		{
			name: "fetch failure fails the workflow",
			setup: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.GetWalletCursor, mock.Anything, mock.Anything).Return(&GetWalletCursorResult{Known: []string{}}, nil)
				env.OnActivity(acts.FetchRecords, mock.Anything, mock.Anything).Return(nil, errors.New("solana RPC error"))
			},
			expectedError: true,
		},
		{
			name: "store failure fails the workflow",
			setup: func(env *testsuite.TestWorkflowEnvironment, acts *Activities) {
				env.OnActivity(acts.GetWalletCursor, mock.Anything, mock.Anything).Return(&GetWalletCursorResult{Known: []string{}}, nil)
				env.OnActivity(acts.FetchRecords, mock.Anything, mock.Anything).Return(&FetchRecordsResult{Records: []feed.Record{record}}, nil)
				env.OnActivity(acts.StoreRecords, mock.Anything, mock.Anything).Return(nil, errors.New("database error"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, acts := newWorkflowEnv(t)
			tt.setup(env, acts)

			env.ExecuteWorkflow(IngestWalletWorkflow, input)
			require.True(t, env.IsWorkflowCompleted())

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}
			require.NoError(t, env.GetWorkflowError())

			var result IngestWalletResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validate(t, &result)
		})
	}
}

func TestIngestWalletWorkflow_ActivityRetries(t *testing.T) {
	env, acts := newWorkflowEnv(t)

	env.OnActivity(acts.GetWalletCursor, mock.Anything, mock.Anything).Return(&GetWalletCursorResult{Known: []string{}}, nil)

	// Fail twice then succeed
	callCount := 0
	env.OnActivity(acts.FetchRecords, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callCount++
		if callCount < 3 {
			panic("transient error") // Temporal retries on panics
		}
	}).Return(&FetchRecordsResult{Records: []feed.Record{}, Fetched: 1, Skipped: 1}, nil)

	env.OnActivity(acts.StoreRecords, mock.Anything, mock.Anything).Return(&StoreRecordsResult{}, nil)
	env.OnActivity(acts.ExpireStandby, mock.Anything, mock.Anything).Return(&ExpireStandbyResult{}, nil)

	env.ExecuteWorkflow(IngestWalletWorkflow, IngestWalletInput{Address: testWallet, Network: "mainnet"})
	require.NoError(t, env.GetWorkflowError())

	var result IngestWalletResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 3, callCount)
}

func TestIngestWalletWorkflow_StandbyCutoff(t *testing.T) {
	env, acts := newWorkflowEnv(t)
	start := env.Now()

	env.OnActivity(acts.GetWalletCursor, mock.Anything, mock.Anything).Return(&GetWalletCursorResult{Known: []string{}}, nil)
	env.OnActivity(acts.FetchRecords, mock.Anything, mock.Anything).Return(&FetchRecordsResult{Records: []feed.Record{}}, nil)
	env.OnActivity(acts.StoreRecords, mock.Anything, mock.Anything).Return(&StoreRecordsResult{}, nil)

	var cutoff ExpireStandbyInput
	env.OnActivity(acts.ExpireStandby, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		cutoff = args.Get(1).(ExpireStandbyInput)
	}).Return(&ExpireStandbyResult{}, nil)

	env.ExecuteWorkflow(IngestWalletWorkflow, IngestWalletInput{Address: testWallet, Network: "mainnet"})
	require.NoError(t, env.GetWorkflowError())

	assert.WithinDuration(t, start.Add(-defaultStandbyTTL), cutoff.Before, defaultStandbyTTL/60)
}

func TestSyncBankAccountWorkflow(t *testing.T) {
	input := SyncBankAccountInput{
		WalletAddress:     testWallet,
		AccountMTWAddress: "0xmtw",
		PublicToken:       "public-sandbox",
	}
	id := bankIdentity(input)

	t.Run("links the account", func(t *testing.T) {
		env, acts := newWorkflowEnv(t)
		env.OnActivity(acts.BeginBankSync, mock.Anything, mock.Anything).Return(nil)
		env.OnActivity(acts.LinkBankAccount, mock.Anything, LinkBankAccountInput{Identity: id, PublicToken: "public-sandbox"}).
			Return("fin-1", nil)
		env.OnActivity(acts.FinishBankSync, mock.Anything, mock.MatchedBy(func(in FinishBankSyncInput) bool {
			return in.BankAccountID == "fin-1" && in.Error == ""
		})).Return(nil)

		var started []string
		env.SetOnActivityStartedListener(func(info *activity.Info, _ context.Context, _ converter.EncodedValues) {
			started = append(started, info.ActivityType.Name)
		})

		env.ExecuteWorkflow(SyncBankAccountWorkflow, input)
		require.NoError(t, env.GetWorkflowError())
		// The access token is obtained and spent inside LinkBankAccount, so no
		// activity boundary in history carries it.
		assert.Equal(t, []string{"BeginBankSync", "LinkBankAccount", "FinishBankSync"}, started)

		var result SyncBankAccountResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, db.BankAccountLinked, result.Status)
		require.NotNil(t, result.BankAccountID)
		assert.Equal(t, "fin-1", *result.BankAccountID)
		assert.NotEmpty(t, result.WorkflowID)
	})

	t.Run("records a rejected token", func(t *testing.T) {
		env, acts := newWorkflowEnv(t)
		env.OnActivity(acts.BeginBankSync, mock.Anything, mock.Anything).Return(nil)
		env.OnActivity(acts.LinkBankAccount, mock.Anything, mock.Anything).
			Return("", temporalsdk.NewNonRetryableApplicationError("invalid public token", "BankLinkRejected", nil))

		var finished FinishBankSyncInput
		env.OnActivity(acts.FinishBankSync, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			finished = args.Get(1).(FinishBankSyncInput)
		}).Return(nil)

		env.ExecuteWorkflow(SyncBankAccountWorkflow, input)
		require.Error(t, env.GetWorkflowError())
		assert.Contains(t, finished.Error, "invalid public token")
		assert.Empty(t, finished.BankAccountID)
	})
}
