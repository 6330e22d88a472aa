package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
)

// Client is the production Scheduler and WorkflowStarter backed by Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient connects to Temporal.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

func (c *Client) ingestAction(id, address, network string) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        id,
		Workflow:  "IngestWalletWorkflow",
		TaskQueue: c.taskQueue,
		Args: []interface{}{IngestWalletInput{
			Address: address,
			Network: network,
		}},
	}
}

// UpsertWalletSchedule creates or updates the ingestion schedule of a wallet.
func (c *Client) UpsertWalletSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	id := scheduleID(address, network)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one", "schedule_id", id, "error", err)

		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: id,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action: c.ingestAction(id, address, network),
			Memo: map[string]interface{}{
				"wallet_address": address,
				"network":        network,
				"created_by":     "txfeed",
			},
		})
		if err != nil {
			c.logger.Error("failed to create schedule", "address", address, "schedule_id", id, "error", err)
			return fmt.Errorf("failed to create schedule %q: %w", id, err)
		}

		c.logger.Info("wallet schedule created",
			"address", address,
			"network", network,
			"schedule_id", id,
			"interval", interval,
		)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule", "address", address, "schedule_id", id, "error", err)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("wallet schedule updated",
		"address", address,
		"network", network,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteWalletSchedule deletes the ingestion schedule of a wallet.
func (c *Client) DeleteWalletSchedule(ctx context.Context, address, network string) error {
	id := scheduleID(address, network)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule", "address", address, "schedule_id", id, "error", err)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("wallet schedule deleted", "address", address, "network", network, "schedule_id", id)
	return nil
}

// StartIngest runs one ingestion of a wallet now.
func (c *Client) StartIngest(ctx context.Context, address, network string) (string, error) {
	id := fmt.Sprintf("%s-manual-%s", scheduleID(address, network), uuid.NewString())
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, IngestWalletWorkflow, IngestWalletInput{Address: address, Network: network})
	if err != nil {
		return "", fmt.Errorf("failed to start ingestion: %w", err)
	}
	c.logger.Info("started ingestion", "address", address, "workflow_id", run.GetID())
	return run.GetID(), nil
}

// StartBankSync starts a bank-account sync workflow.
func (c *Client) StartBankSync(ctx context.Context, input SyncBankAccountInput) (string, error) {
	id := "bank-sync-" + uuid.NewString()
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, SyncBankAccountWorkflow, input)
	if err != nil {
		return "", fmt.Errorf("failed to start bank sync: %w", err)
	}
	c.logger.Info("started bank sync", "wallet", input.WalletAddress, "workflow_id", run.GetID())
	return run.GetID(), nil
}

// WaitIngest blocks until an ingestion workflow completes and returns its result.
func (c *Client) WaitIngest(ctx context.Context, workflowID string) (*IngestWalletResult, error) {
	var result IngestWalletResult
	if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("ingestion %s failed: %w", workflowID, err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}
