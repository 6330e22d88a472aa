package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/txfeed/service/metrics"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// Temporal connection settings
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Dependencies
	Store         StoreInterface
	SolanaClients map[string]SolanaClientInterface // by network
	Publisher     PublisherInterface
	BankLinker    BankLinker       // Optional: bank sync fails fast if nil
	Metrics       *metrics.Metrics // Optional: if nil, no metrics will be recorded
	Logger        *slog.Logger
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker creates and configures a new Temporal worker.
// The worker will process workflows and activities on the configured task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger.With("component", "temporal_worker")

	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	activities := NewActivities(
		config.Store,
		config.SolanaClients,
		config.Publisher,
		config.BankLinker,
		config.Metrics,
		logger,
	)
	register(w, activities)

	logger.Info("registered workflows and activities")

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// registry is the subset of worker.Worker used to register work.
type registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

func register(r registry, activities *Activities) {
	r.RegisterWorkflow(IngestWalletWorkflow)
	r.RegisterWorkflow(SyncBankAccountWorkflow)

	r.RegisterActivity(activities.GetWalletCursor)
	r.RegisterActivity(activities.FetchRecords)
	r.RegisterActivity(activities.StoreRecords)
	r.RegisterActivity(activities.ExpireStandby)
	r.RegisterActivity(activities.BeginBankSync)
	r.RegisterActivity(activities.LinkBankAccount)
	r.RegisterActivity(activities.FinishBankSync)
}

// Run processes workflows and activities until ctx is done, then stops the
// worker and closes its Temporal connection.
func (w *Worker) Run(ctx context.Context) error {
	interrupt := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(interrupt)
	}()
	defer w.client.Close()

	w.logger.Info("starting temporal worker")
	if err := w.worker.Run(interrupt); err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}
