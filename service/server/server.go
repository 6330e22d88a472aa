package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/txfeed/service/db"
	"github.com/brojonat/txfeed/service/feed"
	"github.com/brojonat/txfeed/service/limits"
	"github.com/brojonat/txfeed/service/metrics"
	natspkg "github.com/brojonat/txfeed/service/nats"
	"github.com/brojonat/txfeed/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the persistence the HTTP handlers need. *db.Store implements it.
type Store interface {
	Ping(ctx context.Context) error

	ListRecords(ctx context.Context, params db.ListRecordsParams) ([]feed.Record, error)
	GetRecord(ctx context.Context, wallet, hash string) (feed.Record, error)
	UpsertRecord(ctx context.Context, wallet string, r feed.Record) (bool, error)
	LookupRecipients(ctx context.Context, addresses []string) (feed.RecipientMap, error)
	UpsertRecipient(ctx context.Context, r feed.Recipient) error

	CreateWallet(ctx context.Context, params db.CreateWalletParams) (*db.Wallet, error)
	GetWallet(ctx context.Context, address, network string) (*db.Wallet, error)
	ListWallets(ctx context.Context) ([]*db.Wallet, error)
	DeleteWallet(ctx context.Context, address, network string) error

	GetBankAccountByWorkflow(ctx context.Context, workflowID string) (*db.BankAccount, error)
}

// Deps holds the collaborators of the server. Publisher, Subscriber,
// Starter, Limits and Metrics are optional; the routes that need a missing
// collaborator are not mounted.
type Deps struct {
	Store      Store
	Scheduler  temporal.Scheduler
	Starter    temporal.WorkflowStarter
	Publisher  natspkg.Publisher
	Subscriber natspkg.Subscriber
	Limits     *limits.Service
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// Presenter defaults to one that reports fetch failures to Logger.
	Presenter *feed.Presenter

	// PageSize is the default number of records a feed shows.
	PageSize int
	// DefaultPollInterval applies to wallets registered without one.
	DefaultPollInterval time.Duration
}

// Server represents the HTTP server for the feed service.
type Server struct {
	addr     string
	deps     Deps
	feed     *feedLoader
	renderer *TemplateRenderer
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server with the given dependencies.
func New(addr string, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Presenter == nil {
		deps.Presenter = feed.NewPresenter(feed.SlogSink(deps.Logger))
	}
	if deps.PageSize <= 0 {
		deps.PageSize = defaultFeedLimit
	}
	if deps.DefaultPollInterval <= 0 {
		deps.DefaultPollInterval = 30 * time.Second
	}

	renderer, err := NewTemplateRenderer(deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize templates: %w", err)
	}

	return &Server{
		addr:     addr,
		deps:     deps,
		feed:     newFeedLoader(deps.Store, deps.Presenter, deps.Metrics, deps.Logger),
		renderer: renderer,
		logger:   deps.Logger,
	}, nil
}

// Handler builds the routed handler of the server.
func (s *Server) Handler() http.Handler {
	d := s.deps
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(d.Metrics, name)(h))
	}

	// Feed
	route("GET /api/v1/feed/{address}", "/api/v1/feed", handleGetFeed(s.feed, d.PageSize, s.logger))
	route("GET /feed/{address}", "/feed", handleFeedPage(s.feed, s.renderer, d.PageSize, s.logger))
	route("POST /api/v1/standby", "/api/v1/standby", handleCreateStandby(d.Store, d.Publisher, d.Metrics, s.logger))
	route("GET /api/v1/records", "/api/v1/records", handleListRecords(d.Store, s.logger))
	route("PUT /api/v1/recipients/{address}", "/api/v1/recipients", handleUpsertRecipient(d.Store, s.logger))

	if d.Subscriber != nil {
		route("GET /api/v1/stream/feed/{address}", "/api/v1/stream/feed", handleStreamFeed(s.feed, d.Subscriber, d.PageSize, d.Metrics, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("NATS subscriber not configured, streaming endpoint disabled")
	}

	// Wallets
	if d.Scheduler != nil {
		route("POST /api/v1/wallets", "/api/v1/wallets", handleRegisterWallet(d.Store, d.Scheduler, d.DefaultPollInterval, s.logger))
		route("DELETE /api/v1/wallets/{address}", "/api/v1/wallets/{address}", handleUnregisterWallet(d.Store, d.Scheduler, s.logger))
	}
	route("GET /api/v1/wallets/{address}", "/api/v1/wallets/{address}", handleGetWallet(d.Store, s.logger))
	route("GET /api/v1/wallets", "/api/v1/wallets", handleListWallets(d.Store, s.logger))

	// Limits
	if d.Limits != nil {
		route("GET /api/v1/limits/{address}", "/api/v1/limits", handleGetLimits(d.Limits, s.logger))
		route("POST /api/v1/limits/{address}/request", "/api/v1/limits/request", handleRequestLimit(d.Limits, s.logger))
	}

	// Bank accounts
	if d.Starter != nil {
		route("POST /api/v1/bank-accounts/sync", "/api/v1/bank-accounts/sync", handleStartBankSync(d.Starter, d.Metrics, s.logger))
	}
	route("GET /api/v1/bank-accounts/sync/{workflow_id}", "/api/v1/bank-accounts/sync/{workflow_id}", handleGetBankSync(d.Store, s.logger))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Store.Ping(r.Context()); err != nil {
			s.logger.ErrorContext(r.Context(), "health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if d.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: the SSE stream holds its response open.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
