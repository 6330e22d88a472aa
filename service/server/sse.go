package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/txfeed/service/metrics"
	natspkg "github.com/brojonat/txfeed/service/nats"
	"golang.org/x/sync/errgroup"
)

var sseKeepaliveInterval = 10 * time.Second

// handleStreamFeed streams a wallet's feed as Server-Sent Events. The client
// gets a loading presentation, then the fetched feed, then a fresh
// presentation after every record event for the wallet.
// GET /api/v1/stream/feed/{address}?context=home|exchange&limit=N
func handleStreamFeed(loader *feedLoader, subscriber natspkg.Subscriber, pageSize int, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, c, limit, err := feedParams(r, pageSize)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		m.RecordSSEConnectionChange(1)
		defer m.RecordSSEConnectionChange(-1)

		logger.DebugContext(r.Context(), "SSE client connected",
			"wallet", address,
			"context", c.String(),
			"remote_addr", r.RemoteAddr,
		)

		send := func(event string, data interface{}) error {
			payload, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("failed to marshal %s event: %w", event, err)
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
				return err
			}
			flusher.Flush()
			m.RecordSSEEventSent(event)
			return nil
		}

		// Buffered by one: events that arrive while a refetch is pending
		// are covered by that refetch.
		changed := make(chan struct{}, 1)

		g, ctx := errgroup.WithContext(r.Context())

		g.Go(func() error {
			return subscriber.Subscribe(ctx, address, func(event *natspkg.RecordEvent) {
				logger.DebugContext(ctx, "record event received",
					"wallet", address,
					"hash", event.Record.Hash,
					"source", event.Source,
				)
				select {
				case changed <- struct{}{}:
				default:
				}
			})
		})

		g.Go(func() error {
			if err := send("presentation", viewToResponse(loader.loading(address, c))); err != nil {
				return err
			}
			if err := send("presentation", viewToResponse(loader.load(ctx, address, c, limit))); err != nil {
				return err
			}

			keepalive := time.NewTicker(sseKeepaliveInterval)
			defer keepalive.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
					if err := send("presentation", viewToResponse(loader.load(ctx, address, c, limit))); err != nil {
						return err
					}
				case <-keepalive.C:
					if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
						return err
					}
					flusher.Flush()
				}
			}
		})

		err = g.Wait()
		if err != nil && !errors.Is(err, context.Canceled) && r.Context().Err() == nil {
			logger.ErrorContext(r.Context(), "feed stream failed", "wallet", address, "error", err)
			send("error", map[string]string{"error": "feed stream failed"})
		}

		logger.DebugContext(r.Context(), "SSE client disconnected",
			"wallet", address,
			"remote_addr", r.RemoteAddr,
		)
	})
}

