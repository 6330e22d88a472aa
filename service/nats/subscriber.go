package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subscriber delivers record events for one wallet until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, wallet string, fn func(*RecordEvent)) error
}

// JetStreamSubscriber consumes record events with an ephemeral consumer per
// subscription, delivering only events published after it starts.
type JetStreamSubscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSubscriber connects to NATS for consuming record events.
func NewSubscriber(natsURL string, logger *slog.Logger) (*JetStreamSubscriber, error) {
	nc, js, err := Connect(natsURL, "txfeed-subscriber")
	if err != nil {
		return nil, err
	}
	logger.Info("NATS subscriber initialized", "url", natsURL)
	return &JetStreamSubscriber{nc: nc, js: js, logger: logger}, nil
}

// Subscribe blocks, calling fn for each event on the wallet's subject, until
// ctx is cancelled. Malformed messages are acknowledged and skipped.
func (s *JetStreamSubscriber) Subscribe(ctx context.Context, wallet string, fn func(*RecordEvent)) error {
	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: Subject(wallet),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()
		event, err := DecodeRecordEvent(msg.Data())
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed record event",
				"subject", msg.Subject(),
				"error", err,
			)
			return
		}
		fn(event)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	return nil
}

// Close closes the NATS connection.
func (s *JetStreamSubscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS subscriber closed")
	}
	return nil
}
