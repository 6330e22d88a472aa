package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brojonat/txfeed/service/feed"
)

// Record event sources.
const (
	SourceChain   = "chain"
	SourceStandby = "standby"
)

// RecordEvent announces a record stored for a wallet.
// This is published to the subject "feed.{wallet_address}" in JetStream.
type RecordEvent struct {
	WalletAddress string      `json:"wallet_address"`
	Source        string      `json:"source"`
	Record        feed.Record `json:"record"`
	PublishedAt   time.Time   `json:"published_at"`
}

// NewRecordEvent builds an event for a record stored for wallet.
func NewRecordEvent(wallet, source string, r feed.Record) *RecordEvent {
	return &RecordEvent{
		WalletAddress: wallet,
		Source:        source,
		Record:        r,
		PublishedAt:   time.Now().UTC(),
	}
}

// Subject returns the subject a wallet's events are published on.
func Subject(wallet string) string {
	return fmt.Sprintf("feed.%s", wallet)
}

// DecodeRecordEvent parses a message payload. The record is validated by
// its own decoder, so unknown kinds fail here.
func DecodeRecordEvent(data []byte) (*RecordEvent, error) {
	var event RecordEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode record event: %w", err)
	}
	if event.WalletAddress == "" {
		return nil, fmt.Errorf("failed to decode record event: missing wallet_address")
	}
	return &event, nil
}
