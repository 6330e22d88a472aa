package nats

import (
	"context"
	"sync"
)

// MockPublisher is an in-memory Publisher and Subscriber for tests. Events
// published while a subscription is open are delivered to it synchronously.
type MockPublisher struct {
	mu                sync.RWMutex
	publishedEvents   []*RecordEvent
	publishError      error
	publishBatchError error
	closed            bool

	nextID      int
	subscribers map[int]mockSubscription
	subscribed  chan string
}

type mockSubscription struct {
	wallet string
	fn     func(*RecordEvent)
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*RecordEvent, 0),
		subscribers:     make(map[int]mockSubscription),
		subscribed:      make(chan string, 16),
	}
}

// PublishRecord records the event and returns any configured error.
func (m *MockPublisher) PublishRecord(ctx context.Context, event *RecordEvent) error {
	m.mu.Lock()
	if m.publishError != nil {
		m.mu.Unlock()
		return m.publishError
	}
	m.publishedEvents = append(m.publishedEvents, event)
	subs := m.subscribersFor(event.WalletAddress)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
	return nil
}

// PublishRecordBatch records the events and returns any configured error.
func (m *MockPublisher) PublishRecordBatch(ctx context.Context, events []*RecordEvent) error {
	m.mu.RLock()
	err := m.publishBatchError
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := m.PublishRecord(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers fn for the wallet until ctx is done.
func (m *MockPublisher) Subscribe(ctx context.Context, wallet string, fn func(*RecordEvent)) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = mockSubscription{wallet: wallet, fn: fn}
	m.mu.Unlock()

	select {
	case m.subscribed <- wallet:
	default:
	}

	<-ctx.Done()

	m.mu.Lock()
	delete(m.subscribers, id)
	m.mu.Unlock()
	return nil
}

// Subscribed yields the wallet of each new subscription, letting tests wait
// until a subscriber is listening before publishing.
func (m *MockPublisher) Subscribed() <-chan string {
	return m.subscribed
}

func (m *MockPublisher) subscribersFor(wallet string) []func(*RecordEvent) {
	var out []func(*RecordEvent)
	for _, s := range m.subscribers {
		if s.wallet == wallet {
			out = append(out, s.fn)
		}
	}
	return out
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*RecordEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*RecordEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventCount returns the number of published events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// GetPublishedEventsForWallet returns events published for a specific wallet.
func (m *MockPublisher) GetPublishedEventsForWallet(address string) []*RecordEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*RecordEvent, 0)
	for _, event := range m.publishedEvents {
		if event.WalletAddress == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishRecord.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// SetPublishBatchError configures the mock to return an error on PublishRecordBatch.
func (m *MockPublisher) SetPublishBatchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishBatchError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*RecordEvent, 0)
	m.publishError = nil
	m.publishBatchError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
