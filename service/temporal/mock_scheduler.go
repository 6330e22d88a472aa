package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is an in-memory Scheduler and WorkflowStarter for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	ingests   []string
	bankSyncs []SyncBankAccountInput
	createErr error
	deleteErr error
	startErr  error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// UpsertWalletSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertWalletSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.schedules[scheduleID(address, network)] = interval
	return nil
}

// DeleteWalletSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteWalletSchedule(ctx context.Context, address, network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}

	id := scheduleID(address, network)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(m.schedules, id)
	return nil
}

// StartIngest records a one-off ingestion.
func (m *MockScheduler) StartIngest(ctx context.Context, address, network string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	m.ingests = append(m.ingests, address)
	return fmt.Sprintf("%s-manual-%d", scheduleID(address, network), len(m.ingests)), nil
}

// StartBankSync records a bank sync and returns a sequential workflow ID.
func (m *MockScheduler) StartBankSync(ctx context.Context, input SyncBankAccountInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	m.bankSyncs = append(m.bankSyncs, input)
	return fmt.Sprintf("bank-sync-%d", len(m.bankSyncs)), nil
}

// SetCreateError makes UpsertWalletSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError makes DeleteWalletSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// SetStartError makes StartIngest and StartBankSync return an error.
func (m *MockScheduler) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// GetScheduleInterval returns the interval of a wallet's schedule.
func (m *MockScheduler) GetScheduleInterval(address, network string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, exists := m.schedules[scheduleID(address, network)]
	return interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Ingests returns the addresses passed to StartIngest.
func (m *MockScheduler) Ingests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ingests...)
}

// BankSyncs returns the inputs passed to StartBankSync.
func (m *MockScheduler) BankSyncs() []SyncBankAccountInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SyncBankAccountInput(nil), m.bankSyncs...)
}
