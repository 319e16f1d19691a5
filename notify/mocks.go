package notify

import (
	"context"
	"sync"
)

// MockSender records sends for tests.
type MockSender struct {
	mu    sync.Mutex
	Sends []MockSend
	Err   error
}

// MockSend is one recorded delivery.
type MockSend struct {
	Channel    Channel
	Message    Message
	Recipients []string
}

// Send records the delivery and returns the configured error.
func (m *MockSender) Send(_ context.Context, channel Channel, msg Message, recipients []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sends = append(m.Sends, MockSend{Channel: channel, Message: msg, Recipients: recipients})
	return nil
}

// Count returns the number of recorded sends.
func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sends)
}
