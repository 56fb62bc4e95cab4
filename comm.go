package trader

import "sync"

// Comm is the outbound half of the transport collaborator. The server loop
// pushes every state change through it; clients never pull.
//
// Implementations must either deliver synchronously before returning or
// copy the data: the order argument is passed by value for that reason, so
// no implementation can alias the registry's mutable instance.
type Comm interface {
	// SendOrder delivers the order's current full state to one client.
	SendOrder(nickname string, order Order)

	// SendError reports a recoverable failure to one client. An empty
	// nickname means no originating client applies and the message is
	// only logged.
	SendError(nickname string, message string)

	// SendWarning delivers a non-fatal advisory on a channel distinct
	// from errors. No state change precedes a warning.
	SendWarning(nickname string, message string)
}

// SentOrder is one outbound order delivery recorded by MemoryComm.
type SentOrder struct {
	To    string
	Order Order
}

// SentMessage is one outbound error or warning recorded by MemoryComm.
type SentMessage struct {
	To      string
	Message string
}

// MemoryComm records every outbound delivery in memory, useful for testing.
type MemoryComm struct {
	mu       sync.RWMutex
	orders   []SentOrder
	errors   []SentMessage
	warnings []SentMessage
}

// NewMemoryComm creates a new MemoryComm.
func NewMemoryComm() *MemoryComm {
	return &MemoryComm{}
}

func (m *MemoryComm) SendOrder(nickname string, order Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, SentOrder{To: nickname, Order: order})
}

func (m *MemoryComm) SendError(nickname string, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, SentMessage{To: nickname, Message: message})
}

func (m *MemoryComm) SendWarning(nickname string, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, SentMessage{To: nickname, Message: message})
}

// Orders returns a copy of every recorded order delivery.
func (m *MemoryComm) Orders() []SentOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orders := make([]SentOrder, len(m.orders))
	copy(orders, m.orders)
	return orders
}

// OrdersTo returns every order delivery addressed to one client.
func (m *MemoryComm) OrdersTo(nickname string) []SentOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var orders []SentOrder
	for _, sent := range m.orders {
		if sent.To == nickname {
			orders = append(orders, sent)
		}
	}
	return orders
}

// Errors returns a copy of every recorded error delivery.
func (m *MemoryComm) Errors() []SentMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	errors := make([]SentMessage, len(m.errors))
	copy(errors, m.errors)
	return errors
}

// Warnings returns a copy of every recorded warning delivery.
func (m *MemoryComm) Warnings() []SentMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	warnings := make([]SentMessage, len(m.warnings))
	copy(warnings, m.warnings)
	return warnings
}

// OrderCount returns the number of recorded order deliveries.
func (m *MemoryComm) OrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// Reset discards everything recorded so far.
func (m *MemoryComm) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = nil
	m.errors = nil
	m.warnings = nil
}

// DiscardComm drops all outbound deliveries, useful for benchmarking.
type DiscardComm struct{}

// NewDiscardComm creates a new DiscardComm.
func NewDiscardComm() *DiscardComm {
	return &DiscardComm{}
}

func (d *DiscardComm) SendOrder(nickname string, order Order) {}

func (d *DiscardComm) SendError(nickname string, message string) {}

func (d *DiscardComm) SendWarning(nickname string, message string) {}
