package trader

import (
	"sync"

	"github.com/shopspring/decimal"
)

// AuditRecord is the durable trace of one accepted order, written exactly
// once on acceptance and never rewritten on later fills.
type AuditRecord struct {
	OrderID  int64           `json:"id"`
	Type     string          `json:"type"`
	Stock    string          `json:"stock"`
	Units    int64           `json:"units"`
	Price    decimal.Decimal `json:"price"`
	Customer string          `json:"customer"`
}

// NewAuditRecord builds the audit record for a freshly accepted order.
func NewAuditRecord(order *Order) *AuditRecord {
	return &AuditRecord{
		OrderID:  order.ID,
		Type:     order.Side.String(),
		Stock:    order.Stock,
		Units:    order.Units,
		Price:    order.Price,
		Customer: order.Nickname,
	}
}

// AuditLog is the persistence collaborator: an append-only store of every
// accepted order. There is no read path. A failing Append must not stop
// order processing; the server logs it and keeps matching.
type AuditLog interface {
	Append(rec *AuditRecord) error
}

// MemoryAuditLog stores records in memory, useful for testing.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	records []*AuditRecord
}

// NewMemoryAuditLog creates a new MemoryAuditLog.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Append stores a copy of the record.
func (m *MemoryAuditLog) Append(rec *AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := new(AuditRecord)
	*cpy = *rec
	m.records = append(m.records, cpy)
	return nil
}

// Count returns the number of records stored.
func (m *MemoryAuditLog) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Get returns the record at the specified index.
func (m *MemoryAuditLog) Get(index int) *AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[index]
}

// DiscardAuditLog drops all records, useful for benchmarking.
type DiscardAuditLog struct{}

// NewDiscardAuditLog creates a new DiscardAuditLog.
func NewDiscardAuditLog() *DiscardAuditLog {
	return &DiscardAuditLog{}
}

// Append does nothing.
func (d *DiscardAuditLog) Append(rec *AuditRecord) error {
	return nil
}
