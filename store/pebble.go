package store

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cockroachdb/pebble"

	trader "github.com/0x5487/microtrader"
)

// PebbleAuditLog is the durable audit store: one record per accepted order,
// keyed by server order id, written synchronously. There is no read path;
// the store exists so accepted orders survive the process.
type PebbleAuditLog struct {
	db *pebble.DB
}

var _ trader.AuditLog = (*PebbleAuditLog)(nil)

// Open opens (or creates) the store at path.
func Open(path string) (*PebbleAuditLog, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleAuditLog{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleAuditLog) Close() error {
	return s.db.Close()
}

// keys: o:<8-byte-big-endian-order-id>
func orderKey(id int64) []byte {
	key := make([]byte, 0, 10)
	key = append(key, 'o', ':')
	key = binary.BigEndian.AppendUint64(key, uint64(id))
	return key
}

// Append persists the record. Order ids are never reused, so one key is
// written at most once.
func (s *PebbleAuditLog) Append(rec *trader.AuditRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Set(orderKey(rec.OrderID), val, pebble.Sync)
}
