package trader

import (
	"github.com/shopspring/decimal"
)

// Side represents the order side (Buy/Sell).
type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// Order represents a resting order in the book.
//
// ID is assigned by the server on first acceptance, monotonically increasing
// from 1 and never reused; 0 means not yet assigned. Units is the remaining
// unit count and is the only mutable field: the matching pass decrements it
// in place, and an order whose Units reached 0 is fulfilled and pruned from
// the book. Everything else is fixed at creation.
type Order struct {
	ID       int64           `json:"id"`
	Nickname string          `json:"nickname"`
	Stock    string          `json:"stock"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Units    int64           `json:"units"`
}

// Fulfilled reports whether the order has no remaining units.
func (o *Order) Fulfilled() bool {
	return o.Units == 0
}

// EventType represents the kind of inbound event entering the server loop.
type EventType uint8

const (
	EventUnknown      EventType = 0
	EventConnected    EventType = 1
	EventDisconnected EventType = 2
	EventNewOrder     EventType = 3

	// eventStats is internal, used by Server.Stats.
	eventStats EventType = 100
)

// Event is the carrier for everything entering the server loop. The
// transport produces one Event per client message plus synthetic
// Connected/Disconnected events for the session lifecycle.
type Event struct {
	Type   EventType
	Sender string
	Order  *Order

	// resp is an optional response channel for synchronous queries.
	resp chan any
}

// Stats contains usage statistics about the server state.
type Stats struct {
	Sessions      int64
	RestingOrders int64
	NextOrderID   int64
}
