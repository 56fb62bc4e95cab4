package comm

import (
	"errors"

	"github.com/shopspring/decimal"

	trader "github.com/0x5487/microtrader"
)

// MessageType identifies an outbound frame pushed to a client.
type MessageType string

const (
	MessageOrder   MessageType = "order"
	MessageError   MessageType = "error"
	MessageWarning MessageType = "warning"
)

// OpNewOrder is the only inbound operation; connects and disconnects are
// derived from the socket lifecycle.
const OpNewOrder = "new_order"

var ErrInvalidSide = errors.New("side must be buy or sell")

// OrderPayload is the wire form of an order. Every state change a client
// observes arrives as a fresh payload with the order's latest remaining
// units; clients reconstruct book state by keying on id and overwriting.
type OrderPayload struct {
	ID       int64           `json:"id"`
	Nickname string          `json:"nickname"`
	Stock    string          `json:"stock"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Units    int64           `json:"units"`
}

// ServerMessage is one outbound frame.
type ServerMessage struct {
	Type    MessageType   `json:"type"`
	Order   *OrderPayload `json:"order,omitempty"`
	Message string        `json:"message,omitempty"`
}

// ClientMessage is one inbound frame.
type ClientMessage struct {
	Op    string        `json:"op"`
	Order *OrderPayload `json:"order,omitempty"`
}

// EncodeOrder converts an order snapshot to its wire form.
func EncodeOrder(order trader.Order) *OrderPayload {
	return &OrderPayload{
		ID:       order.ID,
		Nickname: order.Nickname,
		Stock:    order.Stock,
		Side:     order.Side.String(),
		Price:    order.Price,
		Units:    order.Units,
	}
}

// DecodeOrder converts a wire payload to a core order. A nil payload
// decodes to a nil order; the server loop answers that with its own error.
// The payload's id and nickname are not trusted: both are server-assigned
// identity, so the decoded order carries neither.
func DecodeOrder(p *OrderPayload) (*trader.Order, error) {
	if p == nil {
		return nil, nil
	}

	var side trader.Side
	switch p.Side {
	case "buy":
		side = trader.Buy
	case "sell":
		side = trader.Sell
	default:
		return nil, ErrInvalidSide
	}

	if p.Units < 0 || p.Price.IsNegative() {
		return nil, trader.ErrInvalidParam
	}

	return &trader.Order{
		Stock: p.Stock,
		Side:  side,
		Price: p.Price,
		Units: p.Units,
	}, nil
}
