package trader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrderEvent(sender, stock string, side Side, price string, units int64) *Event {
	return &Event{
		Type:   EventNewOrder,
		Sender: sender,
		Order: &Order{
			Stock: stock,
			Side:  side,
			Price: decimal.RequireFromString(price),
			Units: units,
		},
	}
}

func TestServerSessions(t *testing.T) {
	t.Run("ConnectThenDuplicateConnect", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		assert.Empty(t, comm.Errors())
		assert.Equal(t, int64(1), s.reg.sessionCount())

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		errs := comm.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, "alice", errs[0].To)
		assert.Equal(t, ErrAlreadyConnected.Error(), errs[0].Message)
		assert.Equal(t, int64(1), s.reg.sessionCount())
	})

	t.Run("DisconnectIsNeverAnError", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		s.process(&Event{Type: EventDisconnected, Sender: "ghost"})
		assert.Empty(t, comm.Errors())

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		s.process(newOrderEvent("alice", "X", Sell, "5", 10))
		s.process(&Event{Type: EventDisconnected, Sender: "alice"})

		assert.Equal(t, int64(0), s.reg.sessionCount())
		assert.Equal(t, int64(0), s.reg.orderCount())
	})

	t.Run("DisconnectBroadcastsNothing", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		s.process(&Event{Type: EventConnected, Sender: "bob"})
		s.process(newOrderEvent("alice", "X", Sell, "5", 10))

		comm.Reset()
		s.process(&Event{Type: EventDisconnected, Sender: "alice"})

		assert.Empty(t, comm.Orders())
		assert.Empty(t, comm.Errors())
	})

	t.Run("UnrecognizedEventType", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		s.process(&Event{Type: EventType(42), Sender: "alice"})
		errs := comm.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, "alice", errs[0].To)
	})
}

func TestServerNewOrder(t *testing.T) {
	t.Run("NotConnectedSenderRejected", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		s.process(newOrderEvent("stranger", "X", Buy, "5", 10))

		errs := comm.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, "stranger", errs[0].To)
		assert.Equal(t, ErrNotConnected.Error(), errs[0].Message)
		assert.Empty(t, comm.Orders())

		// No id was consumed by the rejected order.
		s.process(&Event{Type: EventConnected, Sender: "alice"})
		s.process(newOrderEvent("alice", "X", Buy, "5", 10))
		assert.Equal(t, int64(1), comm.Orders()[0].Order.ID)
	})

	t.Run("MissingOrderRejected", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		s.process(&Event{Type: EventNewOrder, Sender: "alice"})

		errs := comm.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, ErrNoOrderToBroadcast.Error(), errs[0].Message)
	})

	t.Run("BelowMinimumUnitsWarning", func(t *testing.T) {
		comm := NewMemoryComm()
		audit := NewMemoryAuditLog()
		s := NewServer(comm, audit)

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		s.process(newOrderEvent("alice", "X", Buy, "5", 9))

		warnings := comm.Warnings()
		require.Len(t, warnings, 1)
		assert.Equal(t, "alice", warnings[0].To)
		assert.Equal(t, fmt.Sprintf("number of units must be greater than %d", MinOrderUnits-1), warnings[0].Message)
		assert.Empty(t, comm.Orders())
		assert.Empty(t, comm.Errors())
		assert.Equal(t, 0, audit.Count())
		assert.Equal(t, int64(0), s.reg.orderCount())
	})

	t.Run("AcceptedOrderIsAuditedOnceAndBroadcast", func(t *testing.T) {
		comm := NewMemoryComm()
		audit := NewMemoryAuditLog()
		s := NewServer(comm, audit)

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		s.process(newOrderEvent("alice", "X", Sell, "5.25", 10))

		orders := comm.Orders()
		require.Len(t, orders, 1)
		assert.Equal(t, "alice", orders[0].To)
		assert.Equal(t, int64(1), orders[0].Order.ID)
		assert.Equal(t, int64(10), orders[0].Order.Units)

		require.Equal(t, 1, audit.Count())
		rec := audit.Get(0)
		assert.Equal(t, int64(1), rec.OrderID)
		assert.Equal(t, "sell", rec.Type)
		assert.Equal(t, "X", rec.Stock)
		assert.Equal(t, int64(10), rec.Units)
		assert.Equal(t, "alice", rec.Customer)
	})

	t.Run("AuditFailureDoesNotBlockMatching", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, &failingAuditLog{})

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		s.process(newOrderEvent("alice", "X", Sell, "5", 10))
		s.process(newOrderEvent("alice", "X", Buy, "5", 10))

		// Both orders matched and were pruned despite the failing store.
		assert.Equal(t, int64(0), s.reg.orderCount())
	})

	t.Run("PreAssignedIDKeptWhenFree", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		s.process(newOrderEvent("alice", "X", Sell, "5", 10))
		s.process(newOrderEvent("alice", "X", Buy, "5", 10))
		require.Equal(t, int64(0), s.reg.orderCount())
		require.Equal(t, int64(3), s.nextID)

		// A previously issued id that no longer rests is kept as-is.
		comm.Reset()
		evt := newOrderEvent("alice", "X", Sell, "5", 10)
		evt.Order.ID = 1
		s.process(evt)

		orders := comm.Orders()
		require.Len(t, orders, 1)
		assert.Equal(t, int64(1), orders[0].Order.ID)
		assert.Equal(t, int64(3), s.nextID)
		assert.True(t, s.reg.resting(1))
	})

	t.Run("CollidingIDRejected", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		s.process(&Event{Type: EventConnected, Sender: "bob"})
		s.process(newOrderEvent("alice", "X", Sell, "5", 10))
		require.Equal(t, int64(1), s.reg.orderCount())

		// Bob claims the id of alice's resting order on a different stock.
		comm.Reset()
		evt := newOrderEvent("bob", "Y", Sell, "50", 10)
		evt.Order.ID = 1
		s.process(evt)

		errs := comm.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, "bob", errs[0].To)
		assert.Equal(t, ErrInvalidOrderID.Error(), errs[0].Message)
		assert.Empty(t, comm.Orders())
		assert.Equal(t, int64(1), s.reg.orderCount())

		// The id index still enumerates alice's order for catch-up.
		comm.Reset()
		s.process(&Event{Type: EventConnected, Sender: "carol"})
		catchup := comm.OrdersTo("carol")
		require.Len(t, catchup, 1)
		assert.Equal(t, int64(1), catchup[0].Order.ID)
		assert.Equal(t, "alice", catchup[0].Order.Nickname)
		assert.Equal(t, "X", catchup[0].Order.Stock)
	})

	t.Run("UnissuedIDRejected", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		evt := newOrderEvent("alice", "X", Sell, "5", 10)
		evt.Order.ID = 99
		s.process(evt)

		errs := comm.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, ErrInvalidOrderID.Error(), errs[0].Message)
		assert.Equal(t, int64(0), s.reg.orderCount())
		assert.Equal(t, int64(1), s.nextID)
	})

	t.Run("OwnerTakenFromSender", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		s.process(&Event{Type: EventConnected, Sender: "alice"})
		evt := newOrderEvent("alice", "X", Sell, "5", 10)
		evt.Order.Nickname = "mallory"
		s.process(evt)

		orders := comm.Orders()
		require.Len(t, orders, 1)
		assert.Equal(t, "alice", orders[0].Order.Nickname)
	})
}

func TestServerMatchingScenario(t *testing.T) {
	comm := NewMemoryComm()
	audit := NewMemoryAuditLog()
	s := NewServer(comm, audit)

	// Client A connects; an empty book means no catch-up messages.
	s.process(&Event{Type: EventConnected, Sender: "A"})
	assert.Empty(t, comm.Orders())

	// A submits Sell(X, 10 units, 5.0): broadcast to A only, no match.
	s.process(newOrderEvent("A", "X", Sell, "5.0", 10))
	orders := comm.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "A", orders[0].To)
	assert.Equal(t, int64(1), orders[0].Order.ID)
	assert.Equal(t, int64(10), orders[0].Order.Units)

	// Client B connects and receives A's resting sell as catch-up.
	comm.Reset()
	s.process(&Event{Type: EventConnected, Sender: "B"})
	catchup := comm.OrdersTo("B")
	require.Len(t, catchup, 1)
	assert.Equal(t, int64(1), catchup[0].Order.ID)

	// B submits Buy(X, 15 units, 6.0): announced to both, matched against
	// A's sell, both changed orders broadcast to both.
	comm.Reset()
	s.process(newOrderEvent("B", "X", Buy, "6.0", 15))

	toA := comm.OrdersTo("A")
	toB := comm.OrdersTo("B")
	require.Len(t, toA, 3)
	require.Len(t, toB, 3)

	// First frame each client saw is the new-order announcement.
	assert.Equal(t, int64(2), toA[0].Order.ID)
	assert.Equal(t, int64(15), toA[0].Order.Units)

	final := make(map[int64]int64)
	for _, sent := range toA[1:] {
		final[sent.Order.ID] = sent.Order.Units
	}
	assert.Equal(t, int64(0), final[1])
	assert.Equal(t, int64(5), final[2])

	// A's fulfilled sell is gone; only B's remainder rests.
	assert.Equal(t, int64(1), s.reg.orderCount())
	for order := range s.reg.activeOrders() {
		assert.Equal(t, int64(2), order.ID)
		assert.Equal(t, int64(5), order.Units)
	}

	// A later catch-up no longer contains the fulfilled order.
	comm.Reset()
	s.process(&Event{Type: EventConnected, Sender: "C"})
	catchup = comm.OrdersTo("C")
	require.Len(t, catchup, 1)
	assert.Equal(t, int64(2), catchup[0].Order.ID)

	// The audit log holds exactly the two accepted orders, untouched by fills.
	require.Equal(t, 2, audit.Count())
	assert.Equal(t, int64(10), audit.Get(0).Units)
	assert.Equal(t, int64(15), audit.Get(1).Units)
}

func TestServerChangedSetDeduplication(t *testing.T) {
	comm := NewMemoryComm()
	s := NewServer(comm, NewMemoryAuditLog())

	s.process(&Event{Type: EventConnected, Sender: "A"})
	s.process(&Event{Type: EventConnected, Sender: "B"})
	s.process(newOrderEvent("A", "X", Sell, "5", 10))
	s.process(newOrderEvent("A", "X", Sell, "4", 20))

	comm.Reset()
	s.process(newOrderEvent("B", "X", Buy, "6", 25))

	// One announcement plus three changed orders, each delivered once to
	// each of the two clients, regardless of scan order.
	assert.Equal(t, 8, comm.OrderCount())

	// The buy crossed 25 units in total; 5 remain resting somewhere.
	var total int64
	for order := range s.reg.activeOrders() {
		require.GreaterOrEqual(t, order.Units, int64(0))
		total += order.Units
	}
	assert.Equal(t, int64(5), total)
	assert.Equal(t, int64(1), s.reg.orderCount())
}

func TestServerLoop(t *testing.T) {
	t.Run("EnqueueAndStats", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())
		go func() { _ = s.Start() }()

		ctx := context.Background()
		require.NoError(t, s.Enqueue(ctx, &Event{Type: EventConnected, Sender: "alice"}))
		require.NoError(t, s.Enqueue(ctx, newOrderEvent("alice", "X", Sell, "5", 10)))

		assert.Eventually(t, func() bool {
			stats, err := s.Stats()
			return err == nil && stats != nil && stats.RestingOrders == 1 && stats.Sessions == 1
		}, time.Second, 10*time.Millisecond)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Shutdown(shutdownCtx))

		err := s.Enqueue(ctx, &Event{Type: EventConnected, Sender: "bob"})
		assert.ErrorIs(t, err, ErrShutdown)
	})

	t.Run("ShutdownDrainsPendingEvents", func(t *testing.T) {
		comm := NewMemoryComm()
		s := NewServer(comm, NewMemoryAuditLog())

		ctx := context.Background()
		require.NoError(t, s.Enqueue(ctx, &Event{Type: EventConnected, Sender: "alice"}))
		require.NoError(t, s.Enqueue(ctx, newOrderEvent("alice", "X", Sell, "5", 10)))

		go func() { _ = s.Start() }()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Shutdown(shutdownCtx))

		assert.Equal(t, 1, comm.OrderCount())
	})

	t.Run("EnqueueNil", func(t *testing.T) {
		s := NewServer(NewDiscardComm(), NewDiscardAuditLog())
		err := s.Enqueue(context.Background(), nil)
		assert.ErrorIs(t, err, ErrInvalidParam)
	})
}

type failingAuditLog struct{}

func (f *failingAuditLog) Append(rec *AuditRecord) error {
	return errors.New("store unwritable")
}
