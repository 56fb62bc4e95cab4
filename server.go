package trader

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// MinOrderUnits is the smallest unit count the server accepts. Orders below
// it are rejected with an advisory warning, not an error.
const MinOrderUnits = 10

// Server is the central matching server: a single-writer actor that owns
// the order book registry. Events enter through a buffered channel and one
// goroutine processes them to completion, one at a time, so no two clients'
// orders are ever matched against a half-updated book.
type Server struct {
	isShutdown       atomic.Bool
	nextID           int64
	reg              *registry
	changed          map[int64]*Order
	comm             Comm
	audit            AuditLog
	eventChan        chan *Event
	done             chan struct{}
	shutdownComplete chan struct{}
}

// NewServer creates a new server instance. comm carries outbound
// notifications; audit receives one record per accepted order.
func NewServer(comm Comm, audit AuditLog) *Server {
	logger.Info().Msg("creating the server")

	return &Server{
		nextID:           1,
		reg:              newRegistry(),
		changed:          make(map[int64]*Order),
		comm:             comm,
		audit:            audit,
		eventChan:        make(chan *Event, 32768),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
	}
}

// Enqueue submits an inbound event to the server loop asynchronously.
// Returns ErrShutdown if the server is shutting down.
func (s *Server) Enqueue(ctx context.Context, evt *Event) error {
	if s.isShutdown.Load() {
		return ErrShutdown
	}

	if evt == nil {
		return ErrInvalidParam
	}

	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Stats returns usage statistics for the server. It is thread-safe and
// interacts with the server loop via a response channel.
func (s *Server) Stats() (*Stats, error) {
	respChan := make(chan any, 1)

	select {
	case s.eventChan <- &Event{Type: eventStats, resp: respChan}:
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}

	select {
	case res := <-respChan:
		if stats, ok := res.(*Stats); ok {
			return stats, nil
		}
		return nil, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// Start runs the server loop to process events. Returns nil when Shutdown()
// is called and all pending events are drained.
func (s *Server) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	logger.Info().Msg("starting server")

	for {
		select {
		case <-s.done:
			return s.drain()
		case evt := <-s.eventChan:
			s.process(evt)
		}
	}
}

// Shutdown signals the server to stop accepting new events and waits for
// all pending events to be processed. Returns ctx.Err() if the context is
// cancelled first.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.isShutdown.CompareAndSwap(false, true) {
		close(s.done)
	}

	select {
	case <-s.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes all remaining events in the channel before returning.
func (s *Server) drain() error {
	defer close(s.shutdownComplete)

	logger.Info().Msg("shutting down server")

	for {
		select {
		case evt := <-s.eventChan:
			s.process(evt)
		default:
			return nil
		}
	}
}

// process dispatches a single event. It runs to completion, including
// matching, broadcasts, and pruning, before the next event is looked at.
func (s *Server) process(evt *Event) {
	switch evt.Type {
	case EventConnected:
		s.handleConnected(evt.Sender)
	case EventDisconnected:
		s.handleDisconnected(evt.Sender)
	case EventNewOrder:
		s.handleNewOrder(evt)
	case eventStats:
		stats := &Stats{
			Sessions:      s.reg.sessionCount(),
			RestingOrders: s.reg.orderCount(),
			NextOrderID:   s.nextID,
		}
		if evt.resp != nil {
			select {
			case evt.resp <- stats:
			default:
			}
		}
	default:
		logger.Warn().Str("nickname", evt.Sender).Uint8("type", uint8(evt.Type)).Msg("event type was not recognized")
		s.comm.SendError(evt.Sender, "event type was not recognized")
	}
}

// verifyConnected fails with ErrNotConnected if the client has no registry
// entry. Called before any new-order submission is accepted.
func (s *Server) verifyConnected(nickname string) error {
	if !s.reg.connected(nickname) {
		return ErrNotConnected
	}
	return nil
}

// handleConnected registers the client and replays the current book to it,
// ascending by server id, so the client reconstructs market state
// deterministically regardless of arrival order.
func (s *Server) handleConnected(nickname string) {
	logger.Info().Str("nickname", nickname).Msg("connecting client")

	if err := s.reg.register(nickname); err != nil {
		s.comm.SendError(nickname, err.Error())
		return
	}

	for order := range s.reg.activeOrders() {
		s.comm.SendOrder(nickname, *order)
	}
}

// handleDisconnected deregisters the client and discards its resting
// orders. Disconnect is never an error path, and nothing is broadcast: the
// outbound protocol has no way to express an order's removal.
func (s *Server) handleDisconnected(nickname string) {
	logger.Info().Str("nickname", nickname).Msg("disconnecting client")

	s.reg.deregister(nickname)
}

// handleNewOrder runs the acceptance sequence for a submitted order:
// verify the sender is connected, check the minimum unit threshold, assign
// a server id, announce the order to every client, insert it, persist the
// audit record, run the matching pass, broadcast every changed order, and
// prune the fulfilled ones.
func (s *Server) handleNewOrder(evt *Event) {
	if err := s.verifyConnected(evt.Sender); err != nil {
		s.comm.SendError(evt.Sender, err.Error())
		return
	}

	if evt.Order == nil {
		s.comm.SendError(evt.Sender, ErrNoOrderToBroadcast.Error())
		return
	}

	if evt.Order.Units < MinOrderUnits {
		s.comm.SendWarning(evt.Sender, fmt.Sprintf("number of units must be greater than %d", MinOrderUnits-1))
		return
	}

	// The registry owns its own instance; the transport's copy is never
	// aliased into the book.
	order := new(Order)
	*order = *evt.Order
	order.Nickname = evt.Sender

	// A pre-assigned id is kept only if it is one this server issued and
	// no resting order holds it: the id index is keyed by server id, so a
	// colliding insert would silently shadow another client's order.
	if order.ID == 0 {
		order.ID = s.nextID
		s.nextID++
	} else if order.ID >= s.nextID || s.reg.resting(order.ID) {
		s.comm.SendError(evt.Sender, ErrInvalidOrderID.Error())
		return
	}

	logger.Info().
		Int64("order_id", order.ID).
		Str("nickname", order.Nickname).
		Str("stock", order.Stock).
		Str("side", order.Side.String()).
		Int64("units", order.Units).
		Msg("processing new order")

	// Announce before matching: clients see every new order exactly once,
	// whether or not it matches.
	_ = s.broadcastOrder(order)

	s.reg.insert(order)

	if err := s.audit.Append(NewAuditRecord(order)); err != nil {
		// Persistence is best-effort and must not block matching.
		logger.Error().Err(err).Int64("order_id", order.ID).Msg("failed to append audit record")
	}

	matchOrder(s.reg, order, s.changed)

	for _, changed := range s.changed {
		_ = s.broadcastOrder(changed)
	}

	s.reg.pruneFulfilled()

	clear(s.changed)
}

// broadcastOrder sends the order's current full state to every connected
// client.
func (s *Server) broadcastOrder(order *Order) error {
	if order == nil {
		return ErrNoOrderToBroadcast
	}

	for nickname := range s.reg.nicknames() {
		s.comm.SendOrder(nickname, *order)
	}
	return nil
}
