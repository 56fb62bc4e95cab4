package comm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	trader "github.com/0x5487/microtrader"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// EventSink receives the inbound events the transport produces. The server
// loop is the only production implementation.
type EventSink interface {
	Enqueue(ctx context.Context, evt *trader.Event) error
}

// WSServer is the websocket transport collaborator. Each client connects to
// /ws?nickname=<id>; the socket lifecycle becomes Connected/Disconnected
// events and every frame becomes a NewOrder (or unknown) event. Outbound it
// implements trader.Comm, addressing clients by nickname.
type WSServer struct {
	addr       string
	sink       EventSink
	serializer Serializer
	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu      sync.RWMutex
	clients map[string]*client
}

// client is one connected socket with its buffered outbound queue.
type client struct {
	id       string
	nickname string
	conn     *websocket.Conn
	send     chan []byte
}

// NewWSServer creates the transport listening on addr. Serve must be called
// with an event sink before any client can connect.
func NewWSServer(addr string) *WSServer {
	s := &WSServer{
		addr:       addr,
		serializer: &DefaultJSONSerializer{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]*client),
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleWebSocket)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return s
}

// Serve binds the event sink and blocks serving connections until Shutdown.
func (s *WSServer) Serve(sink EventSink) error {
	s.sink = sink

	logger.Info().Str("addr", s.addr).Msg("websocket transport listening")

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP listener and closes every open socket.
func (s *WSServer) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	for _, c := range s.clients {
		_ = c.conn.Close()
	}
	s.mu.Unlock()

	return err
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	nickname := r.URL.Query().Get("nickname")
	if nickname == "" {
		http.Error(w, "nickname is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:       xid.New().String(),
		nickname: nickname,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}

	// One socket per nickname: a duplicate would make outbound addressing
	// ambiguous, so it is refused before the server loop ever sees it.
	s.mu.Lock()
	if _, found := s.clients[nickname]; found {
		s.mu.Unlock()
		s.writeDirect(conn, &ServerMessage{Type: MessageError, Message: trader.ErrAlreadyConnected.Error()})
		_ = conn.Close()
		return
	}
	s.clients[nickname] = c
	s.mu.Unlock()

	logger.Info().Str("conn_id", c.id).Str("nickname", nickname).Msg("client connected")

	go s.writePump(c)

	if err := s.sink.Enqueue(r.Context(), &trader.Event{Type: trader.EventConnected, Sender: nickname}); err != nil {
		logger.Error().Err(err).Str("nickname", nickname).Msg("failed to enqueue connect")
		s.removeClient(c)
		_ = conn.Close()
		return
	}

	s.readPump(c)
}

// readPump turns inbound frames into server events. It owns the connection
// teardown: when the socket dies, the client is removed and a Disconnected
// event is enqueued.
func (s *WSServer) readPump(c *client) {
	defer func() {
		s.removeClient(c)
		_ = c.conn.Close()
		_ = s.sink.Enqueue(context.Background(), &trader.Event{Type: trader.EventDisconnected, Sender: c.nickname})
		logger.Info().Str("conn_id", c.id).Str("nickname", c.nickname).Msg("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Str("nickname", c.nickname).Msg("websocket read error")
			}
			return
		}

		var req ClientMessage
		if err := s.serializer.Unmarshal(message, &req); err != nil {
			s.SendError(c.nickname, "invalid message")
			continue
		}

		switch req.Op {
		case OpNewOrder:
			order, err := DecodeOrder(req.Order)
			if err != nil {
				s.SendError(c.nickname, err.Error())
				continue
			}
			evt := &trader.Event{Type: trader.EventNewOrder, Sender: c.nickname, Order: order}
			if err := s.sink.Enqueue(context.Background(), evt); err != nil {
				s.SendError(c.nickname, err.Error())
			}
		default:
			// Let the server loop answer unrecognized operations.
			_ = s.sink.Enqueue(context.Background(), &trader.Event{Type: trader.EventUnknown, Sender: c.nickname})
		}
	}
}

// writePump drains the client's outbound queue onto the socket and keeps
// the connection alive with pings.
func (s *WSServer) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendOrder implements trader.Comm. Deliveries to a nickname with no open
// socket are dropped; the session is already gone.
func (s *WSServer) SendOrder(nickname string, order trader.Order) {
	s.send(nickname, &ServerMessage{Type: MessageOrder, Order: EncodeOrder(order)})
}

// SendError implements trader.Comm. An empty nickname means no originating
// client applies and the message is only logged.
func (s *WSServer) SendError(nickname string, message string) {
	if nickname == "" {
		logger.Error().Str("message", message).Msg("server error with no addressee")
		return
	}
	s.send(nickname, &ServerMessage{Type: MessageError, Message: message})
}

// SendWarning implements trader.Comm.
func (s *WSServer) SendWarning(nickname string, message string) {
	s.send(nickname, &ServerMessage{Type: MessageWarning, Message: message})
}

func (s *WSServer) send(nickname string, msg *ServerMessage) {
	s.mu.RLock()
	c, found := s.clients[nickname]
	s.mu.RUnlock()
	if !found {
		return
	}

	data, err := s.serializer.Marshal(msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal outbound message")
		return
	}

	select {
	case c.send <- data:
	default:
		// Queue full; the client is too slow to keep a consistent view.
		logger.Warn().Str("nickname", nickname).Msg("send queue full, dropping client")
		s.removeClient(c)
		_ = c.conn.Close()
	}
}

// writeDirect writes one frame outside the pump, used before a connection
// is fully registered.
func (s *WSServer) writeDirect(conn *websocket.Conn, msg *ServerMessage) {
	data, err := s.serializer.Marshal(msg)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// removeClient drops the registration if it still points at this client.
// The send channel is never closed: the server loop may be sending into it
// concurrently. Closing the connection is what stops the write pump.
func (s *WSServer) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, found := s.clients[c.nickname]; found && current == c {
		delete(s.clients, c.nickname)
	}
}
