package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

const (
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Socket is the websocket half of the adapter. Connect/Disconnect are
// idempotent; Disconnect is safe after a failed Connect and when called
// repeatedly. Joined rooms are remembered and re-joined after Connect so a
// reconnect restores subscriptions.
type Socket struct {
	url    string
	header http.Header

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	dialing   bool
	done      chan struct{}
	joined    map[string]bool

	hmu      sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
}

// NewSocket builds a Socket for the given ws:// or wss:// URL. The header
// typically carries the API key and bearer token.
func NewSocket(url string, header http.Header) *Socket {
	return &Socket{
		url:      url,
		header:   header,
		joined:   make(map[string]bool),
		handlers: make(map[string]map[int]Handler),
	}
}

// Connect dials the relay and starts the read loop. Calling Connect on an
// already connected socket, or while another Connect is dialing, is a
// no-op.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected || s.dialing {
		s.mu.Unlock()
		return nil
	}
	s.dialing = true
	s.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()
		return classify("connect", err)
	}

	s.mu.Lock()
	s.dialing = false
	s.ws = ws
	s.connected = true
	s.done = make(chan struct{})
	rejoin := make([]string, 0, len(s.joined))
	for id := range s.joined {
		rejoin = append(rejoin, id)
	}
	s.mu.Unlock()

	ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	go s.readLoop(ws)
	go s.pingLoop(ws)

	for _, id := range rejoin {
		s.Emit(models.EvJoin, models.JoinPayload{Conversation: id})
	}
	logger.Info("socket_connected", "url", s.url)
	return nil
}

// Disconnect closes the connection if open. Handlers stay registered so a
// later Connect resumes delivery.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	close(s.done)
	_ = s.ws.Close()
	s.ws = nil
	logger.Info("socket_disconnected", "url", s.url)
}

// JoinConversation subscribes to a logical room. The membership is kept
// locally so reconnects re-subscribe.
func (s *Socket) JoinConversation(id string) {
	s.mu.Lock()
	s.joined[id] = true
	s.mu.Unlock()
	s.Emit(models.EvJoin, models.JoinPayload{Conversation: id})
}

// LeaveConversation unsubscribes from a room. Leaving a room that was never
// joined is a no-op.
func (s *Socket) LeaveConversation(id string) {
	s.mu.Lock()
	if !s.joined[id] {
		s.mu.Unlock()
		return
	}
	delete(s.joined, id)
	s.mu.Unlock()
	s.Emit(models.EvLeave, models.JoinPayload{Conversation: id})
}

// Emit writes an envelope to the socket. Fire-and-forget: failures are
// logged, never surfaced, and nothing is buffered while disconnected.
func (s *Socket) Emit(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		logger.Error("emit_marshal_failed", "event", event, "error", err)
		return
	}
	env := models.Envelope{Event: event, Payload: b}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		logger.Debug("emit_dropped_not_connected", "event", event)
		return
	}
	s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.ws.WriteJSON(env); err != nil {
		logger.Warn("emit_write_failed", "event", event, "error", err)
	}
}

// On registers a handler for an event and returns its disposer.
func (s *Socket) On(event string, h Handler) func() {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]Handler)
	}
	id := s.nextID
	s.nextID++
	s.handlers[event][id] = h
	return func() {
		s.hmu.Lock()
		defer s.hmu.Unlock()
		delete(s.handlers[event], id)
	}
}

func (s *Socket) readLoop(ws *websocket.Conn) {
	for {
		var env models.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			s.mu.Lock()
			open := s.connected && s.ws == ws
			s.mu.Unlock()
			if open {
				logger.Warn("socket_read_failed", "error", err)
				s.Disconnect()
			}
			return
		}
		s.dispatch(env)
	}
}

func (s *Socket) dispatch(env models.Envelope) {
	s.hmu.Lock()
	hs := make([]Handler, 0, len(s.handlers[env.Event]))
	for _, h := range s.handlers[env.Event] {
		hs = append(hs, h)
	}
	s.hmu.Unlock()
	for _, h := range hs {
		h(env.Payload)
	}
}

func (s *Socket) pingLoop(ws *websocket.Conn) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.mu.Lock()
			if !s.connected || s.ws != ws {
				s.mu.Unlock()
				return
			}
			s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := s.ws.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil {
				logger.Warn("socket_ping_failed", "error", err)
				s.Disconnect()
				return
			}
		}
	}
}
