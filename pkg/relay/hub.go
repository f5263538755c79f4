// Package relay fans events between websocket clients grouped into
// conversation rooms, persisting every message operation through the
// history store before echoing it back to the room (sender included).
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"

	"chatsync/pkg/history"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/utils"
	"chatsync/pkg/validation"
)

// Hub owns room membership and event fanout. All membership mutations go
// through the register/unregister channels processed by Run, matching the
// single-goroutine hub discipline.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
	}
}

// Run processes client lifecycle events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			metrics.WSClients.Inc()
			logger.Info("client_registered", "user", c.UserID)
		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				for room := range c.rooms {
					h.leaveLocked(c, room)
				}
				close(c.send)
				metrics.WSClients.Dec()
			}
			h.mu.Unlock()
			logger.Info("client_unregistered", "user", c.UserID)
		}
	}
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	c.rooms[room] = true
}

// leaveLocked removes c from a room; caller holds h.mu. Leaving a room the
// client never joined is a no-op.
func (h *Hub) leaveLocked(c *Client, room string) {
	if m, ok := h.rooms[room]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

// broadcast encodes the envelope once and queues it on every room member.
// except, when non-nil, is skipped. Slow clients are dropped, not awaited.
func (h *Hub) broadcast(room, event string, payload any, except *Client) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	pb, err := json.Marshal(payload)
	if err != nil {
		logger.Error("broadcast_marshal_failed", "event", event, "error", err)
		return
	}
	if err := json.NewEncoder(buf).Encode(models.Envelope{Event: event, Payload: pb}); err != nil {
		logger.Error("broadcast_encode_failed", "event", event, "error", err)
		return
	}
	frame := append([]byte(nil), buf.B...)

	// Send while holding h.mu: the unregister path closes c.send under the
	// same lock, so a member seen here cannot have its channel closed
	// mid-fanout. Sends are non-blocking, the lock is held briefly.
	h.mu.Lock()
	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		select {
		case c.send <- frame:
		default:
			metrics.DroppedFrames.Inc()
			logger.Warn("frame_dropped_slow_client", "user", c.UserID, "event", event)
		}
	}
	h.mu.Unlock()
	metrics.EventsTotal.WithLabelValues(event).Inc()
}

// Broadcast queues an event on every member of a room. Used by the REST
// handlers so attachment-backed sends reach live clients too.
func (h *Hub) Broadcast(room, event string, payload any) {
	h.broadcast(room, event, payload, nil)
}

// HandleIntent processes one inbound envelope from a client connection.
func (h *Hub) HandleIntent(c *Client, env models.Envelope) {
	switch env.Event {
	case models.EvJoin:
		var p models.JoinPayload
		if json.Unmarshal(env.Payload, &p) != nil || p.Conversation == "" {
			return
		}
		h.join(c, p.Conversation)
	case models.EvLeave:
		var p models.JoinPayload
		if json.Unmarshal(env.Payload, &p) != nil || p.Conversation == "" {
			return
		}
		h.leave(c, p.Conversation)
	case models.EvMessageSend:
		h.handleSend(c, env.Payload)
	case models.EvMessageEdit:
		h.handleEdit(c, env.Payload)
	case models.EvMessageDelete:
		h.handleDelete(c, env.Payload)
	case models.EvMessageRead:
		h.handleRead(c, env.Payload)
	case models.EvTyping:
		h.handleTyping(c, env.Payload)
	default:
		logger.Debug("unknown_intent", "event", env.Event)
	}
}

// handleSend persists a new message and echoes it to the room including
// the sender, carrying the client correlation id back unchanged.
func (h *Hub) handleSend(c *Client, payload json.RawMessage) {
	var m models.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		logger.Warn("send_decode_failed", "user", c.UserID, "error", err)
		return
	}
	m.Sender = c.UserID
	if err := validation.ValidateMessage(m); err != nil {
		logger.Warn("send_rejected", "user", c.UserID, "error", err)
		return
	}
	// server-assigned identity and time are authoritative
	m.ID = utils.GenMessageID()
	m.CreatedAt = time.Now().UTC().UnixNano()
	m.State = ""
	m.Read = false
	m.Deleted = false
	m.Edited = false
	if err := history.SaveMessage(m); err != nil {
		logger.Error("send_persist_failed", "msg_id", m.ID, "error", err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("create").Inc()
	h.broadcast(m.Conversation, models.EvMessageNew, m, nil)
}

func (h *Hub) handleEdit(c *Client, payload json.RawMessage) {
	var p models.EditPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	if err := validation.ValidateEdit(p); err != nil {
		logger.Warn("edit_rejected", "user", c.UserID, "error", err)
		return
	}
	m, err := history.GetLatest(p.ID)
	if err != nil {
		logger.Warn("edit_unknown_message", "msg_id", p.ID)
		return
	}
	if m.Sender != c.UserID {
		logger.Warn("edit_not_owner", "msg_id", p.ID, "user", c.UserID)
		return
	}
	if m.Deleted {
		return
	}
	m.Content = p.Content
	m.Edited = true
	if err := history.UpdateMessage(m); err != nil {
		logger.Error("edit_persist_failed", "msg_id", p.ID, "error", err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("edit").Inc()
	h.broadcast(m.Conversation, models.EvMessageEdited, models.EditPayload{
		ID: m.ID, Conversation: m.Conversation, Content: m.Content,
	}, nil)
}

func (h *Hub) handleDelete(c *Client, payload json.RawMessage) {
	var p models.DeletePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ID == "" {
		return
	}
	m, err := history.GetLatest(p.ID)
	if err != nil {
		logger.Warn("delete_unknown_message", "msg_id", p.ID)
		return
	}
	if m.Sender != c.UserID {
		logger.Warn("delete_not_owner", "msg_id", p.ID, "user", c.UserID)
		return
	}
	if _, err := history.SoftDelete(p.ID); err != nil {
		logger.Error("delete_persist_failed", "msg_id", p.ID, "error", err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("delete").Inc()
	h.broadcast(m.Conversation, models.EvMessageDeleted, models.DeletePayload{
		ID: m.ID, Conversation: m.Conversation,
	}, nil)
}

// handleRead records a recipient read receipt. Only the non-sender may
// flip the flag.
func (h *Hub) handleRead(c *Client, payload json.RawMessage) {
	var p models.ReadPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ID == "" {
		return
	}
	m, err := history.GetLatest(p.ID)
	if err != nil {
		return
	}
	if m.Sender == c.UserID || m.Read {
		return
	}
	m.Read = true
	if err := history.UpdateMessage(m); err != nil {
		logger.Error("read_persist_failed", "msg_id", p.ID, "error", err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("read").Inc()
	h.broadcast(m.Conversation, models.EvMessageRead, models.ReadPayload{
		ID: m.ID, Conversation: m.Conversation, User: c.UserID,
	}, c)
}

// handleTyping relays the signal to everyone else in the room; nothing is
// persisted.
func (h *Hub) handleTyping(c *Client, payload json.RawMessage) {
	var p models.TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Conversation == "" {
		return
	}
	p.User = c.UserID
	h.broadcast(p.Conversation, models.EvTyping, p, c)
}
