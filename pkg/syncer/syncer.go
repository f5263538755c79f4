// Package syncer reconciles three input streams into the message store:
// the initial REST history fetch, live inbound events, and locally
// initiated optimistic writes. It is the store's single writer.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/presence"
	"chatsync/pkg/store"
	"chatsync/pkg/transport"
	"chatsync/pkg/utils"
)

const (
	defaultHistoryLimit = 50
	// pendingTimeout compensates for the fire-and-forget emit path: a
	// pending entry with no echo after this long is flagged failed. The
	// drafted content stays in place for an explicit Resend.
	defaultPendingTimeout = 10 * time.Second
	// typingIdle is how long after the last keystroke the sender's typing
	// signal auto-clears, independent of the network.
	typingIdle = time.Second
)

// Options configures a Syncer for one conversation.
type Options struct {
	SelfID       string
	Conversation string
	// Peer is the other party's user id, used only for the conversation
	// metadata view.
	Peer         string
	HistoryLimit int
	// OrphanTTL bounds buffering of patches that arrive before their base
	// record. Zero uses the default.
	OrphanTTL      time.Duration
	PendingTimeout time.Duration
	// OnError receives user-visible failure descriptions (the toast sink).
	OnError func(msg string)
	// OnUpdate fires after every store mutation; the UI re-renders from
	// Snapshot.
	OnUpdate func()
	// OnTyping fires when the peer's typing indicator flips.
	OnTyping func(typing bool)
}

// Syncer owns the message store of one conversation and is the only writer
// to it. All remote input arrives through adapter events; all local input
// through the exported intent methods.
type Syncer struct {
	adapter transport.Adapter
	opts    Options
	store   *store.Store
	orphans *orphanBuffer
	peers   *presence.Tracker

	mu         sync.Mutex
	offs       []func()
	peerOnline bool
	pending    map[string]*time.Timer // client id -> echo timeout
	viewing    bool
	started    bool
	stopCh     chan struct{}
	lastTyping time.Time
	typingOff  *time.Timer
}

// New builds a Syncer. Call Start to connect and load history.
func New(adapter transport.Adapter, opts Options) *Syncer {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = defaultPendingTimeout
	}
	s := &Syncer{
		adapter: adapter,
		opts:    opts,
		store:   store.New(),
		orphans: newOrphanBuffer(opts.OrphanTTL),
		pending: make(map[string]*time.Timer),
	}
	s.peers = presence.NewTracker(0, func(_ string, typing bool) {
		if opts.OnTyping != nil {
			opts.OnTyping(typing)
		}
	})
	return s
}

// PeerTyping reports whether the peer is currently typing, per the tracked
// typing events and their expiry.
func (s *Syncer) PeerTyping() bool {
	return s.peers.Typing(s.opts.Conversation)
}

// SetPeerOnline records the peer's online flag. The flag comes from an
// out-of-band status feed; the core only carries it.
func (s *Syncer) SetPeerOnline(online bool) {
	s.mu.Lock()
	s.peerOnline = online
	s.mu.Unlock()
}

// Conversation returns the metadata view backing a conversation list row:
// the peer, their online flag, and the timestamp of the latest message.
func (s *Syncer) Conversation() models.Conversation {
	c := models.Conversation{ID: s.opts.Conversation, Peer: s.opts.Peer}
	s.mu.Lock()
	c.Online = s.peerOnline
	s.mu.Unlock()
	if msgs := s.store.Snapshot(); len(msgs) > 0 {
		c.UpdatedTS = msgs[len(msgs)-1].CreatedAt
	}
	return c
}

// Store exposes the read side; callers take snapshots only.
func (s *Syncer) Store() *store.Store { return s.store }

// Start connects the transport, subscribes the event handlers, joins the
// conversation room and loads initial history. Safe to call once.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("syncer already started")
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	offs := []func(){
		s.adapter.On(models.EvMessageNew, s.onMessageNew),
		s.adapter.On(models.EvMessageEdited, s.onMessageEdited),
		s.adapter.On(models.EvMessageDeleted, s.onMessageDeleted),
		s.adapter.On(models.EvTyping, s.onTyping),
	}
	s.mu.Lock()
	s.offs = offs
	s.mu.Unlock()

	s.adapter.JoinConversation(s.opts.Conversation)

	go s.sweepLoop()

	if err := s.LoadHistory(ctx); err != nil {
		return err
	}
	return nil
}

// Close leaves the room and disposes every registered handler so nothing
// leaks across conversation switches. The store stays readable.
func (s *Syncer) Close() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	if s.stopCh != nil {
		select {
		case <-s.stopCh:
		default:
			close(s.stopCh)
		}
	}
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	if s.typingOff != nil {
		s.typingOff.Stop()
		s.typingOff = nil
	}
	s.mu.Unlock()
	for _, off := range offs {
		off()
	}
	s.peers.Stop()
	s.adapter.LeaveConversation(s.opts.Conversation)
	logger.Info("syncer_closed", "conversation", s.opts.Conversation)
}

func (s *Syncer) sweepLoop() {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.orphans.sweep()
		}
	}
}

// LoadHistory fetches the initial message page over REST and appends it as
// confirmed records. Append idempotency makes a reload after reconnect
// safe against duplicates.
func (s *Syncer) LoadHistory(ctx context.Context) error {
	path := fmt.Sprintf("/conversations/%s/messages?limit=%d", s.opts.Conversation, s.opts.HistoryLimit)
	res, err := s.adapter.Request(ctx, "GET", path, nil)
	if err != nil {
		s.reportError("failed to load messages")
		return fmt.Errorf("load history: %w", err)
	}
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	if err := res.Decode(&out); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	for _, m := range out.Messages {
		m.State = models.StateConfirmed
		if s.store.Append(m) {
			s.applyOrphans(m.ID)
		}
	}
	logger.Info("history_loaded", "conversation", s.opts.Conversation, "count", len(out.Messages))
	s.notify()
	return nil
}

// SendText appends a pending entry immediately and emits the send intent.
// Returns the correlation id identifying the optimistic entry.
func (s *Syncer) SendText(content string) string {
	return s.send(content, models.TypeText, nil)
}

// SendAttachment turns a completed upload into an outbound message going
// through the same optimistic lifecycle as text.
func (s *Syncer) SendAttachment(att models.Attachment, typ models.MessageType) string {
	return s.send(att.URL, typ, &att)
}

func (s *Syncer) send(content string, typ models.MessageType, att *models.Attachment) string {
	m := models.Message{
		ClientID:     utils.GenClientID(),
		Conversation: s.opts.Conversation,
		Sender:       s.opts.SelfID,
		Content:      content,
		Type:         typ,
		Attachment:   att,
		State:        models.StatePending,
		CreatedAt:    time.Now().UTC().UnixNano(),
	}
	s.store.Append(m)
	s.notify()
	s.armPendingTimeout(m.ClientID)
	s.adapter.Emit(models.EvMessageSend, m)
	return m.ClientID
}

// Resend re-emits a failed entry under its original correlation id, so a
// duplicate delivery of the first attempt still collapses onto one record
// at reconciliation.
func (s *Syncer) Resend(clientID string) error {
	m, ok := s.store.Get(clientID)
	if !ok {
		return fmt.Errorf("resend: no entry for %s", clientID)
	}
	if m.State != models.StateFailed {
		return fmt.Errorf("resend: entry %s is %s, not failed", clientID, m.State)
	}
	st := models.StatePending
	s.store.Patch(clientID, store.Patch{State: &st})
	s.notify()
	s.armPendingTimeout(m.ClientID)
	s.adapter.Emit(models.EvMessageSend, m)
	return nil
}

func (s *Syncer) armPendingTimeout(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.pending[clientID]; ok {
		old.Stop()
	}
	s.pending[clientID] = time.AfterFunc(s.opts.PendingTimeout, func() {
		s.mu.Lock()
		delete(s.pending, clientID)
		s.mu.Unlock()
		st := models.StateFailed
		if s.store.Patch(clientID, store.Patch{State: &st}) {
			logger.Warn("send_unconfirmed", "client_id", clientID)
			s.reportError("failed to send message")
			s.notify()
		}
	})
}

func (s *Syncer) cancelPendingTimeout(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[clientID]; ok {
		t.Stop()
		delete(s.pending, clientID)
	}
}

// Edit optimistically rewrites a confirmed message's content and emits the
// edit intent. The canonical content is re-applied from the echo.
func (s *Syncer) Edit(id, newContent string) error {
	m, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("edit: no message %s", id)
	}
	if m.Deleted {
		return fmt.Errorf("edit: message %s is deleted", id)
	}
	ed := true
	if s.store.Patch(id, store.Patch{Content: &newContent, Edited: &ed}) {
		s.notify()
	}
	s.adapter.Emit(models.EvMessageEdit, models.EditPayload{
		ID: id, Conversation: s.opts.Conversation, Content: newContent,
	})
	return nil
}

// Delete optimistically soft-deletes: content becomes the fixed sentinel,
// the record stays. The echo re-applies the same patch, which is a no-op.
func (s *Syncer) Delete(id string) error {
	if _, ok := s.store.Get(id); !ok {
		return fmt.Errorf("delete: no message %s", id)
	}
	s.applyDelete(id)
	s.notify()
	s.adapter.Emit(models.EvMessageDelete, models.DeletePayload{
		ID: id, Conversation: s.opts.Conversation,
	})
	return nil
}

func (s *Syncer) applyDelete(id string) bool {
	content := models.DeletedSentinel
	del := true
	return s.store.Patch(id, store.Patch{Content: &content, Deleted: &del})
}

// Typing signals local keystrokes. Emits are debounced to one per idle
// window and the flag auto-clears after a second of inactivity without
// relying on the network.
func (s *Syncer) Typing(isTyping bool) {
	now := time.Now()
	s.mu.Lock()
	if !isTyping {
		if s.typingOff != nil {
			s.typingOff.Stop()
			s.typingOff = nil
		}
		s.lastTyping = time.Time{}
		s.mu.Unlock()
		s.emitTyping(false)
		return
	}
	first := now.Sub(s.lastTyping) >= typingIdle
	s.lastTyping = now
	if s.typingOff != nil {
		s.typingOff.Stop()
	}
	s.typingOff = time.AfterFunc(typingIdle, func() {
		s.mu.Lock()
		s.typingOff = nil
		s.lastTyping = time.Time{}
		s.mu.Unlock()
		s.emitTyping(false)
	})
	s.mu.Unlock()
	if first {
		s.emitTyping(true)
	}
}

func (s *Syncer) emitTyping(v bool) {
	s.adapter.Emit(models.EvTyping, models.TypingPayload{
		Conversation: s.opts.Conversation, User: s.opts.SelfID, Typing: v,
	})
}

// SetViewing marks whether the conversation is on screen. While viewing,
// inbound peer messages are acknowledged as read immediately.
func (s *Syncer) SetViewing(v bool) {
	s.mu.Lock()
	s.viewing = v
	s.mu.Unlock()
}

func (s *Syncer) isViewing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewing
}

// MarkRead flags a peer message read locally and tells the relay. Read is
// recipient-owned state; the sender's client never sets it.
func (s *Syncer) MarkRead(id string) {
	rd := true
	if s.store.Patch(id, store.Patch{Read: &rd}) {
		s.notify()
	}
	s.adapter.Emit(models.EvMessageRead, models.ReadPayload{
		ID: id, Conversation: s.opts.Conversation, User: s.opts.SelfID,
	})
}

// --- inbound event handlers ---

func (s *Syncer) onMessageNew(payload json.RawMessage) {
	var m models.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		logger.Warn("message_new_decode_failed", "error", err)
		return
	}
	if m.Conversation != s.opts.Conversation {
		return
	}
	m.State = models.StateConfirmed
	if m.Sender == s.opts.SelfID {
		// Echo of an own write: reconcile by correlation id. Without a
		// match (state lost across restart) fall through to append.
		if m.ClientID != "" && s.store.Confirm(m.ClientID, m) {
			s.cancelPendingTimeout(m.ClientID)
			s.applyOrphans(m.ID)
			s.notify()
			return
		}
	}
	if s.store.Append(m) {
		s.applyOrphans(m.ID)
		if m.Sender != s.opts.SelfID && s.isViewing() {
			s.MarkRead(m.ID)
		}
		s.notify()
	}
}

func (s *Syncer) onMessageEdited(payload json.RawMessage) {
	var p models.EditPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Warn("message_edited_decode_failed", "error", err)
		return
	}
	if p.Conversation != s.opts.Conversation {
		return
	}
	ed := true
	patch := store.Patch{Content: &p.Content, Edited: &ed}
	if !s.store.Patch(p.ID, patch) {
		s.orphans.put(p.ID, patch)
		logger.Debug("edit_buffered_orphan", "id", p.ID)
		return
	}
	s.notify()
}

func (s *Syncer) onMessageDeleted(payload json.RawMessage) {
	var p models.DeletePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Warn("message_deleted_decode_failed", "error", err)
		return
	}
	if p.Conversation != s.opts.Conversation {
		return
	}
	if !s.applyDelete(p.ID) {
		content := models.DeletedSentinel
		del := true
		s.orphans.put(p.ID, store.Patch{Content: &content, Deleted: &del})
		logger.Debug("delete_buffered_orphan", "id", p.ID)
		return
	}
	s.notify()
}

func (s *Syncer) onTyping(payload json.RawMessage) {
	var p models.TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	if p.Conversation != s.opts.Conversation || p.User == s.opts.SelfID {
		return
	}
	s.peers.Set(p.Conversation, p.Typing)
}

// applyOrphans drains buffered patches for a freshly appended id.
func (s *Syncer) applyOrphans(id string) {
	if id == "" {
		return
	}
	for _, p := range s.orphans.take(id) {
		s.store.Patch(id, p)
	}
}

func (s *Syncer) notify() {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate()
	}
}

func (s *Syncer) reportError(msg string) {
	if s.opts.OnError != nil {
		s.opts.OnError(msg)
	}
}
