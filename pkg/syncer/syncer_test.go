package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatsync/pkg/models"
	"chatsync/pkg/transport"
)

// fakeAdapter is an in-process Adapter: emitted intents are recorded and
// inbound events are injected directly into the registered handlers.
type fakeAdapter struct {
	mu       sync.Mutex
	handlers map[string][]transport.Handler
	emitted  []emitted
	history  []models.Message
	joined   []string
	left     []string
}

type emitted struct {
	event   string
	payload any
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{handlers: make(map[string][]transport.Handler)}
}

func (f *fakeAdapter) Connect(context.Context) error { return nil }
func (f *fakeAdapter) Disconnect()                   {}

func (f *fakeAdapter) JoinConversation(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, id)
}

func (f *fakeAdapter) LeaveConversation(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, id)
}

func (f *fakeAdapter) Emit(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, emitted{event: event, payload: payload})
}

func (f *fakeAdapter) On(event string, h transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
	return func() {}
}

func (f *fakeAdapter) Request(_ context.Context, method, path string, _ any) (*transport.Response, error) {
	f.mu.Lock()
	msgs := f.history
	f.mu.Unlock()
	body, _ := json.Marshal(map[string]any{"messages": msgs})
	return &transport.Response{Status: 200, Body: body}, nil
}

// inject delivers an inbound event to every handler, as the socket would.
func (f *fakeAdapter) inject(event string, payload any) {
	b, _ := json.Marshal(payload)
	f.mu.Lock()
	hs := append([]transport.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(b)
	}
}

func (f *fakeAdapter) emittedEvents(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.emitted {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func startSyncer(t *testing.T, fa *fakeAdapter, opts Options) *Syncer {
	t.Helper()
	if opts.SelfID == "" {
		opts.SelfID = "me"
	}
	if opts.Conversation == "" {
		opts.Conversation = "c1"
	}
	s := New(fa, opts)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestOptimisticSendAndEcho(t *testing.T) {
	fa := newFakeAdapter()
	fa.history = []models.Message{{
		ID: "m1", Conversation: "c1", Sender: "peer",
		Content: "hello", Type: models.TypeText, CreatedAt: 100,
	}}
	s := startSyncer(t, fa, Options{})

	if s.Store().Len() != 1 {
		t.Fatalf("expected 1 history message, got %d", s.Store().Len())
	}

	clientID := s.SendText("yo")
	if s.Store().Len() != 2 {
		t.Fatalf("expected 2 messages after send, got %d", s.Store().Len())
	}
	m, ok := s.Store().Get(clientID)
	if !ok || m.State != models.StatePending {
		t.Fatalf("expected pending entry, got %+v", m)
	}

	// relay echo carries the correlation id and the server-assigned id
	fa.inject(models.EvMessageNew, models.Message{
		ID: "m2", ClientID: clientID, Conversation: "c1", Sender: "me",
		Content: "yo", Type: models.TypeText, CreatedAt: 200,
	})

	if s.Store().Len() != 2 {
		t.Fatalf("echo must reconcile, not append; len=%d", s.Store().Len())
	}
	m, ok = s.Store().Get("m2")
	if !ok || m.State != models.StateConfirmed {
		t.Fatalf("expected confirmed entry under server id, got %+v ok=%v", m, ok)
	}
}

func TestDuplicateEchoCollapses(t *testing.T) {
	fa := newFakeAdapter()
	s := startSyncer(t, fa, Options{})

	clientID := s.SendText("once")
	echo := models.Message{
		ID: "m1", ClientID: clientID, Conversation: "c1", Sender: "me",
		Content: "once", Type: models.TypeText, CreatedAt: 100,
	}
	fa.inject(models.EvMessageNew, echo)
	fa.inject(models.EvMessageNew, echo)

	if s.Store().Len() != 1 {
		t.Fatalf("duplicate echo must not duplicate the record; len=%d", s.Store().Len())
	}
}

func TestInboundPeerMessageAppends(t *testing.T) {
	var updates int
	fa := newFakeAdapter()
	s := startSyncer(t, fa, Options{OnUpdate: func() { updates++ }})

	fa.inject(models.EvMessageNew, models.Message{
		ID: "m1", Conversation: "c1", Sender: "peer",
		Content: "hi", Type: models.TypeText, CreatedAt: 100,
	})
	if s.Store().Len() != 1 {
		t.Fatalf("expected appended peer message")
	}
	if updates == 0 {
		t.Fatalf("expected an update notification")
	}

	// other conversations are filtered out
	fa.inject(models.EvMessageNew, models.Message{
		ID: "mx", Conversation: "other", Sender: "peer",
		Content: "noise", Type: models.TypeText, CreatedAt: 100,
	})
	if s.Store().Len() != 1 {
		t.Fatalf("foreign conversation message must be ignored")
	}
}

func TestViewingMarksInboundRead(t *testing.T) {
	fa := newFakeAdapter()
	s := startSyncer(t, fa, Options{})
	s.SetViewing(true)

	fa.inject(models.EvMessageNew, models.Message{
		ID: "m1", Conversation: "c1", Sender: "peer",
		Content: "hi", Type: models.TypeText, CreatedAt: 100,
	})

	m, _ := s.Store().Get("m1")
	if !m.Read {
		t.Fatalf("inbound message should be read while viewing")
	}
	if len(fa.emittedEvents(models.EvMessageRead)) != 1 {
		t.Fatalf("expected one read acknowledgement emit")
	}
}

func TestEditOptimisticAndEcho(t *testing.T) {
	fa := newFakeAdapter()
	fa.history = []models.Message{{
		ID: "m1", Conversation: "c1", Sender: "me",
		Content: "original", Type: models.TypeText, CreatedAt: 100,
	}}
	s := startSyncer(t, fa, Options{})

	if err := s.Edit("m1", "fixed"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	m, _ := s.Store().Get("m1")
	if m.Content != "fixed" || !m.Edited {
		t.Fatalf("expected optimistic edit, got %+v", m)
	}

	// echo re-applies canonically
	fa.inject(models.EvMessageEdited, models.EditPayload{ID: "m1", Conversation: "c1", Content: "fixed"})
	m, _ = s.Store().Get("m1")
	if m.Content != "fixed" {
		t.Fatalf("echo clobbered content: %q", m.Content)
	}
}

func TestEditDeletedMessageRejected(t *testing.T) {
	fa := newFakeAdapter()
	fa.history = []models.Message{{
		ID: "m1", Conversation: "c1", Sender: "me",
		Content: "original", Type: models.TypeText, CreatedAt: 100,
	}}
	s := startSyncer(t, fa, Options{})

	if err := s.Delete("m1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := s.Edit("m1", "necromancy"); err == nil {
		t.Fatalf("editing a deleted message must fail")
	}
}

func TestDeleteSoftDeletesWithSentinel(t *testing.T) {
	fa := newFakeAdapter()
	fa.history = []models.Message{{
		ID: "m1", Conversation: "c1", Sender: "me",
		Content: "oops", Type: models.TypeText, CreatedAt: 100,
	}}
	s := startSyncer(t, fa, Options{})

	if err := s.Delete("m1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	m, _ := s.Store().Get("m1")
	if !m.Deleted || m.Content != models.DeletedSentinel {
		t.Fatalf("expected sentinel tombstone, got %+v", m)
	}
	if s.Store().Len() != 1 {
		t.Fatalf("soft delete must keep the record")
	}
}

func TestOrphanEditAppliesOnLateAppend(t *testing.T) {
	fa := newFakeAdapter()
	s := startSyncer(t, fa, Options{})

	// edit echo arrives before its base message
	fa.inject(models.EvMessageEdited, models.EditPayload{ID: "m1", Conversation: "c1", Content: "late edit"})
	if s.Store().Len() != 0 {
		t.Fatalf("orphan patch must not create a record")
	}
	if s.orphans.len() != 1 {
		t.Fatalf("expected 1 buffered orphan, got %d", s.orphans.len())
	}

	fa.inject(models.EvMessageNew, models.Message{
		ID: "m1", Conversation: "c1", Sender: "peer",
		Content: "original", Type: models.TypeText, CreatedAt: 100,
	})
	m, _ := s.Store().Get("m1")
	if m.Content != "late edit" || !m.Edited {
		t.Fatalf("buffered edit not applied on append: %+v", m)
	}
	if s.orphans.len() != 0 {
		t.Fatalf("orphan buffer should drain on apply")
	}
}

func TestOrphanExpiresAfterTTL(t *testing.T) {
	fa := newFakeAdapter()
	s := startSyncer(t, fa, Options{OrphanTTL: 10 * time.Millisecond})

	fa.inject(models.EvMessageDeleted, models.DeletePayload{ID: "m1", Conversation: "c1"})
	if s.orphans.len() != 1 {
		t.Fatalf("expected buffered orphan")
	}
	time.Sleep(20 * time.Millisecond)
	s.orphans.sweep()
	if s.orphans.len() != 0 {
		t.Fatalf("expired orphan should be swept")
	}

	// base arrives after expiry: record stays untouched
	fa.inject(models.EvMessageNew, models.Message{
		ID: "m1", Conversation: "c1", Sender: "peer",
		Content: "still here", Type: models.TypeText, CreatedAt: 100,
	})
	m, _ := s.Store().Get("m1")
	if m.Deleted {
		t.Fatalf("expired orphan must not apply")
	}
}

func TestPendingTimeoutFlagsFailedAndResend(t *testing.T) {
	var mu sync.Mutex
	var errs []string
	fa := newFakeAdapter()
	s := startSyncer(t, fa, Options{
		PendingTimeout: 10 * time.Millisecond,
		OnError: func(msg string) {
			mu.Lock()
			errs = append(errs, msg)
			mu.Unlock()
		},
	})

	clientID := s.SendText("lost in transit")
	deadline := time.Now().Add(time.Second)
	for {
		if m, _ := s.Store().Get(clientID); m.State == models.StateFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry never flagged failed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	got := append([]string(nil), errs...)
	mu.Unlock()
	if len(got) == 0 || got[0] != "failed to send message" {
		t.Fatalf("expected failure toast, got %v", got)
	}
	m, _ := s.Store().Get(clientID)
	if m.Content != "lost in transit" {
		t.Fatalf("failed entry must keep its content for resend")
	}

	if err := s.Resend(clientID); err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	sends := fa.emittedEvents(models.EvMessageSend)
	if len(sends) != 2 {
		t.Fatalf("expected 2 send emits, got %d", len(sends))
	}
	first := sends[0].payload.(models.Message)
	second := sends[1].payload.(models.Message)
	if first.ClientID != second.ClientID {
		t.Fatalf("resend must reuse the correlation id: %s vs %s", first.ClientID, second.ClientID)
	}

	// late echo of the first attempt still reconciles the resent entry
	fa.inject(models.EvMessageNew, models.Message{
		ID: "m1", ClientID: clientID, Conversation: "c1", Sender: "me",
		Content: "lost in transit", Type: models.TypeText, CreatedAt: 100,
	})
	m, _ = s.Store().Get(clientID)
	if m.State != models.StateConfirmed || s.Store().Len() != 1 {
		t.Fatalf("late echo should confirm the single record, got %+v len=%d", m, s.Store().Len())
	}
}

func TestResendRequiresFailedState(t *testing.T) {
	fa := newFakeAdapter()
	s := startSyncer(t, fa, Options{})
	clientID := s.SendText("still pending")
	if err := s.Resend(clientID); err == nil {
		t.Fatalf("resending a pending entry must fail")
	}
	if err := s.Resend("c-unknown"); err == nil {
		t.Fatalf("resending an unknown id must fail")
	}
}

func TestPeerTypingTracksAndExpires(t *testing.T) {
	var flips []bool
	var mu sync.Mutex
	fa := newFakeAdapter()
	s := startSyncer(t, fa, Options{OnTyping: func(v bool) {
		mu.Lock()
		flips = append(flips, v)
		mu.Unlock()
	}})

	fa.inject(models.EvTyping, models.TypingPayload{Conversation: "c1", User: "peer", Typing: true})
	if !s.PeerTyping() {
		t.Fatalf("peer should be typing")
	}

	// own typing events echoed back are ignored
	fa.inject(models.EvTyping, models.TypingPayload{Conversation: "c1", User: "me", Typing: true})

	fa.inject(models.EvTyping, models.TypingPayload{Conversation: "c1", User: "peer", Typing: false})
	if s.PeerTyping() {
		t.Fatalf("peer should have stopped typing")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(flips) != 2 || !flips[0] || flips[1] {
		t.Fatalf("expected [true false] flips, got %v", flips)
	}
}

func TestLocalTypingDebounceAndAutoClear(t *testing.T) {
	fa := newFakeAdapter()
	s := startSyncer(t, fa, Options{})

	// burst of keystrokes emits once
	for i := 0; i < 5; i++ {
		s.Typing(true)
	}
	if n := len(fa.emittedEvents(models.EvTyping)); n != 1 {
		t.Fatalf("expected 1 debounced typing emit, got %d", n)
	}

	// auto-clear fires after the idle window
	deadline := time.Now().Add(3 * time.Second)
	for {
		evs := fa.emittedEvents(models.EvTyping)
		if len(evs) == 2 {
			if p := evs[1].payload.(models.TypingPayload); p.Typing {
				t.Fatalf("second emit should clear typing")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("typing never auto-cleared")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHistoryReloadIsIdempotent(t *testing.T) {
	fa := newFakeAdapter()
	fa.history = []models.Message{
		{ID: "m1", Conversation: "c1", Sender: "peer", Content: "a", Type: models.TypeText, CreatedAt: 100},
		{ID: "m2", Conversation: "c1", Sender: "me", Content: "b", Type: models.TypeText, CreatedAt: 200},
	}
	s := startSyncer(t, fa, Options{})

	if err := s.LoadHistory(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if s.Store().Len() != 2 {
		t.Fatalf("reload must not duplicate history; len=%d", s.Store().Len())
	}
}

func TestConversationMetadataView(t *testing.T) {
	fa := newFakeAdapter()
	fa.history = []models.Message{{
		ID: "m1", Conversation: "c1", Sender: "peer",
		Content: "hi", Type: models.TypeText, CreatedAt: 12345,
	}}
	s := startSyncer(t, fa, Options{Peer: "peer"})

	c := s.Conversation()
	if c.ID != "c1" || c.Peer != "peer" || c.Online {
		t.Fatalf("unexpected metadata: %+v", c)
	}
	if c.UpdatedTS != 12345 {
		t.Fatalf("expected latest message timestamp, got %d", c.UpdatedTS)
	}

	s.SetPeerOnline(true)
	if !s.Conversation().Online {
		t.Fatalf("online flag not carried")
	}
}

func TestStartTwiceFails(t *testing.T) {
	fa := newFakeAdapter()
	s := startSyncer(t, fa, Options{})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("second start must fail")
	}
}

var _ transport.Adapter = (*fakeAdapter)(nil)
