// Package presence tracks ephemeral per-conversation typing state. The
// state is a pure function of the most recent typing event plus a local
// expiry timer; nothing is persisted and everything is rebuilt from
// whatever events arrive after a reconnect.
package presence

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long a typing indicator can linger without a fresh
// event. A peer that disconnects mid-typing goes quiet after at most this.
const DefaultTTL = time.Second

// Tracker holds typing flags keyed by conversation id. Each Set(true)
// re-arms the expiry timer; Set(false) or expiry clears the flag.
type Tracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	typing   map[string]bool
	timers   map[string]*time.Timer
	onChange func(conversation string, typing bool)
	stopped  bool
}

// NewTracker builds a tracker with the given expiry; ttl <= 0 uses
// DefaultTTL. onChange, when non-nil, fires on every observable flip and
// may be used to drive re-renders.
func NewTracker(ttl time.Duration, onChange func(conversation string, typing bool)) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:      ttl,
		typing:   make(map[string]bool),
		timers:   make(map[string]*time.Timer),
		onChange: onChange,
	}
}

// Set records a typing event for the conversation and (re)arms the expiry.
func (t *Tracker) Set(conversation string, typing bool) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if tm, ok := t.timers[conversation]; ok {
		tm.Stop()
		delete(t.timers, conversation)
	}
	changed := t.typing[conversation] != typing
	if typing {
		t.typing[conversation] = true
		t.timers[conversation] = time.AfterFunc(t.ttl, func() { t.expire(conversation) })
	} else {
		delete(t.typing, conversation)
	}
	cb := t.onChange
	t.mu.Unlock()
	if changed && cb != nil {
		cb(conversation, typing)
	}
}

func (t *Tracker) expire(conversation string) {
	t.mu.Lock()
	if t.stopped || !t.typing[conversation] {
		t.mu.Unlock()
		return
	}
	delete(t.typing, conversation)
	delete(t.timers, conversation)
	cb := t.onChange
	t.mu.Unlock()
	if cb != nil {
		cb(conversation, false)
	}
}

// Typing reports whether the peer in the conversation is currently typing.
func (t *Tracker) Typing(conversation string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing[conversation]
}

// Stop cancels all timers. The tracker is unusable afterwards.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for k, tm := range t.timers {
		tm.Stop()
		delete(t.timers, k)
	}
	t.typing = make(map[string]bool)
}
