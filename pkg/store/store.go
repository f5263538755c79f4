// Package store holds the ordered, deduplicated message collection for one
// conversation. Only the synchronizer writes to it; readers consume
// immutable snapshots.
package store

import (
	"sort"
	"sync"

	"chatsync/pkg/models"
)

// Patch is a partial update merged into an existing record. Nil fields are
// left untouched. Only the fields a message may legally mutate after append
// are representable here.
type Patch struct {
	Content *string
	Read    *bool
	Edited  *bool
	Deleted *bool
	State   *models.MessageState
}

// Store keeps messages sorted ascending by CreatedAt, ties broken by
// arrival order. Entries are indexed both by server id and by the client
// correlation id so echoes reconcile with a direct lookup.
type Store struct {
	mu       sync.RWMutex
	msgs     []*models.Message
	byID     map[string]*models.Message
	byClient map[string]*models.Message
}

func New() *Store {
	return &Store{
		byID:     make(map[string]*models.Message),
		byClient: make(map[string]*models.Message),
	}
}

// Append inserts a message maintaining the ordering invariant. It is a
// no-op when the id (or client id) is already present, so duplicate inbound
// events are dropped here. Reports whether the message was inserted.
func (s *Store) Append(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID != "" {
		if _, ok := s.byID[m.ID]; ok {
			return false
		}
	}
	if m.ClientID != "" {
		if _, ok := s.byClient[m.ClientID]; ok {
			return false
		}
	}
	cp := m
	s.insert(&cp)
	return true
}

// insert places the entry at the first position whose CreatedAt exceeds the
// new entry's, keeping arrival order among equal timestamps.
func (s *Store) insert(m *models.Message) {
	i := sort.Search(len(s.msgs), func(i int) bool {
		return s.msgs[i].CreatedAt > m.CreatedAt
	})
	s.msgs = append(s.msgs, nil)
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
	if m.ID != "" {
		s.byID[m.ID] = m
	}
	if m.ClientID != "" {
		s.byClient[m.ClientID] = m
	}
}

// remove detaches the entry from the ordered slice but not the indexes.
func (s *Store) remove(m *models.Message) {
	for i, e := range s.msgs {
		if e == m {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return
		}
	}
}

// Patch merges fields into an existing record looked up by server id, or by
// client id when no record carries the server id yet. Patches for absent
// ids are dropped; callers that need them later buffer and retry.
// Reports whether a record was updated.
func (s *Store) Patch(id string, p Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		if m, ok = s.byClient[id]; !ok {
			return false
		}
	}
	apply(m, p)
	return true
}

func apply(m *models.Message, p Patch) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Read != nil {
		m.Read = *p.Read
	}
	if p.Edited != nil {
		m.Edited = *p.Edited
	}
	if p.Deleted != nil {
		m.Deleted = *p.Deleted
	}
	if p.State != nil {
		m.State = *p.State
	}
}

// Confirm reconciles a pending optimistic entry with its server echo: the
// entry picks up the server id and timestamp, canonical content, and moves
// to Confirmed. The entry is repositioned when the corrected timestamp
// changes its sort order. Reports false when no entry carries the client id
// (the caller then appends the echo as a fresh confirmed record).
func (s *Store) Confirm(clientID string, canonical models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byClient[clientID]
	if !ok {
		return false
	}
	if m.ID != "" {
		delete(s.byID, m.ID)
	}
	reposition := canonical.CreatedAt != m.CreatedAt
	if reposition {
		s.remove(m)
	}
	m.ID = canonical.ID
	m.Content = canonical.Content
	m.Type = canonical.Type
	m.Attachment = canonical.Attachment
	m.Edited = canonical.Edited
	m.Deleted = canonical.Deleted
	m.CreatedAt = canonical.CreatedAt
	m.State = models.StateConfirmed
	if reposition {
		s.insert(m)
	} else if m.ID != "" {
		s.byID[m.ID] = m
	}
	return true
}

// Get returns a copy of the record with the given server or client id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.byID[id]; ok {
		return *m, true
	}
	if m, ok := s.byClient[id]; ok {
		return *m, true
	}
	return models.Message{}, false
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Snapshot returns an ordered copy for rendering. The internal slice and
// records are never exposed.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = *m
	}
	return out
}
