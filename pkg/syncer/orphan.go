package syncer

import (
	"sync"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/store"
)

// defaultOrphanTTL bounds how long an edit/delete patch may wait for its
// base record before it is discarded.
const defaultOrphanTTL = 30 * time.Second

type orphan struct {
	patch store.Patch
	at    time.Time
}

// orphanBuffer holds patches that raced ahead of their base record. The
// synchronizer drains it when the matching append arrives; expired entries
// are dropped on access and by the periodic sweep so memory stays bounded.
type orphanBuffer struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string][]orphan
}

func newOrphanBuffer(ttl time.Duration) *orphanBuffer {
	if ttl <= 0 {
		ttl = defaultOrphanTTL
	}
	return &orphanBuffer{ttl: ttl, entries: make(map[string][]orphan)}
}

func (b *orphanBuffer) put(id string, p store.Patch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[id] = append(b.entries[id], orphan{patch: p, at: time.Now()})
}

// take removes and returns the live patches buffered for id, in arrival
// order. Expired patches are discarded.
func (b *orphanBuffer) take(id string) []store.Patch {
	b.mu.Lock()
	defer b.mu.Unlock()
	os, ok := b.entries[id]
	if !ok {
		return nil
	}
	delete(b.entries, id)
	cutoff := time.Now().Add(-b.ttl)
	out := make([]store.Patch, 0, len(os))
	for _, o := range os {
		if o.at.Before(cutoff) {
			continue
		}
		out = append(out, o.patch)
	}
	return out
}

// sweep drops every expired entry. Called periodically by the synchronizer.
func (b *orphanBuffer) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-b.ttl)
	for id, os := range b.entries {
		live := os[:0]
		for _, o := range os {
			if !o.at.Before(cutoff) {
				live = append(live, o)
			}
		}
		if len(live) == 0 {
			delete(b.entries, id)
			logger.Warn("orphan_patches_expired", "id", id, "count", len(os))
			continue
		}
		b.entries[id] = live
	}
}

func (b *orphanBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, os := range b.entries {
		n += len(os)
	}
	return n
}
