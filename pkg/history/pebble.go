// Package history is the relay's durable message store: append-only
// versions in pebble with a latest pointer per message. Soft delete appends
// a tombstone version; purge removes tombstoned messages past retention.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

var db *pebble.DB

// seq reduces key collisions when multiple messages share the same
// nanosecond timestamp.
var seq uint64

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// SaveMessage persists a newly created message: one append-order entry in
// its conversation plus the first version and the latest pointer.
func SaveMessage(m models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call history.Open first")
	}
	if m.ID == "" {
		return fmt.Errorf("missing message id")
	}
	ts := m.CreatedAt
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
	}
	s := atomic.AddUint64(&seq, 1)
	ck, err := ConvKey(m.Conversation, ts, s)
	if err != nil {
		return err
	}
	vk, err := VersionKey(m.ID, ts, s)
	if err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	wb := new(pebble.Batch)
	wb.Set([]byte(ck), data, pebble.NoSync)
	wb.Set([]byte(vk), data, pebble.NoSync)
	wb.Set([]byte(LatestKey(m.ID)), data, pebble.NoSync)
	if err := db.Apply(wb, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "conversation", m.Conversation, "key", ck, "error", err)
		return err
	}
	logger.Debug("message_saved", "conversation", m.Conversation, "msg_id", m.ID)
	return nil
}

// UpdateMessage appends a new version for an existing message (edit, soft
// delete, read receipt) and moves the latest pointer. The conversation
// entry written at create time stays untouched so append order is stable.
func UpdateMessage(m models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call history.Open first")
	}
	if m.ID == "" {
		return fmt.Errorf("missing message id")
	}
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	vk, err := VersionKey(m.ID, ts, s)
	if err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	wb := new(pebble.Batch)
	wb.Set([]byte(vk), data, pebble.NoSync)
	wb.Set([]byte(LatestKey(m.ID)), data, pebble.NoSync)
	if err := db.Apply(wb, pebble.Sync); err != nil {
		logger.Error("update_message_failed", "msg_id", m.ID, "error", err)
		return err
	}
	return nil
}

// GetLatest returns the current version of a message.
func GetLatest(msgID string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call history.Open first")
	}
	v, closer, err := db.Get([]byte(LatestKey(msgID)))
	if err != nil {
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid message JSON for %s: %w", msgID, err)
	}
	return m, nil
}

// ListMessages returns the latest version of every message in a
// conversation in append order. A positive limit keeps only the most
// recent entries (still in ascending order).
func ListMessages(convID string, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call history.Open first")
	}
	prefix := []byte(ConvPrefix(convID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var created models.Message
		if err := json.Unmarshal(iter.Value(), &created); err != nil {
			logger.Warn("list_invalid_message_json", "key", string(iter.Key()), "error", err)
			continue
		}
		m, err := GetLatest(created.ID)
		if err != nil {
			// latest may be purged mid-scan; fall back to the entry value
			m = created
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ListVersions returns all stored versions for a message in chronological
// order.
func ListVersions(msgID string) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call history.Open first")
	}
	prefix := []byte(VersionPrefix(msgID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid version JSON: %w", err)
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// SoftDelete appends a tombstone version: content becomes the sentinel and
// the original content is not recoverable from the latest pointer.
func SoftDelete(msgID string) (models.Message, error) {
	m, err := GetLatest(msgID)
	if err != nil {
		return m, err
	}
	if m.Deleted {
		return m, nil
	}
	m.Deleted = true
	m.Content = models.DeletedSentinel
	m.Attachment = nil
	m.DeletedAt = time.Now().UTC().UnixNano()
	if err := UpdateMessage(m); err != nil {
		return m, err
	}
	logger.Info("message_soft_deleted", "msg_id", msgID)
	return m, nil
}

// PurgeTombstones removes messages whose soft delete happened before the
// cutoff: the conversation entry, every version and the latest pointer.
// Deletion age, not creation age, drives the decision, so a freshly deleted
// old message survives the full retention period. batch bounds how many
// messages one run removes; zero means no bound. Returns the number of
// purged messages.
func PurgeTombstones(cutoff int64, batch int) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call history.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	prefix := []byte("conv:")
	type victim struct {
		convKey string
		id      string
	}
	var victims []victim
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var created models.Message
		if err := json.Unmarshal(iter.Value(), &created); err != nil {
			continue
		}
		latest, err := GetLatest(created.ID)
		if err != nil {
			continue
		}
		if latest.Deleted && latest.DeletedAt > 0 && latest.DeletedAt < cutoff {
			victims = append(victims, victim{convKey: string(iter.Key()), id: created.ID})
			if batch > 0 && len(victims) >= batch {
				break
			}
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	purged := 0
	for _, v := range victims {
		wb := new(pebble.Batch)
		wb.Delete([]byte(v.convKey), pebble.NoSync)
		wb.Delete([]byte(LatestKey(v.id)), pebble.NoSync)
		vkeys, err := versionKeys(v.id)
		if err != nil {
			return purged, err
		}
		for _, k := range vkeys {
			wb.Delete([]byte(k), pebble.NoSync)
		}
		if err := db.Apply(wb, pebble.Sync); err != nil {
			return purged, err
		}
		purged++
	}
	if purged > 0 {
		logger.Info("tombstones_purged", "count", purged)
	}
	return purged, nil
}

func versionKeys(msgID string) ([]string, error) {
	prefix := []byte(VersionPrefix(msgID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

// ListKeys returns all keys that start with the given prefix. An empty
// prefix returns every key. Used by the inspect tool.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call history.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	p := []byte(prefix)
	var out []string
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if len(p) > 0 && !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}
