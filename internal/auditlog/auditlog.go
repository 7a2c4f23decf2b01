// Package auditlog is a write-only-during-the-run command journal: every
// command the dispatcher executes is appended to an in-memory hash-chained
// log (grounded on services/audit-trail/internal/appendlog.go), optionally
// mirrored into a bbolt bucket. It never persists or replays service
// *state* — only a record of commands issued, preserving the "no state
// persisted across runs" non-goal.
package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable journal record. CorrelationID is independent of
// Index: Index is the chain position, CorrelationID is what a caller hands
// back to correlate this entry with a trace span or an external log line.
type Entry struct {
	Index         uint64    `json:"index"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"ts"`
	Action        string    `json:"action"`
	Actor         string    `json:"actor"`
	Resource      string    `json:"resource"`
	Metadata      string    `json:"metadata"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// Log is an in-memory append-only, hash-chained command journal, with an
// optional bbolt-backed mirror (see bolt.go).
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	mirror  *boltMirror
}

// New builds an empty journal. dbPath may be empty, in which case the
// journal is in-memory only.
func New(dbPath string) (*Log, error) {
	l := &Log{entries: make([]Entry, 0, 256)}
	if dbPath != "" {
		m, err := openBoltMirror(dbPath)
		if err != nil {
			return nil, err
		}
		l.mirror = m
	}
	return l, nil
}

// Append records one command, chaining it to the previous entry's hash.
func (l *Log) Append(action, actor, resource, metadata string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := uint64(len(l.entries))
	prev := ""
	if idx > 0 {
		prev = l.entries[idx-1].Hash
	}
	ent := Entry{
		Index:         idx,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Action:        action,
		Actor:         actor,
		Resource:      resource,
		Metadata:      metadata,
		PrevHash:      prev,
	}
	ent.Hash = hashEntry(ent)
	l.entries = append(l.entries, ent)

	if l.mirror != nil {
		l.mirror.write(ent)
	}
	return ent
}

// Latest returns the most recent entry, if any.
func (l *Log) Latest() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Verify checks the hash chain's integrity end to end.
func (l *Log) Verify() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := range l.entries {
		if hashEntry(l.entries[i]) != l.entries[i].Hash {
			return false
		}
		if i > 0 && l.entries[i-1].Hash != l.entries[i].PrevHash {
			return false
		}
	}
	return true
}

// Close releases the optional bbolt mirror.
func (l *Log) Close() error {
	if l.mirror != nil {
		return l.mirror.close()
	}
	return nil
}

func hashEntry(e Entry) string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.Action))
	h.Write([]byte(e.Actor))
	h.Write([]byte(e.Resource))
	h.Write([]byte(e.Metadata))
	return hex.EncodeToString(h.Sum(nil))
}
