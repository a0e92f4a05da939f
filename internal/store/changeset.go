package store

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"LedgerStats/internal/event"
	"LedgerStats/internal/state"
)

// ChangeSet is the committed effect of one event: final row versions,
// deleted rows and the snapshots written, plus the hash-chain position.
type ChangeSet struct {
	Sequence  int64
	EventID   string
	EventType event.EventType
	Timestamp time.Time

	Rows      []state.Row // Sorted by (kind, key)
	Deleted   []RowRef    // Sorted by (kind, key)
	Snapshots []*state.Snapshot

	StateHash [32]byte
	PrevHash  [32]byte
}

// Envelope returns the event-log entry for this change set.
func (cs *ChangeSet) Envelope() event.EventEnvelope {
	return event.EventEnvelope{
		Sequence:  cs.Sequence,
		EventID:   cs.EventID,
		EventType: cs.EventType,
		Timestamp: cs.Timestamp,
		StateHash: cs.StateHash,
		PrevHash:  cs.PrevHash,
	}
}

// Digest is a canonical SHA-256 over the row changes. Rows contain no
// maps, so their JSON encoding is stable.
func (cs *ChangeSet) Digest() ([32]byte, error) {
	h := sha256.New()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], uint64(len(cs.Rows)))
	h.Write(buf[:])
	for _, row := range cs.Rows {
		rec, err := state.EncodeRow(row)
		if err != nil {
			return [32]byte{}, err
		}
		writeField(h, rec.Kind)
		writeField(h, rec.Key)
		writeField(h, string(rec.Data))
	}

	binary.BigEndian.PutUint64(buf[:], uint64(len(cs.Deleted)))
	h.Write(buf[:])
	for _, ref := range cs.Deleted {
		writeField(h, ref.Kind.String())
		writeField(h, ref.Key)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(s)))
	h.Write(buf[:])
	h.Write([]byte(s))
}

// RowsOf returns the changed rows of one kind.
func (cs *ChangeSet) RowsOf(kind state.Kind) []state.Row {
	var out []state.Row
	for _, r := range cs.Rows {
		if r.Kind() == kind {
			out = append(out, r)
		}
	}
	return out
}

func (cs *ChangeSet) String() string {
	return fmt.Sprintf("changeset{seq=%d id=%s type=%s rows=%d deleted=%d snapshots=%d}",
		cs.Sequence, cs.EventID, cs.EventType, len(cs.Rows), len(cs.Deleted), len(cs.Snapshots))
}
