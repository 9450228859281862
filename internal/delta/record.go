// Package delta implements the Change Detector and Delta Codec: diffing
// two row sets into a sequence of Delta Records, encoding/decoding that
// sequence under several space/time tradeoffs, and applying a delta back
// onto a base row set to reconstruct the newer version.
package delta

import (
	"time"

	"csvpipe/internal/fingerprint"
)

// Op names the kind of change a Delta Record carries.
type Op int

const (
	OpInsert Op = iota
	OpDelete
	OpUpdate
	OpMove
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	case OpMove:
		return "move"
	default:
		return "unknown"
	}
}

// Record is one Delta Record: a single tracked change between an old and
// a new row set.
type Record struct {
	Op             Op
	Index          int      // position in the new row set (Insert, Update, Move target)
	OldIndex       int      // position in the old row set (Delete, Move source)
	Key            string   // dedup/identity key, when detection mode uses one
	Values         []string // new field values (Insert, Update)
	OldValues      []string // superseded field values (Update, timestamp-based supplants, Delete)
	ChangedColumns []int    // column indexes that differ (Update only)
	Timestamp      time.Time
	Hash           string
	Metadata       map[string]string
}

// newRecord stamps a record with its timestamp and content hash. The hash
// covers the record's new values (or old values for a pure Delete), which
// is what VerifyIntegrity recomputes against after Apply.
func newRecord(op Op, index, oldIndex int, key string, values, oldValues []string, changedCols []int) Record {
	hashSource := values
	if len(hashSource) == 0 {
		hashSource = oldValues
	}
	return Record{
		Op:             op,
		Index:          index,
		OldIndex:       oldIndex,
		Key:            key,
		Values:         values,
		OldValues:      oldValues,
		ChangedColumns: changedCols,
		Timestamp:      time.Now().UTC(),
		Hash:           fingerprint.RowHash(hashSource),
	}
}
