package delta

import (
	"strconv"

	"csvpipe/internal/errs"
	"csvpipe/internal/fingerprint"
)

const component = "delta"

// Apply reconstructs a new row sequence from baseRows by iteratively
// applying each Delta Record in order: Insert by position, Delete/Update/
// Move by the position they held in baseRows. Every Delete/Move record's
// OldIndex and every Update's OldIndex were computed against the pristine
// baseRows, not the live, progressively-mutating sequence, so they go stale
// the moment an earlier record removes a row at a lower index — removed
// tracks which original positions are already gone and translates each
// OldIndex into its current live index before touching rows (spec.md §4.G
// "Apply"). For key-based/timestamp-based records (non-empty Key), the
// first record carrying a given Key resolves through its own OldIndex and
// that original position is remembered; any later record in this same Apply
// call with the same Key reuses it instead of its own OldIndex.
func Apply(baseRows [][]string, records []Record) ([][]string, error) {
	rows := make([][]string, len(baseRows))
	copy(rows, baseRows)

	removed := make([]bool, len(baseRows))
	keyOrigIndex := make(map[string]int)

	origIndexFor := func(rec Record) int {
		if rec.Key == "" {
			return rec.OldIndex
		}
		if seen, ok := keyOrigIndex[rec.Key]; ok {
			return seen
		}
		if rec.OldIndex >= 0 {
			keyOrigIndex[rec.Key] = rec.OldIndex
		}
		return rec.OldIndex
	}

	liveIndexFor := func(i int, origIdx int) (int, error) {
		if origIdx < 0 || origIdx >= len(baseRows) || removed[origIdx] {
			return 0, errs.New(component, errs.InvalidConfig, deleteOutOfRangeMsg(i, origIdx))
		}
		shift := 0
		for j := 0; j < origIdx; j++ {
			if removed[j] {
				shift++
			}
		}
		liveIdx := origIdx - shift
		if liveIdx < 0 || liveIdx >= len(rows) {
			return 0, errs.New(component, errs.InvalidConfig, deleteOutOfRangeMsg(i, origIdx))
		}
		return liveIdx, nil
	}

	for i, rec := range records {
		switch rec.Op {
		case OpInsert:
			idx := clampIndex(rec.Index, len(rows))
			rows = insertAt(rows, idx, rec.Values)
		case OpDelete:
			origIdx := origIndexFor(rec)
			liveIdx, err := liveIndexFor(i, origIdx)
			if err != nil {
				return nil, err
			}
			rows = removeAt(rows, liveIdx)
			removed[origIdx] = true
		case OpUpdate:
			origIdx := origIndexFor(rec)
			liveIdx, err := liveIndexFor(i, origIdx)
			if err != nil {
				return nil, err
			}
			rows[liveIdx] = rec.Values
		case OpMove:
			origIdx := origIndexFor(rec)
			liveIdx, err := liveIndexFor(i, origIdx)
			if err != nil {
				return nil, err
			}
			row := rows[liveIdx]
			rows = removeAt(rows, liveIdx)
			removed[origIdx] = true
			target := clampIndex(rec.Index, len(rows))
			rows = insertAt(rows, target, row)
		}
	}
	return rows, nil
}

func deleteOutOfRangeMsg(recordIndex, oldIndex int) string {
	return "delta record " + strconv.Itoa(recordIndex) + " references out-of-range index " + strconv.Itoa(oldIndex)
}

func clampIndex(idx, length int) int {
	if idx < 0 {
		return 0
	}
	if idx > length {
		return length
	}
	return idx
}

func insertAt(rows [][]string, idx int, row []string) [][]string {
	rows = append(rows, nil)
	copy(rows[idx+1:], rows[idx:])
	rows[idx] = row
	return rows
}

func removeAt(rows [][]string, idx int) [][]string {
	return append(rows[:idx], rows[idx+1:]...)
}

// VerifyIntegrity validates a previously applied result against the delta
// that produced it, without recomputing Apply: for every Insert, Update or
// Move record it recomputes the content hash of the row now sitting at the
// record's Index and compares it to the hash stamped on the record at
// detection time. Delete records are not checked.
func VerifyIntegrity(applied [][]string, records []Record) error {
	for i, rec := range records {
		switch rec.Op {
		case OpInsert, OpUpdate, OpMove:
			if rec.Index < 0 || rec.Index >= len(applied) {
				return errs.New(component, errs.Decompression, "record "+strconv.Itoa(i)+" index "+strconv.Itoa(rec.Index)+" out of range after apply")
			}
			if got := fingerprint.RowHash(applied[rec.Index]); got != rec.Hash {
				return errs.New(component, errs.Decompression, "row "+strconv.Itoa(rec.Index)+" content hash mismatch after apply")
			}
		case OpDelete:
			continue
		}
	}
	return nil
}
