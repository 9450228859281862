package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"csvpipe/internal/errs"
)

// MergeStats holds the Merger Engine's counters (spec.md §4.E).
type MergeStats struct {
	rowsProcessed     atomic.Int64
	rowsOutput        atomic.Int64
	duplicatesRemoved atomic.Int64
	conflictsResolved atomic.Int64
	filesProcessed    atomic.Int64
	bytesProcessed    atomic.Int64
	rowsExcluded      atomic.Int64

	phaseMu  sync.Mutex
	phases   map[string]time.Duration
	errMu    sync.Mutex
	errCount map[errs.Kind]int64
	errLog   []string

	startedAt time.Time
}

func NewMergeStats() *MergeStats {
	return &MergeStats{
		phases:    make(map[string]time.Duration),
		errCount:  make(map[errs.Kind]int64),
		startedAt: time.Now(),
	}
}

func (s *MergeStats) IncRowsProcessed(n int64)     { s.rowsProcessed.Add(n) }
func (s *MergeStats) IncRowsOutput(n int64)        { s.rowsOutput.Add(n) }
func (s *MergeStats) IncDuplicatesRemoved(n int64) { s.duplicatesRemoved.Add(n) }
func (s *MergeStats) IncConflictsResolved(n int64) { s.conflictsResolved.Add(n) }
func (s *MergeStats) IncFilesProcessed(n int64)    { s.filesProcessed.Add(n) }
func (s *MergeStats) AddBytesProcessed(n int64)    { s.bytesProcessed.Add(n) }
func (s *MergeStats) IncRowsExcluded(n int64)      { s.rowsExcluded.Add(n) }

func (s *MergeStats) RecordPhaseTime(phase string, d time.Duration) {
	s.phaseMu.Lock()
	s.phases[phase] += d
	s.phaseMu.Unlock()
}

func (s *MergeStats) RecordError(kind errs.Kind, message string) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.errCount[kind]++
	s.errLog = append(s.errLog, fmt.Sprintf("[%s] %s", kind, message))
}

type MergeSnapshot struct {
	RowsProcessed     int64
	RowsOutput        int64
	DuplicatesRemoved int64
	ConflictsResolved int64
	FilesProcessed    int64
	BytesProcessed    int64
	RowsExcluded      int64
	PhaseTimings      map[string]time.Duration
	ErrorCounts       map[errs.Kind]int64
	ErrorLog          []string
	Elapsed           time.Duration
}

func (s *MergeStats) Snapshot() MergeSnapshot {
	s.phaseMu.Lock()
	phases := make(map[string]time.Duration, len(s.phases))
	for k, v := range s.phases {
		phases[k] = v
	}
	s.phaseMu.Unlock()

	s.errMu.Lock()
	errCounts := make(map[errs.Kind]int64, len(s.errCount))
	for k, v := range s.errCount {
		errCounts[k] = v
	}
	errLog := append([]string(nil), s.errLog...)
	s.errMu.Unlock()

	return MergeSnapshot{
		RowsProcessed:     s.rowsProcessed.Load(),
		RowsOutput:        s.rowsOutput.Load(),
		DuplicatesRemoved: s.duplicatesRemoved.Load(),
		ConflictsResolved: s.conflictsResolved.Load(),
		FilesProcessed:    s.filesProcessed.Load(),
		BytesProcessed:    s.bytesProcessed.Load(),
		RowsExcluded:      s.rowsExcluded.Load(),
		PhaseTimings:      phases,
		ErrorCounts:       errCounts,
		ErrorLog:          errLog,
		Elapsed:           time.Since(s.startedAt),
	}
}

func (snap MergeSnapshot) RowsPerSecond() float64 {
	secs := snap.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(snap.RowsProcessed) / secs
}

func (snap MergeSnapshot) DeduplicationRatio() float64 {
	if snap.RowsProcessed == 0 {
		return 0
	}
	return float64(snap.DuplicatesRemoved) / float64(snap.RowsProcessed)
}

func (snap MergeSnapshot) Report() string {
	return fmt.Sprintf("processed=%d output=%d duplicates=%d conflicts=%d files=%d excluded=%d rows/s=%.1f dedupRatio=%.3f",
		snap.RowsProcessed, snap.RowsOutput, snap.DuplicatesRemoved, snap.ConflictsResolved,
		snap.FilesProcessed, snap.RowsExcluded, snap.RowsPerSecond(), snap.DeduplicationRatio())
}
