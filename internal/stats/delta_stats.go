package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"csvpipe/internal/errs"
)

// DeltaStats holds the Change Detector / Delta Codec's counters (spec.md §4.F-G).
type DeltaStats struct {
	recordsProcessed atomic.Int64
	changesDetected  atomic.Int64
	insertsDetected  atomic.Int64
	updatesDetected  atomic.Int64
	deletesDetected  atomic.Int64
	movesDetected    atomic.Int64

	originalSize   atomic.Int64
	compressedSize atomic.Int64
	memoryPeak     atomic.Int64

	processingTimeTotal atomic.Int64 // nanoseconds

	mu       sync.Mutex
	errCount map[errs.Kind]int64
	errLog   []string

	startedAt time.Time
}

func NewDeltaStats() *DeltaStats {
	return &DeltaStats{
		errCount:  make(map[errs.Kind]int64),
		startedAt: time.Now(),
	}
}

func (s *DeltaStats) IncRecordsProcessed(n int64) { s.recordsProcessed.Add(n) }
func (s *DeltaStats) IncChangesDetected(n int64)  { s.changesDetected.Add(n) }
func (s *DeltaStats) IncInserts(n int64)          { s.insertsDetected.Add(n) }
func (s *DeltaStats) IncUpdates(n int64)          { s.updatesDetected.Add(n) }
func (s *DeltaStats) IncDeletes(n int64)          { s.deletesDetected.Add(n) }
func (s *DeltaStats) IncMoves(n int64)            { s.movesDetected.Add(n) }

func (s *DeltaStats) AddSizes(original, compressed int64) {
	s.originalSize.Add(original)
	s.compressedSize.Add(compressed)
}

func (s *DeltaStats) RecordMemoryUsage(bytes int64) {
	for {
		cur := s.memoryPeak.Load()
		if bytes <= cur {
			return
		}
		if s.memoryPeak.CompareAndSwap(cur, bytes) {
			return
		}
	}
}

func (s *DeltaStats) RecordProcessingTime(d time.Duration) {
	s.processingTimeTotal.Add(d.Nanoseconds())
}

func (s *DeltaStats) RecordError(kind errs.Kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errCount[kind]++
	s.errLog = append(s.errLog, fmt.Sprintf("[%s] %s", kind, message))
}

type DeltaSnapshot struct {
	RecordsProcessed int64
	ChangesDetected  int64
	InsertsDetected  int64
	UpdatesDetected  int64
	DeletesDetected  int64
	MovesDetected    int64
	OriginalSize     int64
	CompressedSize   int64
	MemoryPeak       int64
	ProcessingTime   time.Duration
	ErrorCounts      map[errs.Kind]int64
	ErrorLog         []string
	Elapsed          time.Duration
}

func (s *DeltaStats) Snapshot() DeltaSnapshot {
	s.mu.Lock()
	errCounts := make(map[errs.Kind]int64, len(s.errCount))
	for k, v := range s.errCount {
		errCounts[k] = v
	}
	errLog := append([]string(nil), s.errLog...)
	s.mu.Unlock()

	return DeltaSnapshot{
		RecordsProcessed: s.recordsProcessed.Load(),
		ChangesDetected:  s.changesDetected.Load(),
		InsertsDetected:  s.insertsDetected.Load(),
		UpdatesDetected:  s.updatesDetected.Load(),
		DeletesDetected:  s.deletesDetected.Load(),
		MovesDetected:    s.movesDetected.Load(),
		OriginalSize:     s.originalSize.Load(),
		CompressedSize:   s.compressedSize.Load(),
		MemoryPeak:       s.memoryPeak.Load(),
		ProcessingTime:   time.Duration(s.processingTimeTotal.Load()),
		ErrorCounts:      errCounts,
		ErrorLog:         errLog,
		Elapsed:          time.Since(s.startedAt),
	}
}

// CompressionRatio is original/compressed, or 0 when nothing was compressed.
func (snap DeltaSnapshot) CompressionRatio() float64 {
	if snap.CompressedSize == 0 {
		return 0
	}
	return float64(snap.OriginalSize) / float64(snap.CompressedSize)
}

// ChangeRate is the fraction of processed records that produced a change.
func (snap DeltaSnapshot) ChangeRate() float64 {
	if snap.RecordsProcessed == 0 {
		return 0
	}
	return float64(snap.ChangesDetected) / float64(snap.RecordsProcessed)
}

func (snap DeltaSnapshot) RecordsPerSecond() float64 {
	secs := snap.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(snap.RecordsProcessed) / secs
}

func (snap DeltaSnapshot) Report() string {
	return fmt.Sprintf("records=%d changes=%d (ins=%d upd=%d del=%d mov=%d) ratio=%.2f changeRate=%.3f records/s=%.1f",
		snap.RecordsProcessed, snap.ChangesDetected, snap.InsertsDetected, snap.UpdatesDetected,
		snap.DeletesDetected, snap.MovesDetected, snap.CompressionRatio(), snap.ChangeRate(), snap.RecordsPerSecond())
}
