// Package stats implements the thread-safe statistics registers shared by
// the writer, merger and delta components: atomic counters for the hot
// path, a mutex-guarded error histogram/log for the cold path, and a
// Snapshot() that copies current values into a plain struct rather than
// attempting to copy the atomics themselves (spec.md §9's design note).
package stats

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"csvpipe/internal/errs"
)

// WriterStats holds the Batch Writer's counters (spec.md §4.B).
type WriterStats struct {
	rowsWritten     atomic.Int64
	rowsSkipped     atomic.Int64
	rowsWithErrors  atomic.Int64
	flushCount      atomic.Int64
	bytesWritten    atomic.Int64
	bytesOriginal   atomic.Int64
	bytesCompressed atomic.Int64

	bufferUtilSum     atomic.Int64 // stored as utilization * 1e6, summed
	bufferUtilSamples atomic.Int64

	flushTimeTotal       atomic.Int64 // nanoseconds
	compressionTimeTotal atomic.Int64 // nanoseconds

	mu         sync.Mutex
	errorCount map[errs.Kind]int64
	errorLog   []string

	startedAt time.Time
	timeMu       sync.Mutex
}

// NewWriterStats returns a zeroed register, with its timing clock started.
func NewWriterStats() *WriterStats {
	return &WriterStats{
		errorCount: make(map[errs.Kind]int64),
		startedAt:  time.Now(),
	}
}

func (s *WriterStats) StartTiming() {
	s.timeMu.Lock()
	s.startedAt = time.Now()
	s.timeMu.Unlock()
}

func (s *WriterStats) IncRowsWritten()    { s.rowsWritten.Add(1) }
func (s *WriterStats) IncRowsSkipped()    { s.rowsSkipped.Add(1) }
func (s *WriterStats) IncRowsWithErrors() { s.rowsWithErrors.Add(1) }
func (s *WriterStats) IncFlushCount()     { s.flushCount.Add(1) }
func (s *WriterStats) AddBytesWritten(n int64) {
	s.bytesWritten.Add(n)
}

func (s *WriterStats) AddBytesCompressed(original, compressed int64) {
	s.bytesOriginal.Add(original)
	s.bytesCompressed.Add(compressed)
}

func (s *WriterStats) RecordBufferUtilization(fraction float64) {
	s.bufferUtilSum.Add(int64(fraction * 1e6))
	s.bufferUtilSamples.Add(1)
}

func (s *WriterStats) RecordFlushTime(d time.Duration) {
	s.flushTimeTotal.Add(d.Nanoseconds())
}

func (s *WriterStats) RecordCompressionTime(d time.Duration) {
	s.compressionTimeTotal.Add(d.Nanoseconds())
}

// RecordError increments the per-kind histogram and appends to the error log.
func (s *WriterStats) RecordError(kind errs.Kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount[kind]++
	s.errorLog = append(s.errorLog, fmt.Sprintf("[%s] %s", kind, message))
}

// WriterSnapshot is a plain-value copy of WriterStats taken at one instant.
type WriterSnapshot struct {
	RowsWritten     int64
	RowsSkipped     int64
	RowsWithErrors  int64
	FlushCount      int64
	BytesWritten    int64
	BytesOriginal   int64
	BytesCompressed int64
	ErrorCounts     map[errs.Kind]int64
	ErrorLog        []string
	Elapsed         time.Duration
	FlushTimeTotal  time.Duration
	CompressionTime time.Duration
	BufferUtilAvg   float64
}

// Snapshot copies current values without stopping ingestion.
func (s *WriterStats) Snapshot() WriterSnapshot {
	s.mu.Lock()
	errCounts := make(map[errs.Kind]int64, len(s.errorCount))
	for k, v := range s.errorCount {
		errCounts[k] = v
	}
	errLog := append([]string(nil), s.errorLog...)
	s.mu.Unlock()

	s.timeMu.Lock()
	elapsed := time.Since(s.startedAt)
	s.timeMu.Unlock()

	samples := s.bufferUtilSamples.Load()
	var avgUtil float64
	if samples > 0 {
		avgUtil = float64(s.bufferUtilSum.Load()) / 1e6 / float64(samples)
	}

	return WriterSnapshot{
		RowsWritten:     s.rowsWritten.Load(),
		RowsSkipped:     s.rowsSkipped.Load(),
		RowsWithErrors:  s.rowsWithErrors.Load(),
		FlushCount:      s.flushCount.Load(),
		BytesWritten:    s.bytesWritten.Load(),
		BytesOriginal:   s.bytesOriginal.Load(),
		BytesCompressed: s.bytesCompressed.Load(),
		ErrorCounts:     errCounts,
		ErrorLog:        errLog,
		Elapsed:         elapsed,
		FlushTimeTotal:  time.Duration(s.flushTimeTotal.Load()),
		CompressionTime: time.Duration(s.compressionTimeTotal.Load()),
		BufferUtilAvg:   avgUtil,
	}
}

// RowsPerSecond derives a throughput rate from the snapshot's elapsed time.
func (snap WriterSnapshot) RowsPerSecond() float64 {
	secs := snap.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(snap.RowsWritten) / secs
}

// BytesPerSecond derives a throughput rate from the snapshot's elapsed time.
func (snap WriterSnapshot) BytesPerSecond() float64 {
	secs := snap.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(snap.BytesWritten) / secs
}

// CompressionRatio is original/compressed, or 0 when no bytes were compressed.
func (snap WriterSnapshot) CompressionRatio() float64 {
	if snap.BytesCompressed == 0 {
		return 0
	}
	return float64(snap.BytesOriginal) / float64(snap.BytesCompressed)
}

// AverageFlushTime divides total flush time by the flush count.
func (snap WriterSnapshot) AverageFlushTime() time.Duration {
	if snap.FlushCount == 0 {
		return 0
	}
	return snap.FlushTimeTotal / time.Duration(snap.FlushCount)
}

// Report renders a human-readable summary, following WriterStatistics::
// generateReport in the source.
func (snap WriterSnapshot) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rows written=%d skipped=%d errors=%d flushes=%d\n",
		snap.RowsWritten, snap.RowsSkipped, snap.RowsWithErrors, snap.FlushCount)
	fmt.Fprintf(&b, "bytes written=%d original=%d compressed=%d ratio=%.2f\n",
		snap.BytesWritten, snap.BytesOriginal, snap.BytesCompressed, snap.CompressionRatio())
	fmt.Fprintf(&b, "throughput=%.1f rows/s %.1f bytes/s\n", snap.RowsPerSecond(), snap.BytesPerSecond())
	if len(snap.ErrorCounts) > 0 {
		b.WriteString("errors by kind:\n")
		for k, v := range snap.ErrorCounts {
			fmt.Fprintf(&b, "  %s: %d\n", k, v)
		}
	}
	return b.String()
}
