package stats

import (
	"testing"

	"csvpipe/internal/errs"
)

func TestWriterStatsSnapshot(t *testing.T) {
	s := NewWriterStats()
	s.IncRowsWritten()
	s.IncRowsWritten()
	s.IncRowsSkipped()
	s.AddBytesWritten(100)
	s.AddBytesCompressed(100, 40)
	s.RecordError(errs.Compression, "boom")

	snap := s.Snapshot()
	if snap.RowsWritten != 2 || snap.RowsSkipped != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.CompressionRatio() != 2.5 {
		t.Errorf("CompressionRatio = %v, want 2.5", snap.CompressionRatio())
	}
	if snap.ErrorCounts[errs.Compression] != 1 {
		t.Errorf("expected 1 compression error recorded")
	}
}

func TestMergeStatsDedupRatio(t *testing.T) {
	s := NewMergeStats()
	s.IncRowsProcessed(100)
	s.IncDuplicatesRemoved(25)
	snap := s.Snapshot()
	if got := snap.DeduplicationRatio(); got != 0.25 {
		t.Errorf("DeduplicationRatio = %v, want 0.25", got)
	}
}

func TestDeltaStatsChangeRate(t *testing.T) {
	s := NewDeltaStats()
	s.IncRecordsProcessed(10)
	s.IncChangesDetected(3)
	s.IncInserts(1)
	s.IncUpdates(2)
	snap := s.Snapshot()
	if got := snap.ChangeRate(); got != 0.3 {
		t.Errorf("ChangeRate = %v, want 0.3", got)
	}
	if snap.InsertsDetected != 1 || snap.UpdatesDetected != 2 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestMemoryPeakMonotonic(t *testing.T) {
	s := NewDeltaStats()
	s.RecordMemoryUsage(100)
	s.RecordMemoryUsage(50)
	s.RecordMemoryUsage(200)
	if got := s.Snapshot().MemoryPeak; got != 200 {
		t.Errorf("MemoryPeak = %d, want 200", got)
	}
}
