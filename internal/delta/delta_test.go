package delta

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"csvpipe/internal/errs"
)

func sampleRows() ([][]string, [][]string) {
	old := [][]string{
		{"1", "alice", "active"},
		{"2", "bob", "active"},
		{"3", "carol", "active"},
	}
	neu := [][]string{
		{"1", "alice", "active"},
		{"2", "bob", "inactive"},
		{"4", "dave", "active"},
	}
	return old, neu
}

func TestDetectContentHash(t *testing.T) {
	old, neu := sampleRows()
	d := NewDetector(DetectorConfig{Mode: ModeContentHash})
	records := d.Detect(old, neu, nil)

	var inserts, deletes int
	for _, r := range records {
		switch r.Op {
		case OpInsert:
			inserts++
		case OpDelete:
			deletes++
		}
	}
	if inserts == 0 || deletes == 0 {
		t.Fatalf("expected both inserts and deletes, got %d/%d", inserts, deletes)
	}
}

func TestDetectFieldByField(t *testing.T) {
	old, neu := sampleRows()
	d := NewDetector(DetectorConfig{Mode: ModeFieldByField})
	records := d.Detect(old, neu, nil)

	var updates int
	for _, r := range records {
		if r.Op == OpUpdate {
			updates++
		}
	}
	if updates == 0 {
		t.Fatalf("expected at least one update, got records %+v", records)
	}
}

func TestDetectKeyBased(t *testing.T) {
	old, neu := sampleRows()
	d := NewDetector(DetectorConfig{Mode: ModeKeyBased, KeyColumns: []int{0}})
	records := d.Detect(old, neu, nil)

	var sawInsert, sawDelete, sawUpdate bool
	for _, r := range records {
		switch r.Op {
		case OpInsert:
			sawInsert = true
		case OpDelete:
			sawDelete = true
		case OpUpdate:
			sawUpdate = true
		}
	}
	if !sawInsert || !sawDelete || !sawUpdate {
		t.Fatalf("expected insert+delete+update, got %+v", records)
	}
}

func TestDetectTimestampBased(t *testing.T) {
	old := [][]string{{"1", "v1", "2024-01-01T00:00:00Z"}}
	older := [][]string{{"1", "v2-stale", "2023-01-01T00:00:00Z"}}
	d := NewDetector(DetectorConfig{Mode: ModeTimestampBased, KeyColumns: []int{0}, TimestampColumn: 2})
	records := d.Detect(old, older, nil)
	if len(records) != 0 {
		t.Fatalf("older row must not supplant newer row, got %+v", records)
	}
}

func codecRoundTrip(t *testing.T, algo Algorithm, records []Record) {
	t.Helper()
	c := NewCodec(CodecConfig{Algorithm: algo})
	encoded, err := c.Encode(records)
	if err != nil {
		t.Fatalf("%s encode: %v", algo, err)
	}
	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("%s decode: %v", algo, err)
	}
	if len(decoded) != len(records) {
		t.Fatalf("%s: got %d records, want %d", algo, len(decoded), len(records))
	}
	for i := range records {
		if decoded[i].Op != records[i].Op {
			t.Fatalf("%s: record %d op mismatch", algo, i)
		}
		if !reflect.DeepEqual(decoded[i].Values, records[i].Values) {
			t.Fatalf("%s: record %d values mismatch: got %v want %v", algo, i, decoded[i].Values, records[i].Values)
		}
		if decoded[i].Hash != records[i].Hash {
			t.Fatalf("%s: record %d hash mismatch", algo, i)
		}
	}
}

func sampleRecords() []Record {
	return []Record{
		newRecord(OpInsert, 0, -1, "k1", []string{"1", "alice", "active"}, nil, nil),
		newRecord(OpUpdate, 1, 1, "k2", []string{"2", "bob", "inactive"}, []string{"2", "bob", "active"}, []int{2}),
		newRecord(OpDelete, -1, 2, "k3", nil, []string{"3", "carol", "active"}, nil),
		newRecord(OpMove, 0, 3, "k4", []string{"4", "dave", "active"}, nil, nil),
	}
}

func TestCodecRoundTripAllAlgorithms(t *testing.T) {
	records := sampleRecords()
	for _, algo := range []Algorithm{AlgoNone, AlgoRLE, AlgoDeltaInteger, AlgoDictionary, AlgoLZ77, AlgoHybrid} {
		codecRoundTrip(t, algo, records)
	}
}

func TestApplyInsertUpdateDelete(t *testing.T) {
	base := [][]string{
		{"1", "alice", "active"},
		{"2", "bob", "active"},
		{"3", "carol", "active"},
	}
	records := []Record{
		newRecord(OpUpdate, 1, 1, "", []string{"2", "bob", "inactive"}, []string{"2", "bob", "active"}, []int{2}),
		newRecord(OpDelete, -1, 2, "", nil, []string{"3", "carol", "active"}, nil),
		newRecord(OpInsert, 2, -1, "", []string{"4", "dave", "active"}, nil, nil),
	}

	got, err := Apply(base, records)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := [][]string{
		{"1", "alice", "active"},
		{"2", "bob", "inactive"},
		{"4", "dave", "active"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if err := VerifyIntegrity(got, records); err != nil {
		t.Fatalf("verify integrity: %v", err)
	}
}

// TestDetectApplyRoundTripTrailingDeletes exercises the exact shift bug a
// naive positional Apply falls over on: a tail of rows dropped entirely, so
// the detector emits multiple Delete records in ascending OldIndex order
// against the *original* old row set. Applying them in record order must
// still land on new, even though every OldIndex after the first delete is
// stale against the shrinking live slice.
func TestDetectApplyRoundTripTrailingDeletes(t *testing.T) {
	old := [][]string{
		{"1", "alice"},
		{"2", "bob"},
		{"3", "carol"},
		{"4", "dave"},
	}
	neu := [][]string{
		{"1", "alice"},
		{"2", "bob"},
	}

	for _, mode := range []DetectionMode{ModeContentHash, ModeFieldByField} {
		d := NewDetector(DetectorConfig{Mode: mode})
		records := d.Detect(old, neu, nil)

		got, err := Apply(old, records)
		if err != nil {
			t.Fatalf("%s: apply: %v", mode, err)
		}
		if !reflect.DeepEqual(got, neu) {
			t.Fatalf("%s: got %v, want %v (records=%+v)", mode, got, neu, records)
		}
	}
}

// TestDetectApplyRoundTripKeyBased covers spec.md §8 scenario 5/6: a
// key-based delta applied back onto the old snapshot must reconstruct new
// exactly, using Record.Key rather than trusting OldIndex positionally.
func TestDetectApplyRoundTripKeyBased(t *testing.T) {
	old := [][]string{
		{"1", "Alice", "a@x"},
		{"2", "Bob", "b@x"},
		{"3", "Charlie", "c@x"},
	}
	neu := [][]string{
		{"1", "Alice", "a@y"},
		{"2", "Bob", "b@x"},
		{"4", "David", "d@x"},
	}

	for _, mode := range []DetectionMode{ModeKeyBased, ModeTimestampBased} {
		cfg := DetectorConfig{Mode: mode, KeyColumns: []int{0}}
		if mode == ModeTimestampBased {
			// no timestamp column configured: falls back to always-supplant,
			// matching the key-based case exactly for this fixture.
			cfg.TimestampColumn = -1
		}
		d := NewDetector(cfg)
		records := d.Detect(old, neu, nil)

		got, err := Apply(old, records)
		if err != nil {
			t.Fatalf("%s: apply: %v", mode, err)
		}
		if !reflect.DeepEqual(got, neu) {
			t.Fatalf("%s: got %v, want %v (records=%+v)", mode, got, neu, records)
		}
	}
}

func TestApplyOutOfRangeFails(t *testing.T) {
	base := [][]string{{"1"}}
	records := []Record{newRecord(OpDelete, -1, 5, "", nil, []string{"1"}, nil)}
	if _, err := Apply(base, records); err == nil {
		t.Fatalf("expected out-of-range apply to fail")
	}
}

func TestVerifyIntegrityDetectsMismatch(t *testing.T) {
	base := [][]string{{"1", "alice"}}
	records := []Record{newRecord(OpUpdate, 0, 0, "", []string{"1", "alicia"}, []string{"1", "alice"}, []int{1})}
	applied, err := Apply(base, records)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	applied[0] = []string{"1", "tampered"}
	if err := VerifyIntegrity(applied, records); err == nil {
		t.Fatalf("expected integrity check to fail on tampered row")
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	records := sampleRecords()
	data, err := EncodeArtifact(records, 4, AlgoHybrid, 0)
	if err != nil {
		t.Fatalf("encode artifact: %v", err)
	}
	art, decoded, err := DecodeArtifact(data)
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if art.Algorithm != AlgoHybrid || art.RecordCount != len(records) || art.BaseRows != 4 {
		t.Fatalf("unexpected artifact header: %+v", art)
	}
	if len(decoded) != len(records) {
		t.Fatalf("got %d decoded records, want %d", len(decoded), len(records))
	}
}

func TestValidateArtifactRejectsTruncation(t *testing.T) {
	data, err := EncodeArtifact(sampleRecords(), 4, AlgoNone, 0)
	if err != nil {
		t.Fatalf("encode artifact: %v", err)
	}
	if _, _, err := ValidateArtifact(data[:len(data)-4]); err == nil {
		t.Fatalf("expected truncated artifact to fail validation")
	}
}

func TestValidateArtifactRejectsUnsupportedVersion(t *testing.T) {
	data, err := EncodeArtifact(sampleRecords(), 4, AlgoNone, 0)
	if err != nil {
		t.Fatalf("encode artifact: %v", err)
	}
	tampered := bytes.Replace(data, []byte("version=1.0\n"), []byte("version=99.0\n"), 1)
	if reflect.DeepEqual(tampered, data) {
		t.Fatalf("test fixture did not actually rewrite the version line")
	}
	_, _, err = ValidateArtifact(tampered)
	if err == nil {
		t.Fatalf("expected unsupported artifact version to fail validation")
	}
	var delErr *errs.Error
	if !errors.As(err, &delErr) || delErr.Kind != errs.VersionMismatch {
		t.Fatalf("expected VersionMismatch, got %v", err)
	}
}

func TestOptimalChunkSizeAndThreadCount(t *testing.T) {
	if n := OptimalChunkSize(1_000_000, 1<<20); n <= 0 {
		t.Fatalf("expected positive chunk size, got %d", n)
	}
	if n := OptimalThreadCount(); n < 1 {
		t.Fatalf("expected at least 1 thread, got %d", n)
	}
}
