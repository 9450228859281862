package merger

import (
	"os"
	"path/filepath"
	"testing"

	"csvpipe/internal/config"
	"csvpipe/internal/csvrow"
	"csvpipe/internal/logger"
	"csvpipe/internal/writer"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEngine(t *testing.T, mergerCfg config.MergerConfig) *Engine {
	t.Helper()
	var cfg config.Config
	cfg.ApplyDefaults()
	cfg.Merger = mergerCfg
	cfg.Merger.Strategy = nonEmpty(mergerCfg.Strategy, "smart")
	cfg.Merger.DedupStrategy = nonEmpty(mergerCfg.DedupStrategy, "exact")
	cfg.Merger.ConflictPolicy = nonEmpty(mergerCfg.ConflictPolicy, "keep-first")
	if cfg.Merger.SimilarityThreshold == 0 {
		cfg.Merger.SimilarityThreshold = 0.85
	}
	return New(cfg.Merger, cfg.Lock, csvrow.DefaultFraming(), logger.NewDiscard("merger-test"))
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// newOutputWriter returns a writer streaming into a pipe, the pipe's read
// end, and its write end; the writer does not close a stream it was handed,
// so callers close the write end after Close for readers to see EOF.
func newOutputWriter(t *testing.T) (*writer.Writer, *os.File, *os.File) {
	t.Helper()
	var cfg config.Config
	cfg.ApplyDefaults()
	w := writer.New(cfg.Writer, logger.NewDiscard("writer-test"))
	r, wf, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.OpenStream(wf); err != nil {
		t.Fatal(err)
	}
	return w, r, wf
}

func TestValidateMissingSource(t *testing.T) {
	e := newTestEngine(t, config.MergerConfig{Strategy: "append"})
	err := e.Validate([]InputSource{{Path: "/does/not/exist.csv", DisplayName: "missing"}})
	if err == nil {
		t.Fatal("expected validation error for missing source")
	}
}

func TestValidateContinueOnErrorAggregates(t *testing.T) {
	dir := t.TempDir()
	good := writeCSV(t, dir, "good.csv", "id,name\n1,alice\n")
	e := newTestEngine(t, config.MergerConfig{Strategy: "append", ContinueOnError: true})
	err := e.Validate([]InputSource{
		{Path: good, DisplayName: "good", HasHeader: true},
		{Path: "/does/not/exist.csv", DisplayName: "missing"},
	})
	if err != nil {
		t.Fatalf("continue_on_error should aggregate, not fail: %v", err)
	}
}

func TestAppendMerge(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "id,name\n1,alice\n2,bob\n")
	b := writeCSV(t, dir, "b.csv", "id,name\n3,carol\n")

	e := newTestEngine(t, config.MergerConfig{Strategy: "append"})
	out, r, wf := newOutputWriter(t)

	done := make(chan struct{})
	var buf []byte
	go func() {
		buf, _ = readAll(r)
		close(done)
	}()

	_, err := e.Merge([]InputSource{
		{Path: a, DisplayName: "a", HasHeader: true},
		{Path: b, DisplayName: "b", HasHeader: true},
	}, out)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	wf.Close()
	<-done

	snap := e.Statistics()
	if snap.RowsOutput != 3 {
		t.Fatalf("expected 3 rows output, got %d (buf=%q)", snap.RowsOutput, buf)
	}
}

func TestSmartMergeDedupes(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "id,name,email\n1,John,j@x\n")
	b := writeCSV(t, dir, "b.csv", "id,name,email\n1,John,j@x\n2,Jane,jane@x\n")

	e := newTestEngine(t, config.MergerConfig{Strategy: "smart", DedupStrategy: "exact", ConflictPolicy: "keep-first"})
	out, r, _ := newOutputWriter(t)
	go readAll(r)

	_, err := e.Merge([]InputSource{
		{Path: a, DisplayName: "a", HasHeader: true},
		{Path: b, DisplayName: "b", HasHeader: true},
	}, out)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	out.Close()

	snap := e.Statistics()
	if snap.RowsOutput != 2 {
		t.Fatalf("expected 2 deduped rows, got %d", snap.RowsOutput)
	}
	if snap.DuplicatesRemoved != 1 {
		t.Fatalf("expected 1 duplicate removed, got %d", snap.DuplicatesRemoved)
	}
}

func TestPriorityMergeKeepsHigherPrioritySource(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "id,name,email\n1,John,j@x\n")
	b := writeCSV(t, dir, "b.csv", "id,name,email\n1,Johnny,jj@x\n")

	e := newTestEngine(t, config.MergerConfig{
		Strategy: "priority", DedupStrategy: "key-based", ConflictPolicy: "keep-first",
		KeyColumns: []string{"id"},
	})
	out, r, wf := newOutputWriter(t)
	var buf []byte
	done := make(chan struct{})
	go func() { buf, _ = readAll(r); close(done) }()

	_, err := e.Merge([]InputSource{
		{Path: a, DisplayName: "a", HasHeader: true, Priority: 2},
		{Path: b, DisplayName: "b", HasHeader: true, Priority: 1},
	}, out)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	out.Close()
	wf.Close()
	<-done

	if !contains(string(buf), "John,j@x") {
		t.Fatalf("expected higher-priority source's row to win, got %q", buf)
	}
}

func TestSchemaAwareReportsColumnTypeConflicts(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "id,age\n1,30\n")
	b := writeCSV(t, dir, "b.csv", "id,age\n2,thirty\n")

	e := newTestEngine(t, config.MergerConfig{Strategy: "schema-aware", DedupStrategy: "exact", ConflictPolicy: "keep-first"})
	out, r, _ := newOutputWriter(t)
	go readAll(r)

	_, err := e.Merge([]InputSource{
		{Path: a, DisplayName: "a", HasHeader: true},
		{Path: b, DisplayName: "b", HasHeader: true},
	}, out)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	out.Close()

	conflicts := e.SchemaConflicts()
	if len(conflicts["age"]) < 2 {
		t.Fatalf("expected age column type conflict, got %+v", conflicts)
	}
}

func TestPreviewDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "id,name\n1,alice\n2,bob\n")

	e := newTestEngine(t, config.MergerConfig{Strategy: "append"})
	result, err := e.Preview([]InputSource{{Path: a, DisplayName: "a", HasHeader: true}})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if result.SourceRows["a"] != 2 {
		t.Fatalf("expected 2 rows counted, got %d", result.SourceRows["a"])
	}
}

func TestMergeBusyRejectsReentrant(t *testing.T) {
	e := newTestEngine(t, config.MergerConfig{Strategy: "append"})
	if err := e.acquireSlot(); err != nil {
		t.Fatalf("acquireSlot: %v", err)
	}
	defer e.releaseSlot()
	if err := e.acquireSlot(); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestAppendMergeParallelFilesMatchesSequential(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "id,name\n1,alice\n2,bob\n")
	b := writeCSV(t, dir, "b.csv", "id,name\n3,carol\n4,dave\n")
	c := writeCSV(t, dir, "c.csv", "id,name\n5,erin\n")
	sources := []InputSource{
		{Path: a, DisplayName: "a", HasHeader: true},
		{Path: b, DisplayName: "b", HasHeader: true},
		{Path: c, DisplayName: "c", HasHeader: true},
	}

	runAppend := func(parallelFiles int) string {
		e := newTestEngine(t, config.MergerConfig{Strategy: "append", ParallelFiles: parallelFiles})
		out, r, wf := newOutputWriter(t)
		done := make(chan struct{})
		var buf []byte
		go func() { buf, _ = readAll(r); close(done) }()

		if _, err := e.Merge(sources, out); err != nil {
			t.Fatalf("merge (parallelFiles=%d): %v", parallelFiles, err)
		}
		if err := out.Close(); err != nil {
			t.Fatalf("close writer: %v", err)
		}
		wf.Close()
		<-done
		return string(buf)
	}

	sequential := runAppend(1)
	parallel := runAppend(4)
	if sequential != parallel {
		t.Fatalf("parallel load order diverged from sequential:\nsequential=%q\nparallel=%q", sequential, parallel)
	}
}

func TestRegexExcludePatternsDropMatchingRows(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "id,name,status\n1,alice,active\n2,bob,deleted\n3,carol,active\n")

	e := newTestEngine(t, config.MergerConfig{Strategy: "append", RegexExcludePatterns: []string{"^deleted$"}})
	out, r, wf := newOutputWriter(t)
	var buf []byte
	done := make(chan struct{})
	go func() { buf, _ = readAll(r); close(done) }()

	_, err := e.Merge([]InputSource{{Path: a, DisplayName: "a", HasHeader: true}}, out)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	out.Close()
	wf.Close()
	<-done

	if contains(string(buf), "deleted") {
		t.Fatalf("expected excluded row to be dropped, got %q", buf)
	}
	snap := e.Statistics()
	if snap.RowsOutput != 2 {
		t.Fatalf("expected 2 rows output after exclusion, got %d", snap.RowsOutput)
	}
	if snap.RowsExcluded != 1 {
		t.Fatalf("expected 1 row excluded, got %d", snap.RowsExcluded)
	}
}

func TestColumnMappingsFoldDifferentlyNamedColumns(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "id,email\n1,a@x\n")
	b := writeCSV(t, dir, "b.csv", "id,email_addr\n2,b@x\n")

	e := newTestEngine(t, config.MergerConfig{
		Strategy:       "append",
		ColumnMappings: map[string]string{"email_addr": "email"},
	})
	result, err := e.Preview([]InputSource{
		{Path: a, DisplayName: "a", HasHeader: true},
		{Path: b, DisplayName: "b", HasHeader: true},
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(result.MergedSchema) != 2 {
		t.Fatalf("expected column mapping to fold email/email_addr into one column, got schema %+v", result.MergedSchema)
	}
}

func readAll(r *os.File) ([]byte, error) {
	defer r.Close()
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			return buf, nil
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
