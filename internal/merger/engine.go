package merger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"csvpipe/internal/config"
	"csvpipe/internal/csvrow"
	"csvpipe/internal/dedup"
	"csvpipe/internal/delta"
	"csvpipe/internal/errs"
	"csvpipe/internal/logger"
	"csvpipe/internal/stats"
	"csvpipe/internal/writer"
)

// ErrBusy is returned by Merge when another merge is already running on the
// same Engine; the engine mutex forbids re-entrant merges (spec.md §5).
var ErrBusy = errors.New("merger: a merge is already running")

// Engine implements the Merger Engine's orchestration (spec.md §4.E):
// validate, schema inference, strategy dispatch, write.
type Engine struct {
	cfg     config.MergerConfig
	lockCfg config.LockConfig
	framing csvrow.Framing
	log     *logger.Logger
	stats   *stats.MergeStats

	mu   sync.Mutex
	busy bool

	progressFn ProgressFunc
	errorFn    ErrorFunc

	lastSchemaReport SchemaReport
}

// New constructs an Engine.
func New(cfg config.MergerConfig, lockCfg config.LockConfig, framing csvrow.Framing, log *logger.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		lockCfg: lockCfg,
		framing: framing,
		log:     log,
		stats:   stats.NewMergeStats(),
	}
}

// SetProgressCallback registers a phase-boundary progress callback.
func (e *Engine) SetProgressCallback(fn ProgressFunc) { e.progressFn = fn }

// SetErrorCallback registers a per-row/per-file error callback.
func (e *Engine) SetErrorCallback(fn ErrorFunc) { e.errorFn = fn }

// Statistics returns a snapshot of the engine's counters.
func (e *Engine) Statistics() stats.MergeSnapshot { return e.stats.Snapshot() }

// SchemaConflicts returns the per-column type-inconsistency report from the
// most recent schema-aware merge or Preview call.
func (e *Engine) SchemaConflicts() SchemaReport { return e.lastSchemaReport }

func (e *Engine) reportProgress(phase string, fraction float64) {
	if e.progressFn != nil {
		e.progressFn(phase, fraction)
	}
}

func (e *Engine) reportError(kind errs.Kind, message string) {
	e.stats.RecordError(kind, message)
	if e.log != nil {
		e.log.Error("%s: %s", kind, message)
	}
	if e.errorFn != nil {
		e.errorFn(kind, message)
	}
}

// Validate checks that every source path exists, aggregating errors when
// ContinueOnError is set and otherwise failing fast.
func (e *Engine) Validate(sources []InputSource) error {
	if len(sources) == 0 {
		return errs.New(component, errs.InvalidConfig, "no input sources configured")
	}
	var problems []string
	for _, s := range sources {
		if s.Path == "" {
			msg := "input source " + s.DisplayName + " has an empty path"
			if !e.cfg.ContinueOnError {
				return errs.New(component, errs.InvalidConfig, msg)
			}
			problems = append(problems, msg)
			continue
		}
		if _, err := os.Stat(s.Path); err != nil {
			msg := fmt.Sprintf("input source %s: %v", s.DisplayName, err)
			if !e.cfg.ContinueOnError {
				return errs.Wrap(component, errs.FileNotFound, "validate source "+s.DisplayName, err)
			}
			problems = append(problems, msg)
		}
	}
	if len(problems) > 0 {
		for _, p := range problems {
			e.reportError(errs.FileNotFound, p)
		}
	}
	return nil
}

// acquireSlot marks the engine busy, returning ErrBusy if a merge is already
// running.
func (e *Engine) acquireSlot() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrBusy
	}
	e.busy = true
	return nil
}

func (e *Engine) releaseSlot() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

// inferSchemas reads every source's header and returns the merged schema
// plus the per-source header map. Each header is passed through
// MergerConfig.ColumnMappings first, so a source naming a column
// differently from its peers (e.g. "email_addr" vs "email") lines up under
// one merged column instead of producing a duplicate (spec.md §3's Merge
// Configuration "column-name mappings").
func (e *Engine) inferSchemas(sources []InputSource) ([]string, map[string][]string, error) {
	headers := make(map[string][]string, len(sources))
	for _, s := range sources {
		h, err := readHeader(s, e.framing)
		if err != nil {
			if e.cfg.ContinueOnError {
				e.reportError(errs.Parse, err.Error())
				continue
			}
			return nil, nil, err
		}
		headers[s.Path] = applyColumnMappings(h, e.cfg.ColumnMappings)
	}
	if e.cfg.StrictSchemaValidation && !schemasMatch(headers, sources) {
		return nil, nil, errs.New(component, errs.SchemaMismatch, "input sources have incompatible schemas under strict validation")
	}
	return mergedSchema(sources, headers), headers, nil
}

// Preview performs schema inference and counts rows per source without
// writing any output (a dry run).
func (e *Engine) Preview(sources []InputSource) (PreviewResult, error) {
	if err := e.Validate(sources); err != nil {
		return PreviewResult{}, err
	}
	merged, headers, err := e.inferSchemas(sources)
	if err != nil {
		return PreviewResult{}, err
	}

	counts := make(map[string]int, len(sources))
	for _, s := range sources {
		n, err := countDataRows(s, headers[s.Path] != nil || s.HasHeader)
		if err != nil {
			if e.cfg.ContinueOnError {
				e.reportError(errs.IO, err.Error())
				continue
			}
			return PreviewResult{}, err
		}
		counts[s.DisplayName] = n
	}

	report := e.computeSchemaConflicts(sources, headers, merged)
	e.lastSchemaReport = report
	return PreviewResult{MergedSchema: merged, SourceRows: counts, SchemaConflicts: report}, nil
}

func countDataRows(src InputSource, hasHeader bool) (int, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return 0, errs.Wrap(component, errs.FileNotFound, "open "+src.DisplayName, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for scanner.Scan() {
		n++
	}
	if hasHeader && n > 0 {
		n--
	}
	return n, scanner.Err()
}

// Merge runs the full orchestration: validate, schema inference, dispatch by
// strategy, write. Only one Merge may run at a time per Engine.
func (e *Engine) Merge(sources []InputSource, out *writer.Writer) (stats.MergeSnapshot, error) {
	if err := e.acquireSlot(); err != nil {
		return stats.MergeSnapshot{}, err
	}
	defer e.releaseSlot()

	var lock *DistributedLock
	if e.cfg.UseDistributedLock {
		l, err := NewDistributedLock(e.lockCfg, "csvpipe:merge:"+lockKeyFor(sources))
		if err != nil {
			return stats.MergeSnapshot{}, err
		}
		lock = l
		defer lock.Close()
		ctx := context.Background()
		token := fmt.Sprintf("%d", time.Now().UnixNano())
		ok, err := lock.Acquire(ctx, token)
		if err != nil {
			return stats.MergeSnapshot{}, err
		}
		if !ok {
			return stats.MergeSnapshot{}, ErrBusy
		}
		defer lock.Release(ctx, token)
	}

	e.reportProgress("validation", 0.0)
	if err := e.Validate(sources); err != nil {
		return stats.MergeSnapshot{}, err
	}
	e.reportProgress("validation", 1.0)

	e.reportProgress("schema-inference", 0.0)
	merged, headers, err := e.inferSchemas(sources)
	if err != nil {
		return stats.MergeSnapshot{}, err
	}
	e.reportProgress("schema-inference", 1.0)

	if err := out.WriteHeader(merged); err != nil {
		return stats.MergeSnapshot{}, err
	}

	excludes, err := e.compileExcludes()
	if err != nil {
		return stats.MergeSnapshot{}, err
	}

	switch e.cfg.Strategy {
	case "append":
		err = e.mergeAppend(sources, headers, merged, out, excludes)
	case "smart":
		err = e.mergeSmart(sources, headers, merged, out, false, false, excludes)
	case "priority":
		err = e.mergePriority(sources, headers, merged, out, excludes)
	case "time-based":
		err = e.mergeTimeBased(sources, headers, merged, out, excludes)
	case "schema-aware":
		err = e.mergeSmart(sources, headers, merged, out, true, true, excludes)
	default:
		err = errs.New(component, errs.InvalidConfig, "unknown merge strategy "+e.cfg.Strategy)
	}
	if err != nil {
		return stats.MergeSnapshot{}, err
	}

	e.reportProgress("write", 1.0)
	return e.stats.Snapshot(), nil
}

func (e *Engine) mergeAppend(sources []InputSource, headers map[string][]string, merged []string, out *writer.Writer, excludes []*regexp.Regexp) error {
	rowsBySource, err := e.loadSources(sources, excludes)
	if err != nil {
		return err
	}
	for i, s := range sources {
		for _, row := range rowsBySource[i] {
			projected := projectRow(row, headers[s.Path], merged)
			if err := out.WriteRow(projected); err != nil {
				return err
			}
			e.stats.IncRowsProcessed(1)
			e.stats.IncRowsOutput(1)
		}
	}
	return nil
}

func (e *Engine) mergePriority(sources []InputSource, headers map[string][]string, merged []string, out *writer.Writer, excludes []*regexp.Regexp) error {
	ordered := make([]InputSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })
	return e.mergeSmart(ordered, headers, merged, out, false, false, excludes)
}

func (e *Engine) mergeTimeBased(sources []InputSource, headers map[string][]string, merged []string, out *writer.Writer, excludes []*regexp.Regexp) error {
	return e.mergeSmartWithPolicy(sources, headers, merged, out, false, false, dedup.PolicyKeepNewest, excludes)
}

func (e *Engine) mergeSmart(sources []InputSource, headers map[string][]string, merged []string, out *writer.Writer, schemaAware, reportConflicts bool, excludes []*regexp.Regexp) error {
	policy := dedup.ConflictPolicy(e.cfg.ConflictPolicy)
	if err := e.mergeSmartWithPolicy(sources, headers, merged, out, schemaAware, reportConflicts, policy, excludes); err != nil {
		return err
	}
	return nil
}

// mergeSmartWithPolicy implements spec.md §4.E's "smart" step: stream rows
// from every source, cluster by the configured dedup strategy, resolve
// conflicts on collision, append on first appearance. Output preserves
// first-appearance order.
func (e *Engine) mergeSmartWithPolicy(sources []InputSource, headers map[string][]string, merged []string, out *writer.Writer, schemaAware, reportConflicts bool, policy dedup.ConflictPolicy, excludes []*regexp.Regexp) error {
	resolver := e.newResolver(merged, policy)

	type cluster struct {
		rows []dedup.Row
		slot int
	}
	byKey := make(map[string]*cluster)
	var order []*cluster
	var pairwise []*cluster

	typeSeen := make(map[string]map[string]bool)

	addRow := func(row dedup.Row) {
		if schemaAware && reportConflicts {
			for col, v := range row.Fields {
				if col >= len(merged) {
					break
				}
				t := inferColumnType(v)
				if t == "" {
					continue
				}
				if typeSeen[merged[col]] == nil {
					typeSeen[merged[col]] = make(map[string]bool)
				}
				typeSeen[merged[col]][t] = true
			}
		}

		if resolver.RequiresPairwiseScan() {
			for _, c := range pairwise {
				if resolver.Equivalent(c.rows[0], row) {
					c.rows = append(c.rows, row)
					e.stats.IncDuplicatesRemoved(1)
					return
				}
			}
			c := &cluster{rows: []dedup.Row{row}}
			pairwise = append(pairwise, c)
			order = append(order, c)
			return
		}

		key := resolver.DedupKey(row)
		if c, ok := byKey[key]; ok {
			c.rows = append(c.rows, row)
			e.stats.IncDuplicatesRemoved(1)
			return
		}
		c := &cluster{rows: []dedup.Row{row}}
		byKey[key] = c
		order = append(order, c)
	}

	rowsBySource, err := e.loadSources(sources, excludes)
	if err != nil {
		return err
	}

	rowIndex := 0
	for fi, s := range sources {
		for _, raw := range rowsBySource[fi] {
			fields := raw
			if schemaAware {
				fields = projectRow(raw, headers[s.Path], merged)
			}
			addRow(dedup.Row{Fields: fields, Source: s.DisplayName, Priority: s.Priority, Index: rowIndex})
			rowIndex++
			e.stats.IncRowsProcessed(1)
		}
	}

	winners := make([][]string, 0, len(order))
	for _, c := range order {
		winner := c.rows[0]
		if len(c.rows) > 1 {
			w, err := resolver.Resolve(c.rows)
			if err != nil {
				e.reportError(errs.DuplicateResolution, err.Error())
				continue
			}
			winner = w
			e.stats.IncConflictsResolved(1)
		}
		winners = append(winners, winner.Fields)
	}
	if err := e.writeWinners(winners, out); err != nil {
		return err
	}

	if schemaAware && reportConflicts {
		report := make(SchemaReport)
		for col, types := range typeSeen {
			if len(types) > 1 {
				var list []string
				for t := range types {
					list = append(list, t)
				}
				sort.Strings(list)
				report[col] = list
			}
		}
		e.lastSchemaReport = report
	}
	return nil
}

func (e *Engine) newResolver(headers []string, policy dedup.ConflictPolicy) *dedup.Resolver {
	keyCols := resolveColumnIndexes(headers, e.cfg.KeyColumns)
	tsCol := -1
	if e.cfg.TimeColumn != "" {
		for i, h := range headers {
			if h == e.cfg.TimeColumn {
				tsCol = i
				break
			}
		}
	}
	cfg := dedup.Config{
		KeyColumns:      keyCols,
		FuzzyThreshold:  e.cfg.SimilarityThreshold,
		TimestampColumn: tsCol,
	}
	return dedup.New(dedup.Strategy(e.cfg.DedupStrategy), policy, cfg, headers)
}

func resolveColumnIndexes(headers []string, names []string) []int {
	var idx []int
	for _, name := range names {
		for i, h := range headers {
			if h == name {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

func (e *Engine) computeSchemaConflicts(sources []InputSource, headers map[string][]string, merged []string) SchemaReport {
	typeSeen := make(map[string]map[string]bool)
	for _, s := range sources {
		rows, err := readDataRows(s)
		if err != nil {
			continue
		}
		for _, raw := range rows {
			fields := projectRow(raw, headers[s.Path], merged)
			for col, v := range fields {
				t := inferColumnType(v)
				if t == "" {
					continue
				}
				if typeSeen[merged[col]] == nil {
					typeSeen[merged[col]] = make(map[string]bool)
				}
				typeSeen[merged[col]][t] = true
			}
		}
	}
	report := make(SchemaReport)
	for col, types := range typeSeen {
		if len(types) > 1 {
			var list []string
			for t := range types {
				list = append(list, t)
			}
			sort.Strings(list)
			report[col] = list
		}
	}
	return report
}

// shouldUseStreaming reports whether the resolved winner set is large enough
// that holding it and the output buffer resident risks exceeding
// MemoryBudgetBytes, following DeltaUtils-style sizing checks used
// elsewhere in the pipeline.
func (e *Engine) shouldUseStreaming(winners [][]string) bool {
	if e.cfg.MemoryBudgetBytes <= 0 {
		return false
	}
	var total int64
	for _, row := range winners {
		for _, f := range row {
			total += int64(len(f))
		}
	}
	return total > e.cfg.MemoryBudgetBytes
}

// writeWinners emits the resolved winner rows to out. When the winner set
// exceeds the configured memory budget, rows are first spilled to
// golzf-compressed chunks on disk (streamingMerge) and then read back and
// streamed to the writer; the winners slice stays resident throughout.
func (e *Engine) writeWinners(winners [][]string, out *writer.Writer) error {
	if !e.shouldUseStreaming(winners) {
		for _, row := range winners {
			if err := out.WriteRow(row); err != nil {
				return err
			}
			e.stats.IncRowsOutput(1)
		}
		return nil
	}
	return e.streamingMerge(winners, out)
}

func (e *Engine) streamingMerge(winners [][]string, out *writer.Writer) error {
	dir := os.TempDir()
	spill := newSpillWriterForRows(dir, e.framing, e.cfg.ChunkSizeBytes, len(winners))
	for _, row := range winners {
		if err := spill.Add(row); err != nil {
			return err
		}
	}
	files, err := spill.Close()
	if err != nil {
		return err
	}
	defer removeSpillChunks(files)

	for _, f := range files {
		raw, err := readSpillChunk(f, 0)
		if err != nil {
			return err
		}
		for _, row := range csvrow.ParseLines(string(raw), e.framing) {
			if err := out.WriteRow(row); err != nil {
				return err
			}
			e.stats.IncRowsOutput(1)
		}
	}
	return nil
}

// readDataRows reads every row of src excluding the header line when
// HasHeader is set.
func readDataRows(src InputSource) ([][]string, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, errs.Wrap(component, errs.FileNotFound, "open "+src.DisplayName, err)
	}
	defer f.Close()

	framing := csvrow.DefaultFraming()
	if src.Delimiter != 0 {
		framing.Delimiter = src.Delimiter
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var rows [][]string
	first := true
	for scanner.Scan() {
		if first && src.HasHeader {
			first = false
			continue
		}
		first = false
		rows = append(rows, csvrow.ParseLine(scanner.Text(), framing))
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(component, errs.Parse, "scan "+src.DisplayName, err)
	}
	return rows, nil
}

// compileExcludes compiles MergerConfig.RegexExcludePatterns once per merge
// so every source load can test rows against them without recompiling per
// row (spec.md §3's Merge Configuration "regex exclude patterns").
func (e *Engine) compileExcludes() ([]*regexp.Regexp, error) {
	if len(e.cfg.RegexExcludePatterns) == 0 {
		return nil, nil
	}
	compiled := make([]*regexp.Regexp, 0, len(e.cfg.RegexExcludePatterns))
	for _, pat := range e.cfg.RegexExcludePatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, errs.Wrap(component, errs.InvalidConfig, "compile regex exclude pattern "+pat, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// rowExcluded reports whether any field of row matches any of excludes.
func rowExcluded(row []string, excludes []*regexp.Regexp) bool {
	for _, re := range excludes {
		for _, f := range row {
			if re.MatchString(f) {
				return true
			}
		}
	}
	return false
}

// readSourceRows reads one source's data rows, dropping any row matched by
// excludes and counting the drops into the engine's statistics.
func (e *Engine) readSourceRows(s InputSource, excludes []*regexp.Regexp) ([][]string, error) {
	rows, err := readDataRows(s)
	if err != nil {
		return nil, err
	}
	if len(excludes) == 0 {
		return rows, nil
	}
	kept := rows[:0]
	var excluded int64
	for _, row := range rows {
		if rowExcluded(row, excludes) {
			excluded++
			continue
		}
		kept = append(kept, row)
	}
	if excluded > 0 {
		e.stats.IncRowsExcluded(excluded)
	}
	return kept, nil
}

// loadSources reads every source's data rows, applying excludes, and returns
// them indexed the same as sources. When ParallelFiles allows more than one
// worker and there is more than one source, loads run across a bounded
// worker pool (spec.md §5's "parallel per-file processing"); each source's
// own rows stay in on-disk order, only the loading of different sources is
// interleaved.
func (e *Engine) loadSources(sources []InputSource, excludes []*regexp.Regexp) ([][][]string, error) {
	results := make([][][]string, len(sources))

	workers := e.cfg.ParallelFiles
	if threads := delta.OptimalThreadCount(); threads < workers {
		workers = threads
	}
	if workers > len(sources) {
		workers = len(sources)
	}
	if workers < 1 {
		workers = 1
	}

	if workers <= 1 {
		for i, s := range sources {
			e.reportProgress("per-file-load", float64(i)/float64(len(sources)))
			rows, err := e.readSourceRows(s, excludes)
			if err != nil {
				if e.cfg.ContinueOnError {
					e.reportError(errs.Parse, err.Error())
					continue
				}
				return nil, err
			}
			results[i] = rows
			e.stats.IncFilesProcessed(1)
		}
		return results, nil
	}

	type outcome struct {
		idx  int
		rows [][]string
		err  error
	}

	jobs := make(chan int)
	out := make(chan outcome)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				rows, err := e.readSourceRows(sources[idx], excludes)
				out <- outcome{idx: idx, rows: rows, err: err}
			}
		}()
	}
	go func() {
		for i := range sources {
			jobs <- i
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	var firstErr error
	done := 0
	for o := range out {
		done++
		e.reportProgress("per-file-load", float64(done)/float64(len(sources)))
		if o.err != nil {
			if e.cfg.ContinueOnError {
				e.reportError(errs.Parse, o.err.Error())
				continue
			}
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		results[o.idx] = o.rows
		e.stats.IncFilesProcessed(1)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func lockKeyFor(sources []InputSource) string {
	if len(sources) == 0 {
		return "default"
	}
	return sources[0].Path
}
