// Package cli implements csvpipe's subcommand dispatch, following the
// teacher's flag.FlagSet-per-subcommand shape: each subcommand parses its
// own flags and runs exactly one pipeline stage. write, merge and diff also
// load and validate configuration and wire up a component logger; validate
// only loads and validates configuration, and apply uses neither.
package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"time"

	"csvpipe/internal/config"
	"csvpipe/internal/csvrow"
	"csvpipe/internal/delta"
	"csvpipe/internal/errs"
	"csvpipe/internal/logger"
	"csvpipe/internal/merger"
	"csvpipe/internal/stats"
	"csvpipe/internal/writer"
)

// Execute dispatches a CLI subcommand and returns a process exit code.
func Execute(args []string) int {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[csvpipe] ")

	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "write":
		return runWrite(args[1:])
	case "merge":
		return runMerge(args[1:])
	case "diff":
		return runDiff(args[1:])
	case "apply":
		return runApply(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version", "-v":
		fmt.Println("csvpipe 0.1.0-dev")
		return 0
	default:
		log.Printf("Unknown subcommand: %s", args[0])
		printUsage()
		return 1
	}
}

func printUsage() {
	binary := filepath.Base(os.Args[0])
	fmt.Printf(`csvpipe - recon CSV batch writer, merger and delta toolkit

Usage:
  %[1]s <command> [options]

Available commands:
  write     Stream input rows through the Batch Writer (compression, flush policy)
  merge     Merge multiple CSV sources into one file via the Merger Engine
  diff      Detect changes between two CSV snapshots and emit a delta artifact
  apply     Apply a delta artifact to a base CSV, producing the new snapshot
  validate  Load and validate a configuration file only
  help      Show this help
  version   Show version info

Examples:
  %[1]s merge --config csvpipe.yaml --out merged.csv in1.csv in2.csv in3.csv
  %[1]s diff --config csvpipe.yaml --old snapshot1.csv --new snapshot2.csv --out delta.bin
  %[1]s apply --base snapshot1.csv --delta delta.bin --out snapshot2.csv --verify
`, binary)
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("the --config flag is required")
	}
	return config.Load(configPath)
}

func newComponentLogger(cfg *config.Config, component string) *logger.Logger {
	lvl := parseLogLevel(cfg.Logging.Level)
	lg, err := logger.New(cfg.Logging.Dir, component, lvl)
	if err != nil {
		log.Printf("Failed to open %s log file, discarding that component's log output: %v", component, err)
		return logger.NewDiscard(component)
	}
	return lg
}

func parseLogLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DEBUG
	case "warn":
		return logger.WARN
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}

func errorToExitCode(err error) int {
	if err == flag.ErrHelp {
		return 0
	}
	log.Printf("Command failed: %v", err)
	return 1
}

func columnIndexes(headers, names []string) []int {
	pos := make(map[string]int, len(headers))
	for i, h := range headers {
		pos[h] = i
	}
	idxs := make([]int, 0, len(names))
	for _, name := range names {
		if i, ok := pos[name]; ok {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

func readCSVFile(path string, hasHeader bool) (headers []string, rows [][]string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	framing := csvrow.DefaultFraming()
	all := csvrow.ParseLines(string(data), framing)
	if hasHeader && len(all) > 0 {
		return all[0], all[1:], nil
	}
	return nil, all, nil
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	fs.StringVar(&configPath, "config", "", "configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "configuration file path (YAML)")
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return errorToExitCode(err)
	}
	log.Printf("config OK: writer.compression=%s merger.strategy=%s delta.codecAlgorithm=%s",
		cfg.Writer.Compression, cfg.Merger.Strategy, cfg.Delta.CodecAlgorithm)
	return 0
}

func runWrite(args []string) int {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath, inPath, outPath string
	var hasHeader bool
	fs.StringVar(&configPath, "config", "", "configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "configuration file path (YAML)")
	fs.StringVar(&inPath, "in", "", "input CSV path")
	fs.StringVar(&outPath, "out", "", "output path (overrides writer.outputPath)")
	fs.BoolVar(&hasHeader, "header", true, "input file has a header row")
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return errorToExitCode(err)
	}
	if outPath == "" {
		outPath = cfg.Writer.OutputPath
	}
	if outPath == "" || inPath == "" {
		log.Printf("both --in and --out (or writer.outputPath) are required")
		return 2
	}

	lg := newComponentLogger(cfg, "writer")
	defer lg.Close()

	headers, rows, err := readCSVFile(inPath, hasHeader)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	w := writer.New(cfg.Writer, lg)
	if err := w.Open(outPath); err != nil {
		log.Printf("open output: %v", err)
		return 1
	}
	if headers != nil {
		if err := w.WriteHeader(headers); err != nil {
			log.Printf("write header: %v", err)
			return 1
		}
	}
	for _, row := range rows {
		if err := w.WriteRow(row); err != nil {
			log.Printf("write row: %v", err)
			return 1
		}
	}
	if err := w.Close(); err != nil {
		log.Printf("close writer: %v", err)
		return 1
	}
	snap := w.Statistics()
	log.Printf("wrote %d rows, %d bytes to %s", snap.RowsWritten, snap.BytesWritten, outPath)
	return 0
}

func runMerge(args []string) int {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath, outPath string
	fs.StringVar(&configPath, "config", "", "configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "configuration file path (YAML)")
	fs.StringVar(&outPath, "out", "", "output path (overrides merger.outputPath)")
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}
	inputs := fs.Args()
	if len(inputs) == 0 {
		log.Printf("at least one input CSV file is required")
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return errorToExitCode(err)
	}
	if outPath == "" {
		outPath = cfg.Merger.OutputPath
	}
	if outPath == "" {
		log.Printf("--out (or merger.outputPath) is required")
		return 2
	}

	lg := newComponentLogger(cfg, "merger")
	defer lg.Close()

	framing := csvrow.DefaultFraming()
	if cfg.Writer.Delimiter != "" {
		framing.Delimiter = cfg.Writer.Delimiter[0]
	}
	eng := merger.New(cfg.Merger, cfg.Lock, framing, lg)
	eng.SetProgressCallback(func(phase string, fraction float64) {
		log.Printf("merge: %s (%.0f%%)", phase, fraction*100)
	})

	sources := make([]merger.InputSource, 0, len(inputs))
	for _, p := range inputs {
		sources = append(sources, merger.InputSource{
			Path:        p,
			DisplayName: filepath.Base(p),
			HasHeader:   true,
		})
	}

	w := writer.New(cfg.Writer, lg)
	if err := w.Open(outPath); err != nil {
		log.Printf("open output: %v", err)
		return 1
	}

	snap, err := eng.Merge(sources, w)
	if err != nil {
		log.Printf("merge failed: %v", err)
		_ = w.Close()
		return 1
	}
	if err := w.Close(); err != nil {
		log.Printf("close writer: %v", err)
		return 1
	}
	log.Printf("merged %d sources into %s: %d rows output, %d duplicates removed, %d conflicts resolved",
		len(sources), outPath, snap.RowsOutput, snap.DuplicatesRemoved, snap.ConflictsResolved)
	if conflicts := eng.SchemaConflicts(); len(conflicts) > 0 {
		log.Printf("schema conflicts: %+v", conflicts)
	}
	return 0
}

func runDiff(args []string) int {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath, oldPath, newPath, outPath string
	fs.StringVar(&configPath, "config", "", "configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "configuration file path (YAML)")
	fs.StringVar(&oldPath, "old", "", "baseline CSV snapshot")
	fs.StringVar(&newPath, "new", "", "updated CSV snapshot")
	fs.StringVar(&outPath, "out", "", "delta artifact output path")
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return errorToExitCode(err)
	}
	if oldPath == "" || newPath == "" || outPath == "" {
		log.Printf("--old, --new and --out are all required")
		return 2
	}

	lg := newComponentLogger(cfg, "delta")
	defer lg.Close()

	oldHeaders, oldRows, err := readCSVFile(oldPath, true)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	_, newRows, err := readCSVFile(newPath, true)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	det := delta.NewDetector(delta.DetectorConfig{
		Mode:                delta.DetectionMode(cfg.Delta.DetectionMode),
		KeyColumns:          columnIndexes(oldHeaders, cfg.Delta.KeyColumns),
		TimestampColumn:     firstIndexOrDefault(columnIndexes(oldHeaders, []string{cfg.Delta.TimestampColumn}), -1),
		SimilarityThreshold: cfg.Delta.SimilarityThreshold,
	})

	dstats := stats.NewDeltaStats()
	start := time.Now()
	records := det.Detect(oldRows, newRows, oldHeaders)
	dstats.RecordProcessingTime(time.Since(start))
	dstats.IncRecordsProcessed(int64(len(oldRows) + len(newRows)))
	dstats.IncChangesDetected(int64(len(records)))
	for _, rec := range records {
		switch rec.Op {
		case delta.OpInsert:
			dstats.IncInserts(1)
		case delta.OpUpdate:
			dstats.IncUpdates(1)
		case delta.OpDelete:
			dstats.IncDeletes(1)
		case delta.OpMove:
			dstats.IncMoves(1)
		}
	}

	data, err := delta.EncodeArtifact(records, len(oldRows), delta.Algorithm(cfg.Delta.CodecAlgorithm), 0)
	if err != nil {
		dstats.RecordError(errs.Compression, err.Error())
		log.Printf("encode delta artifact: %v", err)
		return 1
	}
	dstats.AddSizes(estimateRawSize(oldRows)+estimateRawSize(newRows), int64(len(data)))
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		log.Printf("write delta artifact: %v", err)
		return 1
	}
	lg.Info("%s", dstats.Snapshot().Report())
	log.Printf("detected %d changes between %s and %s, wrote %d bytes to %s",
		len(records), oldPath, newPath, len(data), outPath)
	return 0
}

func estimateRawSize(rows [][]string) int64 {
	var total int64
	for _, row := range rows {
		for _, f := range row {
			total += int64(len(f)) + 1
		}
	}
	return total
}

func firstIndexOrDefault(idxs []int, def int) int {
	if len(idxs) == 0 {
		return def
	}
	return idxs[0]
}

func runApply(args []string) int {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var basePath, deltaPath, outPath string
	var verify bool
	var hasHeader bool
	fs.StringVar(&basePath, "base", "", "baseline CSV snapshot")
	fs.StringVar(&deltaPath, "delta", "", "delta artifact produced by diff")
	fs.StringVar(&outPath, "out", "", "output CSV path for the reconstructed snapshot")
	fs.BoolVar(&verify, "verify", true, "verify the applied result against the delta's stamped hashes")
	fs.BoolVar(&hasHeader, "header", true, "base file has a header row")
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}
	if basePath == "" || deltaPath == "" || outPath == "" {
		log.Printf("--base, --delta and --out are all required")
		return 2
	}

	headers, baseRows, err := readCSVFile(basePath, hasHeader)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	deltaData, err := os.ReadFile(deltaPath)
	if err != nil {
		log.Printf("read delta artifact: %v", err)
		return 1
	}
	_, records, err := delta.DecodeArtifact(deltaData)
	if err != nil {
		log.Printf("decode delta artifact: %v", err)
		return 1
	}

	applied, err := delta.Apply(baseRows, records)
	if err != nil {
		log.Printf("apply delta: %v", err)
		return 1
	}
	if verify {
		if err := delta.VerifyIntegrity(applied, records); err != nil {
			log.Printf("integrity check failed: %v", err)
			return 1
		}
	}

	framing := csvrow.DefaultFraming()
	var out []byte
	if headers != nil {
		out = append(out, []byte(csvrow.FormatRow(headers, framing))...)
	}
	for _, row := range applied {
		out = append(out, []byte(csvrow.FormatRow(row, framing))...)
	}
	if err := os.WriteFile(outPath, out, 0644); err != nil {
		log.Printf("write output: %v", err)
		return 1
	}
	log.Printf("applied %d delta records to %s, wrote %d rows to %s", len(records), basePath, len(applied), outPath)
	return 0
}
