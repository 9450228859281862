// Package merger implements the Merger Engine (spec.md §4.E): multi-source
// CSV ingestion through the Duplicate Resolver, schema harmonization across
// heterogeneous inputs, and the five merge strategies.
package merger

import "csvpipe/internal/errs"

const component = "merger"

// InputSource describes one CSV source to merge, per spec.md §3.
type InputSource struct {
	Path            string
	DisplayName     string
	Priority        int // higher = preferred
	Encoding        string
	Delimiter       byte
	HasHeader       bool
	TimestampColumn string
	Metadata        map[string]string
}

// ProgressFunc reports merge progress at phase boundaries, fired without
// holding the engine mutex.
type ProgressFunc func(phase string, fraction float64)

// ErrorFunc reports a recoverable per-row or per-file error.
type ErrorFunc func(kind errs.Kind, message string)

// SchemaReport captures per-column type inconsistencies observed during a
// schema-aware merge (spec.md §4.E bullet 4's "report per-column type
// inconsistencies via statistics").
type SchemaReport map[string][]string

// PreviewResult is the dry-run output of Engine.Preview: the inferred merged
// schema and row counts per source, without writing any output.
type PreviewResult struct {
	MergedSchema  []string
	SourceRows    map[string]int
	SchemaConflicts SchemaReport
}
