package merger

import (
	"bufio"
	"os"
	"sort"
	"strconv"

	"csvpipe/internal/csvrow"
	"csvpipe/internal/errs"
)

// readHeader reads only the first line of src and parses it under framing.
func readHeader(src InputSource, framing csvrow.Framing) ([]string, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, errs.Wrap(component, errs.FileNotFound, "open source "+src.DisplayName, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errs.Wrap(component, errs.Parse, "read header of "+src.DisplayName, err)
		}
		return nil, nil
	}
	if !src.HasHeader {
		return nil, nil
	}
	return csvrow.ParseLine(scanner.Text(), framing), nil
}

// mergedSchema computes the union of every source's header names. When no
// source carries an explicit priority (all zero), names are sorted
// alphabetically; otherwise sources are walked in descending-priority order
// and new names are appended as first seen, preserving priority order.
func mergedSchema(sources []InputSource, headers map[string][]string) []string {
	anyPriority := false
	for _, s := range sources {
		if s.Priority != 0 {
			anyPriority = true
			break
		}
	}

	if !anyPriority {
		seen := make(map[string]bool)
		var names []string
		for _, s := range sources {
			for _, h := range headers[s.Path] {
				if !seen[h] {
					seen[h] = true
					names = append(names, h)
				}
			}
		}
		sort.Strings(names)
		return names
	}

	ordered := make([]InputSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	seen := make(map[string]bool)
	var names []string
	for _, s := range ordered {
		for _, h := range headers[s.Path] {
			if !seen[h] {
				seen[h] = true
				names = append(names, h)
			}
		}
	}
	return names
}

// schemasMatch reports whether every source's header is identical (order and
// content) to the first, used for strict_schema_validation.
func schemasMatch(headers map[string][]string, sources []InputSource) bool {
	if len(sources) == 0 {
		return true
	}
	first := headers[sources[0].Path]
	for _, s := range sources[1:] {
		h := headers[s.Path]
		if len(h) != len(first) {
			return false
		}
		for i := range h {
			if h[i] != first[i] {
				return false
			}
		}
	}
	return true
}

// applyColumnMappings renames each source header name found in mappings
// (source name -> canonical merged name) before schema union/projection,
// so differently-named-but-equivalent columns across sources fold into one
// merged column instead of each producing its own (spec.md §3's Merge
// Configuration "column-name mappings").
func applyColumnMappings(header []string, mappings map[string]string) []string {
	if len(mappings) == 0 || len(header) == 0 {
		return header
	}
	mapped := make([]string, len(header))
	for i, h := range header {
		if renamed, ok := mappings[h]; ok {
			mapped[i] = renamed
		} else {
			mapped[i] = h
		}
	}
	return mapped
}

// projectRow re-projects a row (with its own header) onto the merged schema:
// columns present in the source are copied by name, missing columns become
// empty. When sourceHeader is empty (headerless source), the row is assumed
// to already align with the merged schema positionally.
func projectRow(row, sourceHeader, mergedHeader []string) []string {
	if len(sourceHeader) == 0 {
		out := make([]string, len(mergedHeader))
		copy(out, row)
		return out
	}
	byName := make(map[string]string, len(sourceHeader))
	for i, h := range sourceHeader {
		if i < len(row) {
			byName[h] = row[i]
		}
	}
	out := make([]string, len(mergedHeader))
	for i, h := range mergedHeader {
		out[i] = byName[h]
	}
	return out
}

// inferColumnType classifies a field's apparent type for schema-aware
// inconsistency reporting: empty fields are untyped and never conflict.
func inferColumnType(field string) string {
	if field == "" {
		return ""
	}
	if _, err := strconv.ParseInt(field, 10, 64); err == nil {
		return "integer"
	}
	if _, err := strconv.ParseFloat(field, 64); err == nil {
		return "float"
	}
	return "string"
}
