// Package csvrow implements the CSV framing rules shared by the writer,
// merger and delta components: parsing one physical line into fields and
// formatting a logical row back into one physical line, honoring a
// configurable delimiter and quote character. Embedded quote characters are
// always escaped by doubling them.
package csvrow

import "strings"

// Framing carries the subset of writer.Config that affects field
// quoting/escaping, kept separate so csvrow has no dependency on writer.
// EscapeChar is carried with the rest but not consulted: Escape always
// doubles QuoteChar.
type Framing struct {
	Delimiter        byte
	QuoteChar        byte
	EscapeChar       byte
	LineEnding       string
	AlwaysQuote      bool
	QuoteEmptyFields bool
}

// DefaultFraming returns the RFC-4180 defaults: comma delimiter, double-quote
// quoting, doubled-quote escaping, LF line ending.
func DefaultFraming() Framing {
	return Framing{
		Delimiter:  ',',
		QuoteChar:  '"',
		EscapeChar: '"',
		LineEnding: "\n",
	}
}

// NeedsQuoting reports whether field must be quoted under cfg: it contains
// the delimiter, the quote char, a newline or carriage return, has
// leading/trailing whitespace, or cfg forces quoting (always, or on empty
// fields when the field is empty).
func NeedsQuoting(field string, cfg Framing) bool {
	if cfg.AlwaysQuote {
		return true
	}
	if field == "" {
		return cfg.QuoteEmptyFields
	}
	if strings.IndexByte(field, cfg.Delimiter) >= 0 ||
		strings.IndexByte(field, cfg.QuoteChar) >= 0 ||
		strings.ContainsAny(field, "\n\r") {
		return true
	}
	if field[0] == ' ' || field[0] == '\t' || field[len(field)-1] == ' ' || field[len(field)-1] == '\t' {
		return true
	}
	return false
}

// Escape renders field for output under cfg, quoting it (and doubling any
// internal quote characters) when NeedsQuoting reports true.
func Escape(field string, cfg Framing) string {
	if !NeedsQuoting(field, cfg) {
		return field
	}
	var b strings.Builder
	b.Grow(len(field) + 2)
	b.WriteByte(cfg.QuoteChar)
	quote := string(cfg.QuoteChar)
	doubled := quote + quote
	b.WriteString(strings.ReplaceAll(field, quote, doubled))
	b.WriteByte(cfg.QuoteChar)
	return b.String()
}

// FormatRow renders a full logical row as one physical line, including the
// configured line ending.
func FormatRow(row []string, cfg Framing) string {
	var b strings.Builder
	for i, field := range row {
		if i > 0 {
			b.WriteByte(cfg.Delimiter)
		}
		b.WriteString(Escape(field, cfg))
	}
	b.WriteString(cfg.LineEnding)
	return b.String()
}

// EstimatedSize returns len(FormatRow(row, cfg)) without allocating the
// formatted string, used by the writer to track the in-buffer byte estimate
// (invariant P2 in spec.md §3).
func EstimatedSize(row []string, cfg Framing) int {
	total := len(cfg.LineEnding)
	for i, field := range row {
		if i > 0 {
			total++
		}
		if NeedsQuoting(field, cfg) {
			total += 2 + strings.Count(field, string(cfg.QuoteChar)) + len(field)
		} else {
			total += len(field)
		}
	}
	return total
}

// ParseLines splits a block of formatted rows (as produced by repeated
// FormatRow calls) on cfg's line ending and parses each physical line.
func ParseLines(block string, cfg Framing) [][]string {
	if block == "" {
		return nil
	}
	lines := strings.Split(block, cfg.LineEnding)
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, ParseLine(line, cfg))
	}
	return rows
}

// ParseLine parses one physical line (without its trailing line ending)
// into fields, honoring quoting: a quoted field may contain the delimiter,
// newlines and a doubled quote-char literal.
func ParseLine(line string, cfg Framing) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	i := 0
	n := len(line)
	for i < n {
		c := line[i]
		switch {
		case inQuotes:
			if c == cfg.QuoteChar {
				if i+1 < n && line[i+1] == cfg.QuoteChar {
					cur.WriteByte(cfg.QuoteChar)
					i += 2
					continue
				}
				inQuotes = false
				i++
				continue
			}
			cur.WriteByte(c)
			i++
		default:
			switch c {
			case cfg.QuoteChar:
				inQuotes = true
				i++
			case cfg.Delimiter:
				fields = append(fields, cur.String())
				cur.Reset()
				i++
			default:
				cur.WriteByte(c)
				i++
			}
		}
	}
	fields = append(fields, cur.String())
	return fields
}
