package csvrow

import "testing"

func TestNeedsQuoting(t *testing.T) {
	cfg := DefaultFraming()
	cases := []struct {
		field string
		want  bool
	}{
		{"simple", false},
		{"has,comma", true},
		{`has"quote`, true},
		{"has\nnewline", true},
		{"has\rcr", true},
		{" leading", true},
		{"trailing ", true},
		{"", false},
	}
	for _, c := range cases {
		if got := NeedsQuoting(c.field, cfg); got != c.want {
			t.Errorf("NeedsQuoting(%q) = %v, want %v", c.field, got, c.want)
		}
	}
}

func TestNeedsQuotingEmptyForced(t *testing.T) {
	cfg := DefaultFraming()
	cfg.QuoteEmptyFields = true
	if !NeedsQuoting("", cfg) {
		t.Error("expected empty field to require quoting when QuoteEmptyFields is set")
	}
}

func TestNeedsQuotingAlwaysQuote(t *testing.T) {
	cfg := DefaultFraming()
	cfg.AlwaysQuote = true
	if !NeedsQuoting("plain", cfg) {
		t.Error("expected AlwaysQuote to force quoting")
	}
}

func TestEscape(t *testing.T) {
	cfg := DefaultFraming()
	cases := map[string]string{
		"simple":        "simple",
		"has,comma":     `"has,comma"`,
		`has"quote`:     `"has""quote"`,
		"has\nnewline":  "\"has\nnewline\"",
	}
	for in, want := range cases {
		if got := Escape(in, cfg); got != want {
			t.Errorf("Escape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatRowQuotingScenario(t *testing.T) {
	cfg := DefaultFraming()
	row := []string{"simple", "has,comma", `has"quote`, "has\nnewline"}
	got := FormatRow(row, cfg)
	want := "simple,\"has,comma\",\"has\"\"quote\",\"has\nnewline\"\n"
	if got != want {
		t.Errorf("FormatRow = %q, want %q", got, want)
	}
}

// TestRoundTrip exercises invariant P1: parsing format(r, c) yields r exactly.
func TestRoundTrip(t *testing.T) {
	cfg := DefaultFraming()
	rows := [][]string{
		{"simple", "has,comma", `has"quote`, "has\nnewline"},
		{"", "", ""},
		{"a"},
		{"leading space ", " trailing"},
	}
	for _, row := range rows {
		line := FormatRow(row, cfg)
		// Strip the trailing line ending before parsing, as ParseLine
		// operates on one physical line.
		trimmed := line[:len(line)-len(cfg.LineEnding)]
		got := ParseLine(trimmed, cfg)
		if len(got) != len(row) {
			t.Fatalf("ParseLine(%q) = %v, want %v", line, got, row)
		}
		for i := range row {
			if got[i] != row[i] {
				t.Errorf("ParseLine(%q)[%d] = %q, want %q", line, i, got[i], row[i])
			}
		}
	}
}

func TestEstimatedSizeMatchesFormatRow(t *testing.T) {
	cfg := DefaultFraming()
	rows := [][]string{
		{"simple", "has,comma", `has"quote`},
		{"", "a", "bb"},
	}
	for _, row := range rows {
		want := len(FormatRow(row, cfg))
		got := EstimatedSize(row, cfg)
		if got != want {
			t.Errorf("EstimatedSize(%v) = %d, want %d", row, got, want)
		}
	}
}
