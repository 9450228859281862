package fingerprint

import "testing"

func TestRowHashStable(t *testing.T) {
	row := []string{"1", "John", "j@x"}
	h1 := RowHash(row)
	h2 := RowHash(append([]string{}, row...))
	if h1 != h2 {
		t.Errorf("RowHash not stable: %q vs %q", h1, h2)
	}
}

func TestRowHashDistinguishesFields(t *testing.T) {
	a := RowHash([]string{"ab", "c"})
	b := RowHash([]string{"a", "bc"})
	if a == b {
		t.Error("expected different rows to hash differently")
	}
}

func TestStringHashLength(t *testing.T) {
	h := StringHash("hello world")
	if len(h) != 16 {
		t.Errorf("expected 16 hex chars (64-bit hash), got %d: %q", len(h), h)
	}
}
