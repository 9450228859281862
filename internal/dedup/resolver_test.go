package dedup

import "testing"

func TestFieldSimilarityIdentityAndEmpty(t *testing.T) {
	if FieldSimilarity("abc", "abc") != 1.0 {
		t.Error("equal strings should have similarity 1.0")
	}
	if FieldSimilarity("", "") != 1.0 {
		t.Error("two empty strings should have similarity 1.0")
	}
	if FieldSimilarity("abc", "") != 0.0 {
		t.Error("one empty string should have similarity 0.0")
	}
}

func TestFieldSimilarityCloseStrings(t *testing.T) {
	sim := FieldSimilarity("hello world", "hello wrld")
	if sim < 0.7 || sim > 1.0 {
		t.Errorf("expected high similarity for near-identical strings, got %v", sim)
	}
}

func TestResolverExactEquivalence(t *testing.T) {
	r := New(StrategyExact, PolicyKeepFirst, Config{}, []string{"id", "name"})
	a := Row{Fields: []string{"1", "Alice"}, Index: 0}
	b := Row{Fields: []string{"1", "Alice"}, Index: 1}
	c := Row{Fields: []string{"1", "Bob"}, Index: 2}
	if !r.Equivalent(a, b) {
		t.Error("expected exact-equal rows to be equivalent")
	}
	if r.Equivalent(a, c) {
		t.Error("expected differing rows to not be equivalent")
	}
}

func TestResolverKeyBased(t *testing.T) {
	r := New(StrategyKeyBased, PolicyKeepLast, Config{KeyColumns: []int{0}}, []string{"id", "name"})
	a := Row{Fields: []string{"1", "Alice"}, Index: 0}
	b := Row{Fields: []string{"1", "Alicia"}, Index: 1}
	if !r.Equivalent(a, b) {
		t.Error("expected key-based equivalence on matching key column")
	}
}

func TestResolverFuzzyThreshold(t *testing.T) {
	r := New(StrategyFuzzy, PolicyKeepFirst, Config{FuzzyThreshold: 0.85}, nil)
	a := Row{Fields: []string{"hello world"}}
	b := Row{Fields: []string{"hello wrld"}}
	c := Row{Fields: []string{"completely different"}}
	if !r.Equivalent(a, b) {
		t.Error("expected near-identical rows to be fuzzy-equivalent")
	}
	if r.Equivalent(a, c) {
		t.Error("expected unrelated rows to not be fuzzy-equivalent")
	}
}

func TestResolveKeepFirstLast(t *testing.T) {
	cluster := []Row{
		{Fields: []string{"a"}, Index: 0},
		{Fields: []string{"b"}, Index: 1},
		{Fields: []string{"c"}, Index: 2},
	}
	r := New(StrategyExact, PolicyKeepFirst, Config{}, nil)
	got, err := r.Resolve(cluster)
	if err != nil || got.Fields[0] != "a" {
		t.Errorf("keep-first: got %v, err %v", got, err)
	}

	r = New(StrategyExact, PolicyKeepLast, Config{}, nil)
	got, err = r.Resolve(cluster)
	if err != nil || got.Fields[0] != "c" {
		t.Errorf("keep-last: got %v, err %v", got, err)
	}
}

func TestResolvePriority(t *testing.T) {
	cluster := []Row{
		{Fields: []string{"low"}, Priority: 1},
		{Fields: []string{"high"}, Priority: 10},
	}
	r := New(StrategyExact, PolicyPrioritySource, Config{}, nil)
	got, err := r.Resolve(cluster)
	if err != nil || got.Fields[0] != "high" {
		t.Errorf("priority-source: got %v, err %v", got, err)
	}
}

func TestResolveMergeValues(t *testing.T) {
	cluster := []Row{
		{Fields: []string{"1", "a", ""}},
		{Fields: []string{"1", "a", "x"}},
		{Fields: []string{"1", "b", "x"}},
	}
	r := New(StrategyExact, PolicyMergeValues, Config{}, nil)
	got, err := r.Resolve(cluster)
	if err != nil {
		t.Fatalf("merge-values: %v", err)
	}
	if got.Fields[0] != "1" || got.Fields[1] != "a" || got.Fields[2] != "x" {
		t.Errorf("merge-values picked unexpected modal values: %v", got.Fields)
	}
}

func TestResolveKeepNewest(t *testing.T) {
	cluster := []Row{
		{Fields: []string{"2024-01-01T00:00:00Z"}, Index: 0},
		{Fields: []string{"2024-06-01T00:00:00Z"}, Index: 1},
	}
	r := New(StrategyExact, PolicyKeepNewest, Config{TimestampColumn: 0}, nil)
	got, err := r.Resolve(cluster)
	if err != nil || got.Index != 1 {
		t.Errorf("keep-newest: got %v, err %v", got, err)
	}
}
