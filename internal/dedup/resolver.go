// Package dedup implements the Duplicate Resolver: row-equivalence
// strategies and conflict-resolution policies shared by the Merger Engine.
// Grounded on spec.md §4.D; strategy dispatch follows the teacher's
// switch-on-config-string shape used throughout internal/pipeline.
package dedup

import (
	"sort"
	"strings"

	"csvpipe/internal/errs"
	"csvpipe/internal/fingerprint"
)

const component = "dedup"

// Strategy names the row-equivalence test used to decide duplicates.
type Strategy string

const (
	StrategyExact       Strategy = "exact"
	StrategyKeyBased     Strategy = "key-based"
	StrategyFuzzy       Strategy = "fuzzy"
	StrategyContentHash Strategy = "content-hash"
	StrategyCustom      Strategy = "custom"
)

// ConflictPolicy names the arbitration rule used to pick a winner among a
// cluster of equivalent rows.
type ConflictPolicy string

const (
	PolicyKeepFirst      ConflictPolicy = "keep-first"
	PolicyKeepLast       ConflictPolicy = "keep-last"
	PolicyKeepNewest     ConflictPolicy = "keep-newest"
	PolicyKeepOldest     ConflictPolicy = "keep-oldest"
	PolicyMergeValues    ConflictPolicy = "merge-values"
	PolicyPrioritySource ConflictPolicy = "priority-source"
	PolicyCustom         ConflictPolicy = "custom"
)

// CustomEquivalence lets a caller supply the "custom" equivalence strategy.
type CustomEquivalence func(a, b []string, headers []string) bool

// CustomResolver lets a caller supply the "custom" conflict-resolution policy.
type CustomResolver func(cluster []Row, headers []string) Row

// Row is a CSV row carried alongside the bookkeeping the conflict
// policies need: which source it came from, that source's priority, and
// the row's position for positional policies.
type Row struct {
	Fields   []string
	Source   string
	Priority int
	Index    int
}

// Config configures the Resolver.
type Config struct {
	KeyColumns          []int // indexes into the header for key-based dedup
	CaseInsensitiveKeys bool
	FuzzyThreshold      float64
	TimestampColumn     int // index into the header, for keep-newest/keep-oldest
	CustomEquiv         CustomEquivalence
	CustomResolve       CustomResolver
}

// Resolver decides row equivalence and conflict arbitration for the Merger
// Engine's "smart" family of merge strategies.
type Resolver struct {
	strategy Strategy
	policy   ConflictPolicy
	cfg      Config
	headers  []string
}

// New constructs a Resolver bound to a fixed header vector.
func New(strategy Strategy, policy ConflictPolicy, cfg Config, headers []string) *Resolver {
	return &Resolver{strategy: strategy, policy: policy, cfg: cfg, headers: headers}
}

// Equivalent decides whether two rows are duplicates under the configured
// strategy.
func (r *Resolver) Equivalent(a, b Row) bool {
	switch r.strategy {
	case StrategyExact:
		return equalFields(a.Fields, b.Fields)
	case StrategyKeyBased:
		return r.keyEqual(a.Fields, b.Fields)
	case StrategyFuzzy:
		return r.fuzzyEqual(a.Fields, b.Fields)
	case StrategyContentHash:
		return fingerprint.RowHash(a.Fields) == fingerprint.RowHash(b.Fields)
	case StrategyCustom:
		if r.cfg.CustomEquiv == nil {
			return false
		}
		return r.cfg.CustomEquiv(a.Fields, b.Fields, r.headers)
	default:
		return false
	}
}

// DedupKey returns a stable string key for strategies that support
// incremental clustering via a map (key-based and content-hash); for exact
// and fuzzy it falls back to the full-row hash (exact) or "" (fuzzy, which
// requires pairwise comparison against every existing cluster).
func (r *Resolver) DedupKey(row Row) string {
	switch r.strategy {
	case StrategyKeyBased:
		return r.keyProjection(row.Fields)
	case StrategyContentHash, StrategyExact:
		return fingerprint.RowHash(row.Fields)
	default:
		return ""
	}
}

// RequiresPairwiseScan reports whether a strategy cannot cluster by a
// simple map key and must compare against every existing cluster
// representative (true for fuzzy and custom).
func (r *Resolver) RequiresPairwiseScan() bool {
	return r.strategy == StrategyFuzzy || r.strategy == StrategyCustom
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (r *Resolver) keyProjection(fields []string) string {
	var b strings.Builder
	for _, idx := range r.cfg.KeyColumns {
		v := fieldAt(fields, idx)
		v = strings.TrimSpace(v)
		if r.cfg.CaseInsensitiveKeys {
			v = strings.ToLower(v)
		}
		b.WriteString(v)
		b.WriteByte('\x1f')
	}
	return b.String()
}

func (r *Resolver) keyEqual(a, b []string) bool {
	return r.keyProjection(a) == r.keyProjection(b)
}

func fieldAt(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

// fuzzyEqual implements spec.md's similarity rule: equal row sizes and a
// mean pairwise field similarity at or above the configured threshold.
func (r *Resolver) fuzzyEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	var sum float64
	for i := range a {
		sum += FieldSimilarity(a[i], b[i])
	}
	mean := sum / float64(len(a))
	return mean >= r.cfg.FuzzyThreshold
}

// Resolve picks the winning row from a cluster of equivalent rows under
// the configured conflict policy.
func (r *Resolver) Resolve(cluster []Row) (Row, error) {
	if len(cluster) == 0 {
		return Row{}, errs.New(component, errs.InvalidConfig, "cannot resolve an empty cluster")
	}
	if len(cluster) == 1 {
		return cluster[0], nil
	}
	switch r.policy {
	case PolicyKeepFirst:
		return firstByIndex(cluster), nil
	case PolicyKeepLast:
		return lastByIndex(cluster), nil
	case PolicyKeepNewest:
		return r.byTimestamp(cluster, true), nil
	case PolicyKeepOldest:
		return r.byTimestamp(cluster, false), nil
	case PolicyMergeValues:
		return r.mergeValues(cluster), nil
	case PolicyPrioritySource:
		return byPriority(cluster), nil
	case PolicyCustom:
		if r.cfg.CustomResolve == nil {
			return Row{}, errs.New(component, errs.InvalidConfig, "custom conflict policy set but no CustomResolve provided")
		}
		return r.cfg.CustomResolve(cluster, r.headers), nil
	default:
		return Row{}, errs.New(component, errs.InvalidConfig, "unknown conflict policy")
	}
}

func firstByIndex(cluster []Row) Row {
	best := cluster[0]
	for _, row := range cluster[1:] {
		if row.Index < best.Index {
			best = row
		}
	}
	return best
}

func lastByIndex(cluster []Row) Row {
	best := cluster[0]
	for _, row := range cluster[1:] {
		if row.Index > best.Index {
			best = row
		}
	}
	return best
}

// byTimestamp resolves by parsing r.cfg.TimestampColumn; ties break toward
// the last row when newest is requested, the first row when oldest is
// requested, matching spec.md's tie-break rule.
func (r *Resolver) byTimestamp(cluster []Row, newest bool) Row {
	best := cluster[0]
	bestTS := timestampOf(best.Fields, r.cfg.TimestampColumn)
	for _, row := range cluster[1:] {
		ts := timestampOf(row.Fields, r.cfg.TimestampColumn)
		if newest {
			if ts.After(bestTS) || (ts.Equal(bestTS) && row.Index > best.Index) {
				best, bestTS = row, ts
			}
		} else {
			if ts.Before(bestTS) || (ts.Equal(bestTS) && row.Index < best.Index) {
				best, bestTS = row, ts
			}
		}
	}
	return best
}

func byPriority(cluster []Row) Row {
	best := cluster[0]
	for _, row := range cluster[1:] {
		if row.Priority > best.Priority {
			best = row
		}
	}
	return best
}

// mergeValues takes, per column, the modal non-empty value across the
// cluster. Ties break deterministically toward the value seen first.
func (r *Resolver) mergeValues(cluster []Row) Row {
	width := 0
	for _, row := range cluster {
		if len(row.Fields) > width {
			width = len(row.Fields)
		}
	}
	merged := make([]string, width)
	for col := 0; col < width; col++ {
		counts := make(map[string]int)
		order := make([]string, 0, len(cluster))
		for _, row := range cluster {
			v := fieldAt(row.Fields, col)
			if v == "" {
				continue
			}
			if _, seen := counts[v]; !seen {
				order = append(order, v)
			}
			counts[v]++
		}
		if len(order) == 0 {
			merged[col] = ""
			continue
		}
		sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
		merged[col] = order[0]
	}
	return Row{Fields: merged, Source: "merged", Index: cluster[0].Index}
}
