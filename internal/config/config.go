// Package config loads the YAML configuration driving the writer, merger
// and delta components, following the teacher's Load/ApplyDefaults/Validate
// shape but parsing directly with gopkg.in/yaml.v3 instead of a hand-rolled
// parser — yaml.v3 covers everything the hand-rolled parser did and more, so
// keeping the custom one around would just be dead weight.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document for a csvpipe run.
type Config struct {
	Writer  WriterConfig  `yaml:"writer"`
	Merger  MergerConfig  `yaml:"merger"`
	Delta   DeltaConfig   `yaml:"delta"`
	Logging LoggingConfig `yaml:"logging"`
	Lock    LockConfig    `yaml:"lock"`

	path string
}

// WriterConfig configures the Batch Writer (component C).
type WriterConfig struct {
	OutputPath         string        `yaml:"outputPath"`
	Delimiter          string        `yaml:"delimiter"`
	QuoteChar          string        `yaml:"quoteChar"`
	AlwaysQuote        bool          `yaml:"alwaysQuote"`
	WriteBOM           bool          `yaml:"writeBom"`
	Trigger            string        `yaml:"trigger"` // manual, by-row-count, by-buffer-bytes, by-time-interval, mixed
	FlushRowThreshold  int           `yaml:"flushRowThreshold"`
	FlushByteThreshold int64         `yaml:"flushByteThreshold"`
	FlushInterval      time.Duration `yaml:"flushInterval"`
	MaxFieldBytes      int           `yaml:"maxFieldBytes"`
	ContinueOnError    bool          `yaml:"continueOnError"`
	Compression        string        `yaml:"compression"` // none, gzip, zlib, lz4, auto
	CompressionLevel   int           `yaml:"compressionLevel"`
	RateLimitRowsPerSec float64      `yaml:"rateLimitRowsPerSecond"`
	RetryMaxAttempts   int           `yaml:"retryMaxAttempts"`
	RetryBaseDelay     time.Duration `yaml:"retryBaseDelay"`
}

// MergerConfig configures the Merger Engine (component E).
type MergerConfig struct {
	Strategy               string   `yaml:"strategy"` // append, smart, priority, time-based, schema-aware
	DedupStrategy          string   `yaml:"dedupStrategy"`
	ConflictPolicy         string   `yaml:"conflictPolicy"`
	PrioritySources        []string `yaml:"prioritySources"`
	KeyColumns             []string `yaml:"keyColumns"`
	TimeColumn             string   `yaml:"timeColumn"`
	SimilarityThreshold    float64  `yaml:"similarityThreshold"`
	ChunkSizeBytes         int64    `yaml:"chunkSizeBytes"`
	MemoryBudgetBytes      int64    `yaml:"memoryBudgetBytes"`
	ParallelFiles          int      `yaml:"parallelFiles"`
	UseDistributedLock     bool     `yaml:"useDistributedLock"`
	ContinueOnError        bool     `yaml:"continueOnError"`
	StrictSchemaValidation bool     `yaml:"strictSchemaValidation"`
	RegexExcludePatterns   []string `yaml:"regexExcludePatterns"`
	ColumnMappings         map[string]string `yaml:"columnMappings"`
	OutputPath             string   `yaml:"outputPath"`
}

// DeltaConfig configures the Change Detector and Delta Codec (F and G).
type DeltaConfig struct {
	DetectionMode       string   `yaml:"detectionMode"` // content-hash, field-by-field, key-based, semantic, timestamp-based
	CodecAlgorithm      string   `yaml:"codecAlgorithm"` // none, rle, delta-integer, dictionary, lz77, hybrid
	KeyColumns          []string `yaml:"keyColumns"`
	TimestampColumn     string   `yaml:"timestampColumn"`
	SimilarityThreshold float64  `yaml:"similarityThreshold"`
}

// LoggingConfig configures the shared logger.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"` // debug, info, warn, error
}

// LockConfig configures the optional Redis-backed distributed lock used to
// serialize merges across multiple processes.
type LockConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ValidationError collects all configuration issues found during Validate,
// so callers see every problem in one pass instead of one-at-a-time.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid configuration")
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	for _, msg := range e.Errors {
		b.WriteString("\n - ")
		b.WriteString(msg)
	}
	return b.String()
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file %s: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", absPath, err)
	}
	cfg.path = absPath
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in zero-valued fields with csvpipe's defaults.
func (c *Config) ApplyDefaults() {
	if c.Writer.Delimiter == "" {
		c.Writer.Delimiter = ","
	}
	if c.Writer.QuoteChar == "" {
		c.Writer.QuoteChar = `"`
	}
	if c.Writer.FlushRowThreshold <= 0 {
		c.Writer.FlushRowThreshold = 1000
	}
	if c.Writer.FlushByteThreshold <= 0 {
		c.Writer.FlushByteThreshold = 4 << 20 // 4 MiB
	}
	if c.Writer.FlushInterval <= 0 {
		c.Writer.FlushInterval = 5 * time.Second
	}
	if c.Writer.Compression == "" {
		c.Writer.Compression = "none"
	}
	if c.Writer.CompressionLevel == 0 {
		c.Writer.CompressionLevel = 6
	}
	if c.Writer.Trigger == "" {
		c.Writer.Trigger = "mixed"
	}
	if c.Writer.MaxFieldBytes <= 0 {
		c.Writer.MaxFieldBytes = 1 << 20 // 1 MiB
	}
	if c.Writer.RetryMaxAttempts <= 0 {
		c.Writer.RetryMaxAttempts = 3
	}
	if c.Writer.RetryBaseDelay <= 0 {
		c.Writer.RetryBaseDelay = 100 * time.Millisecond
	}

	if c.Merger.Strategy == "" {
		c.Merger.Strategy = "smart"
	}
	if c.Merger.DedupStrategy == "" {
		c.Merger.DedupStrategy = "exact"
	}
	if c.Merger.ConflictPolicy == "" {
		c.Merger.ConflictPolicy = "keep-newest"
	}
	if c.Merger.SimilarityThreshold <= 0 {
		c.Merger.SimilarityThreshold = 0.85
	}
	if c.Merger.ChunkSizeBytes <= 0 {
		c.Merger.ChunkSizeBytes = 16 << 20 // 16 MiB
	}
	if c.Merger.ParallelFiles <= 0 {
		c.Merger.ParallelFiles = 4
	}
	if c.Merger.MemoryBudgetBytes <= 0 {
		c.Merger.MemoryBudgetBytes = 256 << 20 // 256 MiB
	}

	if c.Delta.DetectionMode == "" {
		c.Delta.DetectionMode = "content-hash"
	}
	if c.Delta.CodecAlgorithm == "" {
		c.Delta.CodecAlgorithm = "hybrid"
	}
	if c.Delta.SimilarityThreshold <= 0 {
		c.Delta.SimilarityThreshold = 0.9
	}

	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Lock.Addr != "" && c.Lock.TTL <= 0 {
		c.Lock.TTL = 30 * time.Second
	}
}

var validCompression = map[string]bool{"none": true, "gzip": true, "zlib": true, "lz4": true, "auto": true}
var validTrigger = map[string]bool{
	"manual": true, "by-row-count": true, "by-buffer-bytes": true, "by-time-interval": true, "mixed": true,
}
var validMergeStrategy = map[string]bool{"append": true, "smart": true, "priority": true, "time-based": true, "schema-aware": true}
var validDedupStrategy = map[string]bool{"exact": true, "fuzzy": true, "key-based": true, "content-hash": true, "custom": true}
var validConflictPolicy = map[string]bool{
	"keep-first": true, "keep-last": true, "keep-newest": true, "keep-oldest": true,
	"merge-values": true, "priority-source": true, "custom": true,
}
var validDetectionMode = map[string]bool{
	"content-hash": true, "field-by-field": true, "key-based": true, "semantic": true, "timestamp-based": true,
}
var validCodec = map[string]bool{
	"none": true, "rle": true, "delta-integer": true, "dictionary": true, "lz77": true, "hybrid": true,
}

// Validate reports every configuration problem found, rather than stopping
// at the first one.
func (c *Config) Validate() error {
	var errs []string

	if !validCompression[c.Writer.Compression] {
		errs = append(errs, fmt.Sprintf("writer.compression: unknown algorithm %q", c.Writer.Compression))
	}
	if !validTrigger[c.Writer.Trigger] {
		errs = append(errs, fmt.Sprintf("writer.trigger: unknown trigger %q", c.Writer.Trigger))
	}
	if c.Writer.FlushRowThreshold <= 0 {
		errs = append(errs, "writer.flushRowThreshold must be > 0")
	}
	if c.Writer.RetryMaxAttempts <= 0 {
		errs = append(errs, "writer.retryMaxAttempts must be > 0")
	}

	if !validMergeStrategy[c.Merger.Strategy] {
		errs = append(errs, fmt.Sprintf("merger.strategy: unknown strategy %q", c.Merger.Strategy))
	}
	if !validDedupStrategy[c.Merger.DedupStrategy] {
		errs = append(errs, fmt.Sprintf("merger.dedupStrategy: unknown strategy %q", c.Merger.DedupStrategy))
	}
	if !validConflictPolicy[c.Merger.ConflictPolicy] {
		errs = append(errs, fmt.Sprintf("merger.conflictPolicy: unknown policy %q", c.Merger.ConflictPolicy))
	}
	if c.Merger.Strategy == "priority" && len(c.Merger.PrioritySources) == 0 {
		errs = append(errs, "merger.prioritySources required when merger.strategy is \"priority\"")
	}
	if c.Merger.ConflictPolicy == "priority-source" && len(c.Merger.PrioritySources) == 0 {
		errs = append(errs, "merger.prioritySources required when merger.conflictPolicy is \"priority-source\"")
	}
	if c.Merger.DedupStrategy == "key-based" && len(c.Merger.KeyColumns) == 0 {
		errs = append(errs, "merger.keyColumns required when merger.dedupStrategy is \"key-based\"")
	}
	if c.Merger.Strategy == "time-based" && c.Merger.TimeColumn == "" {
		errs = append(errs, "merger.timeColumn required when merger.strategy is \"time-based\"")
	}
	if c.Merger.SimilarityThreshold < 0 || c.Merger.SimilarityThreshold > 1 {
		errs = append(errs, "merger.similarityThreshold must be in [0, 1]")
	}
	if c.Merger.UseDistributedLock && c.Lock.Addr == "" {
		errs = append(errs, "lock.addr required when merger.useDistributedLock is true")
	}

	if !validDetectionMode[c.Delta.DetectionMode] {
		errs = append(errs, fmt.Sprintf("delta.detectionMode: unknown mode %q", c.Delta.DetectionMode))
	}
	if !validCodec[c.Delta.CodecAlgorithm] {
		errs = append(errs, fmt.Sprintf("delta.codecAlgorithm: unknown algorithm %q", c.Delta.CodecAlgorithm))
	}
	if c.Delta.DetectionMode == "key-based" && len(c.Delta.KeyColumns) == 0 {
		errs = append(errs, "delta.keyColumns required when delta.detectionMode is \"key-based\"")
	}
	if c.Delta.DetectionMode == "timestamp-based" && c.Delta.TimestampColumn == "" {
		errs = append(errs, "delta.timestampColumn required when delta.detectionMode is \"timestamp-based\"")
	}

	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}
