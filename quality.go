package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chrscato/workcomp-rates-etl/model"
	"github.com/chrscato/workcomp-rates-etl/partition"
)

// QualityCheck defines the interface for all data quality checks.
// Each check validates a specific aspect of the enriched output.
type QualityCheck interface {
	// Name returns the unique identifier for this check
	Name() string

	// Type returns the category of check (completeness, validity, etc.)
	Type() string

	// Run executes the check and returns a result
	Run() QualityCheckResult
}

// QualityCheckResult holds the outcome of a quality check. Checks are
// advisory: a failed check is reported and counted, never fatal.
type QualityCheckResult struct {
	CheckName string    // Name of the check that was run
	CheckType string    // Type/category of check
	Passed    bool      // Whether the check passed
	Details   string    // Human-readable details about the result
	RowCount  int       // Number of rows examined
	Findings  int       // Count of offending rows or groups
	CreatedAt time.Time // When the check was performed
}

// QualityConfig sets the advisory thresholds.
type QualityConfig struct {
	// SampleSize caps how many enriched rows are held for quality checks.
	SampleSize int `yaml:"sample_size"`

	// SentinelRatioMax is the default tolerated fraction of sentinel values
	// per partition column. Columns known to join sparsely carry their own
	// ceilings.
	SentinelRatioMax    float64 `yaml:"sentinel_ratio_max"`
	StatAreaSentinelMax float64 `yaml:"stat_area_sentinel_max"`
	TaxonomySentinelMax float64 `yaml:"taxonomy_sentinel_max"`

	// MissingFieldMax is the tolerated fraction of rows whose core fact
	// fields came through empty.
	MissingFieldMax float64 `yaml:"missing_field_max"`

	RateMin float64 `yaml:"rate_min"`
	RateMax float64 `yaml:"rate_max"`

	// Partitions with more rows than CardinalityMinRows but fewer than
	// CardinalityMinGroups distinct provider groups get flagged.
	CardinalityMinRows   int `yaml:"cardinality_min_rows"`
	CardinalityMinGroups int `yaml:"cardinality_min_groups"`
}

func (c *QualityConfig) ApplyDefaults() {
	if c.SampleSize == 0 {
		c.SampleSize = 100_000
	}
	if c.SentinelRatioMax == 0 {
		c.SentinelRatioMax = 0.2
	}
	if c.StatAreaSentinelMax == 0 {
		c.StatAreaSentinelMax = 0.5
	}
	if c.TaxonomySentinelMax == 0 {
		c.TaxonomySentinelMax = 0.3
	}
	if c.MissingFieldMax == 0 {
		c.MissingFieldMax = 0.05
	}
	if c.RateMin == 0 {
		c.RateMin = 0.01
	}
	if c.RateMax == 0 {
		c.RateMax = 1_000_000
	}
	if c.CardinalityMinRows == 0 {
		c.CardinalityMinRows = 10
	}
	if c.CardinalityMinGroups == 0 {
		c.CardinalityMinGroups = 3
	}
}

// ==============================================================================
// ENRICHED OUTPUT QUALITY CHECKS
// ==============================================================================

// SentinelRatioCheck measures how much of each partition column resolved to
// a sentinel instead of a real value. High ratios usually mean a stale or
// mismatched reference table.
type SentinelRatioCheck struct {
	rows []model.EnrichedRate
	cfg  QualityConfig
}

func NewSentinelRatioCheck(rows []model.EnrichedRate, cfg QualityConfig) *SentinelRatioCheck {
	return &SentinelRatioCheck{rows: rows, cfg: cfg}
}

func (c *SentinelRatioCheck) Name() string { return "sentinel_ratio" }

func (c *SentinelRatioCheck) Type() string { return "completeness" }

func (c *SentinelRatioCheck) ceiling(column string) float64 {
	switch column {
	case "stat_area_name":
		return c.cfg.StatAreaSentinelMax
	case "primary_taxonomy_code":
		return c.cfg.TaxonomySentinelMax
	default:
		return c.cfg.SentinelRatioMax
	}
}

func (c *SentinelRatioCheck) Run() QualityCheckResult {
	result := QualityCheckResult{
		CheckName: c.Name(),
		CheckType: c.Type(),
		CreatedAt: time.Now(),
		RowCount:  len(c.rows),
	}
	if len(c.rows) == 0 {
		result.Passed = true
		result.Details = "No rows to check"
		return result
	}

	sentinels := make([]int, len(partition.Columns))
	for i := range c.rows {
		vals := partition.Resolve(&c.rows[i]).Values()
		for j, v := range vals {
			if partition.IsSentinel(v) {
				sentinels[j]++
			}
		}
	}

	var over []string
	for j, col := range partition.Columns {
		ratio := float64(sentinels[j]) / float64(len(c.rows))
		if ratio > c.ceiling(col) {
			over = append(over, fmt.Sprintf("%s=%.1f%%", col, ratio*100))
			result.Findings += sentinels[j]
		}
	}

	if len(over) > 0 {
		result.Passed = false
		result.Details = fmt.Sprintf("Sentinel ratio above threshold: %v", over)
	} else {
		result.Passed = true
		result.Details = fmt.Sprintf("All %d partition columns within sentinel thresholds", len(partition.Columns))
	}
	return result
}

// MissingFieldCheck counts rows whose core fact fields arrived empty. These
// fields come straight from the source, so misses here point at the source
// file rather than enrichment.
type MissingFieldCheck struct {
	rows []model.EnrichedRate
	cfg  QualityConfig
}

func NewMissingFieldCheck(rows []model.EnrichedRate, cfg QualityConfig) *MissingFieldCheck {
	return &MissingFieldCheck{rows: rows, cfg: cfg}
}

func (c *MissingFieldCheck) Name() string { return "missing_core_fields" }

func (c *MissingFieldCheck) Type() string { return "completeness" }

func (c *MissingFieldCheck) Run() QualityCheckResult {
	result := QualityCheckResult{
		CheckName: c.Name(),
		CheckType: c.Type(),
		CreatedAt: time.Now(),
		RowCount:  len(c.rows),
	}
	if len(c.rows) == 0 {
		result.Passed = true
		result.Details = "No rows to check"
		return result
	}

	for i := range c.rows {
		r := &c.rows[i]
		if r.PayerSlug == "" || r.Code == "" || r.BillingClass == "" || r.YearMonth == "" {
			result.Findings++
		}
	}

	ratio := float64(result.Findings) / float64(len(c.rows))
	if ratio > c.cfg.MissingFieldMax {
		result.Passed = false
		result.Details = fmt.Sprintf("%d rows (%.1f%%) missing core fact fields", result.Findings, ratio*100)
	} else {
		result.Passed = true
		result.Details = fmt.Sprintf("%d of %d rows missing core fact fields", result.Findings, len(c.rows))
	}
	return result
}

// RateRangeCheck flags negotiated rates outside the plausible band. Values
// out of band are almost always unit errors upstream.
type RateRangeCheck struct {
	rows []model.EnrichedRate
	cfg  QualityConfig
}

func NewRateRangeCheck(rows []model.EnrichedRate, cfg QualityConfig) *RateRangeCheck {
	return &RateRangeCheck{rows: rows, cfg: cfg}
}

func (c *RateRangeCheck) Name() string { return "rate_range" }

func (c *RateRangeCheck) Type() string { return "validity" }

func (c *RateRangeCheck) Run() QualityCheckResult {
	result := QualityCheckResult{
		CheckName: c.Name(),
		CheckType: c.Type(),
		CreatedAt: time.Now(),
		RowCount:  len(c.rows),
	}

	for i := range c.rows {
		rate := c.rows[i].NegotiatedRate
		if rate < c.cfg.RateMin || rate > c.cfg.RateMax {
			result.Findings++
		}
	}

	if result.Findings > 0 {
		result.Passed = false
		result.Details = fmt.Sprintf("%d rates outside [%.2f, %.2f]", result.Findings, c.cfg.RateMin, c.cfg.RateMax)
	} else {
		result.Passed = true
		result.Details = fmt.Sprintf("All %d rates within [%.2f, %.2f]", len(c.rows), c.cfg.RateMin, c.cfg.RateMax)
	}
	return result
}

// PartitionCardinalityCheck flags partitions that collect plenty of rows
// from suspiciously few provider groups, a signature of a bad join key.
type PartitionCardinalityCheck struct {
	rows []model.EnrichedRate
	cfg  QualityConfig
}

func NewPartitionCardinalityCheck(rows []model.EnrichedRate, cfg QualityConfig) *PartitionCardinalityCheck {
	return &PartitionCardinalityCheck{rows: rows, cfg: cfg}
}

func (c *PartitionCardinalityCheck) Name() string { return "partition_cardinality" }

func (c *PartitionCardinalityCheck) Type() string { return "consistency" }

func (c *PartitionCardinalityCheck) Run() QualityCheckResult {
	result := QualityCheckResult{
		CheckName: c.Name(),
		CheckType: c.Type(),
		CreatedAt: time.Now(),
		RowCount:  len(c.rows),
	}

	type stats struct {
		rows   int
		groups map[string]struct{}
	}
	byPartition := map[partition.Key]*stats{}
	for i := range c.rows {
		k := partition.Resolve(&c.rows[i])
		s, ok := byPartition[k]
		if !ok {
			s = &stats{groups: map[string]struct{}{}}
			byPartition[k] = s
		}
		s.rows++
		s.groups[c.rows[i].PGUID] = struct{}{}
	}

	for _, s := range byPartition {
		if s.rows > c.cfg.CardinalityMinRows && len(s.groups) < c.cfg.CardinalityMinGroups {
			result.Findings++
		}
	}

	if result.Findings > 0 {
		result.Passed = false
		result.Details = fmt.Sprintf("%d of %d partitions have >%d rows from <%d provider groups",
			result.Findings, len(byPartition), c.cfg.CardinalityMinRows, c.cfg.CardinalityMinGroups)
	} else {
		result.Passed = true
		result.Details = fmt.Sprintf("All %d partitions have healthy provider-group cardinality", len(byPartition))
	}
	return result
}

// RunQualityChecks runs every check over the sampled rows and logs the
// outcomes. Failures are advisory; the run proceeds regardless.
func RunQualityChecks(rows []model.EnrichedRate, cfg QualityConfig, logger *zap.Logger) []QualityCheckResult {
	checks := []QualityCheck{
		NewSentinelRatioCheck(rows, cfg),
		NewMissingFieldCheck(rows, cfg),
		NewRateRangeCheck(rows, cfg),
		NewPartitionCardinalityCheck(rows, cfg),
	}

	results := make([]QualityCheckResult, 0, len(checks))
	for _, check := range checks {
		r := check.Run()
		results = append(results, r)
		if r.Passed {
			logger.Info("quality check passed",
				zap.String("check", r.CheckName),
				zap.String("type", r.CheckType),
				zap.String("details", r.Details))
		} else {
			logger.Warn("quality check failed",
				zap.String("check", r.CheckName),
				zap.String("type", r.CheckType),
				zap.Int("findings", r.Findings),
				zap.String("details", r.Details))
		}
	}
	return results
}
