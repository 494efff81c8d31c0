package main

import (
	"encoding/json"
	"time"
)

// RunSummary is the machine-readable account of one run, printed as JSON
// when the run ends. Partial data loss shows up here as skip counts rather
// than a failed exit.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	State       string    `json:"state"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	DurationSec float64   `json:"duration_seconds"`

	SourceRows int64 `json:"source_rows"`
	RowsRead   int64 `json:"rows_read"`
	RowsStaged int64 `json:"rows_staged"`

	ChunksProcessed int      `json:"chunks_processed"`
	ChunksSkipped   int      `json:"chunks_skipped"`
	ChunkErrors     []string `json:"chunk_errors,omitempty"`

	PartitionsTouched int      `json:"partitions_touched"`
	PartitionsMerged  int      `json:"partitions_merged"`
	PartitionsSkipped int      `json:"partitions_skipped"`
	PartitionErrors   []string `json:"partition_errors,omitempty"`

	RowsAdded    int64 `json:"rows_added"`
	RowsReplaced int64 `json:"rows_replaced"`

	DimRowsMerged map[string]int `json:"dim_rows_merged,omitempty"`

	QualityResults []QualityCheckResult `json:"quality_results,omitempty"`

	CatalogRegistered bool `json:"catalog_registered"`
	StagingSwept      int  `json:"staging_swept"`
}

// Complete stamps the end of the run.
func (s *RunSummary) Complete() {
	s.FinishedAt = time.Now().UTC()
	s.DurationSec = s.FinishedAt.Sub(s.StartedAt).Seconds()
}

// JSON renders the summary for stdout.
func (s *RunSummary) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
