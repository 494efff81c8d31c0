// Package metrics provides Prometheus metrics for the rate ingestion
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	// Counters
	RowsRead          prometheus.Counter
	RowsStaged        *prometheus.CounterVec
	ChunksCompleted   *prometheus.CounterVec
	PartitionsMerged  *prometheus.CounterVec
	RowsUpserted      *prometheus.CounterVec
	QualityFindings   *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	// Gauges
	CurrentChunkSize  prometheus.Gauge
	MemoryPressure    prometheus.Gauge
	StagedFiles       prometheus.Gauge
	SourceRowsTotal   prometheus.Gauge

	// Histograms
	ChunkDuration     prometheus.Histogram
	MergeDuration     prometheus.Histogram
	CompactionWaves   prometheus.Histogram

	registry *prometheus.Registry
	enabled  bool
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g., ":9090"
}

// ApplyDefaults sets default values for metrics config.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = ":9090"
	}
}

// New creates a new metrics instance. Disabled metrics are safe to record
// into; every helper no-ops.
func New(cfg Config) *Metrics {
	cfg.ApplyDefaults()

	m := &Metrics{
		enabled:  cfg.Enabled,
		registry: prometheus.NewRegistry(),
	}
	if !cfg.Enabled {
		return m
	}

	m.RowsRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rates",
		Name:      "rows_read_total",
		Help:      "Total source rows read",
	})
	m.RowsStaged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rates",
		Name:      "rows_staged_total",
		Help:      "Total rows staged by table",
	}, []string{"table"})
	m.ChunksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rates",
		Name:      "chunks_completed_total",
		Help:      "Total chunks completed",
	}, []string{"status"}) // "success", "skipped"
	m.PartitionsMerged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rates",
		Name:      "partitions_merged_total",
		Help:      "Total partition upserts",
	}, []string{"status"}) // "success", "skipped"
	m.RowsUpserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rates",
		Name:      "rows_upserted_total",
		Help:      "Rows written to final partitions by outcome",
	}, []string{"outcome"}) // "added", "replaced"
	m.QualityFindings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rates",
		Name:      "quality_findings_total",
		Help:      "Advisory data-quality findings by check",
	}, []string{"check"})
	m.ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rates",
		Name:      "errors_total",
		Help:      "Total errors by stage",
	}, []string{"stage"}) // "source", "stage", "compact", "merge"

	m.CurrentChunkSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rates",
		Name:      "current_chunk_size",
		Help:      "Rows per chunk currently in effect",
	})
	m.MemoryPressure = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rates",
		Name:      "memory_pressure_level",
		Help:      "Memory pressure level (0 nominal, 1 elevated, 2 critical)",
	})
	m.StagedFiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rates",
		Name:      "staged_files",
		Help:      "Staged files awaiting merge",
	})
	m.SourceRowsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rates",
		Name:      "source_rows_total",
		Help:      "Total rows in the source being processed",
	})

	m.ChunkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rates",
		Name:      "chunk_duration_seconds",
		Help:      "Time to read, enrich, and stage one chunk",
		Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	})
	m.MergeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rates",
		Name:      "merge_duration_seconds",
		Help:      "Time to compact and upsert one partition",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
	m.CompactionWaves = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rates",
		Name:      "compaction_input_files",
		Help:      "Staged files per partition at merge time",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	m.registry.MustRegister(
		m.RowsRead,
		m.RowsStaged,
		m.ChunksCompleted,
		m.PartitionsMerged,
		m.RowsUpserted,
		m.QualityFindings,
		m.ErrorsTotal,
		m.CurrentChunkSize,
		m.MemoryPressure,
		m.StagedFiles,
		m.SourceRowsTotal,
		m.ChunkDuration,
		m.MergeDuration,
		m.CompactionWaves,
	)
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts a metrics HTTP server.
func (m *Metrics) StartServer(addr string) error {
	if !m.enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return http.ListenAndServe(addr, mux)
}

// IsEnabled returns true if metrics are enabled.
func (m *Metrics) IsEnabled() bool {
	return m.enabled
}

// Helper methods for common operations.

func (m *Metrics) RecordRowsRead(n int) {
	if m.enabled && m.RowsRead != nil {
		m.RowsRead.Add(float64(n))
	}
}

func (m *Metrics) RecordRowsStaged(table string, n int) {
	if m.enabled && m.RowsStaged != nil {
		m.RowsStaged.WithLabelValues(table).Add(float64(n))
	}
}

func (m *Metrics) RecordChunkCompleted(status string, elapsed float64) {
	if m.enabled && m.ChunksCompleted != nil {
		m.ChunksCompleted.WithLabelValues(status).Inc()
		m.ChunkDuration.Observe(elapsed)
	}
}

func (m *Metrics) RecordPartitionMerged(status string, elapsed float64, inputFiles int) {
	if m.enabled && m.PartitionsMerged != nil {
		m.PartitionsMerged.WithLabelValues(status).Inc()
		m.MergeDuration.Observe(elapsed)
		m.CompactionWaves.Observe(float64(inputFiles))
	}
}

func (m *Metrics) RecordUpsert(added, replaced int) {
	if m.enabled && m.RowsUpserted != nil {
		m.RowsUpserted.WithLabelValues("added").Add(float64(added))
		m.RowsUpserted.WithLabelValues("replaced").Add(float64(replaced))
	}
}

func (m *Metrics) RecordQualityFinding(check string) {
	if m.enabled && m.QualityFindings != nil {
		m.QualityFindings.WithLabelValues(check).Inc()
	}
}

func (m *Metrics) RecordError(stage string) {
	if m.enabled && m.ErrorsTotal != nil {
		m.ErrorsTotal.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) SetChunkSize(n int64) {
	if m.enabled && m.CurrentChunkSize != nil {
		m.CurrentChunkSize.Set(float64(n))
	}
}

func (m *Metrics) SetMemoryPressure(level int) {
	if m.enabled && m.MemoryPressure != nil {
		m.MemoryPressure.Set(float64(level))
	}
}

func (m *Metrics) SetStagedFiles(n int) {
	if m.enabled && m.StagedFiles != nil {
		m.StagedFiles.Set(float64(n))
	}
}

func (m *Metrics) SetSourceRows(n int64) {
	if m.enabled && m.SourceRowsTotal != nil {
		m.SourceRowsTotal.Set(float64(n))
	}
}
