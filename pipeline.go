package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrscato/workcomp-rates-etl/backpressure"
	"github.com/chrscato/workcomp-rates-etl/enrich"
	"github.com/chrscato/workcomp-rates-etl/identity"
	"github.com/chrscato/workcomp-rates-etl/merge"
	"github.com/chrscato/workcomp-rates-etl/metrics"
	"github.com/chrscato/workcomp-rates-etl/model"
	"github.com/chrscato/workcomp-rates-etl/partition"
	"github.com/chrscato/workcomp-rates-etl/refdata"
	"github.com/chrscato/workcomp-rates-etl/source"
	"github.com/chrscato/workcomp-rates-etl/stage"
	"github.com/chrscato/workcomp-rates-etl/store"
)

// Pipeline runs one ingestion: read the source in chunks, enrich, stage by
// partition, then compact and upsert every touched partition. Chunk and
// partition failures are contained and surfaced in the run summary; only
// preflight failures abort the run.
type Pipeline struct {
	cfg       *AppConfig
	logger    *zap.Logger
	store     store.Store
	src       source.Source
	catalog   *refdata.Catalog
	monitor   *backpressure.Monitor
	metrics   *metrics.Metrics
	registrar *Registrar
	runID     string
}

func NewPipeline(cfg *AppConfig, logger *zap.Logger, st store.Store, src source.Source,
	catalog *refdata.Catalog, monitor *backpressure.Monitor, m *metrics.Metrics,
	registrar *Registrar) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		src:       src,
		catalog:   catalog,
		monitor:   monitor,
		metrics:   m,
		registrar: registrar,
		runID:     uuid.NewString(),
	}
}

// Run executes the pipeline end to end and always returns a summary, even
// when it also returns an error.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:       p.runID,
		Service:     p.cfg.Service.Name,
		Environment: p.cfg.Service.Environment,
		State:       p.cfg.Source.State,
		StartedAt:   time.Now().UTC(),
	}
	defer summary.Complete()

	if err := acquireLease(ctx, p.store, p.runID); err != nil {
		return summary, err
	}
	defer func() {
		if err := releaseLease(context.WithoutCancel(ctx), p.store, p.runID); err != nil {
			p.logger.Warn("writer lease not released", zap.Error(err))
		}
	}()

	// With the lease held, staging leftovers can only belong to dead runs.
	if !p.cfg.Processing.KeepStaging {
		if _, err := stage.SweepAll(ctx, p.store, p.logger); err != nil {
			p.logger.Warn("stale staging sweep incomplete", zap.Error(err))
		}
	}

	reader, err := source.NewReader(ctx, p.src)
	if err != nil {
		return summary, err
	}
	summary.SourceRows = reader.Total()
	p.metrics.SetSourceRows(reader.Total())
	p.logger.Info("run started",
		zap.String("run_id", p.runID),
		zap.String("state", p.cfg.Source.State),
		zap.Int64("source_rows", reader.Total()),
		zap.Int64("chunk_size", p.cfg.Processing.ChunkSize))

	enricher := enrich.New(p.catalog, p.cfg.Source.State)
	enc := &partition.Encoder{Prefix: p.cfg.Partitioning.Prefix}
	factWriter := stage.NewFactWriter(p.store, enc, p.runID, p.logger)
	dimWriter := stage.NewDimWriter(p.store, p.runID, p.logger)

	sample := p.stageChunks(ctx, reader, enricher, factWriter, dimWriter, summary)
	summary.RowsStaged = factWriter.RowsStaged()
	staged := 0
	for _, keys := range factWriter.Staged() {
		staged += len(keys)
	}
	p.metrics.SetStagedFiles(staged)

	summary.QualityResults = RunQualityChecks(sample, p.cfg.Quality, p.logger)
	for _, r := range summary.QualityResults {
		if !r.Passed {
			p.metrics.RecordQualityFinding(r.CheckName)
		}
	}

	p.mergeFacts(ctx, factWriter, summary)
	p.mergeDims(ctx, dimWriter, summary)

	if p.registrar != nil {
		if err := p.registrar.Register(ctx, p.cfg.Storage.Bucket, p.cfg.Partitioning.Prefix); err != nil {
			p.logger.Error("catalog registration failed", zap.Error(err))
			p.metrics.RecordError("catalog")
		} else {
			summary.CatalogRegistered = true
		}
	}

	if !p.cfg.Processing.KeepStaging {
		swept, err := stage.Sweep(ctx, p.store, p.runID, p.logger)
		if err != nil {
			p.logger.Warn("staging sweep incomplete", zap.Error(err))
		}
		summary.StagingSwept = swept
	}

	p.logger.Info("run finished",
		zap.String("run_id", p.runID),
		zap.Int64("rows_read", summary.RowsRead),
		zap.Int("chunks_skipped", summary.ChunksSkipped),
		zap.Int("partitions_merged", summary.PartitionsMerged),
		zap.Int("partitions_skipped", summary.PartitionsSkipped),
		zap.Int64("rows_added", summary.RowsAdded))
	return summary, nil
}

// stageChunks drives the read loop. A chunk that fails to read or stage is
// skipped and counted; the loop keeps going. Returns the quality sample.
func (p *Pipeline) stageChunks(ctx context.Context, reader *source.Reader, enricher *enrich.Enricher,
	factWriter *stage.FactWriter, dimWriter *stage.DimWriter, summary *RunSummary) []model.EnrichedRate {

	var (
		sample []model.EnrichedRate
		seen   int64
	)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	chunkSize := p.cfg.Processing.ChunkSize
	p.metrics.SetChunkSize(chunkSize)

	for chunk := 0; ; chunk++ {
		reading := p.monitor.Sample()
		if reading.Level == backpressure.Elevated {
			reading = p.monitor.Reclaim()
		}
		p.metrics.SetMemoryPressure(int(reading.Level))
		if next := p.monitor.Recommend(reading, chunkSize); next != chunkSize {
			chunkSize = next
			p.metrics.SetChunkSize(chunkSize)
		}

		start := time.Now()
		rows, err := reader.Next(ctx, chunkSize)
		if err == io.EOF {
			return sample
		}
		if err != nil {
			p.skipChunk(summary, chunk, fmt.Errorf("read: %w", err))
			reader.Skip(chunkSize)
			continue
		}
		summary.RowsRead += int64(len(rows))
		p.metrics.RecordRowsRead(len(rows))

		enriched := enricher.EnrichChunk(rows)
		dims := enrich.NewDims()
		for i := range rows {
			dims.Observe(rows[i], enriched[i])
		}

		// The chunk commits whole or not at all: fact files stay
		// unregistered until the dims also staged, and a failure on either
		// side deletes whatever the chunk already wrote.
		facts, err := factWriter.WriteChunk(ctx, chunk, enriched)
		if err != nil {
			p.skipChunk(summary, chunk, fmt.Errorf("stage facts: %w", err))
			continue
		}
		if err := dimWriter.WriteChunk(ctx, chunk, dims); err != nil {
			factWriter.Discard(ctx, facts)
			p.skipChunk(summary, chunk, fmt.Errorf("stage dims: %w", err))
			continue
		}
		factWriter.Commit(facts)

		sample, seen = sampleRows(rng, sample, seen, enriched, p.cfg.Quality.SampleSize)

		summary.ChunksProcessed++
		p.metrics.RecordRowsStaged("fact_rate_enriched", len(enriched))
		p.metrics.RecordChunkCompleted("success", time.Since(start).Seconds())
		p.logger.Info("chunk staged",
			zap.Int("chunk", chunk),
			zap.Int("rows", len(rows)),
			zap.Int64("progress", reader.Offset()),
			zap.Int64("total", reader.Total()))
	}
}

// sampleRows keeps a bounded uniform sample of enriched rows across the
// whole run, so the quality gate sees late chunks as readily as early
// ones. Standard reservoir sampling; seen counts rows offered so far.
func sampleRows(rng *rand.Rand, sample []model.EnrichedRate, seen int64, rows []model.EnrichedRate, max int) ([]model.EnrichedRate, int64) {
	for i := range rows {
		seen++
		if len(sample) < max {
			sample = append(sample, rows[i])
			continue
		}
		if j := rng.Int63n(seen); j < int64(max) {
			sample[j] = rows[i]
		}
	}
	return sample, seen
}

func (p *Pipeline) skipChunk(summary *RunSummary, chunk int, err error) {
	summary.ChunksSkipped++
	summary.ChunkErrors = append(summary.ChunkErrors, fmt.Sprintf("chunk %d: %v", chunk, err))
	p.metrics.RecordChunkCompleted("skipped", 0)
	p.metrics.RecordError("stage")
	p.logger.Error("chunk skipped", zap.Int("chunk", chunk), zap.Error(err))
}

// mergeFacts compacts each partition's staged files and upserts the result
// into the final partition object. A failing partition is skipped; its
// staged files stay behind for inspection when keep_staging is set.
func (p *Pipeline) mergeFacts(ctx context.Context, factWriter *stage.FactWriter, summary *RunSummary) {
	staged := factWriter.Staged()
	summary.PartitionsTouched = len(staged)

	// Staged fact files concatenate in order; dedup happens once at the
	// final upsert so last-write-wins sees every staged occurrence.
	compactor := merge.NewCompactor(p.store, merge.ConcatOnly[model.EnrichedRate](), p.cfg.Processing.WaveSize, p.logger)
	merger := merge.NewMerger(p.store, merge.DedupByKey(factKey), p.logger)

	for _, path := range factWriter.Partitions() {
		keys := staged[path]
		start := time.Now()

		rows, err := compactor.Compact(ctx, keys, factWriter.ScratchPrefix(path))
		if err != nil {
			p.skipPartition(summary, path, start, len(keys), fmt.Errorf("compact: %w", err))
			continue
		}
		res, err := merger.Upsert(ctx, path, rows)
		if err != nil {
			p.skipPartition(summary, path, start, len(keys), fmt.Errorf("upsert: %w", err))
			continue
		}

		summary.PartitionsMerged++
		added := res.Added()
		replaced := res.Incoming - added
		if replaced < 0 {
			replaced = 0
		}
		summary.RowsAdded += int64(added)
		summary.RowsReplaced += int64(replaced)
		p.metrics.RecordUpsert(added, replaced)
		p.metrics.RecordPartitionMerged("success", time.Since(start).Seconds(), len(keys))
	}
}

func (p *Pipeline) skipPartition(summary *RunSummary, path string, start time.Time, files int, err error) {
	summary.PartitionsSkipped++
	summary.PartitionErrors = append(summary.PartitionErrors, fmt.Sprintf("%s: %v", path, err))
	p.metrics.RecordPartitionMerged("skipped", time.Since(start).Seconds(), files)
	p.metrics.RecordError("merge")
	p.logger.Error("partition skipped", zap.String("partition", path), zap.Error(err))
}

// mergeDims compacts and upserts each dimension table. Dimension tables are
// single objects under the dim prefix, deduplicated on their natural keys.
func (p *Pipeline) mergeDims(ctx context.Context, dimWriter *stage.DimWriter, summary *RunSummary) {
	staged := dimWriter.Staged()
	summary.DimRowsMerged = map[string]int{}

	mergeDimTable(ctx, p, dimWriter, summary, stage.DimCode, staged[stage.DimCode],
		func(r model.CodeDim) string { return r.CodeType + identity.Delimiter + r.Code })
	mergeDimTable(ctx, p, dimWriter, summary, stage.DimPayer, staged[stage.DimPayer],
		func(r model.PayerDim) string { return r.PayerSlug })
	mergeDimTable(ctx, p, dimWriter, summary, stage.DimProviderGroup, staged[stage.DimProviderGroup],
		func(r model.ProviderGroupDim) string { return r.PGUID })
	mergeDimTable(ctx, p, dimWriter, summary, stage.DimPosSet, staged[stage.DimPosSet],
		func(r model.PosSetDim) string { return r.PosSetID })
}

func mergeDimTable[T any](ctx context.Context, p *Pipeline, dimWriter *stage.DimWriter,
	summary *RunSummary, table string, keys []string, key func(T) string) {
	if len(keys) == 0 {
		return
	}
	compactor := merge.NewCompactor(p.store, merge.DedupByKey(key), p.cfg.Processing.WaveSize, p.logger)
	merger := merge.NewMerger(p.store, merge.DedupByKey(key), p.logger)

	rows, err := compactor.Compact(ctx, keys, dimWriter.ScratchPrefix(table))
	if err != nil {
		p.dimError(summary, table, fmt.Errorf("compact: %w", err))
		return
	}
	dest := fmt.Sprintf("%s/%s.parquet", p.cfg.Partitioning.DimPrefix, table)
	res, err := merger.Upsert(ctx, dest, rows)
	if err != nil {
		p.dimError(summary, table, fmt.Errorf("upsert: %w", err))
		return
	}
	summary.DimRowsMerged[table] = res.Final
	p.metrics.RecordRowsStaged(table, res.Incoming)
}

func (p *Pipeline) dimError(summary *RunSummary, table string, err error) {
	summary.PartitionErrors = append(summary.PartitionErrors, fmt.Sprintf("%s: %v", table, err))
	summary.PartitionsSkipped++
	p.metrics.RecordError("merge")
	p.logger.Error("dimension table skipped", zap.String("table", table), zap.Error(err))
}

func factKey(r model.EnrichedRate) string { return r.FactUID }
