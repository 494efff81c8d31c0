// Package stage writes per-chunk output into a run-scoped staging area.
// Chunks never touch final partitions directly; they stage one file per
// (partition, chunk) and the pipeline compacts and merges staged files
// after the read loop finishes.
package stage

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/chrscato/workcomp-rates-etl/codec"
	"github.com/chrscato/workcomp-rates-etl/enrich"
	"github.com/chrscato/workcomp-rates-etl/identity"
	"github.com/chrscato/workcomp-rates-etl/model"
	"github.com/chrscato/workcomp-rates-etl/partition"
	"github.com/chrscato/workcomp-rates-etl/store"
)

// Prefix is the root of all staging state inside the store. Everything
// under it is transient and safe to sweep.
const Prefix = "_staging"

// RunPrefix returns the staging root for one run.
func RunPrefix(runID string) string {
	return Prefix + "/" + runID
}

// FactWriter stages enriched rows grouped by their resolved partition. It
// remembers which staged files belong to which final partition so the
// merge phase knows what to collect.
type FactWriter struct {
	store  store.Store
	enc    *partition.Encoder
	prefix string
	logger *zap.Logger

	staged map[string][]string
	rows   int64
}

func NewFactWriter(st store.Store, enc *partition.Encoder, runID string, logger *zap.Logger) *FactWriter {
	return &FactWriter{
		store:  st,
		enc:    enc,
		prefix: RunPrefix(runID),
		logger: logger,
		staged: map[string][]string{},
	}
}

// StagedChunk holds one chunk's staged fact files before they are
// registered for merge. A chunk either commits whole or is discarded whole.
type StagedChunk struct {
	keys map[string]string // final partition path -> staged object key
	rows int64
}

// Files returns how many staged objects the chunk produced.
func (c *StagedChunk) Files() int { return len(c.keys) }

// WriteChunk resolves every row's partition and stages one file per
// partition touched by the chunk. Nothing is visible to the merge phase
// until Commit; on error any objects already written for the chunk are
// deleted so a skipped chunk leaves no partial state behind.
func (w *FactWriter) WriteChunk(ctx context.Context, chunk int, rows []model.EnrichedRate) (*StagedChunk, error) {
	groups := map[string][]model.EnrichedRate{}
	for _, r := range rows {
		path := w.enc.Encode(partition.Resolve(&r))
		groups[path] = append(groups[path], r)
	}

	// Deterministic write order for a given chunk.
	paths := make([]string, 0, len(groups))
	for p := range groups {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	sc := &StagedChunk{keys: map[string]string{}}
	for _, path := range paths {
		data, err := codec.Write(groups[path])
		if err != nil {
			w.Discard(ctx, sc)
			return nil, fmt.Errorf("encoding chunk %d for %s: %w", chunk, path, err)
		}
		// Staging dirs are content-addressed on the final path so hive
		// segments never collide with staging delimiters.
		key := fmt.Sprintf("%s/facts/%s/chunk-%05d.parquet", w.prefix, identity.Hash(path), chunk)
		if err := w.store.Put(ctx, key, data); err != nil {
			w.Discard(ctx, sc)
			return nil, fmt.Errorf("staging chunk %d for %s: %w", chunk, path, err)
		}
		sc.keys[path] = key
		sc.rows += int64(len(groups[path]))
	}

	w.logger.Debug("chunk staged",
		zap.Int("chunk", chunk),
		zap.Int("rows", len(rows)),
		zap.Int("partitions", len(groups)))
	return sc, nil
}

// Commit registers a staged chunk's files for the merge phase.
func (w *FactWriter) Commit(sc *StagedChunk) {
	for path, key := range sc.keys {
		w.staged[path] = append(w.staged[path], key)
	}
	w.rows += sc.rows
}

// Discard deletes an uncommitted chunk's staged objects. Called when a
// later staging step fails and the chunk must be skipped whole.
func (w *FactWriter) Discard(ctx context.Context, sc *StagedChunk) {
	for _, key := range sc.keys {
		if err := w.store.Delete(ctx, key); err != nil {
			w.logger.Warn("discarded staging object not removed",
				zap.String("key", key), zap.Error(err))
		}
	}
	sc.keys = map[string]string{}
	sc.rows = 0
}

// Staged returns staged file keys grouped by final partition path.
func (w *FactWriter) Staged() map[string][]string { return w.staged }

// Partitions returns the touched partition paths, sorted.
func (w *FactWriter) Partitions() []string {
	out := make([]string, 0, len(w.staged))
	for p := range w.staged {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RowsStaged returns the total rows written across all chunks.
func (w *FactWriter) RowsStaged() int64 { return w.rows }

// ScratchPrefix returns where compaction may write intermediate waves for
// a partition's staged files.
func (w *FactWriter) ScratchPrefix(path string) string {
	return fmt.Sprintf("%s/facts/%s/_waves", w.prefix, identity.Hash(path))
}

// Dimension table names, also the staging and output directory names.
const (
	DimCode          = "dim_code"
	DimPayer         = "dim_payer"
	DimProviderGroup = "dim_provider_group"
	DimPosSet        = "dim_pos_set"
)

// DimWriter stages the dimension rows observed per chunk, one file per
// table per chunk.
type DimWriter struct {
	store  store.Store
	prefix string
	logger *zap.Logger

	staged map[string][]string
}

func NewDimWriter(st store.Store, runID string, logger *zap.Logger) *DimWriter {
	return &DimWriter{
		store:  st,
		prefix: RunPrefix(runID),
		logger: logger,
		staged: map[string][]string{},
	}
}

// WriteChunk stages every non-empty dimension table collected for a chunk.
// Registration is all-or-nothing: a failure deletes the tables already
// staged for the chunk before returning.
func (w *DimWriter) WriteChunk(ctx context.Context, chunk int, dims *enrich.Dims) error {
	type staged struct{ table, key string }
	var written []staged

	stages := []struct {
		table string
		write func() (string, error)
	}{
		{DimCode, func() (string, error) { return stageDim(ctx, w, chunk, DimCode, values(dims.Codes)) }},
		{DimPayer, func() (string, error) { return stageDim(ctx, w, chunk, DimPayer, values(dims.Payers)) }},
		{DimProviderGroup, func() (string, error) {
			return stageDim(ctx, w, chunk, DimProviderGroup, values(dims.ProviderGroups))
		}},
		{DimPosSet, func() (string, error) { return stageDim(ctx, w, chunk, DimPosSet, values(dims.PosSets)) }},
	}
	for _, s := range stages {
		key, err := s.write()
		if err != nil {
			for _, p := range written {
				if delErr := w.store.Delete(ctx, p.key); delErr != nil {
					w.logger.Warn("discarded staging object not removed",
						zap.String("key", p.key), zap.Error(delErr))
				}
			}
			return err
		}
		if key != "" {
			written = append(written, staged{s.table, key})
		}
	}
	for _, p := range written {
		w.staged[p.table] = append(w.staged[p.table], p.key)
	}
	return nil
}

// Staged returns staged file keys per dimension table.
func (w *DimWriter) Staged() map[string][]string { return w.staged }

// ScratchPrefix returns the compaction scratch area for a table.
func (w *DimWriter) ScratchPrefix(table string) string {
	return fmt.Sprintf("%s/dims/%s/_waves", w.prefix, table)
}

// stageDim writes one table's rows and returns the staged key, or "" for
// an empty table. Registration is the caller's job.
func stageDim[T any](ctx context.Context, w *DimWriter, chunk int, table string, rows []T) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	data, err := codec.Write(rows)
	if err != nil {
		return "", fmt.Errorf("encoding %s chunk %d: %w", table, chunk, err)
	}
	key := fmt.Sprintf("%s/dims/%s/chunk-%05d.parquet", w.prefix, table, chunk)
	if err := w.store.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("staging %s chunk %d: %w", table, chunk, err)
	}
	return key, nil
}

// values returns map values in sorted key order so staged files are
// deterministic for a given chunk.
func values[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(m))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Sweep removes everything staged under the given run, including scratch
// left behind by interrupted compactions. Returns how many objects were
// removed.
func Sweep(ctx context.Context, st store.Store, runID string, logger *zap.Logger) (int, error) {
	removed, err := sweepPrefix(ctx, st, RunPrefix(runID)+"/")
	if removed > 0 {
		logger.Info("staging swept", zap.String("run_id", runID), zap.Int("objects", removed))
	}
	return removed, err
}

// SweepAll removes staging leftovers from every run, including runs that
// died before sweeping after themselves. The caller must hold the writer
// lease so no live run loses its staged files.
func SweepAll(ctx context.Context, st store.Store, logger *zap.Logger) (int, error) {
	removed, err := sweepPrefix(ctx, st, Prefix+"/")
	if removed > 0 {
		logger.Info("stale staging swept", zap.Int("objects", removed))
	}
	return removed, err
}

func sweepPrefix(ctx context.Context, st store.Store, prefix string) (int, error) {
	keys, err := st.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("listing staging for sweep: %w", err)
	}
	removed := 0
	for _, key := range keys {
		if err := st.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("sweeping %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}
