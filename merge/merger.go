package merge

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chrscato/workcomp-rates-etl/codec"
	"github.com/chrscato/workcomp-rates-etl/store"
)

// UpsertResult summarizes one partition upsert.
type UpsertResult struct {
	Existing int
	Incoming int
	Final    int
}

// Added returns how many incoming rows were new to the partition.
func (r UpsertResult) Added() int { return r.Final - r.Existing }

// Merger upserts row batches into single-object partitions. An upsert with
// rows the partition already holds is a no-op, so reruns converge instead
// of accumulating duplicates.
type Merger[T any] struct {
	store    store.Store
	strategy Strategy[T]
	logger   *zap.Logger
}

func NewMerger[T any](st store.Store, strategy Strategy[T], logger *zap.Logger) *Merger[T] {
	return &Merger[T]{store: st, strategy: strategy, logger: logger}
}

// Upsert merges rows into the object at key: read what exists, combine,
// write the result back whole.
func (m *Merger[T]) Upsert(ctx context.Context, key string, rows []T) (UpsertResult, error) {
	var existing []T
	data, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
		existing, err = codec.Read[T](data)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("decoding existing partition %s: %w", key, err)
		}
	case errors.Is(err, store.ErrNotExist):
		// First write into this partition.
	default:
		return UpsertResult{}, fmt.Errorf("reading partition %s: %w", key, err)
	}

	final := m.strategy.Merge(existing, rows)
	out, err := codec.Write(final)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encoding partition %s: %w", key, err)
	}
	if err := m.store.Put(ctx, key, out); err != nil {
		return UpsertResult{}, fmt.Errorf("writing partition %s: %w", key, err)
	}

	res := UpsertResult{Existing: len(existing), Incoming: len(rows), Final: len(final)}
	m.logger.Debug("partition upserted",
		zap.String("key", key),
		zap.Int("existing", res.Existing),
		zap.Int("incoming", res.Incoming),
		zap.Int("final", res.Final))
	return res, nil
}
