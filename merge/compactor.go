package merge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chrscato/workcomp-rates-etl/codec"
	"github.com/chrscato/workcomp-rates-etl/store"
)

// DefaultWaveSize bounds how many staged files one compaction wave reads
// into memory at once.
const DefaultWaveSize = 10

// Compactor collapses many staged objects into one, reading at most a wave
// of files at a time. Wide chunk fan-out merges in log-depth waves instead
// of one unbounded read.
type Compactor[T any] struct {
	store    store.Store
	strategy Strategy[T]
	waveSize int
	logger   *zap.Logger
}

func NewCompactor[T any](st store.Store, strategy Strategy[T], waveSize int, logger *zap.Logger) *Compactor[T] {
	if waveSize <= 1 {
		waveSize = DefaultWaveSize
	}
	return &Compactor[T]{store: st, strategy: strategy, waveSize: waveSize, logger: logger}
}

// Compact merges the objects at keys into a single row set. Intermediate
// wave results are written back to the store under scratchPrefix so no wave
// ever holds more than waveSize files of rows, then cleaned up.
func (c *Compactor[T]) Compact(ctx context.Context, keys []string, scratchPrefix string) ([]T, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	// A single staged file needs no wave pass.
	if len(keys) == 1 {
		return c.read(ctx, keys[0])
	}

	level := 0
	current := keys
	var scratch []string
	defer func() {
		for _, key := range scratch {
			if err := c.store.Delete(ctx, key); err != nil {
				c.logger.Warn("leaving compaction scratch behind",
					zap.String("key", key), zap.Error(err))
			}
		}
	}()

	for len(current) > c.waveSize {
		var next []string
		for start := 0; start < len(current); start += c.waveSize {
			end := start + c.waveSize
			if end > len(current) {
				end = len(current)
			}
			rows, err := c.merge(ctx, current[start:end])
			if err != nil {
				return nil, err
			}
			data, err := codec.Write(rows)
			if err != nil {
				return nil, fmt.Errorf("encoding compaction wave: %w", err)
			}
			key := fmt.Sprintf("%s/wave-%d-%d.parquet", scratchPrefix, level, start/c.waveSize)
			if err := c.store.Put(ctx, key, data); err != nil {
				return nil, fmt.Errorf("writing compaction wave %s: %w", key, err)
			}
			scratch = append(scratch, key)
			next = append(next, key)
		}
		c.logger.Debug("compaction wave complete",
			zap.Int("level", level),
			zap.Int("inputs", len(current)),
			zap.Int("outputs", len(next)))
		current = next
		level++
	}
	return c.merge(ctx, current)
}

func (c *Compactor[T]) merge(ctx context.Context, keys []string) ([]T, error) {
	batches := make([][]T, 0, len(keys))
	for _, key := range keys {
		rows, err := c.read(ctx, key)
		if err != nil {
			return nil, err
		}
		batches = append(batches, rows)
	}
	return c.strategy.Merge(batches...), nil
}

func (c *Compactor[T]) read(ctx context.Context, key string) ([]T, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading staged file %s: %w", key, err)
	}
	rows, err := codec.Read[T](data)
	if err != nil {
		return nil, fmt.Errorf("decoding staged file %s: %w", key, err)
	}
	return rows, nil
}
