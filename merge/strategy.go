// Package merge implements the idempotent combination of row batches: the
// strategy that collapses duplicates, the partition upserter, and the
// bounded-wave compactor for staged files.
package merge

// Strategy defines how row batches combine. A nil Key concatenates without
// deduplication; a non-nil Key deduplicates, with later rows replacing
// earlier rows that share a key.
type Strategy[T any] struct {
	Key func(T) string
}

// ConcatOnly appends batches without collapsing anything.
func ConcatOnly[T any]() Strategy[T] {
	return Strategy[T]{}
}

// DedupByKey collapses rows sharing a key, last write wins.
func DedupByKey[T any](key func(T) string) Strategy[T] {
	return Strategy[T]{Key: key}
}

// Merge combines batches in order. With deduplication, a row keeps the
// position of its key's first appearance but carries the value of its last,
// so merging is stable and replaying input is a no-op.
func (s Strategy[T]) Merge(batches ...[]T) []T {
	var total int
	for _, b := range batches {
		total += len(b)
	}
	if s.Key == nil {
		out := make([]T, 0, total)
		for _, b := range batches {
			out = append(out, b...)
		}
		return out
	}

	out := make([]T, 0, total)
	seen := make(map[string]int, total)
	for _, b := range batches {
		for _, row := range b {
			k := s.Key(row)
			if i, ok := seen[k]; ok {
				out[i] = row
				continue
			}
			seen[k] = len(out)
			out = append(out, row)
		}
	}
	return out
}
