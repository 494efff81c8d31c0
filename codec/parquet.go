// Package codec serializes row slices to and from parquet. Every object the
// pipeline stages or merges passes through here, so compression and schema
// handling stay in one place.
package codec

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// Write serializes rows into a single parquet object with zstd compression.
func Write[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows, parquet.Compression(&parquet.Zstd)); err != nil {
		return nil, fmt.Errorf("writing parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// Read deserializes a parquet object into typed rows.
func Read[T any](data []byte) ([]T, error) {
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading parquet: %w", err)
	}
	return rows, nil
}
