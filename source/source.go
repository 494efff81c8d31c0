// Package source reads raw rate records in bounded slices so the pipeline
// never holds the whole input in memory. Production runs read parquet
// through DuckDB; tests use the CSV source.
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/chrscato/workcomp-rates-etl/model"
)

// Source is a random-access view of the raw fact table.
type Source interface {
	// RowCount returns the total number of rows available.
	RowCount(ctx context.Context) (int64, error)
	// ReadSlice returns up to limit rows starting at offset. A short or
	// empty result past the end is not an error.
	ReadSlice(ctx context.Context, offset, limit int64) ([]model.RateRecord, error)
	// Close releases the underlying handle.
	Close() error
}

// Reader walks a Source in chunks. The chunk size may shrink between calls
// when memory pressure demands it.
type Reader struct {
	src    Source
	offset int64
	total  int64
}

func NewReader(ctx context.Context, src Source) (*Reader, error) {
	total, err := src.RowCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting source rows: %w", err)
	}
	return &Reader{src: src, total: total}, nil
}

// Total returns the row count captured when the reader was opened.
func (r *Reader) Total() int64 { return r.total }

// Offset returns the number of rows consumed so far.
func (r *Reader) Offset() int64 { return r.offset }

// Skip advances past n rows without reading them. Used to give up on a
// chunk that repeatedly fails to read.
func (r *Reader) Skip(n int64) {
	r.offset += n
	if r.offset > r.total {
		r.offset = r.total
	}
}

// Next returns the next chunk of at most size rows, or io.EOF once the
// source is exhausted.
func (r *Reader) Next(ctx context.Context, size int64) ([]model.RateRecord, error) {
	if r.offset >= r.total {
		return nil, io.EOF
	}
	rows, err := r.src.ReadSlice(ctx, r.offset, size)
	if err != nil {
		return nil, fmt.Errorf("reading rows %d..%d: %w", r.offset, r.offset+size, err)
	}
	if len(rows) == 0 {
		return nil, io.EOF
	}
	r.offset += int64(len(rows))
	return rows, nil
}

// CSVSource reads rate records from a headered CSV file. It loads the file
// once and serves slices from memory, which is fine for the fixture-sized
// inputs it exists for.
type CSVSource struct {
	rows []model.RateRecord
}

var _ Source = (*CSVSource)(nil)

func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

func ReadCSV(r io.Reader) (*CSVSource, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	src := &CSVSource{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		rate, err := strconv.ParseFloat(field(rec, "negotiated_rate"), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad negotiated_rate: %w", line, err)
		}
		src.rows = append(src.rows, model.RateRecord{
			LastUpdatedOn:          field(rec, "last_updated_on"),
			ReportingEntityName:    field(rec, "reporting_entity_name"),
			ReportingEntityType:    field(rec, "reporting_entity_type"),
			Version:                field(rec, "version"),
			BillingClass:           field(rec, "billing_class"),
			BillingCodeType:        field(rec, "billing_code_type"),
			BillingCode:            field(rec, "billing_code"),
			ServiceCodes:           field(rec, "service_codes"),
			NegotiatedType:         field(rec, "negotiated_type"),
			NegotiationArrangement: field(rec, "negotiation_arrangement"),
			NegotiatedRate:         rate,
			ExpirationDate:         field(rec, "expiration_date"),
			Description:            field(rec, "description"),
			Name:                   field(rec, "name"),
			ProviderReferenceID:    field(rec, "provider_reference_id"),
		})
	}
	return src, nil
}

func (s *CSVSource) RowCount(context.Context) (int64, error) {
	return int64(len(s.rows)), nil
}

func (s *CSVSource) ReadSlice(_ context.Context, offset, limit int64) ([]model.RateRecord, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("invalid slice offset=%d limit=%d", offset, limit)
	}
	if offset >= int64(len(s.rows)) {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(s.rows)) {
		end = int64(len(s.rows))
	}
	out := make([]model.RateRecord, end-offset)
	copy(out, s.rows[offset:end])
	return out, nil
}

func (s *CSVSource) Close() error { return nil }
