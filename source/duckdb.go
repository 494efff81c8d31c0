package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/chrscato/workcomp-rates-etl/model"
)

// columns is the projection read from the source parquet, in RateRecord
// field order.
const columns = `last_updated_on, reporting_entity_name, reporting_entity_type,
	version, billing_class, billing_code_type, billing_code, service_codes,
	negotiated_type, negotiation_arrangement, negotiated_rate,
	expiration_date, description, name, provider_reference_id`

// ParquetSource reads the raw fact table from a parquet file through an
// in-process DuckDB. DuckDB pushes the LIMIT/OFFSET down into the parquet
// row groups, so slices stay cheap even on large inputs.
type ParquetSource struct {
	db   *sql.DB
	path string
}

var _ Source = (*ParquetSource)(nil)

// OpenParquet opens a parquet source. The path may be local or, with the
// httpfs extension available, an s3:// URL.
func OpenParquet(path string) (*ParquetSource, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	return &ParquetSource{db: db, path: path}, nil
}

func (s *ParquetSource) RowCount(ctx context.Context) (int64, error) {
	var n int64
	q := "SELECT count(*) FROM read_parquet(?)"
	if err := s.db.QueryRowContext(ctx, q, s.path).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", s.path, err)
	}
	return n, nil
}

func (s *ParquetSource) ReadSlice(ctx context.Context, offset, limit int64) ([]model.RateRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM read_parquet(?) LIMIT ? OFFSET ?", columns)
	rows, err := s.db.QueryContext(ctx, q, s.path, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.path, err)
	}
	defer rows.Close()

	var out []model.RateRecord
	for rows.Next() {
		var r model.RateRecord
		var (
			lastUpdated, entityName, entityType, version   sql.NullString
			billingClass, codeType, code, serviceCodes     sql.NullString
			negType, negArrangement, expiration            sql.NullString
			description, name, providerRef                 sql.NullString
			rate                                           sql.NullFloat64
		)
		err := rows.Scan(&lastUpdated, &entityName, &entityType, &version,
			&billingClass, &codeType, &code, &serviceCodes,
			&negType, &negArrangement, &rate,
			&expiration, &description, &name, &providerRef)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.LastUpdatedOn = lastUpdated.String
		r.ReportingEntityName = entityName.String
		r.ReportingEntityType = entityType.String
		r.Version = version.String
		r.BillingClass = billingClass.String
		r.BillingCodeType = codeType.String
		r.BillingCode = code.String
		r.ServiceCodes = serviceCodes.String
		r.NegotiatedType = negType.String
		r.NegotiationArrangement = negArrangement.String
		r.NegotiatedRate = rate.Float64
		r.ExpirationDate = expiration.String
		r.Description = description.String
		r.Name = name.String
		r.ProviderReferenceID = providerRef.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", s.path, err)
	}
	return out, nil
}

func (s *ParquetSource) Close() error {
	return s.db.Close()
}
