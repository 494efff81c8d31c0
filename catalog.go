package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/athena"
	"github.com/aws/aws-sdk-go/service/athena/athenaiface"
	"go.uber.org/zap"
)

// CatalogConfig controls SQL-catalog registration of the partitioned
// output.
type CatalogConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Database       string `yaml:"database"`
	Table          string `yaml:"table"`
	OutputLocation string `yaml:"output_location"`

	// Projection enums. Partition projection needs the value space spelled
	// out for enum-typed partition columns.
	ProjectedPayers []string `yaml:"projected_payers"`
	ProjectedStates []string `yaml:"projected_states"`
}

func (c *CatalogConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Database == "" || c.Table == "" {
		return fmt.Errorf("catalog: database and table are required when enabled")
	}
	if c.OutputLocation == "" {
		return fmt.Errorf("catalog: output_location is required when enabled")
	}
	return nil
}

// factColumns is the non-partition schema of the fact table, in storage
// order. Partition columns live in the path, not the file.
var factColumns = []struct{ name, typ string }{
	{"fact_uid", "string"},
	{"pg_uid", "string"},
	{"pos_set_id", "string"},
	{"year_month", "string"},
	{"code_type", "string"},
	{"code", "string"},
	{"negotiated_type", "string"},
	{"negotiation_arrangement", "string"},
	{"negotiated_rate", "double"},
	{"expiration_date", "string"},
	{"provider_group_id_raw", "string"},
	{"reporting_entity_name", "string"},
	{"code_description", "string"},
	{"code_name", "string"},
	{"npi", "string"},
	{"organization_name", "string"},
	{"enumeration_type", "string"},
	{"geo_state", "string"},
	{"latitude", "double"},
	{"longitude", "double"},
	{"county_name", "string"},
	{"county_fips", "string"},
	{"stat_area_code", "string"},
}

// RenderCreateTable produces the CREATE EXTERNAL TABLE statement for the
// partitioned fact output, with partition projection so new partitions are
// queryable without a crawler pass.
func RenderCreateTable(cfg CatalogConfig, bucket, prefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE EXTERNAL TABLE IF NOT EXISTS %s.%s (\n", cfg.Database, cfg.Table)
	for i, col := range factColumns {
		sep := ","
		if i == len(factColumns)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "    %s %s%s\n", col.name, col.typ, sep)
	}
	b.WriteString(")\nPARTITIONED BY (\n")
	b.WriteString("    payer_slug string,\n")
	b.WriteString("    state string,\n")
	b.WriteString("    billing_class string,\n")
	b.WriteString("    procedure_set string,\n")
	b.WriteString("    procedure_class string,\n")
	b.WriteString("    primary_taxonomy_code string,\n")
	b.WriteString("    stat_area_name string,\n")
	b.WriteString("    year int,\n")
	b.WriteString("    month int\n")
	b.WriteString(")\nSTORED AS PARQUET\n")
	fmt.Fprintf(&b, "LOCATION 's3://%s/%s/'\n", bucket, prefix)
	b.WriteString("TBLPROPERTIES (\n")
	b.WriteString("    'projection.enabled' = 'true',\n")
	fmt.Fprintf(&b, "    'projection.payer_slug.type' = 'enum',\n")
	fmt.Fprintf(&b, "    'projection.payer_slug.values' = '%s',\n", strings.Join(cfg.ProjectedPayers, ","))
	fmt.Fprintf(&b, "    'projection.state.type' = 'enum',\n")
	fmt.Fprintf(&b, "    'projection.state.values' = '%s',\n", strings.Join(cfg.ProjectedStates, ","))
	b.WriteString("    'projection.billing_class.type' = 'enum',\n")
	b.WriteString("    'projection.billing_class.values' = 'professional,institutional',\n")
	b.WriteString("    'projection.year.type' = 'integer',\n")
	b.WriteString("    'projection.year.range' = '2020,2035',\n")
	b.WriteString("    'projection.month.type' = 'integer',\n")
	b.WriteString("    'projection.month.range' = '1,12',\n")
	fmt.Fprintf(&b, "    'storage.location.template' = 's3://%s/%s/payer_slug=${payer_slug}/state=${state}/billing_class=${billing_class}/procedure_set=${procedure_set}/procedure_class=${procedure_class}/primary_taxonomy_code=${primary_taxonomy_code}/stat_area_name=${stat_area_name}/year=${year}/month=${month}/'\n",
		bucket, prefix)
	b.WriteString(")")
	return b.String()
}

// Registrar submits DDL to Athena and waits for it to land.
type Registrar struct {
	client athenaiface.AthenaAPI
	cfg    CatalogConfig
	logger *zap.Logger
}

func NewRegistrar(client athenaiface.AthenaAPI, cfg CatalogConfig, logger *zap.Logger) *Registrar {
	return &Registrar{client: client, cfg: cfg, logger: logger}
}

// NewRegistrarFromSession dials Athena in the given region.
func NewRegistrarFromSession(region string, cfg CatalogConfig, logger *zap.Logger) (*Registrar, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("creating AWS session for catalog: %w", err)
	}
	return NewRegistrar(athena.New(sess), cfg, logger), nil
}

// Register creates or refreshes the external table over the partitioned
// output. Registration failures are reported to the caller but leave the
// merged data intact.
func (r *Registrar) Register(ctx context.Context, bucket, prefix string) error {
	ddl := RenderCreateTable(r.cfg, bucket, prefix)

	out, err := r.client.StartQueryExecutionWithContext(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(ddl),
		ResultConfiguration: &athena.ResultConfiguration{
			OutputLocation: aws.String(r.cfg.OutputLocation),
		},
	})
	if err != nil {
		return fmt.Errorf("starting catalog registration: %w", err)
	}
	id := aws.StringValue(out.QueryExecutionId)
	r.logger.Info("catalog registration started", zap.String("query_execution_id", id))

	return r.wait(ctx, id)
}

func (r *Registrar) wait(ctx context.Context, id string) error {
	for {
		out, err := r.client.GetQueryExecutionWithContext(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(id),
		})
		if err != nil {
			return fmt.Errorf("polling catalog registration %s: %w", id, err)
		}
		state := aws.StringValue(out.QueryExecution.Status.State)
		switch state {
		case athena.QueryExecutionStateSucceeded:
			r.logger.Info("catalog registration complete", zap.String("query_execution_id", id))
			return nil
		case athena.QueryExecutionStateFailed, athena.QueryExecutionStateCancelled:
			reason := aws.StringValue(out.QueryExecution.Status.StateChangeReason)
			return fmt.Errorf("catalog registration %s %s: %s", id, strings.ToLower(state), reason)
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
