package main

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/athena"
	"github.com/aws/aws-sdk-go/service/athena/athenaiface"
	"go.uber.org/zap"
)

func catalogCfg() CatalogConfig {
	return CatalogConfig{
		Enabled:         true,
		Database:        "rates",
		Table:           "fact_rate_enriched",
		OutputLocation:  "s3://results-bucket/athena/",
		ProjectedPayers: []string{"acme-health", "apex-mutual"},
		ProjectedStates: []string{"GA", "FL"},
	}
}

func TestRenderCreateTable(t *testing.T) {
	ddl := RenderCreateTable(catalogCfg(), "data-bucket", "prod/partitioned")

	for _, want := range []string{
		"CREATE EXTERNAL TABLE IF NOT EXISTS rates.fact_rate_enriched",
		"fact_uid string",
		"negotiated_rate double",
		"PARTITIONED BY (",
		"stat_area_name string",
		"STORED AS PARQUET",
		"LOCATION 's3://data-bucket/prod/partitioned/'",
		"'projection.enabled' = 'true'",
		"'projection.payer_slug.values' = 'acme-health,apex-mutual'",
		"'projection.state.values' = 'GA,FL'",
		"payer_slug=${payer_slug}",
		"month=${month}",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("DDL missing %q:\n%s", want, ddl)
		}
	}

	// Partition columns must not repeat in the data column list.
	head := ddl[:strings.Index(ddl, "PARTITIONED BY")]
	for _, col := range []string{"payer_slug", "billing_class ", "procedure_set", "stat_area_name"} {
		if strings.Contains(head, col) {
			t.Errorf("partition column %q duplicated in data columns", col)
		}
	}
}

// fakeAthena scripts query state transitions.
type fakeAthena struct {
	athenaiface.AthenaAPI
	states []string
	polls  int
	ddl    string
}

func (f *fakeAthena) StartQueryExecutionWithContext(_ aws.Context, in *athena.StartQueryExecutionInput, _ ...request.Option) (*athena.StartQueryExecutionOutput, error) {
	f.ddl = aws.StringValue(in.QueryString)
	return &athena.StartQueryExecutionOutput{QueryExecutionId: aws.String("qid-1")}, nil
}

func (f *fakeAthena) GetQueryExecutionWithContext(_ aws.Context, _ *athena.GetQueryExecutionInput, _ ...request.Option) (*athena.GetQueryExecutionOutput, error) {
	state := f.states[f.polls]
	if f.polls < len(f.states)-1 {
		f.polls++
	}
	return &athena.GetQueryExecutionOutput{
		QueryExecution: &athena.QueryExecution{
			Status: &athena.QueryExecutionStatus{
				State:             aws.String(state),
				StateChangeReason: aws.String("scripted"),
			},
		},
	}, nil
}

func TestRegistrarSuccess(t *testing.T) {
	fake := &fakeAthena{states: []string{athena.QueryExecutionStateRunning, athena.QueryExecutionStateSucceeded}}
	r := NewRegistrar(fake, catalogCfg(), zap.NewNop())

	if err := r.Register(context.Background(), "data-bucket", "prod/partitioned"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !strings.Contains(fake.ddl, "LOCATION 's3://data-bucket/prod/partitioned/'") {
		t.Fatalf("DDL not submitted: %s", fake.ddl)
	}
}

func TestRegistrarFailure(t *testing.T) {
	fake := &fakeAthena{states: []string{athena.QueryExecutionStateFailed}}
	r := NewRegistrar(fake, catalogCfg(), zap.NewNop())

	err := r.Register(context.Background(), "data-bucket", "prod/partitioned")
	if err == nil || !strings.Contains(err.Error(), "scripted") {
		t.Fatalf("expected failure with reason, got %v", err)
	}
}

func TestCatalogConfigValidate(t *testing.T) {
	cfg := catalogCfg()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cfg.OutputLocation = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing output location")
	}
	// Disabled configs skip validation entirely.
	cfg.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled config rejected: %v", err)
	}
}
