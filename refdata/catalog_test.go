package refdata

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/chrscato/workcomp-rates-etl/codec"
	"github.com/chrscato/workcomp-rates-etl/model"
	"github.com/chrscato/workcomp-rates-etl/store"
)

func testConfig() Config {
	return Config{
		CodeCategoryKey:     "ref/code_category.parquet",
		ProviderGroupNPIKey: "ref/pg_npi.parquet",
		NPIRegistryKey:      "ref/npi.parquet",
		NPIGeoKey:           "ref/npi_geo.parquet",
	}
}

func seedStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	st := store.NewFSStore(t.TempDir())

	put := func(key string, data []byte, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("encoding %s: %v", key, err)
		}
		if err := st.Put(ctx, key, data); err != nil {
			t.Fatalf("seeding %s: %v", key, err)
		}
	}

	cats, err := codec.Write([]model.CodeCategory{
		{ProcCD: "99213", ProcSet: "Evaluation", ProcClass: "Office Visit"},
		{ProcCD: "470", ProcSet: "Surgery", ProcClass: "Joint Replacement"},
	})
	put(testConfig().CodeCategoryKey, cats, err)

	xref, err := codec.Write([]model.ProviderGroupNPI{
		{PGUID: "pg1", NPI: "1111111111"},
		{PGUID: "pg1", NPI: "2222222222"},
		{PGUID: "pg2", NPI: "3333333333"},
	})
	put(testConfig().ProviderGroupNPIKey, xref, err)

	npis, err := codec.Write([]model.NPIRecord{
		{NPI: "1111111111", OrganizationName: "Clinic One", EnumerationType: "NPI-2", PrimaryTaxonomyCode: "207Q00000X"},
	})
	put(testConfig().NPIRegistryKey, npis, err)

	geo, err := codec.Write([]model.NPIGeo{
		{NPI: "1111111111", State: "GA", StatAreaName: "Atlanta", CountyName: "Fulton"},
	})
	put(testConfig().NPIGeoKey, geo, err)

	return st
}

func TestLoad(t *testing.T) {
	st := seedStore(t)
	c, err := Load(context.Background(), st, testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cat, ok := c.Category("99213")
	if !ok || cat.ProcSet != "Evaluation" {
		t.Fatalf("Category(99213) = %+v, %v", cat, ok)
	}
	if _, ok := c.Category("00000"); ok {
		t.Fatal("unknown code should miss")
	}

	npis := c.GroupNPIs("pg1")
	if len(npis) != 2 || npis[0] != "1111111111" {
		t.Fatalf("GroupNPIs(pg1) = %v", npis)
	}
	if got := c.GroupNPIs("absent"); got != nil {
		t.Fatalf("GroupNPIs(absent) = %v", got)
	}

	rec, ok := c.Registry("1111111111")
	if !ok || rec.OrganizationName != "Clinic One" {
		t.Fatalf("Registry = %+v, %v", rec, ok)
	}

	g, ok := c.Geo("1111111111")
	if !ok || g.State != "GA" || g.StatAreaName != "Atlanta" {
		t.Fatalf("Geo = %+v, %v", g, ok)
	}
	if _, ok := c.Geo("2222222222"); ok {
		t.Fatal("NPI without geo should miss")
	}
}

func TestLoadMissingTable(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t)
	if err := st.Delete(ctx, testConfig().NPIGeoKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := Load(ctx, st, testConfig(), zap.NewNop()); err == nil {
		t.Fatal("expected error when a reference table is missing")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cfg.NPIRegistryKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing registry key")
	}
}
