package enrich

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/chrscato/workcomp-rates-etl/codec"
	"github.com/chrscato/workcomp-rates-etl/identity"
	"github.com/chrscato/workcomp-rates-etl/model"
	"github.com/chrscato/workcomp-rates-etl/refdata"
	"github.com/chrscato/workcomp-rates-etl/store"
)

func record() model.RateRecord {
	return model.RateRecord{
		LastUpdatedOn:          "2025-08-15",
		ReportingEntityName:    "Acme Health Plans, Inc.",
		Version:                "1.0",
		BillingClass:           "professional",
		BillingCodeType:        "CPT",
		BillingCode:            "99213",
		ServiceCodes:           "11,22",
		NegotiatedType:         "negotiated",
		NegotiationArrangement: "ffs",
		NegotiatedRate:         125.5,
		ExpirationDate:         "9999-12-31",
		Description:            "Office visit",
		Name:                   "Office/outpatient visit est",
		ProviderReferenceID:    "pg-100",
	}
}

func catalog(t *testing.T) *refdata.Catalog {
	t.Helper()
	ctx := context.Background()
	st := store.NewFSStore(t.TempDir())
	cfg := refdata.Config{
		CodeCategoryKey:     "ref/cat.parquet",
		ProviderGroupNPIKey: "ref/xref.parquet",
		NPIRegistryKey:      "ref/npi.parquet",
		NPIGeoKey:           "ref/geo.parquet",
	}

	pgUID := identity.GroupUID("acme-health-plans-inc", "1.0", "", "pg-100")

	put := func(key string, data []byte, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("encode %s: %v", key, err)
		}
		if err := st.Put(ctx, key, data); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	cats, err := codec.Write([]model.CodeCategory{
		{ProcCD: "99213", ProcSet: "Evaluation", ProcClass: "Office Visit"},
	})
	put(cfg.CodeCategoryKey, cats, err)
	xref, err := codec.Write([]model.ProviderGroupNPI{
		{PGUID: pgUID, NPI: "1111111111"},
	})
	put(cfg.ProviderGroupNPIKey, xref, err)
	npis, err := codec.Write([]model.NPIRecord{
		{NPI: "1111111111", OrganizationName: "Clinic One", EnumerationType: "NPI-2", PrimaryTaxonomyCode: "207Q00000X"},
	})
	put(cfg.NPIRegistryKey, npis, err)
	geo, err := codec.Write([]model.NPIGeo{
		{NPI: "1111111111", State: "GA", Latitude: 33.7, Longitude: -84.4, CountyName: "Fulton", StatAreaName: "Atlanta"},
	})
	put(cfg.NPIGeoKey, geo, err)

	c, err := refdata.Load(ctx, st, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestEnrichDerivations(t *testing.T) {
	e := New(catalog(t), "GA")
	row := e.Enrich(record())

	if row.PayerSlug != "acme-health-plans-inc" {
		t.Fatalf("PayerSlug = %q", row.PayerSlug)
	}
	if row.YearMonth != "2025-08" {
		t.Fatalf("YearMonth = %q", row.YearMonth)
	}
	if row.State != "GA" {
		t.Fatalf("State = %q", row.State)
	}
	if row.PosSetID != identity.PosSetID([]string{"11", "22"}) {
		t.Fatalf("PosSetID = %q", row.PosSetID)
	}
	if len(row.FactUID) != 32 || len(row.PGUID) != 32 {
		t.Fatalf("UIDs not 32-hex: fact=%q pg=%q", row.FactUID, row.PGUID)
	}
}

func TestEnrichIdentityStability(t *testing.T) {
	e := New(catalog(t), "GA")
	a := e.Enrich(record())
	b := e.Enrich(record())
	if a.FactUID != b.FactUID {
		t.Fatalf("same record produced different fact UIDs: %s vs %s", a.FactUID, b.FactUID)
	}

	r := record()
	r.NegotiatedRate = 125.5000
	if e.Enrich(r).FactUID != a.FactUID {
		t.Fatal("rate precision noise changed the fact UID")
	}

	r.NegotiatedRate = 126
	if e.Enrich(r).FactUID == a.FactUID {
		t.Fatal("rate change did not change the fact UID")
	}
}

func TestEnrichJoinChain(t *testing.T) {
	e := New(catalog(t), "GA")
	row := e.Enrich(record())

	if row.ProcedureSet == nil || *row.ProcedureSet != "Evaluation" {
		t.Fatalf("ProcedureSet = %v", row.ProcedureSet)
	}
	if row.NPI == nil || *row.NPI != "1111111111" {
		t.Fatalf("NPI = %v", row.NPI)
	}
	if row.OrganizationName == nil || *row.OrganizationName != "Clinic One" {
		t.Fatalf("OrganizationName = %v", row.OrganizationName)
	}
	if row.GeoState == nil || *row.GeoState != "GA" {
		t.Fatalf("GeoState = %v", row.GeoState)
	}
	if row.StatAreaName == nil || *row.StatAreaName != "Atlanta" {
		t.Fatalf("StatAreaName = %v", row.StatAreaName)
	}
}

func TestEnrichJoinMiss(t *testing.T) {
	e := New(catalog(t), "GA")
	r := record()
	r.BillingCode = "00000"
	r.ProviderReferenceID = "pg-unknown"
	row := e.Enrich(r)

	// Misses stay nil; the row itself survives.
	if row.ProcedureSet != nil || row.ProcedureClass != nil {
		t.Fatalf("category miss produced values: %v %v", row.ProcedureSet, row.ProcedureClass)
	}
	if row.NPI != nil || row.GeoState != nil || row.StatAreaName != nil {
		t.Fatalf("xref miss leaked joined values: %+v", row)
	}
	if row.FactUID == "" {
		t.Fatal("identity must not depend on joins")
	}
}

func TestEnrichChunkPreservesCount(t *testing.T) {
	e := New(catalog(t), "GA")
	in := []model.RateRecord{record(), record(), record()}
	in[1].BillingCode = "00000"
	out := e.EnrichChunk(in)
	if len(out) != len(in) {
		t.Fatalf("row count changed: %d -> %d", len(in), len(out))
	}
}

func TestDimsObserve(t *testing.T) {
	e := New(catalog(t), "GA")
	d := NewDims()

	r := record()
	row := e.Enrich(r)
	d.Observe(r, row)
	d.Observe(r, row)

	r2 := record()
	r2.BillingCode = "99214"
	d.Observe(r2, e.Enrich(r2))

	if len(d.Codes) != 2 {
		t.Fatalf("Codes = %d, want 2", len(d.Codes))
	}
	if len(d.Payers) != 1 || len(d.ProviderGroups) != 1 || len(d.PosSets) != 1 {
		t.Fatalf("dims not deduplicated: %d payers, %d groups, %d pos sets",
			len(d.Payers), len(d.ProviderGroups), len(d.PosSets))
	}
	ps := d.PosSets[row.PosSetID]
	if ps.PosMembers != "11,22" {
		t.Fatalf("PosMembers = %q", ps.PosMembers)
	}
}
