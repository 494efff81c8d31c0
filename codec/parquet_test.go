package codec

import (
	"testing"

	"github.com/chrscato/workcomp-rates-etl/model"
)

func TestRoundTrip(t *testing.T) {
	desc := "Office visit"
	in := []model.EnrichedRate{
		{
			FactUID:         "a1b2",
			PayerSlug:       "acme-health",
			YearMonth:       "2025-08",
			Code:            "99213",
			CodeType:        "CPT",
			BillingClass:    "professional",
			NegotiatedRate:  125.5,
			CodeDescription: &desc,
		},
		{
			FactUID:        "c3d4",
			PayerSlug:      "acme-health",
			YearMonth:      "2025-08",
			Code:           "99214",
			CodeType:       "CPT",
			BillingClass:   "professional",
			NegotiatedRate: 180,
		},
	}

	data, err := Write(in)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read[model.EnrichedRate](data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d rows, want %d", len(out), len(in))
	}
	if out[0].FactUID != "a1b2" || out[1].FactUID != "c3d4" {
		t.Fatalf("row order or keys lost: %+v", out)
	}
	if out[0].CodeDescription == nil || *out[0].CodeDescription != desc {
		t.Fatalf("optional column lost: %+v", out[0])
	}
	if out[1].CodeDescription != nil {
		t.Fatalf("nil optional column materialized: %+v", out[1])
	}
}

func TestReadGarbage(t *testing.T) {
	if _, err := Read[model.EnrichedRate]([]byte("not parquet")); err == nil {
		t.Fatal("expected error for invalid parquet data")
	}
}
