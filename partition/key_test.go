package partition

import (
	"testing"

	"github.com/chrscato/workcomp-rates-etl/model"
)

func strptr(s string) *string { return &s }

func TestResolveFullRow(t *testing.T) {
	r := &model.EnrichedRate{
		PayerSlug:           "acme-health",
		State:               "GA",
		BillingClass:        "professional",
		YearMonth:           "2025-08",
		GeoState:            strptr("FL"),
		ProcedureSet:        strptr("Surgery"),
		ProcedureClass:      strptr("CPT"),
		PrimaryTaxonomyCode: strptr("207Q00000X"),
		StatAreaName:        strptr("Atlanta-Sandy Springs"),
	}

	k := Resolve(r)
	if k.PayerSlug != "acme-health" || k.BillingClass != "professional" {
		t.Fatalf("direct columns not carried: %+v", k)
	}
	// The geocoded state wins over the fact-side state.
	if k.State != "FL" {
		t.Fatalf("expected geo state FL, got %q", k.State)
	}
	if k.Year != "2025" || k.Month != "08" {
		t.Fatalf("year/month split wrong: %q %q", k.Year, k.Month)
	}
}

func TestResolveTotality(t *testing.T) {
	// A row with nothing set still resolves, with only sentinels.
	k := Resolve(&model.EnrichedRate{})

	for i, v := range k.Values() {
		if v == "" {
			t.Fatalf("column %s resolved to empty string", Columns[i])
		}
		if !IsSentinel(v) {
			t.Fatalf("column %s: expected sentinel for empty row, got %q", Columns[i], v)
		}
	}
	if k.Year != SentinelMissing || k.Month != SentinelMissing {
		t.Fatalf("expected missing time bucket, got %q/%q", k.Year, k.Month)
	}
}

func TestResolveSentinelClasses(t *testing.T) {
	// Join miss vs legitimately-absent joined value must stay apart.
	miss := Resolve(&model.EnrichedRate{})
	if miss.StatAreaName != SentinelMissing {
		t.Fatalf("join miss should be %s, got %q", SentinelMissing, miss.StatAreaName)
	}

	absent := Resolve(&model.EnrichedRate{StatAreaName: strptr("")})
	if absent.StatAreaName != SentinelNull {
		t.Fatalf("joined empty value should be %s, got %q", SentinelNull, absent.StatAreaName)
	}
}

func TestResolveStateFallback(t *testing.T) {
	// Geo join missed but the fact row carries a state.
	k := Resolve(&model.EnrichedRate{State: "GA"})
	if k.State != "GA" {
		t.Fatalf("expected fact-side state fallback, got %q", k.State)
	}

	// Neither available.
	k = Resolve(&model.EnrichedRate{})
	if k.State != SentinelMissing {
		t.Fatalf("expected %s, got %q", SentinelMissing, k.State)
	}
}

func TestSplitYearMonth(t *testing.T) {
	cases := []struct {
		in          string
		year, month string
	}{
		{"2025-08", "2025", "08"},
		{"2025-8", SentinelMissing, SentinelMissing},
		{"bad", SentinelMissing, SentinelMissing},
		{"", SentinelMissing, SentinelMissing},
	}
	for _, tc := range cases {
		y, m := splitYearMonth(tc.in)
		if y != tc.year || m != tc.month {
			t.Errorf("splitYearMonth(%q) = %q/%q, want %q/%q", tc.in, y, m, tc.year, tc.month)
		}
	}
}
