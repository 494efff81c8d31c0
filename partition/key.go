// Package partition derives partition keys from enriched rows and maps them
// to deterministic hive-style storage paths.
package partition

import (
	"strings"

	"github.com/chrscato/workcomp-rates-etl/model"
)

// Sentinel values that stand in for nulls in partition-key fields. The two
// cases stay distinguishable so audit tooling can separate "this row
// legitimately has no value" from "the value should exist but a join missed
// or the input was unparseable".
const (
	// SentinelNull marks a value that is legitimately absent in the source.
	SentinelNull = "__NULL__"
	// SentinelMissing marks a value that is required but unavailable:
	// a reference join missed or the raw input could not be parsed.
	SentinelMissing = "__MISSING__"
)

// IsSentinel reports whether v is one of the reserved null stand-ins.
func IsSentinel(v string) bool {
	return v == SentinelNull || v == SentinelMissing
}

// Columns is the fixed partition-column order. Paths, the catalog DDL, and
// the quality gate all follow this order.
var Columns = []string{
	"payer_slug",
	"state",
	"billing_class",
	"procedure_set",
	"procedure_class",
	"primary_taxonomy_code",
	"stat_area_name",
}

// Key is the resolved partition-key tuple for one row. Every field holds a
// real value or a sentinel; never an empty string.
type Key struct {
	PayerSlug           string `json:"payer_slug"`
	State               string `json:"state"`
	BillingClass        string `json:"billing_class"`
	ProcedureSet        string `json:"procedure_set"`
	ProcedureClass      string `json:"procedure_class"`
	PrimaryTaxonomyCode string `json:"primary_taxonomy_code"`
	StatAreaName        string `json:"stat_area_name"`
	Year                string `json:"year"`
	Month               string `json:"month"`
}

// Values returns the key fields in Columns order, without year and month.
func (k Key) Values() []string {
	return []string{
		k.PayerSlug,
		k.State,
		k.BillingClass,
		k.ProcedureSet,
		k.ProcedureClass,
		k.PrimaryTaxonomyCode,
		k.StatAreaName,
	}
}

// Resolve derives the partition key for one enriched row. It is total: any
// row, including one with every optional field nil, resolves to a key whose
// fields are real values or sentinels. Resolution order per column: direct
// source value if present and non-empty, else the derived/joined fallback,
// else the appropriate sentinel.
func Resolve(r *model.EnrichedRate) Key {
	k := Key{
		PayerSlug:           direct(r.PayerSlug),
		BillingClass:        direct(r.BillingClass),
		State:               joined(r.GeoState, r.State),
		ProcedureSet:        joinedOnly(r.ProcedureSet),
		ProcedureClass:      joinedOnly(r.ProcedureClass),
		PrimaryTaxonomyCode: joinedOnly(r.PrimaryTaxonomyCode),
		StatAreaName:        joinedOnly(r.StatAreaName),
	}
	k.Year, k.Month = splitYearMonth(r.YearMonth)
	return k
}

// direct resolves a column that lives on the fact row itself. An empty
// value means the source legitimately has none.
func direct(v string) string {
	if v == "" {
		return SentinelNull
	}
	return v
}

// joined resolves a column whose primary source is a reference join, with a
// fact-side fallback. A nil pointer is a join miss; an empty joined value is
// a legitimate absence in the reference table.
func joined(v *string, fallback string) string {
	if v != nil {
		if *v == "" {
			return SentinelNull
		}
		return *v
	}
	if fallback != "" {
		return fallback
	}
	return SentinelMissing
}

// joinedOnly resolves a column that only a reference join can supply.
func joinedOnly(v *string) string {
	if v == nil {
		return SentinelMissing
	}
	if *v == "" {
		return SentinelNull
	}
	return *v
}

// splitYearMonth splits "YYYY-MM" into its components. Anything else is a
// missing time bucket.
func splitYearMonth(ym string) (year, month string) {
	parts := strings.SplitN(ym, "-", 2)
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return SentinelMissing, SentinelMissing
	}
	return parts[0], parts[1]
}
