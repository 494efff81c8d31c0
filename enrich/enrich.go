// Package enrich turns raw rate records into the wide enriched rows the
// pipeline partitions and merges. Enrichment is pure per-row work: derive
// the stable identities, then left-join reference attributes from the
// catalog. Row count never changes; a join miss leaves nil columns.
package enrich

import (
	"strings"

	"github.com/chrscato/workcomp-rates-etl/identity"
	"github.com/chrscato/workcomp-rates-etl/model"
	"github.com/chrscato/workcomp-rates-etl/refdata"
)

// Enricher decorates rate records for one run. State is run-scoped: the
// source file covers a single jurisdiction and carries no state column of
// its own.
type Enricher struct {
	catalog *refdata.Catalog
	state   string
}

func New(catalog *refdata.Catalog, state string) *Enricher {
	return &Enricher{catalog: catalog, state: state}
}

// Enrich derives identities for one record and joins reference attributes
// onto it. The join sequence is ordered: the registry join supplies the NPI
// the geolocation join depends on.
func (e *Enricher) Enrich(r model.RateRecord) model.EnrichedRate {
	payerSlug := identity.Slugify(r.ReportingEntityName)
	yearMonth := identity.NormalizeYearMonth(r.LastUpdatedOn)
	posMembers := identity.NormalizeServiceCodes(r.ServiceCodes)
	posSetID := identity.PosSetID(posMembers)
	// Rate rows carry no group id of their own; the reference id fills the
	// last slot and the group-id slot stays empty so rate-side and
	// provider-side derivations agree.
	pgUID := identity.GroupUID(payerSlug, r.Version, "", r.ProviderReferenceID)

	out := model.EnrichedRate{
		PGUID:                  pgUID,
		PosSetID:               posSetID,
		PayerSlug:              payerSlug,
		YearMonth:              yearMonth,
		State:                  e.state,
		BillingClass:           r.BillingClass,
		CodeType:               r.BillingCodeType,
		Code:                   r.BillingCode,
		NegotiatedType:         r.NegotiatedType,
		NegotiationArrangement: r.NegotiationArrangement,
		NegotiatedRate:         r.NegotiatedRate,
		ExpirationDate:         r.ExpirationDate,
		ProviderGroupIDRaw:     r.ProviderReferenceID,
		ReportingEntityName:    r.ReportingEntityName,
		CodeDescription:        optional(r.Description),
		CodeName:               optional(r.Name),
	}

	out.FactUID = identity.FactUID(identity.FactKey{
		State:                  e.state,
		YearMonth:              yearMonth,
		PayerSlug:              payerSlug,
		BillingClass:           r.BillingClass,
		CodeType:               r.BillingCodeType,
		Code:                   r.BillingCode,
		PGUID:                  pgUID,
		PosSetID:               posSetID,
		NegotiatedType:         r.NegotiatedType,
		NegotiationArrangement: r.NegotiationArrangement,
		ExpirationDate:         r.ExpirationDate,
		NegotiatedRate:         r.NegotiatedRate,
		ProviderGroupIDRaw:     r.ProviderReferenceID,
	})

	if cat, ok := e.catalog.Category(r.BillingCode); ok {
		out.ProcedureSet = optional(cat.ProcSet)
		out.ProcedureClass = optional(cat.ProcClass)
	}

	if npis := e.catalog.GroupNPIs(pgUID); len(npis) > 0 {
		npi := npis[0]
		out.NPI = &npi
		if rec, ok := e.catalog.Registry(npi); ok {
			out.OrganizationName = optional(rec.OrganizationName)
			out.EnumerationType = optional(rec.EnumerationType)
			out.PrimaryTaxonomyCode = optional(rec.PrimaryTaxonomyCode)
		}
		if geo, ok := e.catalog.Geo(npi); ok {
			out.GeoState = optional(geo.State)
			out.Latitude = &geo.Latitude
			out.Longitude = &geo.Longitude
			out.CountyName = optional(geo.CountyName)
			out.CountyFIPS = optional(geo.CountyFIPS)
			out.StatAreaName = optional(geo.StatAreaName)
			out.StatAreaCode = optional(geo.StatAreaCode)
		}
	}
	return out
}

// EnrichChunk enriches a chunk in place order. Output length always equals
// input length.
func (e *Enricher) EnrichChunk(rows []model.RateRecord) []model.EnrichedRate {
	out := make([]model.EnrichedRate, len(rows))
	for i, r := range rows {
		out[i] = e.Enrich(r)
	}
	return out
}

// optional maps an empty string to a nil column. Joined columns use
// pointers so absence survives the parquet round trip.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Dims collects the dimension rows seen while enriching, deduplicated on
// their natural keys within the chunk. Cross-chunk duplicates are collapsed
// later by dimension compaction.
type Dims struct {
	Codes          map[string]model.CodeDim
	Payers         map[string]model.PayerDim
	ProviderGroups map[string]model.ProviderGroupDim
	PosSets        map[string]model.PosSetDim
}

func NewDims() *Dims {
	return &Dims{
		Codes:          map[string]model.CodeDim{},
		Payers:         map[string]model.PayerDim{},
		ProviderGroups: map[string]model.ProviderGroupDim{},
		PosSets:        map[string]model.PosSetDim{},
	}
}

// Observe extracts the dimension rows implied by one raw record and its
// enrichment.
func (d *Dims) Observe(raw model.RateRecord, row model.EnrichedRate) {
	codeKey := row.CodeType + identity.Delimiter + row.Code
	if _, ok := d.Codes[codeKey]; !ok {
		d.Codes[codeKey] = model.CodeDim{
			CodeType:        row.CodeType,
			Code:            row.Code,
			CodeDescription: raw.Description,
			CodeName:        raw.Name,
		}
	}
	if _, ok := d.Payers[row.PayerSlug]; !ok {
		d.Payers[row.PayerSlug] = model.PayerDim{
			PayerSlug:           row.PayerSlug,
			ReportingEntityName: raw.ReportingEntityName,
			Version:             raw.Version,
		}
	}
	if _, ok := d.ProviderGroups[row.PGUID]; !ok {
		d.ProviderGroups[row.PGUID] = model.ProviderGroupDim{
			PGUID:              row.PGUID,
			PayerSlug:          row.PayerSlug,
			ProviderGroupIDRaw: row.ProviderGroupIDRaw,
			Version:            raw.Version,
		}
	}
	if _, ok := d.PosSets[row.PosSetID]; !ok {
		members := identity.NormalizeServiceCodes(raw.ServiceCodes)
		d.PosSets[row.PosSetID] = model.PosSetDim{
			PosSetID:   row.PosSetID,
			PosMembers: strings.Join(members, ","),
		}
	}
}
