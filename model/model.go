// Package model defines the row types that flow through the pipeline:
// raw rate records as read from the source, the enriched wide row written
// to partitioned storage, and the dimension rows extracted along the way.
package model

// RateRecord is one row of the append-only negotiated-rates fact table as it
// arrives from the source. It carries no identity of its own; stable UIDs are
// derived downstream from its business fields.
type RateRecord struct {
	LastUpdatedOn          string  `parquet:"last_updated_on"`
	ReportingEntityName    string  `parquet:"reporting_entity_name"`
	ReportingEntityType    string  `parquet:"reporting_entity_type"`
	Version                string  `parquet:"version"`
	BillingClass           string  `parquet:"billing_class"`
	BillingCodeType        string  `parquet:"billing_code_type"`
	BillingCode            string  `parquet:"billing_code"`
	ServiceCodes           string  `parquet:"service_codes"`
	NegotiatedType         string  `parquet:"negotiated_type"`
	NegotiationArrangement string  `parquet:"negotiation_arrangement"`
	NegotiatedRate         float64 `parquet:"negotiated_rate"`
	ExpirationDate         string  `parquet:"expiration_date"`
	Description            string  `parquet:"description"`
	Name                   string  `parquet:"name"`
	ProviderReferenceID    string  `parquet:"provider_reference_id"`
}

// EnrichedRate is the wide output row: one RateRecord decorated with derived
// identities, reference-table attributes, and resolved partition keys.
// Joined columns are pointers so a join miss stays a native null in storage
// and is distinguishable from an empty string.
type EnrichedRate struct {
	// Derived identities.
	FactUID   string `parquet:"fact_uid"`
	PGUID     string `parquet:"pg_uid"`
	PosSetID  string `parquet:"pos_set_id"`
	PayerSlug string `parquet:"payer_slug"`
	YearMonth string `parquet:"year_month"`

	// Carried fact attributes.
	State                  string  `parquet:"state"`
	BillingClass           string  `parquet:"billing_class"`
	CodeType               string  `parquet:"code_type"`
	Code                   string  `parquet:"code"`
	NegotiatedType         string  `parquet:"negotiated_type"`
	NegotiationArrangement string  `parquet:"negotiation_arrangement"`
	NegotiatedRate         float64 `parquet:"negotiated_rate"`
	ExpirationDate         string  `parquet:"expiration_date"`
	ProviderGroupIDRaw     string  `parquet:"provider_group_id_raw"`
	ReportingEntityName    string  `parquet:"reporting_entity_name"`

	// Code dimension.
	CodeDescription *string `parquet:"code_description,optional"`
	CodeName        *string `parquet:"code_name,optional"`

	// Code categorization dimension.
	ProcedureSet   *string `parquet:"procedure_set,optional"`
	ProcedureClass *string `parquet:"procedure_class,optional"`

	// Provider registry, via the provider-group cross-reference.
	NPI                 *string `parquet:"npi,optional"`
	OrganizationName    *string `parquet:"organization_name,optional"`
	EnumerationType     *string `parquet:"enumeration_type,optional"`
	PrimaryTaxonomyCode *string `parquet:"primary_taxonomy_code,optional"`

	// Geolocation, via the NPI produced by the registry join.
	GeoState     *string  `parquet:"geo_state,optional"`
	Latitude     *float64 `parquet:"latitude,optional"`
	Longitude    *float64 `parquet:"longitude,optional"`
	CountyName   *string  `parquet:"county_name,optional"`
	CountyFIPS   *string  `parquet:"county_fips,optional"`
	StatAreaName *string  `parquet:"stat_area_name,optional"`
	StatAreaCode *string  `parquet:"stat_area_code,optional"`
}

// Dimension rows extracted from the rate stream. Natural keys are noted on
// each type; compaction deduplicates on them.

// CodeDim describes a billing code. Natural key: (CodeType, Code).
type CodeDim struct {
	CodeType        string `parquet:"code_type"`
	Code            string `parquet:"code"`
	CodeDescription string `parquet:"code_description"`
	CodeName        string `parquet:"code_name"`
}

// PayerDim describes a reporting payer. Natural key: PayerSlug.
type PayerDim struct {
	PayerSlug           string `parquet:"payer_slug"`
	ReportingEntityName string `parquet:"reporting_entity_name"`
	Version             string `parquet:"version"`
}

// ProviderGroupDim maps a derived group UID back to its raw inputs.
// Natural key: PGUID.
type ProviderGroupDim struct {
	PGUID              string `parquet:"pg_uid"`
	PayerSlug          string `parquet:"payer_slug"`
	ProviderGroupIDRaw string `parquet:"provider_group_id_raw"`
	Version            string `parquet:"version"`
}

// PosSetDim maps a place-of-service set id to its member list.
// Natural key: PosSetID.
type PosSetDim struct {
	PosSetID   string `parquet:"pos_set_id"`
	PosMembers string `parquet:"pos_members"`
}

// Reference-table rows consumed from the reference catalog. These are owned
// externally; the pipeline only reads them.

// CodeCategory maps a procedure code to its set/class rollups.
type CodeCategory struct {
	ProcCD    string `parquet:"proc_cd"`
	ProcSet   string `parquet:"proc_set"`
	ProcClass string `parquet:"proc_class"`
}

// ProviderGroupNPI is the provider-group to registry-number cross-reference.
type ProviderGroupNPI struct {
	PGUID string `parquet:"pg_uid"`
	NPI   string `parquet:"npi"`
}

// NPIRecord is one provider-registry entry.
type NPIRecord struct {
	NPI                 string `parquet:"npi"`
	OrganizationName    string `parquet:"organization_name"`
	EnumerationType     string `parquet:"enumeration_type"`
	PrimaryTaxonomyCode string `parquet:"primary_taxonomy_code"`
}

// NPIGeo is the geocoded practice-location address for a registry entry.
// Only LOCATION-purpose addresses are loaded into the catalog.
type NPIGeo struct {
	NPI          string  `parquet:"npi"`
	State        string  `parquet:"state"`
	Latitude     float64 `parquet:"latitude"`
	Longitude    float64 `parquet:"longitude"`
	CountyName   string  `parquet:"county_name"`
	CountyFIPS   string  `parquet:"county_fips"`
	StatAreaName string  `parquet:"stat_area_name"`
	StatAreaCode string  `parquet:"stat_area_code"`
}
