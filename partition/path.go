package partition

import (
	"fmt"
	"strings"
)

// FactFileName is the fixed object name inside every partition directory.
const FactFileName = "fact_rate_enriched.parquet"

// Encoder maps partition keys to hive-style object paths under a fixed
// prefix. Encoding is deterministic and injective within the configured key
// space: two keys differing in any field produce different paths.
type Encoder struct {
	Prefix string
}

// Encode renders the full object path for a key:
//
//	<prefix>/payer_slug=<v>/.../stat_area_name=<v>/year=<YYYY>/month=<MM>/fact_rate_enriched.parquet
//
// Values are sanitized with Sanitize before encoding.
func (e *Encoder) Encode(k Key) string {
	parts := make([]string, 0, len(Columns)+3)
	if e.Prefix != "" {
		parts = append(parts, strings.TrimSuffix(e.Prefix, "/"))
	}
	vals := k.Values()
	for i, col := range Columns {
		parts = append(parts, col+"="+Sanitize(vals[i]))
	}
	parts = append(parts, "year="+Sanitize(k.Year), "month="+Sanitize(k.Month), FactFileName)
	return strings.Join(parts, "/")
}

// Decode reconstructs the logical key from a partition path. It is the
// audit-tooling inverse of Encode: best effort, since Sanitize is lossy for
// values that contained separators or whitespace. Returns an error if the
// path does not carry every partition column plus year and month.
func (e *Encoder) Decode(path string) (Key, error) {
	var k Key
	fields := map[string]string{}
	for _, seg := range strings.Split(path, "/") {
		name, value, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		fields[name] = value
	}
	required := append(append([]string{}, Columns...), "year", "month")
	for _, col := range required {
		if _, ok := fields[col]; !ok {
			return Key{}, fmt.Errorf("path %q missing partition column %q", path, col)
		}
	}
	k.PayerSlug = fields["payer_slug"]
	k.State = fields["state"]
	k.BillingClass = fields["billing_class"]
	k.ProcedureSet = fields["procedure_set"]
	k.ProcedureClass = fields["procedure_class"]
	k.PrimaryTaxonomyCode = fields["primary_taxonomy_code"]
	k.StatAreaName = fields["stat_area_name"]
	k.Year = fields["year"]
	k.Month = fields["month"]
	return k, nil
}

var sanitizer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	" ", "_",
	"\t", "_",
	"\n", "_",
	"=", "_",
)

// Sanitize makes a key value safe for use as a path segment. Separators,
// whitespace, and the hive key-value delimiter are replaced with
// underscores.
func Sanitize(v string) string {
	return sanitizer.Replace(v)
}
