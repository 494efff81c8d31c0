// Package identity derives stable, content-addressed identifiers for the
// business entities in the rate stream. All derivations share one
// canonicalization rule so a UID computed here is identical across reruns,
// chunk boundaries, and reimplementations.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Delimiter joins canonicalized fields before hashing. It never appears in
// canonicalized values because canonicalization does not escape it; the
// identity fields (slugs, codes, dates, fixed-precision rates) cannot
// contain it.
const Delimiter = "|"

// RatePrecision is the number of decimal places a rate is formatted to
// before hashing, so 1.5 and 1.50 derive the same UID.
const RatePrecision = 4

// Hash returns the lowercase hex MD5 digest of s.
func Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// CanonicalRate formats a rate to fixed precision. The zero-value check is
// not special-cased: 0 is a legal rate and formats as "0.0000".
func CanonicalRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', RatePrecision, 64)
}

// Derive canonicalizes fields, joins them with Delimiter, and hashes.
func Derive(fields ...string) string {
	return Hash(strings.Join(fields, Delimiter))
}

// GroupUID derives the provider-group surrogate key from its organizational
// fields. The rates side passes the provider reference with an empty group
// id; the providers side passes the group id with an empty reference. Both
// sides of the same logical group hash to the same UID because they feed the
// same raw value through the same slot order.
func GroupUID(payerSlug, version, groupID, providerRef string) string {
	return Derive(payerSlug, version, groupID, providerRef)
}

// FactKey is the full business-key tuple of one negotiated rate.
type FactKey struct {
	State                  string
	YearMonth              string
	PayerSlug              string
	BillingClass           string
	CodeType               string
	Code                   string
	PGUID                  string
	PosSetID               string
	NegotiatedType         string
	NegotiationArrangement string
	ExpirationDate         string
	NegotiatedRate         float64
	ProviderGroupIDRaw     string
}

// FactUID derives the fact row's primary key. The field order is fixed;
// changing it invalidates every previously written partition.
func FactUID(k FactKey) string {
	return Derive(
		k.State,
		k.YearMonth,
		k.PayerSlug,
		k.BillingClass,
		k.CodeType,
		k.Code,
		k.PGUID,
		k.PosSetID,
		k.NegotiatedType,
		k.NegotiationArrangement,
		k.ExpirationDate,
		CanonicalRate(k.NegotiatedRate),
		k.ProviderGroupIDRaw,
	)
}

// PosSetID derives a stable id for a place-of-service member set. An empty
// set hashes the literal "none" so it is distinguishable from a set whose
// single member is the empty string.
func PosSetID(members []string) string {
	if len(members) == 0 {
		return Hash("none")
	}
	return Hash(strings.Join(members, Delimiter))
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9]+`)
	slugCollapse = regexp.MustCompile(`-+`)
	yymmPattern  = regexp.MustCompile(`(20\d{2})[-/](0[1-9]|1[0-2])`)
	svcSplit     = regexp.MustCompile(`[;,|\s]+`)
)

// Slugify lowercases s and collapses every non-alphanumeric run to a single
// hyphen, producing the payer-slug form used in identities and paths.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.Trim(slugStrip.ReplaceAllString(s, "-"), "-")
	return slugCollapse.ReplaceAllString(s, "-")
}

// yearMonthLayouts are tried in order against a date string prefix.
var yearMonthLayouts = []string{"2006-01-02", "2006/01/02", "2006-01", "2006/01", "20060102", "200601"}

// NormalizeYearMonth reduces a date string in any of the common source
// formats to "YYYY-MM". Unparseable input yields the empty string; the
// partition resolver turns that into a sentinel downstream.
func NormalizeYearMonth(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range yearMonthLayouts {
		if len(s) < len(layout) {
			continue
		}
		if t, err := time.Parse(layout, s[:len(layout)]); err == nil {
			return t.Format("2006-01")
		}
	}
	if m := yymmPattern.FindStringSubmatch(s); m != nil {
		return m[1] + "-" + m[2]
	}
	return ""
}

// NormalizeServiceCodes parses a raw service-codes field (JSON array or
// delimiter-separated string) into a sorted, deduplicated member list.
func NormalizeServiceCodes(raw string) []string {
	if raw == "" {
		return nil
	}
	var vals []string
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		var parsed []any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			for _, v := range parsed {
				switch t := v.(type) {
				case nil:
					vals = append(vals, "")
				case string:
					vals = append(vals, t)
				case float64:
					vals = append(vals, strconv.FormatFloat(t, 'f', -1, 64))
				default:
					vals = append(vals, "")
				}
			}
		}
	}
	if vals == nil {
		vals = svcSplit.Split(trimmed, -1)
	}

	seen := make(map[string]struct{}, len(vals))
	var out []string
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
