package canon

// Mode selects which ingestion job's naming/matching rules are in effect.
type Mode string

const (
	ModeEntity  Mode = "entity"
	ModeCompany Mode = "company"
)

// RawItem is the opaque upstream record: a stable id plus an arbitrary
// JSON-shaped property bag. Data is round-tripped verbatim to subscribers
// and to the persistence layer.
type RawItem struct {
	ID   string
	Data map[string]any
}

// SubdomainClass classifies a host's subdomain for the fuzzy matcher.
type SubdomainClass string

const (
	SubClassGeneric SubdomainClass = "generic"
	SubClassOther   SubdomainClass = "other"
	// SubClassUnknown marks a row with no parseable URL/host at all. It is
	// distinct from SubClassOther (a genuine organizational subdomain on a
	// known host) so an empty-URL row is never mistaken for one.
	SubClassUnknown SubdomainClass = "unknown"
)

// Row is the distilled view of a raw item used by every matching rule.
type Row struct {
	RowID           string
	Name            string
	URL             string
	Host            string
	Etld1           string
	Brand           string
	SubCls          SubdomainClass
	IsVideoPlatform bool
	NormalizedTitle string // entity mode only; empty in company mode
	Raw             RawItem
}

// Tier0Key computes the fingerprint-table key for a canonical row: brand +
// etld1 + subdomain class, except video platforms where distinct titles on
// the same platform must not collapse, so the key is video:<title-slug>.
func (r Row) Tier0Key() string {
	if r.IsVideoPlatform {
		return "video:" + titleSlug(r.NormalizedTitle, r.Name)
	}
	return r.Brand + ":" + r.Etld1 + ":" + string(r.SubCls)
}

// HasFingerprint reports whether r carries enough host information for a
// Tier0Key hit to mean anything (§4.2/B2: Tier-0 only fires on a genuine
// identical fingerprint). Two rows with no URL both derive empty brand and
// etld1 and would otherwise collapse onto the same key by coincidence, not
// because they identify the same site.
func (r Row) HasFingerprint() bool {
	return r.IsVideoPlatform || r.Brand != "" || r.Etld1 != ""
}

func titleSlug(normalizedTitle, name string) string {
	if normalizedTitle != "" {
		return normalizedTitle
	}
	return cleanName(name)
}
