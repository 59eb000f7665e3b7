package dedup

import (
	"strings"

	"horse.fit/websetdedup/internal/canon"
)

// Thresholds from §4.3.
const (
	videoDuplicateThreshold      = 0.95
	videoAmbiguousThreshold      = 0.85
	companyNameDuplicateThreshold = 0.95
	entityNameDuplicateThreshold  = 0.92
	sameBrandNameThreshold        = 0.8
	sameBrandRuleMinBrandLen      = 2 // "brand length > 2"
)

// Match runs the fuzzy rule cascade of §4.3 between an already-accepted row
// a and an incoming candidate row b, in mode-specific fixed order: video
// platform title comparison, subdomain similarity, same-brand/different-
// domain handling, name-similarity thresholds, then the different-brand-
// different-etld1 unique shortcut, falling back to ambiguous.
func Match(mode canon.Mode, a, b canon.Row) MatchResult {
	result, _ := MatchWithReason(mode, a, b)
	return result
}

// MatchWithReason runs the same cascade as Match but additionally reports
// the §7 taxonomy reason that applies when the verdict is MatchDuplicate,
// so a direct fuzzy-duplicate rejection (§4.10: "arrived → rejected on ...
// fuzzy duplicate") can be recorded with the rule that actually fired
// instead of a single generic label.
func MatchWithReason(mode canon.Mode, a, b canon.Row) (MatchResult, string) {
	// Rule 1: video-platform items compare on normalized title alone.
	if a.IsVideoPlatform && b.IsVideoPlatform && a.Etld1 == b.Etld1 {
		sim := JaroWinkler(titleForCompare(a), titleForCompare(b))
		switch {
		case sim > videoDuplicateThreshold:
			return MatchDuplicate, ReasonNearDuplicate
		case sim > videoAmbiguousThreshold:
			return MatchAmbiguous, ""
		default:
			return MatchUnique, ""
		}
	}

	// Rule 2: subdomain similarity. SubCls is binary (generic/other), so
	// "both generic, or one generic and one organizational, or both
	// organizational" exhausts every combination once the etld1 matches —
	// the rule fires on same-etld1 alone. Company mode: unconditional
	// duplicate. Entity mode: fall through to name comparison, since
	// entity dedup is name-centric (§4.2).
	if a.Etld1 != "" && a.Etld1 == b.Etld1 {
		if mode == canon.ModeCompany {
			return MatchDuplicate, ReasonSubdomainDuplicate
		}
	}

	nameThreshold := entityNameDuplicateThreshold
	if mode == canon.ModeCompany {
		nameThreshold = companyNameDuplicateThreshold
	}
	nameSim := JaroWinkler(normalizedCompareName(a), normalizedCompareName(b))

	// Rule 3: same brand across different domains (brand length > 2).
	if a.Brand != "" && a.Brand == b.Brand && a.Etld1 != b.Etld1 && len(a.Brand) > sameBrandRuleMinBrandLen {
		switch {
		case bothGenericSubdomains(a, b):
			if mode == canon.ModeCompany {
				return MatchDuplicate, ReasonURLNearDuplicate
			}
			// entity mode: fall through to name comparison below.
		case bothOtherSubdomains(a, b):
			if nameSim > sameBrandNameThreshold {
				return MatchDuplicate, ReasonFuzzyMatch
			}
			return MatchAmbiguous, ""
		default: // mixed generic/organizational
			return MatchAmbiguous, ""
		}
	}

	// Rule 4: plain name similarity.
	if nameSim > nameThreshold {
		if mode == canon.ModeCompany {
			return MatchDuplicate, ReasonExactNameDuplicate
		}
		return MatchDuplicate, ReasonEntityFuzzyMatch
	}

	// Rule 5: different brand and different registrable domain is unique.
	if a.Brand != "" && b.Brand != "" && a.Brand != b.Brand && a.Etld1 != b.Etld1 {
		return MatchUnique, ""
	}

	// Rule 6: otherwise ambiguous, feeding the candidate pool.
	return MatchAmbiguous, ""
}

// FuzzyDuplicateCheck scans existing accepted rows for a direct §4.3
// Duplicate verdict against newRow, short-circuiting the candidate pool and
// LLM entirely per §4.10's "arrived → rejected on ... fuzzy duplicate"
// transition. The first Duplicate hit wins.
func FuzzyDuplicateCheck(mode canon.Mode, newRow canon.Row, tableRows []canon.Row) (canon.Row, string, bool) {
	for _, existing := range tableRows {
		if existing.RowID == newRow.RowID {
			continue
		}
		if result, reason := MatchWithReason(mode, existing, newRow); result == MatchDuplicate {
			return existing, reason, true
		}
	}
	return canon.Row{}, "", false
}

func bothGenericSubdomains(a, b canon.Row) bool {
	return a.SubCls == canon.SubClassGeneric && b.SubCls == canon.SubClassGeneric
}

func bothOtherSubdomains(a, b canon.Row) bool {
	return a.SubCls == canon.SubClassOther && b.SubCls == canon.SubClassOther
}

func titleForCompare(r canon.Row) string {
	if r.NormalizedTitle != "" {
		return r.NormalizedTitle
	}
	return strings.ToLower(r.Name)
}

func normalizedCompareName(r canon.Row) string {
	if r.NormalizedTitle != "" {
		return r.NormalizedTitle
	}
	return strings.ToLower(strings.TrimSpace(r.Name))
}
