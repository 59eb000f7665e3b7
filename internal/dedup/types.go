// Package dedup implements the core multi-tier deduplication engine:
// fingerprint table, fuzzy matcher, candidate pool builder, pending/pair
// registry, and the per-job engine that ties them together (§4.2-§4.6,
// §4.10).
package dedup

import "horse.fit/websetdedup/internal/canon"

// MatchResult is the verdict produced by the fuzzy matcher (§4.3).
type MatchResult string

const (
	MatchDuplicate MatchResult = "duplicate"
	MatchUnique    MatchResult = "unique"
	MatchAmbiguous MatchResult = "ambiguous"
)

// DecisionKind distinguishes the three pending-decision shapes from §3.
type DecisionKind string

const (
	DecisionPair    DecisionKind = "pair"
	DecisionEntity  DecisionKind = "entity"
	DecisionCompany DecisionKind = "company"
)

// CandidateRef is the slimmed view of an accepted row carried in a pending
// decision's candidate list, per the PairDecision/EntityDecision/
// CompanyDecision shapes in §3.
type CandidateRef struct {
	ID    string
	Name  string
	URL   string
	Brand string
	Etld1 string
}

// Decision is the tagged-sum representation (§9) of PairDecision,
// EntityDecision and CompanyDecision: the adjudicator dispatches on Kind to
// build prompts and to map verdicts back to accept/drop.
type Decision struct {
	Kind       DecisionKind
	JobID      string
	TmpID      string // newRow.RowID; the id carried by the pending/confirm/drop events
	NewRow     canon.Row
	Candidates []CandidateRef
}

// Taxonomy holds the fixed rejection-reason strings from §7.
const (
	ReasonExactMatch             = "exact_match"
	ReasonFuzzyMatch             = "fuzzy_match"
	ReasonCacheHit               = "cache_hit"
	ReasonLLMDuplicate           = "llm_duplicate"
	ReasonNearDuplicate          = "near_duplicate"
	ReasonURLNearDuplicate       = "url_near_duplicate"
	ReasonSubdomainDuplicate     = "subdomain_duplicate"
	ReasonURLResolutionDuplicate = "url_resolution_duplicate"
	ReasonExactURLDuplicate      = "exact_url_duplicate"
	ReasonNormalizedTitleDuplicate = "normalized_title_duplicate"
	ReasonEntityFuzzyMatch         = "entity_fuzzy_match"
	ReasonEntityVeryHighSimilarity = "entity_very_high_similarity"
	ReasonEntityLLMDuplicate       = "entity_llm_duplicate"
	ReasonHighSimilarityMatch      = "high_similarity_match"
	ReasonCompanyDecision          = "company_decision"
	ReasonExactNameDuplicate       = "exact_name_duplicate"
)
