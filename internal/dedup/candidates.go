package dedup

import (
	"sort"

	"horse.fit/websetdedup/internal/canon"
)

// ScoredRow pairs an accepted row with the score it received from the
// candidate pool ranking formula (§4.4).
type ScoredRow struct {
	Row   canon.Row
	Score float64
}

// Rejection is an immediate (no-LLM) rejection decided purely from the
// candidate pool, used by entity mode's >0.9 near-identical-title shortcut.
type Rejection struct {
	Reason     string
	MatchedRow canon.Row
	Score      float64
}

const (
	companyPoolDropThreshold = 0.3
	companyPoolCap           = 5
	entityPoolDropThreshold  = 0.6
	entityPoolCap            = 3
	entityVeryHighSimilarity = 0.97
	entityHighSimilarity     = 0.90
)

// BuildCandidatePool assembles the set of accepted rows that newRow must be
// adjudicated against: the union of rows the fuzzy matcher called ambiguous
// and vector-recall hits that are still present in the fingerprint table,
// ranked and capped per mode, per §4.4.
//
// Entity mode additionally short-circuits: a candidate whose name
// similarity exceeds entityHighSimilarity is rejected immediately without
// ever reaching the LLM adjudicator (the first such hit wins; B-invariant:
// this never produces a false unique).
func BuildCandidatePool(mode canon.Mode, newRow canon.Row, tableRows []canon.Row, vectorHitIDs []string) ([]ScoredRow, *Rejection) {
	byID := make(map[string]canon.Row, len(tableRows))
	for _, row := range tableRows {
		byID[row.RowID] = row
	}

	seen := make(map[string]struct{})
	var union []canon.Row
	for _, row := range tableRows {
		if row.RowID == newRow.RowID {
			continue
		}
		if Match(mode, row, newRow) != MatchAmbiguous {
			continue
		}
		if _, ok := seen[row.RowID]; ok {
			continue
		}
		seen[row.RowID] = struct{}{}
		union = append(union, row)
	}
	for _, id := range vectorHitIDs {
		row, ok := byID[id]
		if !ok {
			continue
		}
		if row.RowID == newRow.RowID {
			continue
		}
		if _, ok := seen[row.RowID]; ok {
			continue
		}
		seen[row.RowID] = struct{}{}
		union = append(union, row)
	}

	if mode == canon.ModeEntity {
		return rankEntityPool(newRow, union)
	}
	return rankCompanyPool(newRow, union), nil
}

func rankEntityPool(newRow canon.Row, union []canon.Row) ([]ScoredRow, *Rejection) {
	var pool []ScoredRow
	for _, row := range union {
		score := JaroWinkler(normalizedCompareName(row), normalizedCompareName(newRow))
		switch {
		case score > entityVeryHighSimilarity:
			return nil, &Rejection{Reason: ReasonEntityVeryHighSimilarity, MatchedRow: row, Score: score}
		case score > entityHighSimilarity:
			return nil, &Rejection{Reason: ReasonHighSimilarityMatch, MatchedRow: row, Score: score}
		case score < entityPoolDropThreshold:
			continue
		default:
			pool = append(pool, ScoredRow{Row: row, Score: score})
		}
	}
	sortDescending(pool)
	return capPool(pool, entityPoolCap), nil
}

func rankCompanyPool(newRow canon.Row, union []canon.Row) []ScoredRow {
	var pool []ScoredRow
	for _, row := range union {
		nameJW := JaroWinkler(normalizedCompareName(row), normalizedCompareName(newRow))
		domainEq := 0.0
		if row.Etld1 != "" && row.Etld1 == newRow.Etld1 {
			domainEq = 1
		}
		brandEq := 0.0
		if row.Brand != "" && row.Brand == newRow.Brand {
			brandEq = 1
		}
		score := 0.6*nameJW + 0.2*domainEq + 0.2*brandEq
		if score <= companyPoolDropThreshold {
			continue
		}
		pool = append(pool, ScoredRow{Row: row, Score: score})
	}
	sortDescending(pool)
	return capPool(pool, companyPoolCap)
}

func sortDescending(pool []ScoredRow) {
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })
}

func capPool(pool []ScoredRow, n int) []ScoredRow {
	if len(pool) > n {
		return pool[:n]
	}
	return pool
}

// ToCandidateRefs converts ranked rows into the CandidateRef slice carried
// by a pending Decision.
func ToCandidateRefs(rows []ScoredRow) []CandidateRef {
	refs := make([]CandidateRef, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, CandidateRef{
			ID:    r.Row.RowID,
			Name:  r.Row.Name,
			URL:   r.Row.URL,
			Brand: r.Row.Brand,
			Etld1: r.Row.Etld1,
		})
	}
	return refs
}
