package dedup

import (
	"fmt"
	"testing"

	"horse.fit/websetdedup/internal/canon"
)

func row(name, brand, etld1, host string, sub canon.SubdomainClass) canon.Row {
	return canon.Row{
		RowID:  name,
		Name:   name,
		Brand:  brand,
		Etld1:  etld1,
		Host:   host,
		SubCls: sub,
	}
}

func TestMatchSameBrandMixedSubdomainClassIsAmbiguous(t *testing.T) {
	t.Parallel()

	a := row("Acme News", "acme", "acme.com", "acme.com", canon.SubClassGeneric)
	b := row("Acme Investor Relations", "acme", "acme.io", "investors.acme.io", canon.SubClassOther)

	if got := Match(canon.ModeCompany, a, b); got != MatchAmbiguous {
		t.Fatalf("expected ambiguous, got %s", got)
	}
}

func TestMatchSameEtld1CompanyModeIsDuplicate(t *testing.T) {
	t.Parallel()

	a := row("Acme Careers", "acme", "acme.com", "careers.acme.com", canon.SubClassOther)
	b := row("Acme Investors", "acme", "acme.com", "investors.acme.com", canon.SubClassOther)

	if got := Match(canon.ModeCompany, a, b); got != MatchDuplicate {
		t.Fatalf("expected duplicate for same-etld1 company pair regardless of subdomain class, got %s", got)
	}
}

func TestMatchSameEtld1EntityModeFallsThroughToNameComparison(t *testing.T) {
	t.Parallel()

	a := canon.Row{RowID: "a", Name: "Alpha Story", NormalizedTitle: "alpha story", Etld1: "news.example"}
	b := canon.Row{RowID: "b", Name: "Beta Story", NormalizedTitle: "beta story", Etld1: "news.example"}

	if got := Match(canon.ModeEntity, a, b); got != MatchAmbiguous {
		t.Fatalf("expected entity-mode same-etld1 pair to fall through to name comparison, got %s", got)
	}
}

func TestMatchSameBrandBothGenericDifferentDomainCompanyIsDuplicate(t *testing.T) {
	t.Parallel()

	a := row("JD Retail", "acme", "acme.com", "acme.com", canon.SubClassGeneric)
	b := row("JD Retail Global", "acme", "acme.co.uk", "acme.co.uk", canon.SubClassGeneric)

	if got := Match(canon.ModeCompany, a, b); got != MatchDuplicate {
		t.Fatalf("expected duplicate for same-brand, both-generic, different-domain company pair, got %s", got)
	}
}

func TestMatchSameBrandBothOtherHighNameSimilarityIsDuplicate(t *testing.T) {
	t.Parallel()

	a := row("Acme Support Desk", "acme", "acme.com", "support.acme.com", canon.SubClassOther)
	b := row("Acme Support Desk Team", "acme", "acme.io", "help.acme.io", canon.SubClassOther)

	if got := Match(canon.ModeCompany, a, b); got != MatchDuplicate {
		t.Fatalf("expected duplicate for same-brand, both-organizational subdomains with high name similarity, got %s", got)
	}
}

func TestMatchSameBrandBothOtherLowNameSimilarityIsAmbiguous(t *testing.T) {
	t.Parallel()

	a := row("Acme Careers Team", "acme", "acme.com", "careers.acme.com", canon.SubClassOther)
	b := row("Acme Legal Notices", "acme", "acme.io", "legal.acme.io", canon.SubClassOther)

	if got := Match(canon.ModeCompany, a, b); got != MatchAmbiguous {
		t.Fatalf("expected ambiguous for same-brand, both-organizational subdomains with low name similarity, got %s", got)
	}
}

func TestMatchDifferentBrandDifferentDomainIsUnique(t *testing.T) {
	t.Parallel()

	a := row("Acme Corp", "acme", "acme.com", "acme.com", canon.SubClassGeneric)
	b := row("Zenith Inc", "zenith", "zenith.com", "zenith.com", canon.SubClassGeneric)

	if got := Match(canon.ModeCompany, a, b); got != MatchUnique {
		t.Fatalf("expected unique, got %s", got)
	}
}

func TestMatchHighNameSimilaritySameDomainIsDuplicate(t *testing.T) {
	t.Parallel()

	a := row("Acme Corporation", "acme", "acme.com", "acme.com", canon.SubClassGeneric)
	b := row("Acme Corporation", "acme", "acme.com", "acme.com", canon.SubClassGeneric)

	if got := Match(canon.ModeCompany, a, b); got != MatchDuplicate {
		t.Fatalf("expected duplicate, got %s", got)
	}
}

func TestMatchVideoPlatformSameTitleIsDuplicate(t *testing.T) {
	t.Parallel()

	a := canon.Row{RowID: "a", Name: "Funny Cats Compilation", Etld1: "youtube.com", IsVideoPlatform: true}
	b := canon.Row{RowID: "b", Name: "Funny Cats Compilation", Etld1: "youtube.com", IsVideoPlatform: true}

	if got := Match(canon.ModeEntity, a, b); got != MatchDuplicate {
		t.Fatalf("expected duplicate, got %s", got)
	}
}

func TestMatchVideoPlatformDifferentTitleIsUnique(t *testing.T) {
	t.Parallel()

	a := canon.Row{RowID: "a", Name: "Funny Cats Compilation", Etld1: "youtube.com", IsVideoPlatform: true}
	b := canon.Row{RowID: "b", Name: "Epic Fails 2024", Etld1: "youtube.com", IsVideoPlatform: true}

	if got := Match(canon.ModeEntity, a, b); got != MatchUnique {
		t.Fatalf("expected unique, got %s", got)
	}
}

func TestFuzzyDuplicateCheckFindsDirectDuplicateWithReason(t *testing.T) {
	t.Parallel()

	existing := row("Acme Corporation", "acme", "acme.com", "acme.com", canon.SubClassGeneric)
	incoming := row("Acme Corporation", "acme", "acme.com", "acme.com", canon.SubClassGeneric)
	incoming.RowID = "incoming"

	matched, reason, hit := FuzzyDuplicateCheck(canon.ModeCompany, incoming, []canon.Row{existing})
	if !hit {
		t.Fatalf("expected a direct fuzzy duplicate hit")
	}
	if matched.RowID != existing.RowID {
		t.Fatalf("expected matched row %s, got %s", existing.RowID, matched.RowID)
	}
	if reason == "" {
		t.Fatalf("expected a non-empty rejection reason")
	}
}

func TestFuzzyDuplicateCheckSkipsSelf(t *testing.T) {
	t.Parallel()

	incoming := row("Acme Corporation", "acme", "acme.com", "acme.com", canon.SubClassGeneric)

	_, _, hit := FuzzyDuplicateCheck(canon.ModeCompany, incoming, []canon.Row{incoming})
	if hit {
		t.Fatalf("expected no hit when the only table row is the incoming row itself")
	}
}

func TestBuildCandidatePoolEntityModeImmediateRejection(t *testing.T) {
	t.Parallel()

	existing := canon.Row{RowID: "existing", Name: "Breaking News Today", NormalizedTitle: "breaking news today", Etld1: "example.com", Brand: "example"}
	incoming := canon.Row{RowID: "incoming", Name: "Breaking News Today", NormalizedTitle: "breaking news today", Etld1: "other.com", Brand: "other"}

	// Reached via vector recall rather than the fuzzy cascade — a table row
	// this similar would already have been rejected by FuzzyDuplicateCheck
	// before BuildCandidatePool ever runs — so this exercises the pool's
	// own >0.9 immediate-rejection threshold on a vector-only hit.
	pool, immediate := BuildCandidatePool(canon.ModeEntity, incoming, []canon.Row{existing}, []string{"existing"})
	if immediate == nil {
		t.Fatalf("expected immediate rejection for near-identical titles")
	}
	if len(pool) != 0 {
		t.Fatalf("expected no pool when rejected immediately, got %d", len(pool))
	}
}

func TestBuildCandidatePoolCompanyModeRanksAndCaps(t *testing.T) {
	t.Parallel()

	incoming := row("Acme Inc", "acme", "acme.io", "acme.io", canon.SubClassGeneric)
	var table []canon.Row
	for i := 0; i < 8; i++ {
		// Mixed subdomain class against a shared brand keeps rule 3 at
		// Ambiguous (rather than an outright Duplicate), so these rows
		// reach the ranking/capping logic under test.
		domain := fmt.Sprintf("acme%d.io", i)
		r := row("Acme Incorporated", "acme", domain, domain, canon.SubClassOther)
		r.RowID = fmt.Sprintf("existing-%d", i)
		table = append(table, r)
	}

	pool, immediate := BuildCandidatePool(canon.ModeCompany, incoming, table, nil)
	if immediate != nil {
		t.Fatalf("company mode never returns immediate rejections, got %+v", immediate)
	}
	if len(pool) != companyPoolCap {
		t.Fatalf("expected pool capped at %d, got %d", companyPoolCap, len(pool))
	}
}
