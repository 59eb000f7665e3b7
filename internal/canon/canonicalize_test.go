package canon

import "testing"

func TestCanonicalizeExtractsURLPriority(t *testing.T) {
	t.Parallel()

	item := RawItem{
		ID: "a",
		Data: map[string]any{
			"url": "https://example.com/top",
			"properties": map[string]any{
				"url": "https://example.com/props",
			},
		},
	}
	row := New(ModeCompany).Canonicalize(item)
	if row.URL != "https://example.com/props" {
		t.Fatalf("expected properties.url to win, got %q", row.URL)
	}
	if row.Etld1 != "example.com" {
		t.Fatalf("unexpected etld1: %q", row.Etld1)
	}
}

func TestCanonicalizeToleratesMissingFields(t *testing.T) {
	t.Parallel()

	row := New(ModeCompany).Canonicalize(RawItem{ID: "a", Data: map[string]any{}})
	if row.Host != "" || row.Etld1 != "" || row.Brand != "" {
		t.Fatalf("expected empty derived host fields, got %+v", row)
	}
	if row.Name != "" {
		t.Fatalf("expected empty name, got %q", row.Name)
	}
}

func TestCanonicalizeNameCleaning(t *testing.T) {
	t.Parallel()

	row := New(ModeCompany).Canonicalize(RawItem{
		ID: "a",
		Data: map[string]any{
			"name": "<b>Apple</b> &amp; Co.",
		},
	})
	if row.Name != "Apple & Co." {
		t.Fatalf("unexpected cleaned name: %q", row.Name)
	}
}

func TestNormalizedTitleIdempotent(t *testing.T) {
	t.Parallel()

	once := normalizedTitle("District 9 (2009)")
	twice := normalizedTitle(once)
	if once != twice {
		t.Fatalf("normalizedTitle not idempotent: %q != %q", once, twice)
	}
	if once != "district 9" {
		t.Fatalf("unexpected normalized title: %q", once)
	}
}

func TestNormalizedTitleStripsEpisodeTail(t *testing.T) {
	t.Parallel()

	// "Show" is itself a format marker and is stripped before the
	// "Season 2 ..." tail is cut, leaving only "my".
	got := normalizedTitle("My Show Season 2 Episode 5 Extra Stuff")
	if got != "my" {
		t.Fatalf("unexpected normalized title: %q", got)
	}
}

func TestRowTier0KeyVideoPlatform(t *testing.T) {
	t.Parallel()

	row := New(ModeEntity).Canonicalize(RawItem{
		ID: "v1",
		Data: map[string]any{
			"title": "Inception Official Trailer",
			"url":   "https://youtube.com/x",
		},
	})
	if !row.IsVideoPlatform {
		t.Fatalf("expected video platform row")
	}
	if row.Tier0Key()[:6] != "video:" {
		t.Fatalf("expected video: prefix key, got %q", row.Tier0Key())
	}
}
