package canon

import (
	"regexp"
	"strings"
)

// normalizedTitle applies the fixed ordered cleaning pipeline from §4.1 to
// produce the canonical lowercase form used for entity-mode dedup. The
// pipeline is idempotent (L3): running it again on its own output is a
// no-op, since every pattern it strips has already been removed.
var (
	yearParenRe      = regexp.MustCompile(`(?i)\s*\((?:19|20)\d{2}\)\s*`)
	formatMarkerRe   = regexp.MustCompile(`(?i)\s*\(?\b(TV Series|Movie|Film|Book|Anime|Series|Show)\b\)?\s*`)
	standaloneTVRe   = regexp.MustCompile(`(?i)\s*\(TV[^)]*\)\s*`)
	regionalMarkerRe = regexp.MustCompile(`(?i)\s*\(?\b(US|UK|Japanese|English|Dub|Sub|Original)\b\)?\s*`)
	episodeTailRe    = regexp.MustCompile(`(?i)\s*\b(S\d+E\d+|Season\s+\d+|Ep\.?\s+\d+|Episode\s+\d+).*$`)
	editionMarkerRe  = regexp.MustCompile(`(?i)\s*\(?\b(Remastered|Director'?s Cut|Extended|Revised|Special|Limited|Ultimate|Complete|Definitive)\b\)?\s*`)
	trailerSuffixRe  = regexp.MustCompile(`(?i)\s*\b(Official\s+)?(Trailer|Teaser|TV Spot|Clip|Behind the Scenes|Making Of)\b.*$`)
	leadingTheRe     = regexp.MustCompile(`(?i)^The\s+(.*)$`)
	trailingTheRe    = regexp.MustCompile(`(?i)^(.*),\s*The$`)
	punctuationRunRe = regexp.MustCompile(`[^a-zA-Z0-9\s]+`)
	titleSpaceRunRe  = regexp.MustCompile(`\s+`)
)

func normalizedTitle(name string) string {
	s := name

	s = yearParenRe.ReplaceAllString(s, " ")
	s = formatMarkerRe.ReplaceAllString(s, " ")
	s = standaloneTVRe.ReplaceAllString(s, " ")
	s = regionalMarkerRe.ReplaceAllString(s, " ")
	s = episodeTailRe.ReplaceAllString(s, "")
	s = editionMarkerRe.ReplaceAllString(s, " ")
	s = trailerSuffixRe.ReplaceAllString(s, "")

	if m := trailingTheRe.FindStringSubmatch(s); m != nil {
		s = "The " + m[1]
	}
	if m := leadingTheRe.FindStringSubmatch(s); m != nil {
		s = m[1] + ", The"
	}

	s = punctuationRunRe.ReplaceAllString(s, " ")
	s = titleSpaceRunRe.ReplaceAllString(s, " ")
	s = strings.ToLower(strings.TrimSpace(s))

	return s
}
