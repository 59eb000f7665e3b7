package canon

import (
	"html"
	"regexp"
	"strings"
)

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)
var disallowedCharsRe = regexp.MustCompile(`[^a-zA-Z0-9\s\-&.,()]+`)
var whitespaceRunRe = regexp.MustCompile(`\s+`)

// cleanName strips HTML tags/entities and any character outside the
// alphanumeric/space/-&.,() set, then collapses whitespace, per §4.1.
func cleanName(name string) string {
	if name == "" {
		return ""
	}
	unescaped := html.UnescapeString(name)
	stripped := htmlTagRe.ReplaceAllString(unescaped, " ")
	filtered := disallowedCharsRe.ReplaceAllString(stripped, " ")
	collapsed := whitespaceRunRe.ReplaceAllString(filtered, " ")
	return strings.TrimSpace(collapsed)
}
