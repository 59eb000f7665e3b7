package canon

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var genericSubdomains = map[string]struct{}{
	"":       {},
	"www":    {},
	"m":      {},
	"mobile": {},
	"app":    {},
	"amp":    {},
}

var videoPlatformEtld1 = map[string]struct{}{
	"youtube.com":     {},
	"youtu.be":        {},
	"vimeo.com":       {},
	"dailymotion.com": {},
	"twitch.tv":       {},
	"tiktok.com":      {},
}

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)
var digitsRun = regexp.MustCompile(`[0-9]+`)

// hostInfo derives etld1, brand, subdomain class and video-platform status
// from a raw URL string. An empty or unparseable URL yields empty host,
// etld1 and brand, SubClassUnknown and isVideo false, per §4.1's "missing or
// invalid URL" tolerance.
func hostInfo(rawURL string) (host, etld1, brand string, subCls SubdomainClass, isVideo bool) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", "", "", SubClassUnknown, false
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Hostname() == "" {
		return "", "", "", SubClassUnknown, false
	}

	host = strings.ToLower(parsed.Hostname())

	etld1, err = publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		etld1 = host
	}

	subdomain := strings.TrimSuffix(host, etld1)
	subdomain = strings.TrimSuffix(subdomain, ".")
	if _, ok := genericSubdomains[subdomain]; ok {
		subCls = SubClassGeneric
	} else {
		subCls = SubClassOther
	}

	brandHost := strings.TrimSuffix(etld1, "."+tldOf(etld1))
	brand = brandToken(brandHost)

	_, isVideo = videoPlatformEtld1[etld1]

	return host, etld1, brand, subCls, isVideo
}

func tldOf(etld1 string) string {
	idx := strings.LastIndex(etld1, ".")
	if idx < 0 {
		return etld1
	}
	return etld1[idx+1:]
}

// brandToken lowercases a domain label and strips digits/separators, per
// §3's brand derivation ("lowercased domain-without-suffix with digits and
// separators stripped").
func brandToken(label string) string {
	lower := strings.ToLower(label)
	lower = digitsRun.ReplaceAllString(lower, "")
	lower = nonAlnumRun.ReplaceAllString(lower, "")
	return lower
}
