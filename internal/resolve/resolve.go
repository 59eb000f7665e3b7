// Package resolve implements the HEAD-based URL resolution the spec's
// ENABLE_URL_RESOLUTION flag gates (company mode only): following redirects
// on a suspicious pair's URLs to see whether they land on the same
// registrable domain even though the URLs themselves differ.
package resolve

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

// Client issues HEAD requests and reports the eTLD+1 of the final URL after
// redirects, so the caller can compare it against another resolved URL.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

func New(logger zerolog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 5 * time.Second},
		log:  logger.With().Str("component", "url_resolver").Logger(),
	}
}

// ResolveEtld1 issues a HEAD request for rawURL, follows redirects (the
// standard library's default policy caps at 10), and returns the eTLD+1 of
// wherever the request ultimately lands. A transport error, a status of 400
// or above, or an empty final host yield ok=false; a final host with no
// computable eTLD+1 is returned as-is with ok=true. Resolution is best-effort
// and never blocks the pipeline on failure.
func (c *Client) ResolveEtld1(ctx context.Context, rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("url", rawURL).Msg("url resolution HEAD request failed")
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", false
	}
	final := resp.Request.URL.Hostname()
	if final == "" {
		return "", false
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(final)
	if err != nil {
		return final, true
	}
	return etld1, true
}
