package util

import (
	"net/url"
	"strings"
)

// EnsureAffiliateTag guarantees the configured affiliate tag is present on
// amazon.* product URLs. Non-Amazon URLs are returned unchanged.
// The second return reports whether the URL was modified.
func EnsureAffiliateTag(rawURL, tag string) (string, bool) {
	if tag == "" {
		return rawURL, false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, false
	}
	if !strings.Contains(parsed.Hostname(), "amazon.") {
		return rawURL, false
	}

	q := parsed.Query()
	if q.Get("tag") == tag {
		return parsed.String(), false
	}
	q.Set("tag", tag)
	parsed.RawQuery = q.Encode()
	return parsed.String(), true
}
