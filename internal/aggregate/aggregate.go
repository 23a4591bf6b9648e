package aggregate

import (
	"net/url"
	"strings"
)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "utm_id", "gclid", "fbclid", "spm"}

// NormalizeURL returns the canonical form used as a dedup key: lower-case
// scheme and host, default port dropped, fragment removed and common tracking
// parameters trimmed. u is not modified.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	if (c.Scheme == "http" && strings.HasSuffix(c.Host, ":80")) || (c.Scheme == "https" && strings.HasSuffix(c.Host, ":443")) {
		c.Host = c.Host[:strings.LastIndex(c.Host, ":")]
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.RawQuery != "" {
		q := c.Query()
		for _, p := range trackingParams {
			q.Del(p)
		}
		c.RawQuery = q.Encode()
	}
	return c.String()
}

// NormalizeString parses raw and normalizes it. Unparseable input is returned
// trimmed so that it still dedups against itself.
func NormalizeString(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return NormalizeURL(u)
}
