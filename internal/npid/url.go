package npid

import (
	"net/url"
	"strings"
)

// UnknownDomain is the sentinel used when a page URL cannot be parsed.
const UnknownDomain = "unknown"

// DomainFromURL extracts the normalized domain from a page URL: hostname
// with any leading "www." stripped. It never fails; an unparseable URL maps
// to UnknownDomain.
func DomainFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return UnknownDomain
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
