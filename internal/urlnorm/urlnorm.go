// Package urlnorm reduces URLs to the canonical form used for crawl dedupe.
package urlnorm

import (
	"net/url"
	"path"
	"strings"
)

var trackingKeys = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
	"icid":   {},
}

// Normalize resolves raw against base and returns its canonical form. The
// second return value is false when the input cannot name a crawlable page:
// unparseable text, or a result without a host (mailto:, tel:, javascript:).
//
// The canonical form has a lowercased scheme and host, no fragment, no
// trailing slash except for the root path, and no tracking parameters.
// Normalize is idempotent.
func Normalize(raw, base string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" && base == "" {
		return "", false
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	// Resolving against an empty base still removes dot segments.
	baseURL := &url.URL{}
	if base != "" {
		if baseURL, err = url.Parse(base); err != nil {
			return "", false
		}
	}
	ref = baseURL.ResolveReference(ref)

	scheme := strings.ToLower(ref.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	if ref.Opaque != "" {
		return "", false
	}
	host := strings.ToLower(ref.Host)
	if host == "" {
		return "", false
	}

	p := strings.TrimRight(ref.EscapedPath(), "/")
	if p == "" {
		p = "/"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(p)
	if q := filterQuery(ref.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String(), true
}

// filterQuery drops tracking parameters while keeping the remaining pairs in
// their original order and encoding.
func filterQuery(raw string) string {
	if raw == "" {
		return ""
	}
	kept := make([]string, 0, 4)
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		if isTracking(key) {
			continue
		}
		if !hasValue {
			value = ""
		}
		kept = append(kept, key+"="+value)
	}
	return strings.Join(kept, "&")
}

func isTracking(key string) bool {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		decoded = key
	}
	decoded = strings.ToLower(decoded)
	if strings.HasPrefix(decoded, "utm_") {
		return true
	}
	_, ok := trackingKeys[decoded]
	return ok
}

// Host returns the lowercased host of a URL, or "" when it cannot be parsed.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// SameHost reports whether raw points at host, compared case-insensitively.
func SameHost(raw, host string) bool {
	h := Host(raw)
	return h != "" && h == strings.ToLower(host)
}

// HasExtension reports whether the URL path ends in one of exts. Entries in
// exts carry their leading dot and are expected in lowercase.
func HasExtension(raw string, exts []string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// SiteRoot returns scheme://host for a URL.
func SiteRoot(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + strings.ToLower(u.Host), true
}
