package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const (
	maxSlugLen = 50
	maxPathLen = 30
	hashLen    = 8
)

// DeriveKey computes the canonical output key for a (url, viewport) subject.
//
// The rule is fixed for interoperability with external naming conventions:
// a sanitized slug of the URL (host without "www." plus path, every
// non-alphanumeric run replaced by "_", bounded length) followed by the
// first 8 hex characters of SHA-256("url|WxH|mobile") so the same page at
// different viewports never collides.
func DeriveKey(rawURL string, width, height int, mobile bool) string {
	slug := slugify(rawURL)
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%dx%d|%t", rawURL, width, height, mobile))
	return slug + "_" + hex.EncodeToString(sum[:])[:hashLen]
}

func slugify(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return sanitize(rawURL, maxSlugLen)
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	path := strings.ReplaceAll(u.Path, "/", "_")
	if len(path) > maxPathLen {
		path = path[:maxPathLen]
	}
	return sanitize(host+path, maxSlugLen)
}

// sanitize replaces everything outside [a-zA-Z0-9._-] with "_" and bounds
// the result to max bytes.
func sanitize(s string, max int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > max {
		out = out[:max]
	}
	return out
}
