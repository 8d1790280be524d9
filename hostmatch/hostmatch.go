// Package hostmatch decides whether a deployment's hostname belongs to the
// administrator-configured set of protected hosts.
//
// Patterns are either a literal host (optionally with a port, e.g.
// "localhost:8080") or a wildcard of the form "*.example.com", which matches
// example.com itself and every subdomain of it. Patterns are compared as
// plain strings; nothing beyond the leading "*." is interpreted.
package hostmatch

import (
	"strings"
	"unicode"
)

const wildcardPrefix = "*."

// IsProtected reports whether host matches any of the given patterns.
// An empty pattern list never matches.
func IsProtected(host string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	for _, p := range patterns {
		p = strings.ToLower(p)
		if p == "" {
			continue
		}
		if host == p {
			return true
		}
		if domain, ok := strings.CutPrefix(p, wildcardPrefix); ok && domain != "" {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return true
			}
		}
	}
	return false
}

// ParseList splits administrator text input (one host per line, or a
// comma-separated list) and returns the sanitized pattern list.
func ParseList(text string) []string {
	return Sanitize(strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ','
	}))
}

// Sanitize normalizes raw host entries: surrounding whitespace and any
// http:// or https:// scheme are removed, everything from the first "/" is
// dropped, and the result is lowercased. Entries that end up empty or that
// contain whitespace or control characters are discarded. Duplicates are
// removed, keeping the first occurrence.
func Sanitize(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		h, ok := normalize(entry)
		if !ok {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func normalize(entry string) (string, bool) {
	s := strings.TrimSpace(entry)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "https://"):
		s = s[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		s = s[len("http://"):]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", false
		}
	}
	return s, true
}
