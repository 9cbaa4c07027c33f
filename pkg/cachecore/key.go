package cachecore

import (
	"net/http"
	"sort"
	"strings"
)

// CacheKey is the canonical, comparable identity of a stored entry: the
// request URL plus the value of every header currently listed in the
// VaryTable for that URL, as an unordered set. Two requests differing
// only in header order, or in headers the URL doesn't vary on, collide
// on the same key by construction.
type CacheKey string

// absentHeaderValue is substituted for a varying header the request
// didn't send, so "missing" and "present but empty" never collide with
// an attacker-controlled literal header value.
const absentHeaderValue = "\x00absent\x00"

func computeKey(url string, headers http.Header, varyHeaders []string) CacheKey {
	var b strings.Builder
	b.WriteString("url\x00")
	b.WriteString(url)

	sorted := normalizeHeaderNames(varyHeaders)
	for _, h := range sorted {
		v := headers.Get(h)
		if v == "" {
			v = absentHeaderValue
		}
		b.WriteString("\x1f")
		b.WriteString(h)
		b.WriteString("\x00")
		b.WriteString(v)
	}
	return CacheKey(b.String())
}

// normalizeHeaderNames lowercases, trims, dedupes, and sorts header
// names so that declaration order never affects the resulting key or
// the serialized Vary header.
func normalizeHeaderNames(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// dumpVary renders header names as the canonical wire form: a
// semicolon-separated, lowercased, deduped, sorted list.
func dumpVary(headers []string) string {
	return strings.Join(normalizeHeaderNames(headers), ";")
}

// parseVary reads a Vary header value back into header names. Readers
// accept both the canonical ";"-separated form and the standard HTTP
// ","-separated form.
func parseVary(raw string) []string {
	replaced := strings.NewReplacer(",", ";").Replace(raw)
	return normalizeHeaderNames(strings.Split(replaced, ";"))
}

func headerPairs(h http.Header) []HeaderPair {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]HeaderPair, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			pairs = append(pairs, HeaderPair{Name: name, Value: v})
		}
	}
	return pairs
}
