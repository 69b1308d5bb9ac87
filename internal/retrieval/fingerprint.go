package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Fingerprint derives the cache key for a request. It is a pure function of
// the normalized query text, the normalized language tag, the canonicalized
// filter set and the pagination/ranking parameters: identical requests always
// produce the same key, and changing any result-affecting input changes it.
// Callers must apply defaults to the request before fingerprinting.
func Fingerprint(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "q=%s", normalizeQuery(req.Query))
	fmt.Fprintf(&b, "|lang=%s", NormalizeLanguage(req.Language))
	fmt.Fprintf(&b, "|sites=%s", canonicalList(req.Filters.Sites))
	fmt.Fprintf(&b, "|types=%s", canonicalList(req.Filters.ContentTypes))
	fmt.Fprintf(&b, "|after=%s|before=%s", req.Filters.PublishedAfter, req.Filters.PublishedBefore)
	fmt.Fprintf(&b, "|offset=%d|k=%d|rk=%d|alpha=%g", req.Offset, req.OverfetchK, req.RerankK, req.Alpha)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// normalizeQuery lowercases and collapses whitespace so that trivially
// reformatted queries share a fingerprint.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// NormalizeLanguage canonicalizes a BCP-47 tag ("EN-us" and "en-US" must
// fingerprint identically). Unparseable tags fall back to a lowercased trim
// rather than erroring.
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	return tag.String()
}

// canonicalList sorts a copy of the values so filter order never affects the
// fingerprint.
func canonicalList(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	sorted := make([]string, len(vals))
	copy(sorted, vals)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
