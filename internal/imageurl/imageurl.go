// Package imageurl normalizes marketplace gallery image URLs.
// It canonicalizes thumbnail URLs to their highest-resolution variant,
// derives deduplication keys, and builds the descending resolution ladder
// used by the image resolver.
package imageurl

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// highestToken is the largest standard resolution token served by the
// gallery CDN. Thumbnails carry smaller tokens (s-l64, s-l225, ...).
const (
	highestToken = "1600"
	highestRes   = 1600
)

// ladderTokens is the descending ladder of resolution tokens tried by the
// resolver, largest first.
var ladderTokens = []string{"1600", "1200", "800", "500"}

// tokenRe matches the resolution token in a gallery path. The token appears
// either as its own path segment (".../s-l500.jpg") or as a filename suffix
// ("..._s-l64.jpg").
var tokenRe = regexp.MustCompile(`(?i)([/_])s-l(\d+)(\.(?:jpe?g|png|webp|gif))$`)

// galleryPathRe matches token-less gallery paths that are still accepted
// as-is (no rewrite, no ladder).
var galleryPathRe = regexp.MustCompile(`(?i)^/(?:images|thumbs)(?:/|$).*\.(?:jpe?g|png|webp|gif)$`)

// ImageRef is an input URL plus its derived normalization state.
// Two refs with equal DedupeKey are duplicates; only the first is kept.
type ImageRef struct {
	// RawURL is the URL exactly as submitted.
	RawURL string
	// NormalizedURL is the canonical high-resolution candidate.
	NormalizedURL string
	// DedupeKey collapses URLs differing only by resolution token or query.
	DedupeKey string
}

// Normalizer validates and canonicalizes gallery image URLs for a
// configured CDN host family.
type Normalizer struct {
	hostSuffixes []string
}

// NewNormalizer creates a Normalizer accepting the given CDN host suffixes.
// A URL is accepted when its host equals a suffix or ends in "."+suffix.
func NewNormalizer(hostSuffixes []string) *Normalizer {
	suffixes := make([]string, 0, len(hostSuffixes))
	for _, s := range hostSuffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			suffixes = append(suffixes, s)
		}
	}
	return &Normalizer{hostSuffixes: suffixes}
}

// Normalize canonicalizes a raw gallery URL.
// It returns ok=false when the URL does not parse as an absolute http(s)
// URL, the host is outside the configured CDN family, or the path does not
// match a recognized gallery shape. Query parameters are always stripped,
// and a recognized resolution token is rewritten to the highest standard
// resolution. Normalization is idempotent.
func (n *Normalizer) Normalize(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	// The suffix check runs on the bare hostname; the rebuilt URL keeps
	// u.Host so an explicit port still points at the same origin.
	host := strings.ToLower(u.Hostname())
	if host == "" || !n.hostAllowed(host) {
		return "", false
	}

	path := u.EscapedPath()
	switch {
	case tokenRe.MatchString(path):
		// Thumbnail tokens are upgraded; tokens at or above the standard
		// maximum pass through unchanged.
		m := tokenRe.FindStringSubmatch(path)
		if n, err := strconv.Atoi(m[2]); err == nil && n < highestRes {
			path = tokenRe.ReplaceAllString(path, "${1}s-l"+highestToken+"${3}")
		}
	case galleryPathRe.MatchString(path):
		// Token-less gallery path: accepted unchanged.
	default:
		return "", false
	}

	return u.Scheme + "://" + strings.ToLower(u.Host) + path, true
}

// Ref normalizes a raw URL into an ImageRef.
func (n *Normalizer) Ref(raw string) (ImageRef, bool) {
	normalized, ok := n.Normalize(raw)
	if !ok {
		return ImageRef{}, false
	}
	return ImageRef{
		RawURL:        raw,
		NormalizedURL: normalized,
		DedupeKey:     DedupeKey(normalized),
	}, true
}

// NormalizeAll normalizes a list of raw URLs, drops rejects and duplicates
// (first occurrence wins), and caps the result at max entries while
// preserving input order. A non-positive max means no cap.
func (n *Normalizer) NormalizeAll(rawURLs []string, max int) []ImageRef {
	seen := make(map[string]struct{}, len(rawURLs))
	refs := make([]ImageRef, 0, len(rawURLs))
	for _, raw := range rawURLs {
		ref, ok := n.Ref(raw)
		if !ok {
			continue
		}
		if _, dup := seen[ref.DedupeKey]; dup {
			continue
		}
		seen[ref.DedupeKey] = struct{}{}
		refs = append(refs, ref)
		if max > 0 && len(refs) == max {
			break
		}
	}
	return refs
}

// DedupeKey derives the deduplication key for a normalized URL: the
// lower-cased path with the resolution token digits stripped, so two URLs
// differing only by resolution collapse to one entry.
func DedupeKey(normalizedURL string) string {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return strings.ToLower(normalizedURL)
	}
	path := strings.ToLower(u.EscapedPath())
	return tokenRe.ReplaceAllString(path, "${1}s-l${3}")
}

// Variants builds the descending resolution ladder for a normalized URL,
// largest variant first, ending with the literal URL as last resort.
// URLs without a recognized token get a single-entry ladder.
func Variants(normalizedURL string) []string {
	m := tokenRe.FindStringSubmatch(normalizedURL)
	if m == nil {
		return []string{normalizedURL}
	}

	variants := make([]string, 0, len(ladderTokens)+1)
	for _, token := range ladderTokens {
		v := tokenRe.ReplaceAllString(normalizedURL, "${1}s-l"+token+"${3}")
		if !contains(variants, v) {
			variants = append(variants, v)
		}
	}
	if !contains(variants, normalizedURL) {
		variants = append(variants, normalizedURL)
	}
	return variants
}

func (n *Normalizer) hostAllowed(host string) bool {
	for _, suffix := range n.hostSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
