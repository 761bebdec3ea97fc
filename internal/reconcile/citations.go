// Package reconcile merges provider-returned citations with citations
// inferred from web-search sources, linking them to ranked answer entities.
package reconcile

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/brandlens/geo-audit/internal/model"
)

// NormalizeDomain lowercases a domain and strips a leading "www.".
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(d, "www.")
}

// normalizeName NFKC-normalizes and lowercases an entity or brand name so
// that matching is stable across provider output variations (smart quotes,
// ligatures, accented property names).
func normalizeName(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
}

// DomainOf extracts the normalized host from a raw URL. Returns "" when the
// URL does not parse.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return NormalizeDomain(u.Hostname())
}

// IsBrandDomain reports whether domain belongs to the brand's domain list.
func IsBrandDomain(domain string, brandDomains []string) bool {
	d := NormalizeDomain(domain)
	if d == "" {
		return false
	}
	for _, bd := range brandDomains {
		b := NormalizeDomain(bd)
		if b == "" {
			continue
		}
		if d == b || strings.HasSuffix(d, "."+b) {
			return true
		}
	}
	return false
}

// matchEntity returns the name of the first entity the source matches, or ""
// when none match. Entities are tried in list order and the first hit wins:
// (a) source domain contains the entity domain, (b) entity name appears in
// the source title, (c) the whitespace-stripped entity name appears in the
// source URL.
func matchEntity(source model.SearchSource, entities []model.AnswerEntity) string {
	srcDomain := NormalizeDomain(source.Domain)
	if srcDomain == "" {
		srcDomain = DomainOf(source.URL)
	}
	title := normalizeName(source.Title)
	srcURL := strings.ToLower(source.URL)

	for _, e := range entities {
		if ed := NormalizeDomain(e.Domain); ed != "" && srcDomain != "" && strings.Contains(srcDomain, ed) {
			return e.Name
		}
		name := normalizeName(e.Name)
		if name == "" {
			continue
		}
		if strings.Contains(title, name) {
			return e.Name
		}
		compact := strings.ReplaceAll(name, " ", "")
		if compact != "" && strings.Contains(srcURL, compact) {
			return e.Name
		}
	}
	return ""
}

// Merge combines provider-supplied citations with citations inferred from
// search sources. Every source becomes a citation regardless of entity match
// because share-of-voice is computed over the complete citation universe.
// Deduplication is by exact URL; provider-supplied citations take priority
// and inferred ones are only added for URLs not already present. Brand
// domain flags are recomputed on all citations against brandDomains.
func Merge(provider []model.Citation, sources []model.SearchSource, entities []model.AnswerEntity, brandDomains []string) []model.Citation {
	merged := make([]model.Citation, 0, len(provider)+len(sources))
	seen := make(map[string]bool, len(provider)+len(sources))

	for _, c := range provider {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		if c.Domain == "" {
			c.Domain = DomainOf(c.URL)
		}
		c.Domain = NormalizeDomain(c.Domain)
		c.IsBrandDomain = IsBrandDomain(c.Domain, brandDomains)
		seen[c.URL] = true
		merged = append(merged, c)
	}

	for _, s := range sources {
		if s.URL == "" || seen[s.URL] {
			continue
		}
		domain := NormalizeDomain(s.Domain)
		if domain == "" {
			domain = DomainOf(s.URL)
		}
		seen[s.URL] = true
		merged = append(merged, model.Citation{
			URL:           s.URL,
			Domain:        domain,
			IsBrandDomain: IsBrandDomain(domain, brandDomains),
			EntityRef:     matchEntity(s, entities),
		})
	}

	return merged
}
