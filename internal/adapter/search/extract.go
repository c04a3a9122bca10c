package search

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"assistbot/internal/domain"
)

// ExtractResults parses a rendered results page and returns up to limit
// entries in document order. A field whose selector is empty or matches
// nothing is left as the empty string; the entry itself is kept.
// Relative links are resolved against pageURL.
func ExtractResults(html, pageURL string, sel Selectors, limit int) ([]domain.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	base, _ := url.Parse(pageURL)

	var results []domain.SearchResult
	doc.Find(sel.Result).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(results) >= limit {
			return false
		}
		results = append(results, domain.SearchResult{
			Title:   fieldText(s, sel.Title),
			Snippet: fieldText(s, sel.Snippet),
			URL:     resolveLink(base, fieldAttr(s, sel.Link, "href")),
		})
		return true
	})
	return results, nil
}

func fieldText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return collapseSpace(s.Find(selector).First().Text())
}

func fieldAttr(s *goquery.Selection, selector, attr string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().AttrOr(attr, ""))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveLink makes href absolute and unwraps redirect links of the form
// /url?q=<target>.
func resolveLink(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Path == "/url" {
		for _, key := range []string{"q", "url"} {
			if target := ref.Query().Get(key); strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
				return target
			}
		}
	}
	return ref.String()
}

// BuildQueryURL returns engineURL with q set to query.
func BuildQueryURL(engineURL, query string) (string, error) {
	u, err := url.Parse(engineURL)
	if err != nil {
		return "", fmt.Errorf("parse engine url: %w", err)
	}
	params := u.Query()
	params.Set("q", query)
	u.RawQuery = params.Encode()
	return u.String(), nil
}
