// Package listing extracts session candidates and the next-page link from one
// page of the council listing.
package listing

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSessionPattern matches anchor text such as
// "Séance du Conseil d'Etat du 18 juin 2025" and captures the date phrase.
const DefaultSessionPattern = `Séance du Conseil d['’][EÉ]tat du (\d{1,2}\s+\S+\s+\d{4})`

// Config controls how anchors are recognized.
type Config struct {
	SessionPattern  string
	PaginationLabel string
	NextKeywords    []string
}

// Candidate is one session link found on a listing page, in page order.
type Candidate struct {
	RawDate string
	URL     string
	Title   string
}

// Page is the parse result for one listing page.
type Page struct {
	Candidates []Candidate
	// NextURL is empty when the page has no next-page link.
	NextURL string
}

// Parser is stateless and safe for concurrent use.
type Parser struct {
	pattern  *regexp.Regexp
	navQuery string
	keywords []string
}

// NewParser compiles cfg. The session pattern is matched case-insensitively
// and must have exactly one capture group holding the date phrase.
func NewParser(cfg Config) (*Parser, error) {
	raw := cfg.SessionPattern
	if raw == "" {
		raw = DefaultSessionPattern
	}
	if !strings.HasPrefix(raw, "(?i)") {
		raw = "(?i)" + raw
	}
	pattern, err := regexp.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile session pattern: %w", err)
	}
	if pattern.NumSubexp() != 1 {
		return nil, fmt.Errorf("session pattern must have one capture group, has %d", pattern.NumSubexp())
	}

	label := cfg.PaginationLabel
	if label == "" {
		label = "Pagination"
	}
	keywords := make([]string, 0, len(cfg.NextKeywords))
	for _, kw := range cfg.NextKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		keywords = []string{"suivante", "next"}
	}

	return &Parser{
		pattern:  pattern,
		navQuery: fmt.Sprintf(`nav[aria-label=%q]`, label),
		keywords: keywords,
	}, nil
}

// Parse reads markup fetched from pageURL. Relative links are resolved against pageURL.
func (p *Parser) Parse(markup []byte, pageURL string) (Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Page{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return Page{}, fmt.Errorf("parse listing markup: %w", err)
	}

	var page Page
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		text := collapseSpace(a.Text())
		match := p.pattern.FindStringSubmatch(text)
		if match == nil {
			return
		}
		href, ok := resolve(base, a)
		if !ok {
			return
		}
		page.Candidates = append(page.Candidates, Candidate{
			RawDate: match[1],
			URL:     href,
			Title:   text,
		})
	})

	doc.Find(p.navQuery).Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.ToLower(collapseSpace(a.Text()))
		for _, kw := range p.keywords {
			if strings.Contains(text, kw) {
				if href, ok := resolve(base, a); ok {
					page.NextURL = href
					return false
				}
			}
		}
		return true
	})

	return page, nil
}

func resolve(base *url.URL, a *goquery.Selection) (string, bool) {
	raw, _ := a.Attr("href")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
