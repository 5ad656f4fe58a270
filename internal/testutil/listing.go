// Package testutil builds synthetic council pages for tests.
package testutil

import (
	"fmt"
	"html"
	"strings"
)

// Entry is one session link on a synthetic listing page.
type Entry struct {
	// DateText is the French date phrase, e.g. "18 juin 2025".
	DateText string
	Href     string
}

// ListingHTML renders a listing page with the given entries and, when next is
// not empty, a pagination landmark pointing at next.
func ListingHTML(entries []Entry, next string) string {
	var b strings.Builder
	b.WriteString("<html><body><main><h1>Décisions du Conseil d'Etat</h1><ul>\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "<li><a href=%q>Séance du Conseil d'Etat du %s</a></li>\n",
			e.Href, html.EscapeString(e.DateText))
	}
	b.WriteString("</ul>\n<a href=\"/contact\">Contact</a>\n")
	if next != "" {
		b.WriteString(`<nav aria-label="Pagination"><ul>`)
		b.WriteString(`<li><a class="vd-pagination__link" href="?page=0">Page précédente</a></li>`)
		fmt.Fprintf(&b, `<li><a class="vd-pagination__link" href=%q><span>Page suivante</span></a></li>`, next)
		b.WriteString("</ul></nav>\n")
	}
	b.WriteString("</main></body></html>\n")
	return b.String()
}

// DetailHTML renders a session detail page. Each section maps a heading to
// file links as name -> href pairs; an empty heading renders a block without h2.
func DetailHTML(sections []DetailBlock) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="main">`)
	for _, s := range sections {
		b.WriteString(`<div class="col-md-12 pl-0 pr-0">`)
		if s.Heading != "" {
			fmt.Fprintf(&b, `<h2 class="heading">%s</h2>`, html.EscapeString(s.Heading))
		}
		for _, f := range s.Files {
			fmt.Fprintf(&b, `<p><a href=%q>%s</a></p>`, f.Href, html.EscapeString(f.Name))
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// DetailBlock is one agenda block on a detail page.
type DetailBlock struct {
	Heading string
	Files   []Link
}

// Link is an anchor's text and href.
type Link struct {
	Name string
	Href string
}
