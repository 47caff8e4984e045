// Package parser extracts documents from fetched pages using per-site templates.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/kruyneg/information-retrieval/internal/crawler"
)

var (
	// ErrUnknownSite is wrapped when no template matches a URL.
	ErrUnknownSite = errors.New("unknown site")
	// ErrMissingText is wrapped when a page has no extractable body text.
	ErrMissingText = errors.New("not enough data for text")
)

// Template describes where a site keeps its title and article body.
type Template struct {
	Kind   crawler.DocumentKind
	Prefix string
	// TitleSelector defaults to the first h1.
	TitleSelector string
	TextSelector  string
	// Separator joins the body's text nodes.
	Separator string
}

// Habr extracts articles from habr.com.
var Habr = Template{
	Kind:         crawler.KindHabr,
	Prefix:       "https://habr.com",
	TextSelector: "div.article-formatted-body",
	Separator:    "\n",
}

// GeeksForGeeks extracts articles from geeksforgeeks.org.
var GeeksForGeeks = Template{
	Kind:         crawler.KindGeeksForGeeks,
	Prefix:       "https://www.geeksforgeeks.org",
	TextSelector: "div.text",
}

// Registry dispatches pages to the first template whose prefix matches.
type Registry struct {
	templates []Template
	now       func() time.Time
}

// NewRegistry builds a Registry from templates in priority order.
func NewRegistry(templates ...Template) *Registry {
	return &Registry{
		templates: append([]Template(nil), templates...),
		now:       time.Now,
	}
}

// Default returns the registry for the supported sites.
func Default() *Registry {
	return NewRegistry(Habr, GeeksForGeeks)
}

// Parse implements crawler.DocumentParser. Failures are *crawler.ParseError.
func (r *Registry) Parse(url string, body []byte) (crawler.Document, error) {
	for _, tmpl := range r.templates {
		if !strings.HasPrefix(url, tmpl.Prefix) {
			continue
		}
		doc, err := tmpl.extract(url, body)
		if err != nil {
			return crawler.Document{}, &crawler.ParseError{URL: url, Err: err}
		}
		doc.FetchedAt = r.now().UTC()
		return doc, nil
	}
	return crawler.Document{}, &crawler.ParseError{URL: url, Err: ErrUnknownSite}
}

func (t Template) extract(url string, body []byte) (crawler.Document, error) {
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Document{}, fmt.Errorf("load html: %w", err)
	}

	titleSel := t.TitleSelector
	if titleSel == "" {
		titleSel = "h1"
	}
	title := joinText(page.Find(titleSel).First(), "")
	text := joinText(page.Find(t.TextSelector).First(), t.Separator)
	if text == "" {
		return crawler.Document{}, ErrMissingText
	}

	host, err := crawler.Origin(url)
	if err != nil {
		return crawler.Document{}, err
	}
	return crawler.Document{
		URL:   url,
		Kind:  t.Kind,
		Title: title,
		Text:  text,
		Host:  host,
	}, nil
}

// joinText trims every text node under sel, drops empty ones and joins the
// rest with sep.
func joinText(sel *goquery.Selection, sep string) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, sep)
}
