package crawler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Host is a crawl target identified by its base origin (scheme://authority).
type Host struct {
	// Origin never carries a trailing slash.
	Origin string
	// Ignore lists sitemap index entries that are skipped entirely.
	Ignore map[string]struct{}
}

// NewHost normalizes baseURL into an origin and builds the ignore set.
func NewHost(baseURL string, ignore []string) (Host, error) {
	origin, err := Origin(baseURL)
	if err != nil {
		return Host{}, err
	}
	set := make(map[string]struct{}, len(ignore))
	for _, raw := range ignore {
		raw = strings.TrimSpace(raw)
		if raw != "" {
			set[raw] = struct{}{}
		}
	}
	return Host{Origin: origin, Ignore: set}, nil
}

// Ignored reports whether sitemapURL is on the host's ignore list.
func (h Host) Ignored(sitemapURL string) bool {
	_, ok := h.Ignore[sitemapURL]
	return ok
}

// Origin reduces rawURL to scheme://authority, lowercased and without a
// default port.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse origin %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("origin %q must be absolute", rawURL)
	}
	scheme, host := strings.ToLower(u.Scheme), strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return scheme + "://" + host, nil
}

// CrawlItem is the unit placed on the crawl queue. The zero value is the
// worker termination sentinel.
type CrawlItem struct {
	URL  string
	Host string
	// Seq is the item's admission order within the run.
	Seq int64
	// Prev is the host's resume cursor before this item was admitted.
	Prev string
}

// IsSentinel reports whether the item tells a worker to exit.
func (i CrawlItem) IsSentinel() bool {
	return i.URL == ""
}

// DocumentKind discriminates the page templates a Document was extracted from.
type DocumentKind string

// Known document kinds.
const (
	KindHabr          DocumentKind = "habr"
	KindGeeksForGeeks DocumentKind = "geeksforgeeks"
)

// Document is a parsed page ready for persistence. URL is the store key.
type Document struct {
	URL       string       `json:"url" bson:"url"`
	Kind      DocumentKind `json:"kind" bson:"kind"`
	Title     string       `json:"title" bson:"title"`
	Text      string       `json:"text" bson:"text"`
	Host      string       `json:"host" bson:"host"`
	FetchedAt time.Time    `json:"fetched_at" bson:"fetched_at"`
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
