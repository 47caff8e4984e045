// Package robots loads robots.txt into a per-host crawl policy.
//
// A policy is fetched once per host at startup and never blocks crawling:
// anything other than a 200 response degrades to allow-all.
package robots

import (
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// Policy is the immutable robots snapshot for one host.
type Policy struct {
	origin   string
	group    *robotstxt.Group
	sitemaps []string
	delay    time.Duration
	declared time.Duration
	fallback bool
}

// AllowAll returns a policy that permits every URL, points at the
// conventional sitemap location and spaces requests by delay.
func AllowAll(origin string, delay time.Duration) *Policy {
	return &Policy{
		origin:   origin,
		sitemaps: []string{DefaultSitemap(origin)},
		delay:    delay,
		fallback: true,
	}
}

// DefaultSitemap is the sitemap URL assumed when robots.txt declares none.
func DefaultSitemap(origin string) string {
	return origin + "/sitemap.xml"
}

// Allowed reports whether the user agent may fetch rawURL.
func (p *Policy) Allowed(rawURL string) bool {
	if p == nil || p.group == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return p.group.Test(u.RequestURI())
}

// CrawlDelay is the spacing the host's limiter must enforce.
func (p *Policy) CrawlDelay() time.Duration {
	return p.delay
}

// DeclaredDelay is the Crawl-delay found in robots.txt, or zero.
func (p *Policy) DeclaredDelay() time.Duration {
	return p.declared
}

// Sitemaps lists the sitemap roots for the host in declaration order.
func (p *Policy) Sitemaps() []string {
	return append([]string(nil), p.sitemaps...)
}

// Fallback reports whether robots.txt was unavailable and allow-all applies.
func (p *Policy) Fallback() bool {
	return p.fallback
}

// Origin returns the host origin the policy belongs to.
func (p *Policy) Origin() string {
	return p.origin
}

func fromData(origin, userAgent string, data *robotstxt.RobotsData, defaultDelay time.Duration, honorDelay bool) *Policy {
	p := &Policy{
		origin: origin,
		group:  data.FindGroup(userAgent),
		delay:  defaultDelay,
	}
	if p.group != nil {
		p.declared = p.group.CrawlDelay
	}
	if honorDelay && p.declared > 0 {
		p.delay = p.declared
	}
	for _, sm := range data.Sitemaps {
		if sm != "" {
			p.sitemaps = append(p.sitemaps, sm)
		}
	}
	if len(p.sitemaps) == 0 {
		p.sitemaps = []string{DefaultSitemap(origin)}
	}
	return p
}
