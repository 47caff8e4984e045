// Package sitemap walks a host's sitemap tree and yields page URLs lazily.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/kruyneg/information-retrieval/internal/crawler"
	"github.com/kruyneg/information-retrieval/internal/metrics"
)

const (
	// Element names are matched by local name so sitemaps published with or
	// without the sitemaps.org namespace are both understood.
	sitemapLocXPath = "//*[local-name()='sitemap']/*[local-name()='loc']"
	pageLocXPath    = "//*[local-name()='url']/*[local-name()='loc']"

	defaultMaxBytes = 50 << 20
)

// ErrWalked is returned when Walk is called twice on one Resolver.
var ErrWalked = errors.New("sitemap resolver already walked")

// Allower decides whether a page URL may be crawled.
type Allower interface {
	Allowed(rawURL string) bool
}

// Config controls sitemap requests.
type Config struct {
	UserAgent string
	// MaxBytes caps a single (decompressed) sitemap document.
	MaxBytes int64
}

// Resolver traverses the sitemap tree of one host.
type Resolver struct {
	host   crawler.Host
	policy Allower
	client *http.Client
	cfg    Config
	logger *zap.Logger
	walked atomic.Bool
}

// NewResolver builds a Resolver for host. Pages rejected by policy are skipped.
func NewResolver(host crawler.Host, policy Allower, client *http.Client, cfg Config, logger *zap.Logger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &Resolver{
		host:   host,
		policy: policy,
		client: client,
		cfg:    cfg,
		logger: logger.Named("sitemap").With(zap.String("host", host.Origin)),
	}
}

// Walk visits roots in order, depth-first through index sitemaps, and calls
// yield for every admitted page URL in document order.
//
// When resumeAfter is non-empty every page URL up to and including it is
// suppressed, across all roots. A sitemap that cannot be fetched or parsed
// aborts the walk with a *crawler.HostError. An error returned by yield
// aborts the walk and is returned unchanged.
func (r *Resolver) Walk(ctx context.Context, roots []string, resumeAfter string, yield func(pageURL string) error) error {
	if !r.walked.CompareAndSwap(false, true) {
		return ErrWalked
	}
	w := &walk{
		r:           r,
		yield:       yield,
		resumeAfter: resumeAfter,
		skip:        resumeAfter != "",
		seen:        make(map[string]struct{}),
	}
	for _, root := range roots {
		if err := w.visit(ctx, strings.TrimSpace(root)); err != nil {
			return err
		}
	}
	if w.skip {
		r.logger.Warn("resume cursor not found in sitemaps; nothing yielded", zap.String("resume_after", resumeAfter))
	}
	return nil
}

type walk struct {
	r           *Resolver
	yield       func(string) error
	resumeAfter string
	skip        bool
	seen        map[string]struct{}
}

func (w *walk) visit(ctx context.Context, sitemapURL string) error {
	if _, ok := w.seen[sitemapURL]; ok {
		w.r.logger.Debug("sitemap already visited", zap.String("sitemap", sitemapURL))
		return nil
	}
	w.seen[sitemapURL] = struct{}{}

	doc, err := w.r.fetch(ctx, sitemapURL)
	if err != nil {
		metrics.ObserveSitemap(w.r.host.Origin, "error")
		return &crawler.HostError{Host: w.r.host.Origin, Err: err}
	}
	metrics.ObserveSitemap(w.r.host.Origin, "ok")

	children, err := xmlquery.QueryAll(doc, sitemapLocXPath)
	if err != nil {
		return &crawler.HostError{Host: w.r.host.Origin, Err: fmt.Errorf("query sitemap %s: %w", sitemapURL, err)}
	}
	for _, node := range children {
		loc := strings.TrimSpace(node.InnerText())
		if loc == "" {
			continue
		}
		if w.r.host.Ignored(loc) {
			w.r.logger.Debug("skipping ignored sitemap", zap.String("sitemap", loc))
			continue
		}
		if err := w.visit(ctx, loc); err != nil {
			return err
		}
	}

	pages, err := xmlquery.QueryAll(doc, pageLocXPath)
	if err != nil {
		return &crawler.HostError{Host: w.r.host.Origin, Err: fmt.Errorf("query sitemap %s: %w", sitemapURL, err)}
	}
	for _, node := range pages {
		loc := strings.TrimSpace(node.InnerText())
		if loc == "" {
			continue
		}
		if w.skip {
			if loc == w.resumeAfter {
				w.skip = false
			}
			continue
		}
		if w.r.policy != nil && !w.r.policy.Allowed(loc) {
			w.r.logger.Debug("robots disallows page", zap.String("url", loc))
			continue
		}
		if err := w.yield(loc); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) fetch(ctx context.Context, sitemapURL string) (*xmlquery.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new sitemap request: %w", err)
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &crawler.FetchError{URL: sitemapURL, Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close sitemap body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, &crawler.StatusError{URL: sitemapURL, StatusCode: resp.StatusCode}
	}

	body, err := readCapped(resp.Body, r.cfg.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("read sitemap %s: %w", sitemapURL, err)
	}
	if isGzip(body) {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gunzip sitemap %s: %w", sitemapURL, err)
		}
		body, err = readCapped(zr, r.cfg.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("gunzip sitemap %s: %w", sitemapURL, err)
		}
	}

	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}
	return doc, nil
}

func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("document exceeds %d bytes", limit)
	}
	return data, nil
}

func isGzip(body []byte) bool {
	return len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b
}
