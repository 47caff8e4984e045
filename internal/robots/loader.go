package robots

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const maxRobotsBytes = 1 << 20

// Config controls how robots.txt is requested and interpreted.
type Config struct {
	UserAgent       string
	DefaultDelay    time.Duration
	HonorCrawlDelay bool
	Timeout         time.Duration
}

// Loader fetches robots.txt for a host origin.
type Loader struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewLoader builds a Loader. A nil client gets a default one whose transport
// retries transient TLS failures on robots.txt.
func NewLoader(cfg Config, client *http.Client, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newRetryTransport(newHTTPTransport()),
		}
	}
	return &Loader{cfg: cfg, client: client, logger: logger.Named("robots")}
}

// Load returns the policy for origin. It never fails: fetch errors and
// non-200 answers yield an allow-all policy with the default delay.
func (l *Loader) Load(ctx context.Context, origin string) *Policy {
	robotsURL := origin + "/robots.txt"
	data, err := l.fetch(ctx, robotsURL)
	if err != nil {
		l.logger.Warn("robots unavailable; allowing all",
			zap.String("host", origin),
			zap.Error(err),
		)
		return AllowAll(origin, l.cfg.DefaultDelay)
	}

	p := fromData(origin, l.cfg.UserAgent, data, l.cfg.DefaultDelay, l.cfg.HonorCrawlDelay)
	if p.declared > 0 {
		l.logger.Info("robots crawl-delay declared",
			zap.String("host", origin),
			zap.Duration("declared", p.declared),
			zap.Duration("effective", p.delay),
			zap.Bool("honored", l.cfg.HonorCrawlDelay),
		)
	}
	l.logger.Debug("robots loaded",
		zap.String("host", origin),
		zap.Strings("sitemaps", p.sitemaps),
	)
	return p
}

func (l *Loader) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if l.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", l.cfg.UserAgent)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			l.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
