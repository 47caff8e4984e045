package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kruyneg/information-retrieval/internal/config"
	"github.com/kruyneg/information-retrieval/internal/crawler"
	"github.com/kruyneg/information-retrieval/internal/robots"
	memstore "github.com/kruyneg/information-retrieval/internal/storage/memory"
)

type staticRobots struct {
	delay time.Duration
}

func (r staticRobots) Load(_ context.Context, origin string) *robots.Policy {
	return robots.AllowAll(origin, r.delay)
}

type stubParser struct{}

func (stubParser) Parse(url string, body []byte) (crawler.Document, error) {
	if strings.Contains(url, "broken") {
		return crawler.Document{}, &crawler.ParseError{URL: url, Err: errors.New("no text")}
	}
	return crawler.Document{URL: url, Title: "t", Text: string(body)}, nil
}

type recordingFetcher struct {
	mu      sync.Mutex
	urls    []string
	starts  []time.Time
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (f *recordingFetcher) Fetch(_ context.Context, url string) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()
	if f.entered != nil {
		f.once.Do(func() { close(f.entered) })
	}
	if f.gate != nil {
		<-f.gate
	}
	return crawler.FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte("body of " + url)}, nil
}

func (f *recordingFetcher) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

func (f *recordingFetcher) Starts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.starts...)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

// sitemapServer serves a single urlset listing paths under its own origin.
func sitemapServer(t *testing.T, paths ...string) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sitemap.xml" {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
		b.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
		for _, p := range paths {
			fmt.Fprintf(&b, "<url><loc>%s%s</loc></url>", server.URL, p)
		}
		b.WriteString(`</urlset>`)
		_, _ = w.Write([]byte(b.String()))
	}))
	t.Cleanup(server.Close)
	return server
}

func pages(n int) []string {
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, fmt.Sprintf("/p%d", i))
	}
	return out
}

func baseConfig(sites ...string) Config {
	cfg := Config{
		UserAgent:       "SimpleCrawler",
		Workers:         1,
		QueueCapacity:   5,
		DrainPolicy:     config.DrainGraceful,
		MaxSitemapBytes: 1 << 20,
		PingTimeout:     time.Second,
	}
	for _, s := range sites {
		cfg.Sites = append(cfg.Sites, config.SiteConfig{BaseURL: s})
	}
	return cfg
}

func newDispatcher(t *testing.T, cfg Config, fetcher crawler.Fetcher, store *memstore.Store, delay time.Duration) *Dispatcher {
	t.Helper()
	d, err := New(cfg, Deps{
		Documents: store,
		Progress:  store,
		Pinger:    store,
		Fetcher:   fetcher,
		Parser:    stubParser{},
		Robots:    staticRobots{delay: delay},
	}, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestRunSpacesFetchesPerHost(t *testing.T) {
	t.Parallel()

	server := sitemapServer(t, pages(5)...)
	cfg := baseConfig(server.URL)
	cfg.Workers = 3
	store := memstore.NewStore()
	fetcher := &recordingFetcher{}
	d := newDispatcher(t, cfg, fetcher, store, 200*time.Millisecond)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.Stored)
	assert.Equal(t, int64(5), summary.Enqueued)
	assert.Empty(t, summary.HostErrors)
	assert.Equal(t, StateStopped, d.State())

	starts := fetcher.Starts()
	require.Len(t, starts, 5)
	first, last := starts[0], starts[0]
	for _, s := range starts {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 800*time.Millisecond-10*time.Millisecond)

	cursor, ok, err := store.LastURL(context.Background(), server.URL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, server.URL+"/p5", cursor)
}

func TestRunResumesAfterCursor(t *testing.T) {
	t.Parallel()

	server := sitemapServer(t, pages(3)...)
	store := memstore.NewStore()
	require.NoError(t, store.SetLastURL(context.Background(), server.URL, server.URL+"/p2"))
	fetcher := &recordingFetcher{}
	d := newDispatcher(t, baseConfig(server.URL), fetcher, store, 0)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{server.URL + "/p3"}, fetcher.URLs())
	assert.Equal(t, int64(1), summary.Stored)
}

func TestRunIsolatesFailures(t *testing.T) {
	t.Parallel()

	good := sitemapServer(t, "/p1", "/broken", "/p3")
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	store := memstore.NewStore()
	fetcher := &recordingFetcher{}
	d := newDispatcher(t, baseConfig(good.URL, bad.URL), fetcher, store, 0)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.HostErrors, 1)
	assert.Equal(t, strings.ToLower(bad.URL), summary.HostErrors[0].Host)
	var statusErr *crawler.StatusError
	assert.ErrorAs(t, summary.HostErrors[0], &statusErr)

	assert.Equal(t, int64(2), summary.Stored)
	_, ok := store.Document(good.URL + "/p1")
	assert.True(t, ok)
	_, ok = store.Document(good.URL + "/p3")
	assert.True(t, ok)
}

func TestRunStopsAtDocumentLimit(t *testing.T) {
	t.Parallel()

	server := sitemapServer(t, pages(10)...)
	cfg := baseConfig(server.URL)
	cfg.MaxDocuments = 3
	cfg.QueueCapacity = 2
	store := memstore.NewStore()
	d := newDispatcher(t, cfg, &recordingFetcher{}, store, 0)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Stored)
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, ReasonLimit, summary.StopReason)
	assert.Less(t, summary.Enqueued, int64(10))
}

func TestRunLimitLeavesUnstoredPagesForNextRun(t *testing.T) {
	t.Parallel()

	server := sitemapServer(t, pages(10)...)
	cfg := baseConfig(server.URL)
	cfg.MaxDocuments = 1
	cfg.QueueCapacity = 5
	store := memstore.NewStore()
	fetcher := &recordingFetcher{}
	d := newDispatcher(t, cfg, fetcher, store, 0)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonLimit, summary.StopReason)
	assert.Equal(t, int64(1), summary.Stored)
	assert.Equal(t, []string{server.URL + "/p1"}, fetcher.URLs(), "queued pages must not be fetched after the limit")
	if summary.Enqueued > 1 {
		assert.Equal(t, []string{server.URL}, summary.Rewound)
	}

	cursor, ok, err := store.LastURL(context.Background(), server.URL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, server.URL+"/p1", cursor)

	next := &recordingFetcher{}
	cfg.MaxDocuments = 0
	summary, err = newDispatcher(t, cfg, next, store, 0).Run(context.Background())
	require.NoError(t, err)
	want := make([]string, 0, 9)
	for _, p := range pages(10)[1:] {
		want = append(want, server.URL+p)
	}
	assert.Equal(t, want, next.URLs())
	assert.Equal(t, int64(9), summary.Stored)
	assert.Equal(t, 10, store.Len())
}

func TestRunStopsAtByteLimit(t *testing.T) {
	t.Parallel()

	server := sitemapServer(t, pages(6)...)
	cfg := baseConfig(server.URL)
	cfg.MaxBytes = 1
	store := memstore.NewStore()
	fetcher := &recordingFetcher{}
	d := newDispatcher(t, cfg, fetcher, store, 0)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonLimit, summary.StopReason)
	assert.Equal(t, int64(1), summary.Stored)
	assert.Greater(t, summary.StoredBytes, int64(1))
	assert.Len(t, fetcher.URLs(), 1)
}

func TestRunCancelDrainPolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy      string
		wantFetched int
	}{
		{policy: config.DrainGraceful, wantFetched: 3},
		{policy: config.DrainHard, wantFetched: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.policy, func(t *testing.T) {
			t.Parallel()

			server := sitemapServer(t, pages(6)...)
			cfg := baseConfig(server.URL)
			cfg.QueueCapacity = 2
			cfg.DrainPolicy = tt.policy
			store := memstore.NewStore()
			fetcher := &recordingFetcher{gate: make(chan struct{}), entered: make(chan struct{})}
			d := newDispatcher(t, cfg, fetcher, store, 0)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			type result struct {
				summary Summary
				err     error
			}
			done := make(chan result, 1)
			go func() {
				s, err := d.Run(ctx)
				done <- result{s, err}
			}()

			<-fetcher.entered
			// One item in flight plus a full queue; the producer is blocked.
			require.Eventually(t, func() bool {
				return d.Status().Enqueued == 3 && d.Status().QueueDepth == 2
			}, 2*time.Second, 5*time.Millisecond)
			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, int64(3), d.Status().Enqueued, "backpressure bound exceeded")

			cancel()
			require.Eventually(t, func() bool { return d.State() != StateRunning }, time.Second, 5*time.Millisecond)
			close(fetcher.gate)

			var res result
			select {
			case res = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("run did not return after cancel")
			}
			require.NoError(t, res.err)
			assert.Equal(t, ReasonCanceled, res.summary.StopReason)
			assert.Len(t, fetcher.URLs(), tt.wantFetched)
			assert.Equal(t, StateStopped, d.State())

			cursor, _, err := store.LastURL(context.Background(), server.URL)
			require.NoError(t, err)
			assert.Equal(t, server.URL+"/p3", cursor)
		})
	}
}

func TestRunAbortsWhenStorageUnavailable(t *testing.T) {
	t.Parallel()

	server := sitemapServer(t, pages(2)...)
	store := memstore.NewStore()
	fetcher := &recordingFetcher{}
	d, err := New(baseConfig(server.URL), Deps{
		Documents: store,
		Progress:  store,
		Pinger:    failingPinger{},
		Fetcher:   fetcher,
		Parser:    stubParser{},
		Robots:    staticRobots{},
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	require.ErrorIs(t, err, crawler.ErrStorageUnavailable)
	assert.Empty(t, fetcher.URLs())
}

func TestRunOnlyOnce(t *testing.T) {
	t.Parallel()

	server := sitemapServer(t)
	d := newDispatcher(t, baseConfig(server.URL), &recordingFetcher{}, memstore.NewStore(), 0)
	_, err := d.Run(context.Background())
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRan)
	d.Stop()
	assert.Equal(t, StateStopped, d.State())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	store := memstore.NewStore()
	deps := Deps{Documents: store, Progress: store, Fetcher: &recordingFetcher{}, Parser: stubParser{}, Robots: staticRobots{}}
	tests := []struct {
		name   string
		mutate func(*Config, *Deps)
	}{
		{name: "no workers", mutate: func(c *Config, _ *Deps) { c.Workers = 0 }},
		{name: "no queue", mutate: func(c *Config, _ *Deps) { c.QueueCapacity = 0 }},
		{name: "no sites", mutate: func(c *Config, _ *Deps) { c.Sites = nil }},
		{name: "relative site", mutate: func(c *Config, _ *Deps) { c.Sites = []config.SiteConfig{{BaseURL: "habr.com"}} }},
		{
			name: "duplicate site",
			mutate: func(c *Config, _ *Deps) {
				c.Sites = []config.SiteConfig{{BaseURL: "https://habr.com"}, {BaseURL: "https://habr.com/"}}
			},
		},
		{name: "missing fetcher", mutate: func(_ *Config, d *Deps) { d.Fetcher = nil }},
		{
			name: "both limits",
			mutate: func(c *Config, _ *Deps) {
				c.MaxDocuments = 1
				c.MaxBytes = 1024
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig("https://habr.com")
			d := deps
			tt.mutate(&cfg, &d)
			_, err := New(cfg, d, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestCoordinatorIdempotent(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	assert.Equal(t, StateRunning, c.State())
	assert.False(t, c.Stopping())

	assert.True(t, c.Stop("first"))
	assert.False(t, c.Stop("second"))
	assert.Equal(t, StateStopping, c.State())
	assert.Equal(t, "first", c.Reason())
	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}

	c.Finish("third")
	c.Finish("fourth")
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, "first", c.Reason())
	assert.False(t, c.Stop("again"))
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, "stopped", c.State().String())
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Crawler: config.CrawlerConfig{
			UserAgent: "ua", Workers: 4, QueueCapacity: 9, DrainPolicy: config.DrainHard,
			MaxDocuments: 7, GlobalRPS: 2, MaxSitemapBytes: 10,
		},
		Sites:   []config.SiteConfig{{BaseURL: "https://habr.com"}},
		Storage: config.StorageConfig{PingTimeout: time.Second},
	}
	got := ConfigFrom(cfg)
	assert.Equal(t, 4, got.Workers)
	assert.Equal(t, 9, got.QueueCapacity)
	assert.Equal(t, config.DrainHard, got.DrainPolicy)
	assert.Equal(t, 7, got.MaxDocuments)
	assert.Equal(t, time.Second, got.PingTimeout)
	assert.Len(t, got.Sites, 1)
}
