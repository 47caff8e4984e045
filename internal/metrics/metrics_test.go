package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://habr.com/ru/articles/1", "habr.com"},
		{"standard https", "https://Habr.com/path", "habr.com"},
		{"no scheme", "www.geeksforgeeks.org/path", "www.geeksforgeeks.org"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if crawlerPagesTotal == nil || crawlerDocumentsTotal == nil ||
		httpRequestsTotal == nil || crawlerRateLimitWaitSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetchCountsPagesAndBytes(t *testing.T) {
	before := testutil.ToFloat64(crawlerPagesCounter("fetch.test", "200"))
	beforeBytes := testutil.ToFloat64(crawlerBytesCounter("fetch.test"))

	ObserveFetch("https://fetch.test/a", "200", 128)
	ObserveFetch("https://fetch.test/b", "200", 0)

	if got := testutil.ToFloat64(crawlerPagesCounter("fetch.test", "200")) - before; got != 2 {
		t.Errorf("expected 2 pages, got %f", got)
	}
	if got := testutil.ToFloat64(crawlerBytesCounter("fetch.test")) - beforeBytes; got != 128 {
		t.Errorf("expected 128 bytes, got %f", got)
	}
}

func TestObserveDocumentAndGauges(t *testing.T) {
	Init()
	before := testutil.ToFloat64(crawlerDocumentsTotal.WithLabelValues("doc.test", "stored"))
	ObserveDocument("https://doc.test/x", "stored")
	if got := testutil.ToFloat64(crawlerDocumentsTotal.WithLabelValues("doc.test", "stored")) - before; got != 1 {
		t.Errorf("expected one stored document, got %f", got)
	}

	SetQueueDepth(4)
	if got := testutil.ToFloat64(crawlerQueueDepth); got != 4 {
		t.Errorf("expected queue depth 4, got %f", got)
	}

	ObserveRateLimitWait("https://doc.test", 200*time.Millisecond)
	if n := testutil.CollectAndCount(crawlerRateLimitWaitSeconds); n == 0 {
		t.Error("expected rate limit histogram to be observed")
	}
}

func crawlerPagesCounter(site, status string) prometheus.Counter {
	Init()
	return crawlerPagesTotal.WithLabelValues(site, status)
}

func crawlerBytesCounter(site string) prometheus.Counter {
	Init()
	return crawlerBytesTotal.WithLabelValues(site)
}
