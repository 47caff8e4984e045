package crawler

import (
	"context"
)

// DocumentStore persists parsed documents keyed by URL. UpsertDocument must
// overwrite an existing record for the same URL and be safe for concurrent
// calls on distinct URLs.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc Document) error
}

// ProgressStore persists the per-host resume cursor.
type ProgressStore interface {
	// LastURL returns the last URL handed off for host, if any.
	LastURL(ctx context.Context, host string) (string, bool, error)
	// SetLastURL overwrites the cursor for host.
	SetLastURL(ctx context.Context, host, url string) error
}

// Pinger checks that a storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DocumentParser turns a fetched page body into a Document.
// Failures are reported as *ParseError.
type DocumentParser interface {
	Parse(url string, body []byte) (Document, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Queue provides the bounded hand-off between producers and workers.
type Queue interface {
	Enqueue(ctx context.Context, item CrawlItem) error
	Dequeue(ctx context.Context) (CrawlItem, error)
}

// Limiter spaces requests per host. Acquire blocks until a request to host
// may start.
type Limiter interface {
	Acquire(ctx context.Context, host string) error
}
