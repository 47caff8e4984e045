// Package crawler holds the types, interfaces and error taxonomy shared by the
// sitemap crawl pipeline: hosts, crawl items, documents, and the store, parser
// and fetcher contracts consumed by the dispatcher and its workers.
package crawler
