// Package progress carries operator events out of the crawl pipeline. Producers
// and workers Emit events into a non-blocking Hub that batches them on a
// background goroutine and fans the batches out to sinks (structured logs,
// Prometheus collectors, the in-memory tally behind /v1/status).
package progress
