// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and an in-memory per-host tally used by the status endpoint.
package sinks
