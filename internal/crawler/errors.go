package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped signals that the pipeline is shutting down; producers return it
	// to abandon a traversal without treating it as a host failure.
	ErrStopped = errors.New("crawl stopped")
	// ErrStorageUnavailable marks a failed startup connectivity check.
	ErrStorageUnavailable = errors.New("storage backend unavailable")
)

// ParseError reports a page whose body could not be turned into a Document.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FetchError reports a transport-level failure (DNS, TLS, reset, timeout).
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError reports an unexpected HTTP status for a URL.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// HostError aborts a single host's traversal without affecting other hosts.
type HostError struct {
	Host string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: %v", e.Host, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }
