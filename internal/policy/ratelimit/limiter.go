// Package ratelimit enforces per-host request spacing with an optional global cap.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kruyneg/information-retrieval/internal/metrics"
)

// HostLimiter guarantees that successive Acquire calls for one host return at
// least delay apart, regardless of how many workers call it.
type HostLimiter struct {
	host   string
	delay  time.Duration
	global *rate.Limiter

	// sem is a one-slot lock that can be abandoned on context cancellation.
	sem  chan struct{}
	last time.Time
}

// NewHostLimiter builds a limiter for host. A nil global disables the shared cap.
func NewHostLimiter(host string, delay time.Duration, global *rate.Limiter) *HostLimiter {
	if delay < 0 {
		delay = 0
	}
	return &HostLimiter{
		host:   host,
		delay:  delay,
		global: global,
		sem:    make(chan struct{}, 1),
	}
}

// Delay returns the configured spacing.
func (l *HostLimiter) Delay() time.Duration {
	return l.delay
}

// Acquire blocks until a request to the host may start.
func (l *HostLimiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	}
	defer func() { <-l.sem }()

	start := time.Now()
	if !l.last.IsZero() {
		if wait := time.Until(l.last.Add(l.delay)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("rate limit wait: %w", ctx.Err())
			case <-timer.C:
			}
		}
	}
	if l.global != nil {
		if err := l.global.Wait(ctx); err != nil {
			return fmt.Errorf("global rate limit wait: %w", err)
		}
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitWait(l.host, waited)
	}
	l.last = time.Now()
	return nil
}

// Config holds registry configuration.
type Config struct {
	// GlobalRPS caps requests across all hosts; 0 disables the cap.
	GlobalRPS float64
}

// Registry owns one HostLimiter per host origin.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*HostLimiter
	global   *rate.Limiter
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg Config) *Registry {
	var global *rate.Limiter
	if cfg.GlobalRPS > 0 {
		global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), 1)
	}
	return &Registry{
		limiters: make(map[string]*HostLimiter),
		global:   global,
	}
}

// Register installs (or replaces) the limiter for host with the given spacing.
func (r *Registry) Register(host string, delay time.Duration) *HostLimiter {
	l := NewHostLimiter(host, delay, r.global)
	r.mu.Lock()
	r.limiters[host] = l
	r.mu.Unlock()
	return l
}

// Get returns the limiter registered for host.
func (r *Registry) Get(host string) (*HostLimiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[host]
	return l, ok
}

// Acquire waits on the limiter registered for host.
func (r *Registry) Acquire(ctx context.Context, host string) error {
	l, ok := r.Get(host)
	if !ok {
		return fmt.Errorf("rate limit: host %q not registered", host)
	}
	return l.Acquire(ctx)
}
