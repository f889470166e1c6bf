// Package ratelimit throttles source fetches with per-source token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/mention-scanner/internal/metrics"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// Rule is the token bucket shape for one source.
type Rule struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds default and per-source rules.
type Config struct {
	Default   Rule
	PerSource map[monitor.Source]Rule
}

// Limiter manages per-source rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[monitor.Source]*rate.Limiter
	cfg      Config
}

// New creates a Limiter. A non-positive RPS means unlimited.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters: make(map[monitor.Source]*rate.Limiter),
		cfg:      cfg,
	}
}

func (l *Limiter) limiterFor(source monitor.Source) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[source]; ok {
		return lim
	}
	rule, ok := l.cfg.PerSource[source]
	if !ok {
		rule = l.cfg.Default
	}
	r := rate.Limit(rule.RPS)
	if rule.RPS <= 0 {
		r = rate.Inf
	}
	burst := rule.Burst
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(r, burst)
	l.limiters[source] = lim
	return lim
}

// Wait blocks until a token is available for source or ctx ends.
func (l *Limiter) Wait(ctx context.Context, source monitor.Source) error {
	start := time.Now()
	if err := l.limiterFor(source).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(string(source), d)
	}
	return nil
}

// Wrap returns a Fetcher that waits on the source's bucket before each fetch.
func (l *Limiter) Wrap(source monitor.Source, next monitor.Fetcher) monitor.Fetcher {
	return &limitedFetcher{limiter: l, source: source, next: next}
}

type limitedFetcher struct {
	limiter *Limiter
	source  monitor.Source
	next    monitor.Fetcher
}

func (f *limitedFetcher) Fetch(ctx context.Context, req monitor.FetchRequest) ([]monitor.Item, error) {
	if err := f.limiter.Wait(ctx, f.source); err != nil {
		return nil, err
	}
	return f.next.Fetch(ctx, req)
}
