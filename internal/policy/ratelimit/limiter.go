// Package ratelimit caps outbound requests with token buckets: one ceiling
// shared by every crawl in the process, and an optional per-host bucket.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
	"github.com/JakeFAU/contact-crawler/internal/metrics"
)

// Config holds rate limiter configuration. Non-positive rates mean unlimited.
type Config struct {
	GlobalRPS   float64
	GlobalBurst int
	PerHostRPS  float64
}

// Limiter implements crawler.RateLimiter.
type Limiter struct {
	global *rate.Limiter

	mu        sync.Mutex
	hosts     map[string]*rate.Limiter
	hostRate  rate.Limit
	hostBurst int
}

var _ crawler.RateLimiter = (*Limiter)(nil)

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.GlobalBurst
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		global:    rate.NewLimiter(limitFor(cfg.GlobalRPS), burst),
		hosts:     make(map[string]*rate.Limiter),
		hostRate:  limitFor(cfg.PerHostRPS),
		hostBurst: 1,
	}
	return l
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until both the host bucket and the global bucket grant a token.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	start := time.Now()
	if l.hostRate != rate.Inf {
		if err := l.hostLimiter(hostOf(rawURL)).Wait(ctx); err != nil {
			return fmt.Errorf("host rate limit wait: %w", err)
		}
	}
	if err := l.global.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.hosts[host]
	if !ok {
		limiter = rate.NewLimiter(l.hostRate, l.hostBurst)
		l.hosts[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
