// Package collyfetcher probes robots.txt with a gocolly collector.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// RobotsChecker implements crawler.RobotsChecker.
type RobotsChecker struct {
	cfg           Config
	transport     http.RoundTripper
	delay         func(attempt int) time.Duration
	baseCollector *colly.Collector
	logger        *zap.Logger
}

var _ crawler.RobotsChecker = (*RobotsChecker)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type robotsFetch struct {
	mu     sync.Mutex
	status int
	body   []byte
	err    error
}

// New builds a RobotsChecker.
func New(cfg Config, logger *zap.Logger) *RobotsChecker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 512 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	return &RobotsChecker{
		cfg:           cfg,
		transport:     newHTTPTransport(),
		baseCollector: c,
		logger:        logger,
	}
}

// RootDisallowed fetches /robots.txt for siteURL and reports whether "/" is
// disallowed for the configured agent. Missing or failing robots files allow.
func (r *RobotsChecker) RootDisallowed(ctx context.Context, siteURL string) (bool, error) {
	robotsURL, err := robotsLocation(siteURL)
	if err != nil {
		return false, err
	}
	collector, state, fetch := r.buildCollector()
	if err := r.runCollector(ctx, collector, robotsURL); err != nil {
		fetch.mu.Lock()
		status := fetch.status
		fetch.mu.Unlock()
		if status == 0 {
			return false, err
		}
	}
	if reason, fallback := state.used(); fallback {
		r.logger.Info("robots.txt unreachable, allowing", zap.String("url", robotsURL), zap.String("reason", reason))
		return false, nil
	}

	fetch.mu.Lock()
	defer fetch.mu.Unlock()
	if fetch.status != http.StatusOK {
		r.logger.Debug("robots.txt not usable, allowing", zap.String("url", robotsURL), zap.Int("status", fetch.status))
		return false, nil
	}
	data, err := robotstxt.FromBytes(fetch.body)
	if err != nil {
		return false, fmt.Errorf("parse robots: %w", err)
	}
	return !data.TestAgent("/", r.userAgent()), nil
}

func (r *RobotsChecker) buildCollector() (*colly.Collector, *fallbackRecord, *robotsFetch) {
	collector := r.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.UserAgent = r.userAgent()
	collector.MaxBodySize = r.cfg.MaxBodyBytes
	collector.SetRequestTimeout(r.cfg.Timeout)

	state := &fallbackRecord{}
	base := r.transport
	if base == nil {
		base = newHTTPTransport()
	}
	collector.WithTransport(&retryTransport{next: base, fallback: state, retries: robotsRetries, delay: r.delay})

	fetch := &robotsFetch{}
	configureCollectorHooks(collector, fetch)
	return collector, state, fetch
}

func configureCollectorHooks(hooks collectorHooks, fetch *robotsFetch) {
	hooks.OnResponse(func(resp *colly.Response) {
		fetch.mu.Lock()
		fetch.status = resp.StatusCode
		fetch.body = append([]byte(nil), resp.Body...)
		fetch.mu.Unlock()
	})
	hooks.OnError(func(resp *colly.Response, err error) {
		fetch.mu.Lock()
		if resp != nil {
			fetch.status = resp.StatusCode
		}
		fetch.err = err
		fetch.mu.Unlock()
	})
}

func (r *RobotsChecker) runCollector(ctx context.Context, collector *colly.Collector, robotsURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(robotsURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("robots fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("robots visit failed: %w", err)
		}
		return nil
	}
}

func (r *RobotsChecker) userAgent() string {
	if r.cfg.UserAgent != "" {
		return r.cfg.UserAgent
	}
	return "Mozilla/5.0 (compatible; contact-crawler/1.0)"
}

func robotsLocation(siteURL string) (string, error) {
	u, err := url.Parse(siteURL)
	if err != nil {
		return "", fmt.Errorf("parse site url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("site url %q is not absolute", siteURL)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
