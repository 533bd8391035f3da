package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
	"github.com/JakeFAU/contact-crawler/internal/metrics"
)

const (
	robotsRetries         = 3
	fallbackReasonTimeout = "robots.txt fetch timed out"
	allowAllRobots        = "User-agent: *\nAllow: /\n"
)

// 250ms, 500ms, 1s.
var robotsBackoff = crawler.ExponentialBackoff{Base: 250 * time.Millisecond, Max: time.Second}

// retryTransport retries robots.txt fetches that time out. Once the retries
// are spent it serves an allow-all file and records the fallback.
type retryTransport struct {
	next     http.RoundTripper
	fallback *fallbackRecord
	retries  int
	delay    func(attempt int) time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.fallback == nil || req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.next.RoundTrip(req)
	}
	delay := t.delay
	if delay == nil {
		delay = robotsBackoff.Delay
	}
	for attempt := 1; ; attempt++ {
		resp, err := t.next.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		if attempt > t.retries {
			t.fallback.record(fallbackReasonTimeout)
			return allowAllResponse(req), nil
		}
		if err := pause(req.Context(), delay(attempt)); err != nil {
			return nil, err
		}
	}
}

// fallbackRecord remembers whether a probe was answered by the allow-all fallback.
type fallbackRecord struct {
	mu     sync.Mutex
	reason string
}

func (f *fallbackRecord) record(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reason != "" {
		return
	}
	f.reason = reason
	metrics.ObserveRobotsFallback()
}

func (f *fallbackRecord) used() (string, bool) {
	if f == nil {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason, f.reason != ""
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots.txt retry: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

// isTimeout matches deadline errors and TLS handshake stalls.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "handshake timeout")
}
