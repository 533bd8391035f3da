package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-crawler/internal/crawler"
	"github.com/JakeFAU/contact-crawler/internal/extract"
	"github.com/JakeFAU/contact-crawler/internal/headless/detector"
	"github.com/JakeFAU/contact-crawler/internal/metrics"
)

type fakeBrowser struct {
	mu       sync.Mutex
	pages    map[string]crawler.Page
	errs     map[string]error
	opened   []string
	sessions int
	closed   int
	// onOpen runs before each navigation.
	onOpen func(url string)
}

func (b *fakeBrowser) NewSession(context.Context) (crawler.BrowserSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions++
	return &fakeSession{browser: b}, nil
}

func (b *fakeBrowser) openedURLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

type fakeSession struct {
	browser *fakeBrowser
}

func (s *fakeSession) Open(_ context.Context, url string) (crawler.Page, error) {
	b := s.browser
	if b.onOpen != nil {
		b.onOpen(url)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, url)
	if err, ok := b.errs[url]; ok {
		return crawler.Page{}, err
	}
	page, ok := b.pages[url]
	if !ok {
		return crawler.Page{}, errors.New("unexpected url " + url)
	}
	if page.URL == "" {
		page.URL = url
	}
	if page.StatusCode == 0 {
		page.StatusCode = 200
	}
	return page, nil
}

func (s *fakeSession) Close() error {
	s.browser.mu.Lock()
	defer s.browser.mu.Unlock()
	s.browser.closed++
	return nil
}

type fakeRobots struct {
	disallow bool
	err      error
	calls    int
}

func (r *fakeRobots) RootDisallowed(context.Context, string) (bool, error) {
	r.calls++
	return r.disallow, r.err
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, browser *fakeBrowser, robots *fakeRobots, clock *fakeClock) *Engine {
	t.Helper()
	metrics.Init()
	if clock == nil {
		clock = &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	}
	var checker crawler.RobotsChecker
	if robots != nil {
		checker = robots
	}
	return New(DefaultConfig(), browser, checker, &countingLimiter{}, detector.NewClassifier(),
		extract.New(extract.Config{}), clock, zap.NewNop())
}

const homeWithImprint = `<html><body>
<nav><a href="/impressum">Impressum</a></nav>
<footer>Contact: info [at] example [dot] com</footer>
</body></html>`

func TestCrawlHomepageAndImprint(t *testing.T) {
	t.Parallel()
	browser := &fakeBrowser{pages: map[string]crawler.Page{
		"https://example.com/":          {HTML: homeWithImprint},
		"https://example.com/impressum": {HTML: `<html><body><a href="mailto:legal@example.com">Mail</a></body></html>`, Text: "Mail"},
	}}
	eng := newTestEngine(t, browser, &fakeRobots{}, nil)

	result, err := eng.Crawl(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 2, result.PagesCrawled)
	require.Equal(t, []crawler.EmailMatch{
		{Email: "info@example.com", SourceURL: "https://example.com/", Confidence: 85},
		{Email: "legal@example.com", SourceURL: "https://example.com/impressum", Confidence: 100},
	}, result.Emails)
	require.Equal(t, 1, browser.sessions)
	require.Equal(t, 1, browser.closed)
}

func TestCrawlWithoutCandidateLinks(t *testing.T) {
	t.Parallel()
	browser := &fakeBrowser{pages: map[string]crawler.Page{
		"https://example.com/": {HTML: `<html><body><p>Welcome</p><footer><a href="mailto:office@example.com">office</a></footer></body></html>`},
	}}
	eng := newTestEngine(t, browser, nil, nil)

	result, err := eng.Crawl(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, 1, result.PagesCrawled)
	require.Len(t, result.Emails, 1)
	require.Equal(t, "office@example.com", result.Emails[0].Email)
	require.Equal(t, []string{"https://example.com/"}, browser.openedURLs())
}

func TestCrawlStopsAfterVerifiedContact(t *testing.T) {
	t.Parallel()
	home := `<html><body><a href="/impressum">Impressum</a><a href="/kontakt">Kontakt</a><footer>nothing here</footer></body></html>`
	browser := &fakeBrowser{pages: map[string]crawler.Page{
		"https://example.com/":          {HTML: home},
		"https://example.com/impressum": {HTML: `<a href="mailto:kontakt@example.com">x</a>`, Text: "x"},
		"https://example.com/kontakt":   {HTML: `<a href="mailto:sales@example.com">y</a>`, Text: "y"},
	}}
	eng := newTestEngine(t, browser, nil, nil)

	result, err := eng.Crawl(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, 2, result.PagesCrawled)
	require.Equal(t, []string{"https://example.com/", "https://example.com/impressum"}, browser.openedURLs())
	require.Len(t, result.Emails, 1)
}

func TestCrawlContinuesPastOffDomainOrNoReply(t *testing.T) {
	t.Parallel()
	home := `<html><body><a href="/imprint">Imprint</a><a href="/contact">Contact</a></body></html>`
	browser := &fakeBrowser{pages: map[string]crawler.Page{
		"https://example.com/":        {HTML: home},
		"https://example.com/imprint": {HTML: `<a href="mailto:noreply@example.com">a</a><a href="mailto:owner@agency.org">b</a>`, Text: "a b"},
		"https://example.com/contact": {HTML: `<p>write to hello@example.com</p>`, Text: "write to hello@example.com"},
	}}
	eng := newTestEngine(t, browser, nil, nil)

	result, err := eng.Crawl(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, 3, result.PagesCrawled)
	require.Len(t, browser.openedURLs(), 3)
}

func TestCrawlPropagatesPageSkip(t *testing.T) {
	t.Parallel()
	browser := &fakeBrowser{pages: map[string]crawler.Page{
		"https://example.com/": {HTML: homeWithImprint},
		"https://example.com/impressum": {
			StatusCode: 403,
			HTML:       "<html><body>Forbidden</body></html>",
		},
	}}
	eng := newTestEngine(t, browser, nil, nil)

	_, err := eng.Crawl(context.Background(), "example.com")
	skip, ok := crawler.AsSkip(err)
	require.True(t, ok)
	require.Equal(t, crawler.SkipHTTP403, skip.Code)
	require.Equal(t, 1, browser.closed)
}

func TestCrawlSwallowsUnclassifiedCandidateError(t *testing.T) {
	t.Parallel()
	home := `<html><body><a href="/impressum">i</a><a href="/kontakt">k</a></body></html>`
	browser := &fakeBrowser{
		pages: map[string]crawler.Page{
			"https://example.com/":        {HTML: home},
			"https://example.com/kontakt": {HTML: `<a href="mailto:team@example.com">t</a>`, Text: "t"},
		},
		errs: map[string]error{"https://example.com/impressum": errors.New("net::ERR_CONNECTION_RESET")},
	}
	eng := newTestEngine(t, browser, nil, nil)

	result, err := eng.Crawl(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, 2, result.PagesCrawled)
	require.Len(t, result.Emails, 1)
	require.Equal(t, "team@example.com", result.Emails[0].Email)
}

func TestCrawlSwallowsConnectionErrorOnHostWithMarkerLetters(t *testing.T) {
	t.Parallel()
	home := `<html><body><a href="/impressum">i</a><a href="/kontakt">k</a>
<footer>Kontakt: buero [at] kessler-gmbh [dot] de</footer></body></html>`
	reset := &crawler.NavigationError{
		URL: "https://kessler-gmbh.de/impressum",
		Err: errors.New("page load error net::ERR_CONNECTION_RESET"),
	}
	browser := &fakeBrowser{
		pages: map[string]crawler.Page{
			"https://kessler-gmbh.de/":        {HTML: home},
			"https://kessler-gmbh.de/kontakt": {HTML: "<p>none</p>"},
		},
		errs: map[string]error{"https://kessler-gmbh.de/impressum": reset},
	}
	eng := newTestEngine(t, browser, nil, nil)

	result, err := eng.Crawl(context.Background(), "kessler-gmbh.de")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://kessler-gmbh.de/",
		"https://kessler-gmbh.de/impressum",
		"https://kessler-gmbh.de/kontakt",
	}, browser.openedURLs())
	require.Equal(t, 2, result.PagesCrawled)
	require.Len(t, result.Emails, 1)
	require.Equal(t, "buero@kessler-gmbh.de", result.Emails[0].Email)
}

func TestCrawlHomepageErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		wantSkip crawler.SkipCode
	}{
		{name: "dns", err: errors.New("net::ERR_NAME_NOT_RESOLVED"), wantSkip: crawler.SkipDNSError},
		{name: "ssl", err: errors.New("net::ERR_CERT_AUTHORITY_INVALID"), wantSkip: crawler.SkipSSLError},
		{name: "timeout", err: context.DeadlineExceeded, wantSkip: crawler.SkipTimeout},
		{name: "transient", err: errors.New("browser crashed")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			browser := &fakeBrowser{errs: map[string]error{"https://example.com/": tt.err}}
			eng := newTestEngine(t, browser, nil, nil)

			result, err := eng.Crawl(context.Background(), "example.com")
			require.Error(t, err)
			require.Zero(t, result.PagesCrawled)
			skip, ok := crawler.AsSkip(err)
			if tt.wantSkip == "" {
				require.False(t, ok)
				return
			}
			require.True(t, ok)
			require.Equal(t, tt.wantSkip, skip.Code)
			require.Equal(t, 1, browser.closed)
		})
	}
}

func TestCrawlStopsAtDeadline(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	browser := &fakeBrowser{
		pages: map[string]crawler.Page{
			"https://example.com/": {HTML: homeWithImprint},
		},
		onOpen: func(string) { clock.Advance(2 * time.Minute) },
	}
	eng := newTestEngine(t, browser, nil, clock)

	result, err := eng.Crawl(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 1, result.PagesCrawled)
	require.Len(t, result.Emails, 1)
	require.Equal(t, []string{"https://example.com/"}, browser.openedURLs())
}

func TestCrawlRejectsInvalidWebsite(t *testing.T) {
	t.Parallel()
	browser := &fakeBrowser{}
	eng := newTestEngine(t, browser, nil, nil)

	_, err := eng.Crawl(context.Background(), "ftp://example.com")
	skip, ok := crawler.AsSkip(err)
	require.True(t, ok)
	require.Equal(t, crawler.SkipInvalidURL, skip.Code)
	require.Zero(t, browser.sessions)
}

func TestCrawlRobots(t *testing.T) {
	t.Parallel()

	t.Run("disallowed", func(t *testing.T) {
		t.Parallel()
		browser := &fakeBrowser{}
		robots := &fakeRobots{disallow: true}
		eng := newTestEngine(t, browser, robots, nil)

		_, err := eng.Crawl(context.Background(), "example.com")
		skip, ok := crawler.AsSkip(err)
		require.True(t, ok)
		require.Equal(t, crawler.SkipRobotsTxt, skip.Code)
		require.Zero(t, browser.sessions)
	})

	t.Run("probe error fails open", func(t *testing.T) {
		t.Parallel()
		browser := &fakeBrowser{pages: map[string]crawler.Page{
			"https://example.com/": {HTML: "<html><body>hi</body></html>"},
		}}
		robots := &fakeRobots{err: errors.New("connection refused")}
		eng := newTestEngine(t, browser, robots, nil)

		result, err := eng.Crawl(context.Background(), "example.com")
		require.NoError(t, err)
		require.Equal(t, 1, result.PagesCrawled)
		require.NotNil(t, result.Emails)
		require.Equal(t, 1, robots.calls)
	})
}

func TestCrawlRespectsPageBudget(t *testing.T) {
	t.Parallel()
	metrics.Init()
	browser := &fakeBrowser{pages: map[string]crawler.Page{
		"https://example.com/":          {HTML: `<a href="/impressum">i</a><a href="/kontakt">k</a>`},
		"https://example.com/impressum": {HTML: "<p>none</p>"},
		"https://example.com/kontakt":   {HTML: "<p>none</p>"},
	}}
	cfg := DefaultConfig()
	cfg.MaxPages = 2
	eng := New(cfg, browser, nil, nil, detector.NewClassifier(), nil,
		&fakeClock{now: time.Unix(0, 0)}, nil)

	result, err := eng.Crawl(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 2, result.PagesCrawled)
	require.Equal(t, []string{"https://example.com/", "https://example.com/impressum"}, browser.openedURLs())
}
